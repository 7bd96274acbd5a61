package sifen

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	domainsifen "github.com/jhoicas/sifen-gateway/internal/domain/sifen"
	pkgsifen "github.com/jhoicas/sifen-gateway/pkg/sifen"
)

// XMLBuilderService proyecta el documento en el XML rDE v150 (sin firma).
// El orden de los campos dentro de cada grupo es parte del contrato.
type XMLBuilderService struct {
	opts BuilderOptions
}

// NewXMLBuilderService crea el servicio.
func NewXMLBuilderService(opts BuilderOptions) *XMLBuilderService {
	if opts.IssuerTaxpayerType == "" {
		opts.IssuerTaxpayerType = pkgsifen.TaxpayerLegalPerson
	}
	return &XMLBuilderService{opts: opts}
}

// Render genera el rDE del documento. Recalcula doc.Totals desde los ítems y guarda el
// resultado en doc.RenderedPayload. Requiere doc.Identifier; no modifica el estado.
// Dos llamadas sobre el mismo documento producen bytes idénticos.
func (s *XMLBuilderService) Render(doc *entity.Document) ([]byte, error) {
	if doc == nil {
		return nil, &RenderError{Field: "DE", Reason: "documento nulo"}
	}
	if len(doc.Identifier) != domainsifen.CDCLength {
		return nil, &RenderError{Field: "DE@Id", Reason: "el documento no tiene CDC"}
	}
	totals, err := domainsifen.ComputeTotals(doc.LineItems)
	if err != nil {
		return nil, &RenderError{Field: "gCamItem", Reason: err.Error()}
	}
	if !doc.Type.RequiresAssociatedDocument() && doc.AssociatedCDC != "" {
		return nil, &RenderError{Field: "gCamDEAsoc", Reason: "solo las notas de crédito/débito llevan documento asociado"}
	}

	var buf bytes.Buffer
	w := &xmlWriter{enc: xml.NewEncoder(&buf)}

	w.open("rDE", xml.Attr{Name: xml.Name{Local: "xmlns"}, Value: pkgsifen.Namespace})
	w.field("dVerFor", pkgsifen.GrammarVersion)

	// ---- A: DE (Id = CDC)
	w.open("DE", xml.Attr{Name: xml.Name{Local: "Id"}, Value: doc.Identifier})
	w.field("dDVId", doc.Identifier[domainsifen.CDCLength-1:])
	w.field("dSisFact", pkgsifen.BillingSystemTaxpayer)

	s.writeOperation(w, doc)
	s.writeTimbrado(w, doc)
	s.writeGeneralData(w, doc)
	s.writeTypeSpecific(w, doc)

	// ---- F: subtotales (no aplica a la nota de remisión)
	if doc.Type != entity.DocumentTypeWaybill {
		s.writeTotals(w, totals)
	}
	// ---- G: campos generales
	if doc.PurchaseOrder != "" {
		w.open("gCamGen")
		w.text("dOrdCompra", doc.PurchaseOrder)
		w.close("gCamGen")
	}
	// ---- H: documento asociado (obligatorio en NC/ND)
	if doc.Type.RequiresAssociatedDocument() {
		w.open("gCamDEAsoc")
		w.field("iTipDocAso", pkgsifen.AssociatedElectronic)
		w.text("dDesTipDocAso", pkgsifen.AssociatedElectronicDesc)
		w.field("dCdCDERef", doc.AssociatedCDC)
		w.close("gCamDEAsoc")
	}

	w.close("DE")
	w.close("rDE")
	if err := w.flush(); err != nil {
		return nil, err
	}

	payload := buf.Bytes()
	doc.Totals = totals
	doc.RenderedPayload = payload
	return payload, nil
}

// ---- B: gOpeDE
func (s *XMLBuilderService) writeOperation(w *xmlWriter, doc *entity.Document) {
	emission := doc.EmissionType
	if emission == "" {
		emission = entity.EmissionNormal
	}
	w.open("gOpeDE")
	w.field("iTipEmi", string(emission))
	w.text("dDesTipEmi", pkgsifen.EmissionTypeDescriptions[emission])
	w.field("dCodSeg", doc.SecurityCode)
	if doc.GeneralNotes != "" {
		w.text("dInfoEmi", doc.GeneralNotes)
	}
	w.close("gOpeDE")
}

// ---- C: gTimb
func (s *XMLBuilderService) writeTimbrado(w *xmlWriter, doc *entity.Document) {
	code, ok := pkgsifen.DocumentTypeXMLCode(doc.Type)
	if !ok {
		w.fail("iTiDE", fmt.Sprintf("tipo de documento desconocido %q", doc.Type))
		return
	}
	if doc.Timbrado.ValidFrom.IsZero() {
		w.fail("dFeIniT", "el documento no tiene timbrado asignado")
		return
	}
	w.open("gTimb")
	w.field("iTiDE", code)
	w.text("dDesTiDE", pkgsifen.DocumentTypeDescriptions[doc.Type])
	w.field("dNumTim", doc.Timbrado.Number)
	w.padded("dEst", doc.Sequence.Establishment, 3)
	w.padded("dPunExp", doc.Sequence.PointOfSale, 3)
	w.padded("dNumDoc", doc.Sequence.Number, 7)
	w.field("dFeIniT", doc.Timbrado.ValidFrom.Format("2006-01-02"))
	w.close("gTimb")
}

// ---- D: gDatGralOpe
func (s *XMLBuilderService) writeGeneralData(w *xmlWriter, doc *entity.Document) {
	currency := doc.Currency
	if currency == "" {
		currency = pkgsifen.DefaultCurrency
	}
	issuerDV, err := pkgsifen.ComputeRUCCheckDigit(doc.IssuerTaxID)
	if err != nil {
		w.fail("dDVEmi", err.Error())
		return
	}

	w.open("gDatGralOpe")
	w.field("dFeEmiDE", doc.IssueTimestamp.Format("2006-01-02T15:04:05"))

	w.open("gOpeCom")
	w.field("cMoneOpe", currency)
	w.text("dDesMoneOpe", pkgsifen.CurrencyDescriptions[currency])
	w.close("gOpeCom")

	w.open("gEmis")
	w.field("dRucEm", doc.IssuerTaxID)
	w.field("dDVEmi", string(issuerDV))
	w.field("iTipCont", s.opts.IssuerTaxpayerType)
	w.text("dNomEmi", doc.IssuerName)
	w.close("gEmis")

	s.writeReceiver(w, doc.Receiver)
	w.close("gDatGralOpe")
}

// writeReceiver: contribuyente (RUC + DV), no contribuyente con documento o innominado.
func (s *XMLBuilderService) writeReceiver(w *xmlWriter, r *entity.Receiver) {
	w.open("gDatRec")
	switch {
	case r.IsTaxpayer():
		dv, err := pkgsifen.ComputeRUCCheckDigit(r.TaxID)
		if err != nil {
			w.fail("dDVRec", err.Error())
			return
		}
		w.field("iNatRec", pkgsifen.ReceiverTaxpayer)
		w.field("iTiOpe", pkgsifen.OperationB2B)
		w.field("cPaisRec", pkgsifen.CountryParaguay)
		w.field("dRucRec", r.TaxID)
		w.field("dDVRec", string(dv))
		w.text("dNomRec", r.Name)
	case r != nil && r.IDNumber != "":
		w.field("iNatRec", pkgsifen.ReceiverNonTaxpayer)
		w.field("iTiOpe", pkgsifen.OperationB2C)
		w.field("cPaisRec", pkgsifen.CountryParaguay)
		w.field("iTipIDRec", pkgsifen.IDTypeCedula)
		w.text("dNumIDRec", r.IDNumber)
		w.text("dNomRec", r.Name)
	default:
		w.field("iNatRec", pkgsifen.ReceiverNonTaxpayer)
		w.field("iTiOpe", pkgsifen.OperationB2C)
		w.field("cPaisRec", pkgsifen.CountryParaguay)
		w.field("iTipIDRec", pkgsifen.IDTypeAnonymous)
		w.text("dNumIDRec", pkgsifen.AnonymousReceiverID)
		w.text("dNomRec", pkgsifen.AnonymousReceiverName)
	}
	w.close("gDatRec")
}

// ---- E: gDtipDE
func (s *XMLBuilderService) writeTypeSpecific(w *xmlWriter, doc *entity.Document) {
	w.open("gDtipDE")
	switch doc.Type {
	case entity.DocumentTypeInvoice:
		w.open("gCamFE")
		w.field("iIndPres", pkgsifen.PresenceInPerson)
		w.text("dDesIndPres", pkgsifen.PresenceInPersonDescription)
		w.close("gCamFE")
	case entity.DocumentTypeAutoInvoice:
		w.open("gCamAE")
		w.field("iNatVen", pkgsifen.VendorNonTaxpayer)
		w.text("dDesNatVen", pkgsifen.VendorNonTaxpayerDescription)
		w.close("gCamAE")
	case entity.DocumentTypeCreditNote, entity.DocumentTypeDebitNote:
		desc, ok := pkgsifen.CreditDebitReasons[doc.Reason]
		if !ok {
			w.fail("iMotEmi", fmt.Sprintf("motivo de emisión %d no admitido", doc.Reason))
			return
		}
		w.open("gCamNCDE")
		w.field("iMotEmi", strconv.Itoa(doc.Reason))
		w.text("dDesMotEmi", desc)
		w.close("gCamNCDE")
	case entity.DocumentTypeWaybill:
		desc, ok := pkgsifen.WaybillReasons[doc.Reason]
		if !ok {
			w.fail("iMotEmiNR", fmt.Sprintf("motivo de remisión %d no admitido", doc.Reason))
			return
		}
		w.open("gCamNRE")
		w.field("iMotEmiNR", strconv.Itoa(doc.Reason))
		w.text("dDesMotEmiNR", desc)
		w.close("gCamNRE")
	}
	if doc.Type == entity.DocumentTypeInvoice || doc.Type == entity.DocumentTypeAutoInvoice {
		w.open("gCamCond")
		w.field("iCondOpe", pkgsifen.OperationConditionCash)
		w.text("dDCondOpe", pkgsifen.OperationCashDescription)
		w.close("gCamCond")
	}
	for _, item := range doc.LineItems {
		s.writeItem(w, doc.Type, item)
	}
	w.close("gDtipDE")
}

func (s *XMLBuilderService) writeItem(w *xmlWriter, typ entity.DocumentType, item entity.LineItem) {
	w.open("gCamItem")
	w.text("dCodInt", item.Code)
	w.text("dDesProSer", item.Description)
	w.amount("dCantProSer", item.Quantity)
	if typ != entity.DocumentTypeWaybill {
		base := domainsifen.LineBase(item)
		w.open("gValorItem")
		w.amount("dPUniProSer", item.UnitPrice)
		w.amount("dTotBruOpeItem", base)
		w.close("gValorItem")

		affectation, desc := pkgsifen.TaxAffectationTaxed, pkgsifen.TaxAffectationTaxedDesc
		if item.TaxRate == 0 {
			affectation, desc = pkgsifen.TaxAffectationExempt, pkgsifen.TaxAffectationExemptDesc
		}
		taxBase := base
		if item.TaxRate == 0 {
			taxBase = decimal.Zero
		}
		w.open("gCamIVA")
		w.field("iAfecIVA", affectation)
		w.text("dDesAfecIVA", desc)
		w.field("dTasaIVA", strconv.Itoa(item.TaxRate))
		w.amount("dBasGravIVA", taxBase)
		w.amount("dLiqIVAItem", domainsifen.LineTax(item))
		w.close("gCamIVA")
	}
	w.close("gCamItem")
}

// ---- F: gTotSub
func (s *XMLBuilderService) writeTotals(w *xmlWriter, t entity.Totals) {
	w.open("gTotSub")
	w.amount("dSubExe", t.Exempt)
	w.amount("dSub5", t.Taxed5)
	w.amount("dSub10", t.Taxed10)
	w.amount("dTotOpe", t.Operation)
	w.amount("dIVA5", t.IVA5)
	w.amount("dIVA10", t.IVA10)
	w.amount("dTotIVA", t.TotalIVA)
	w.amount("dTotGralOpe", t.GrandTotal)
	w.close("gTotSub")
}

// ── xmlWriter ────────────────────────────────────────────────────────────────
// Escribe token a token y valida cada valor contra la gramática. El primer error se
// conserva y las escrituras posteriores se ignoran.

type xmlWriter struct {
	enc *xml.Encoder
	err error
}

func (w *xmlWriter) open(local string, attrs ...xml.Attr) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: local}, Attr: attrs})
}

func (w *xmlWriter) close(local string) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: local}})
}

// field escribe un valor tal cual tras validarlo contra la gramática.
func (w *xmlWriter) field(local, value string) {
	if w.err != nil {
		return
	}
	rule, ok := LookupField(local)
	if !ok {
		w.fail(local, "campo fuera de la gramática")
		return
	}
	if kind, reason := rule.Check(value); kind != "" {
		w.fail(local, string(kind)+": "+reason)
		return
	}
	w.open(local)
	if w.err == nil {
		w.err = w.enc.EncodeToken(xml.CharData(value))
	}
	w.close(local)
}

// text escribe texto libre normalizado a NFC. El UTF-8 inválido se rechaza antes de
// normalizar: encoding/xml lo reemplazaría por U+FFFD y el XML firmado no sería el recibido.
func (w *xmlWriter) text(local, value string) {
	if !utf8.ValidString(value) {
		w.fail(local, string(RulePatternMismatch)+": texto con bytes UTF-8 inválidos")
		return
	}
	w.field(local, norm.NFC.String(value))
}

// padded completa con ceros a la izquierda un código numérico de ancho fijo.
// Un valor no numérico o más largo que width se rechaza en field.
func (w *xmlWriter) padded(local, value string, width int) {
	if onlyDigits(value) && len(value) < width {
		value = strings.Repeat("0", width-len(value)) + value
	}
	w.field(local, value)
}

// amount escribe un decimal en su representación mínima (sin separador de miles ni ceros a la derecha).
func (w *xmlWriter) amount(local string, d decimal.Decimal) {
	w.field(local, d.String())
}

func (w *xmlWriter) fail(field, reason string) {
	if w.err == nil {
		w.err = &RenderError{Field: field, Reason: reason}
	}
}

func (w *xmlWriter) flush() error {
	if w.err != nil {
		return w.err
	}
	return w.enc.Flush()
}
