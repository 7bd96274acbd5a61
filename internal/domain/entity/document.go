package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentType tipo de documento electrónico (iTiDE).
type DocumentType string

const (
	DocumentTypeInvoice     DocumentType = "invoice"      // Factura electrónica
	DocumentTypeAutoInvoice DocumentType = "auto-invoice" // Autofactura electrónica
	DocumentTypeCreditNote  DocumentType = "credit-note"  // Nota de crédito electrónica
	DocumentTypeDebitNote   DocumentType = "debit-note"   // Nota de débito electrónica
	DocumentTypeWaybill     DocumentType = "waybill"      // Nota de remisión electrónica
)

// RequiresAssociatedDocument indica si el tipo exige el grupo de documento asociado (H).
func (t DocumentType) RequiresAssociatedDocument() bool {
	return t == DocumentTypeCreditNote || t == DocumentTypeDebitNote
}

// EmissionType tipo de emisión (iTipEmi).
type EmissionType string

const (
	EmissionNormal      EmissionType = "1"
	EmissionContingency EmissionType = "2"
)

// SequenceNumber tupla establecimiento + punto de expedición + número.
type SequenceNumber struct {
	Establishment string // 3 dígitos
	PointOfSale   string // 3 dígitos
	Number        string // 7 dígitos
}

// Receiver datos del receptor. Nil en el documento equivale a consumidor final innominado.
type Receiver struct {
	TaxID    string // RUC sin DV; vacío si no es contribuyente
	IDNumber string // Documento de identidad (no contribuyente)
	Name     string
}

// IsTaxpayer indica si el receptor es contribuyente (tiene RUC).
func (r *Receiver) IsTaxpayer() bool {
	return r != nil && r.TaxID != ""
}

// LineItem ítem de la operación. Los precios se expresan sin IVA.
type LineItem struct {
	Code        string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	TaxRate     int // 0 (exento), 5 o 10
}

// Totals subtotales y totales derivados de los ítems (grupo F). Nunca se cargan a mano.
type Totals struct {
	Exempt     decimal.Decimal // dSubExe
	Taxed5     decimal.Decimal // dSub5
	Taxed10    decimal.Decimal // dSub10
	Operation  decimal.Decimal // dTotOpe
	IVA5       decimal.Decimal // dIVA5
	IVA10      decimal.Decimal // dIVA10
	TotalIVA   decimal.Decimal // dTotIVA
	GrandTotal decimal.Decimal // dTotGralOpe
}

// TimbradoRef copia de los datos del timbrado usados en el grupo C del XML.
type TimbradoRef struct {
	Number    string
	ValidFrom time.Time
}

// RemoteResponse resumen de la última respuesta de la SET.
type RemoteResponse struct {
	Outcome        OutcomeKind
	Code           string
	Message        string
	ProtocolNumber string
	Notes          []string
	ReceivedAt     time.Time
}

// Document documento electrónico: unidad de trabajo del motor de envío.
type Document struct {
	ID             string
	Type           DocumentType
	IssueTimestamp time.Time
	IssuerTaxID    string // RUC del emisor sin DV
	IssuerName     string
	Receiver       *Receiver
	Sequence       SequenceNumber
	EmissionType   EmissionType
	Currency       string // cMoneOpe, por defecto PYG
	LineItems      []LineItem
	Totals         Totals

	// Motivo de emisión para notas de crédito/débito (iMotEmi) y de remisión (iMotEmiNR).
	Reason int
	// CDC del documento asociado (obligatorio en notas de crédito/débito).
	AssociatedCDC string
	// Información de interés del emisor (gOpeDE/dInfoEmi, opcional).
	GeneralNotes string
	// Número de orden de compra (grupo G, opcional).
	PurchaseOrder string

	Timbrado TimbradoRef

	Status             Status
	Identifier         string // CDC, inmutable una vez calculado
	SecurityCode       string // dCodSeg, fijo desde la creación
	RenderedPayload    []byte
	LastRemoteResponse *RemoteResponse
	RetryCount         int
	ContingencyFlag    bool

	CreatedAt       time.Time
	UpdatedAt       time.Time
	StatusChangedAt time.Time
	ArchivedAt      *time.Time
}

// Clone devuelve una copia profunda (los repositorios en memoria no comparten punteros).
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.Receiver != nil {
		r := *d.Receiver
		c.Receiver = &r
	}
	c.LineItems = append([]LineItem(nil), d.LineItems...)
	c.RenderedPayload = append([]byte(nil), d.RenderedPayload...)
	if d.LastRemoteResponse != nil {
		rr := *d.LastRemoteResponse
		rr.Notes = append([]string(nil), d.LastRemoteResponse.Notes...)
		c.LastRemoteResponse = &rr
	}
	if d.ArchivedAt != nil {
		t := *d.ArchivedAt
		c.ArchivedAt = &t
	}
	return &c
}
