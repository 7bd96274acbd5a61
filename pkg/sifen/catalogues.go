// Package sifen contiene catálogos y reglas compartidas del Sistema Integrado de Facturación
// Electrónica Nacional (SIFEN, Paraguay), Manual Técnico v150.
package sifen

import (
	"strings"

	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
)

// GrammarVersion versión del formato (dVerFor).
const GrammarVersion = "150"

// Namespace del esquema SIFEN.
const Namespace = "http://ekuatia.set.gov.py/sifen/xsd"

// =============================================================================
// Tipo de documento electrónico (iTiDE)
// =============================================================================

// DocumentTypeCodes código de dos dígitos usado en el CDC por tipo de documento.
var DocumentTypeCodes = map[entity.DocumentType]string{
	entity.DocumentTypeInvoice:     "01",
	entity.DocumentTypeAutoInvoice: "04",
	entity.DocumentTypeCreditNote:  "05",
	entity.DocumentTypeDebitNote:   "06",
	entity.DocumentTypeWaybill:     "07",
}

// DocumentTypeDescriptions descripción oficial (dDesTiDE).
var DocumentTypeDescriptions = map[entity.DocumentType]string{
	entity.DocumentTypeInvoice:     "Factura electrónica",
	entity.DocumentTypeAutoInvoice: "Autofactura electrónica",
	entity.DocumentTypeCreditNote:  "Nota de crédito electrónica",
	entity.DocumentTypeDebitNote:   "Nota de débito electrónica",
	entity.DocumentTypeWaybill:     "Nota de remisión electrónica",
}

// =============================================================================
// Tipo de emisión (iTipEmi)
// =============================================================================

// EmissionTypeDescriptions descripción (dDesTipEmi).
var EmissionTypeDescriptions = map[entity.EmissionType]string{
	entity.EmissionNormal:      "Normal",
	entity.EmissionContingency: "Contingencia",
}

// =============================================================================
// Naturaleza del receptor (iNatRec) y tipo de operación (iTiOpe)
// =============================================================================

const (
	ReceiverTaxpayer    = "1" // Contribuyente
	ReceiverNonTaxpayer = "2" // No contribuyente

	OperationB2B = "1" // B2B
	OperationB2C = "2" // B2C

	AnonymousReceiverID   = "0"
	AnonymousReceiverName = "Sin Nombre"
)

// =============================================================================
// Afectación tributaria (iAfecIVA) y tasas de IVA
// =============================================================================

const (
	TaxAffectationTaxed  = "1" // Gravado IVA
	TaxAffectationExempt = "3" // Exento
)

// ValidTaxRates tasas de IVA admitidas por ítem.
var ValidTaxRates = map[int]bool{0: true, 5: true, 10: true}

// =============================================================================
// Condición de la operación (iCondOpe) e indicador de presencia (iIndPres)
// =============================================================================

const (
	OperationConditionCash = "1" // Contado
	PresenceInPerson       = "1" // Operación presencial
	AssociatedElectronic   = "1" // iTipDocAso: documento electrónico
	BillingSystemTaxpayer  = "1" // dSisFact: sistema del contribuyente
	DefaultCurrency        = "PYG"
)

// =============================================================================
// Emisor, receptor y moneda
// =============================================================================

const (
	TaxpayerNaturalPerson = "1" // iTipCont: persona física
	TaxpayerLegalPerson   = "2" // iTipCont: persona jurídica

	CountryParaguay = "PRY"

	IDTypeCedula      = "1" // iTipIDRec: cédula paraguaya
	IDTypeAnonymous   = "5" // iTipIDRec: innominado
	VendorNonTaxpayer = "1" // iNatVen (autofactura)
)

// CurrencyDescriptions descripción de moneda (dDesMoneOpe).
var CurrencyDescriptions = map[string]string{
	"PYG": "Guarani",
	"USD": "US Dollar",
	"BRL": "Real",
	"ARS": "Peso Argentino",
}

// Descripciones fijas de los grupos E y H.
const (
	PresenceInPersonDescription  = "Operación presencial"
	VendorNonTaxpayerDescription = "No contribuyente"
	OperationCashDescription     = "Contado"
	AssociatedElectronicDesc     = "Electrónico"
	TaxAffectationTaxedDesc      = "Gravado IVA"
	TaxAffectationExemptDesc     = "Exento"
)

// CreditDebitReasons motivo de emisión de notas de crédito/débito (iMotEmi).
var CreditDebitReasons = map[int]string{
	1: "Devolución y Ajuste de precios",
	2: "Devolución",
	3: "Descuento",
	4: "Bonificación",
	5: "Crédito incobrable",
	6: "Recupero de costo",
	7: "Recupero de gasto",
	8: "Ajuste de precio",
}

// WaybillReasons motivo de emisión de la nota de remisión (iMotEmiNR).
var WaybillReasons = map[int]string{
	1:  "Traslado por venta",
	2:  "Traslado por consignación",
	3:  "Exportación",
	4:  "Traslado por compra",
	5:  "Importación",
	6:  "Traslado por devolución",
	7:  "Traslado entre locales de la empresa",
	8:  "Traslado de bienes por transformación",
	9:  "Traslado de bienes por reparación",
	10: "Traslado por emisor móvil",
}

// DocumentTypeXMLCode código iTiDE (sin cero a la izquierda) del tipo de documento.
func DocumentTypeXMLCode(t entity.DocumentType) (string, bool) {
	code, ok := DocumentTypeCodes[t]
	if !ok {
		return "", false
	}
	return strings.TrimLeft(code, "0"), true
}
