// Package sifen contiene las reglas de dominio del SIFEN que no dependen de infraestructura:
// construcción y verificación del CDC, cálculo de totales y política de atraso.
package sifen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	pkgsifen "github.com/jhoicas/sifen-gateway/pkg/sifen"
)

// CDCLength longitud del Código de Control (CDC), incluido el dígito verificador.
const CDCLength = 44

// Nombres de los campos posicionales del CDC, en orden.
const (
	FieldIssuerTaxID   = "issuerTaxId"
	FieldDocumentType  = "documentType"
	FieldEstablishment = "establishment"
	FieldPointOfSale   = "pointOfSale"
	FieldNumber        = "sequenceNumber"
	FieldEmissionType  = "emissionType"
	FieldIssueDate     = "issueDate"
	FieldReceiverType  = "receiverType"
	FieldReceiverCheck = "receiverCheckDigit"
	FieldSecurityCode  = "securityCode"
	FieldCheckDigit    = "checkDigit"
	FieldLength        = "length"
)

type cdcSlot struct {
	name  string
	width int
}

// cdcLayout posiciones fijas de los 43 caracteres previos al dígito verificador.
var cdcLayout = []cdcSlot{
	{FieldIssuerTaxID, 8},
	{FieldDocumentType, 2},
	{FieldEstablishment, 3},
	{FieldPointOfSale, 3},
	{FieldNumber, 7},
	{FieldEmissionType, 1},
	{FieldIssueDate, 8},
	{FieldReceiverType, 1},
	{FieldReceiverCheck, 1},
	{FieldSecurityCode, 9},
}

// IdentifierErrorKind causa de un error de derivación del CDC.
type IdentifierErrorKind string

const (
	OutsideAuthorizedWindow IdentifierErrorKind = "OutsideAuthorizedWindow"
	SequenceNotInRange      IdentifierErrorKind = "SequenceNotInRange"
	MalformedInput          IdentifierErrorKind = "MalformedInput"
)

// IdentifierError error de derivación del CDC. Nunca se reintenta.
type IdentifierError struct {
	Kind   IdentifierErrorKind
	Field  string
	Reason string
}

func (e *IdentifierError) Error() string {
	return fmt.Sprintf("cdc: %s en %s: %s", e.Kind, e.Field, e.Reason)
}

// CDCMismatchError indica el primer campo del CDC que no coincide con el documento.
type CDCMismatchError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CDCMismatchError) Error() string {
	return fmt.Sprintf("cdc: el campo %s no coincide: esperado %q, recibido %q", e.Field, e.Expected, e.Actual)
}

// CDCFields campos posicionales de un CDC decodificado.
type CDCFields map[string]string

// CDCService deriva y verifica el CDC. Es puro y sin estado.
type CDCService struct{}

// NewCDCService crea el servicio.
func NewCDCService() *CDCService {
	return &CDCService{}
}

// Derive construye el CDC de 44 caracteres a partir del documento y del timbrado vigente.
func (s *CDCService) Derive(doc *entity.Document, window *entity.TimbradoWindow) (string, error) {
	if doc == nil {
		return "", &IdentifierError{Kind: MalformedInput, Field: "document", Reason: "documento nulo"}
	}
	if window == nil {
		return "", &IdentifierError{Kind: OutsideAuthorizedWindow, Field: "timbrado", Reason: "sin timbrado vigente"}
	}
	fields, err := fieldsFromDocument(doc)
	if err != nil {
		return "", err
	}

	// ── Timbrado: establecimiento, punto, vigencia y rango ──
	if est, _ := padDigits(window.Establishment, 3); est != fields[FieldEstablishment] {
		return "", &IdentifierError{Kind: OutsideAuthorizedWindow, Field: FieldEstablishment,
			Reason: fmt.Sprintf("el timbrado %s no cubre el establecimiento %s", window.Number, fields[FieldEstablishment])}
	}
	if pos, _ := padDigits(window.PointOfSale, 3); pos != fields[FieldPointOfSale] {
		return "", &IdentifierError{Kind: OutsideAuthorizedWindow, Field: FieldPointOfSale,
			Reason: fmt.Sprintf("el timbrado %s no cubre el punto de expedición %s", window.Number, fields[FieldPointOfSale])}
	}
	if !window.CoversDate(doc.IssueTimestamp) {
		return "", &IdentifierError{Kind: OutsideAuthorizedWindow, Field: FieldIssueDate,
			Reason: fmt.Sprintf("fecha %s fuera de la vigencia del timbrado %s", doc.IssueTimestamp.Format("2006-01-02"), window.Number)}
	}
	n, _ := strconv.ParseInt(fields[FieldNumber], 10, 64)
	if !window.CoversNumber(n) {
		return "", &IdentifierError{Kind: SequenceNotInRange, Field: FieldNumber,
			Reason: fmt.Sprintf("número %d fuera del rango autorizado [%d, %d]", n, window.RangeFrom, window.RangeTo)}
	}

	payload := joinFields(fields)
	dv, err := CheckDigit(payload)
	if err != nil {
		return "", &IdentifierError{Kind: MalformedInput, Field: FieldCheckDigit, Reason: err.Error()}
	}
	return payload + string(dv), nil
}

// Validate recalcula cada campo posicional desde el documento y el dígito verificador.
// Devuelve *CDCMismatchError con el primer campo que no coincide.
func (s *CDCService) Validate(identifier string, doc *entity.Document) error {
	if len(identifier) != CDCLength {
		return &CDCMismatchError{Field: FieldLength, Expected: strconv.Itoa(CDCLength), Actual: strconv.Itoa(len(identifier))}
	}
	expected, err := fieldsFromDocument(doc)
	if err != nil {
		return err
	}
	actual := Decode(identifier)
	for _, slot := range cdcLayout {
		if actual[slot.name] != expected[slot.name] {
			return &CDCMismatchError{Field: slot.name, Expected: expected[slot.name], Actual: actual[slot.name]}
		}
	}
	dv, err := CheckDigit(identifier[:CDCLength-1])
	if err != nil {
		return &CDCMismatchError{Field: FieldCheckDigit, Expected: "", Actual: identifier[CDCLength-1:]}
	}
	if identifier[CDCLength-1] != dv {
		return &CDCMismatchError{Field: FieldCheckDigit, Expected: string(dv), Actual: identifier[CDCLength-1:]}
	}
	return nil
}

// IsValid proyección booleana de Validate.
func (s *CDCService) IsValid(identifier string, doc *entity.Document) bool {
	return s.Validate(identifier, doc) == nil
}

// CheckDigit calcula el dígito verificador módulo 11 (pesos 2..7 cíclicos desde la derecha)
// sobre los 43 caracteres del CDC. Resto 0 → '1'; resto 10 o valor calculado 10 → '0'.
func CheckDigit(payload string) (byte, error) {
	if len(payload) != CDCLength-1 {
		return 0, fmt.Errorf("cdc: se esperaban %d caracteres, se recibieron %d", CDCLength-1, len(payload))
	}
	var sum int
	w := 2
	for i := len(payload) - 1; i >= 0; i-- {
		c := payload[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("cdc: carácter no numérico %q en la posición %d", c, i+1)
		}
		sum += int(c-'0') * w
		w++
		if w > 7 {
			w = 2
		}
	}
	remainder := sum % 11
	switch {
	case remainder == 0:
		return '1', nil
	case remainder == 1, remainder == 10:
		return '0', nil
	default:
		return byte('0' + (11 - remainder)), nil
	}
}

// VerifyCheckDigit verifica solo la integridad del CDC (sin documento de referencia).
func VerifyCheckDigit(identifier string) error {
	if len(identifier) != CDCLength {
		return fmt.Errorf("cdc: longitud %d, se esperaban %d", len(identifier), CDCLength)
	}
	dv, err := CheckDigit(identifier[:CDCLength-1])
	if err != nil {
		return err
	}
	if identifier[CDCLength-1] != dv {
		return fmt.Errorf("cdc: dígito verificador %c, se esperaba %c", identifier[CDCLength-1], dv)
	}
	return nil
}

// Decode separa un CDC en sus campos posicionales. No valida el contenido.
func Decode(identifier string) CDCFields {
	out := CDCFields{}
	pos := 0
	for _, slot := range cdcLayout {
		end := pos + slot.width
		if end > len(identifier) {
			break
		}
		out[slot.name] = identifier[pos:end]
		pos = end
	}
	if len(identifier) == CDCLength {
		out[FieldCheckDigit] = identifier[CDCLength-1:]
	}
	return out
}

// fieldsFromDocument normaliza cada campo posicional desde el documento.
func fieldsFromDocument(doc *entity.Document) (CDCFields, error) {
	if doc == nil {
		return nil, &IdentifierError{Kind: MalformedInput, Field: "document", Reason: "documento nulo"}
	}
	f := CDCFields{}
	var ok bool

	if f[FieldIssuerTaxID], ok = padDigits(doc.IssuerTaxID, 8); !ok {
		return nil, malformed(FieldIssuerTaxID, "RUC del emisor debe tener de 1 a 8 dígitos")
	}
	if f[FieldDocumentType], ok = pkgsifen.DocumentTypeCodes[doc.Type]; !ok {
		return nil, malformed(FieldDocumentType, fmt.Sprintf("tipo de documento desconocido %q", doc.Type))
	}
	if f[FieldEstablishment], ok = padDigits(doc.Sequence.Establishment, 3); !ok {
		return nil, malformed(FieldEstablishment, "establecimiento debe tener de 1 a 3 dígitos")
	}
	if f[FieldPointOfSale], ok = padDigits(doc.Sequence.PointOfSale, 3); !ok {
		return nil, malformed(FieldPointOfSale, "punto de expedición debe tener de 1 a 3 dígitos")
	}
	if f[FieldNumber], ok = padDigits(doc.Sequence.Number, 7); !ok || strings.Trim(f[FieldNumber], "0") == "" {
		return nil, malformed(FieldNumber, "número de documento debe tener de 1 a 7 dígitos y ser mayor a cero")
	}

	switch doc.EmissionType {
	case entity.EmissionNormal, entity.EmissionContingency:
		f[FieldEmissionType] = string(doc.EmissionType)
	case "":
		f[FieldEmissionType] = string(entity.EmissionNormal)
	default:
		return nil, malformed(FieldEmissionType, fmt.Sprintf("tipo de emisión desconocido %q", doc.EmissionType))
	}

	if doc.IssueTimestamp.IsZero() {
		return nil, malformed(FieldIssueDate, "fecha de emisión vacía")
	}
	f[FieldIssueDate] = doc.IssueTimestamp.Format("20060102")

	if doc.Receiver.IsTaxpayer() {
		dv, err := pkgsifen.ComputeRUCCheckDigit(doc.Receiver.TaxID)
		if err != nil || !isDigits(doc.Receiver.TaxID) {
			return nil, malformed(FieldReceiverCheck, "RUC del receptor inválido")
		}
		f[FieldReceiverType] = pkgsifen.ReceiverTaxpayer
		f[FieldReceiverCheck] = string(dv)
	} else {
		f[FieldReceiverType] = pkgsifen.ReceiverNonTaxpayer
		f[FieldReceiverCheck] = "0"
	}

	if len(doc.SecurityCode) != 9 || !isDigits(doc.SecurityCode) {
		return nil, malformed(FieldSecurityCode, "código de seguridad debe tener 9 dígitos")
	}
	f[FieldSecurityCode] = doc.SecurityCode
	return f, nil
}

func joinFields(f CDCFields) string {
	var sb strings.Builder
	sb.Grow(CDCLength)
	for _, slot := range cdcLayout {
		sb.WriteString(f[slot.name])
	}
	return sb.String()
}

func malformed(field, reason string) *IdentifierError {
	return &IdentifierError{Kind: MalformedInput, Field: field, Reason: reason}
}

// padDigits rellena con ceros a la izquierda; falla si s no es numérico o excede width.
func padDigits(s string, width int) (string, bool) {
	if s == "" || len(s) > width || !isDigits(s) {
		return "", false
	}
	return strings.Repeat("0", width-len(s)) + s, true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
