package entity

// OutcomeKind categoría cerrada de resultados de la SET.
type OutcomeKind string

const (
	OutcomeAccepted                 OutcomeKind = "ACCEPTED"
	OutcomeAcceptedWithObservations OutcomeKind = "ACCEPTED_WITH_OBSERVATIONS"
	OutcomeRejectedBusiness         OutcomeKind = "REJECTED_BUSINESS"
	OutcomeRejectedSchema           OutcomeKind = "REJECTED_SCHEMA"
	OutcomeTransientFailure         OutcomeKind = "TRANSIENT_FAILURE"
	OutcomeUnknown                  OutcomeKind = "UNKNOWN"
	OutcomeMalformed                OutcomeKind = "MALFORMED_RESPONSE"
)

// Outcome resultado clasificado. Las únicas implementaciones son los tipos de este archivo.
type Outcome interface {
	Kind() OutcomeKind
	RawCode() string
	Text() string
	sealed()
}

// Accepted documento aprobado.
type Accepted struct {
	Identifier     string
	ProtocolNumber string
	Code           string
	Message        string
}

// AcceptedWithObservations aprobado con observaciones.
type AcceptedWithObservations struct {
	Identifier     string
	ProtocolNumber string
	Code           string
	Notes          []string
}

// RejectedBusiness rechazo por reglas de negocio (CDC duplicado, timbrado inválido, ...).
type RejectedBusiness struct {
	Identifier string
	Code       string
	Message    string
}

// RejectedSchema rechazo estructural del lado de la SET.
type RejectedSchema struct {
	Identifier string
	Code       string
	Message    string
}

// TransientFailure falla temporal informada por la SET; se reintenta.
type TransientFailure struct {
	Code    string
	Message string
}

// Unknown código no presente en la tabla conocida.
type Unknown struct {
	Identifier string
	Code       string
	Message    string
}

// MalformedResponse cuerpo de respuesta que no se pudo interpretar.
type MalformedResponse struct {
	Reason string
}

func (Accepted) Kind() OutcomeKind                 { return OutcomeAccepted }
func (AcceptedWithObservations) Kind() OutcomeKind { return OutcomeAcceptedWithObservations }
func (RejectedBusiness) Kind() OutcomeKind         { return OutcomeRejectedBusiness }
func (RejectedSchema) Kind() OutcomeKind           { return OutcomeRejectedSchema }
func (TransientFailure) Kind() OutcomeKind         { return OutcomeTransientFailure }
func (Unknown) Kind() OutcomeKind                  { return OutcomeUnknown }
func (MalformedResponse) Kind() OutcomeKind        { return OutcomeMalformed }

func (o Accepted) RawCode() string                 { return o.Code }
func (o AcceptedWithObservations) RawCode() string { return o.Code }
func (o RejectedBusiness) RawCode() string         { return o.Code }
func (o RejectedSchema) RawCode() string           { return o.Code }
func (o TransientFailure) RawCode() string         { return o.Code }
func (o Unknown) RawCode() string                  { return o.Code }
func (MalformedResponse) RawCode() string          { return "" }

func (o Accepted) Text() string { return o.Message }
func (o AcceptedWithObservations) Text() string {
	if len(o.Notes) > 0 {
		return o.Notes[0]
	}
	return ""
}
func (o RejectedBusiness) Text() string  { return o.Message }
func (o RejectedSchema) Text() string    { return o.Message }
func (o TransientFailure) Text() string  { return o.Message }
func (o Unknown) Text() string           { return o.Message }
func (o MalformedResponse) Text() string { return o.Reason }

func (Accepted) sealed()                 {}
func (AcceptedWithObservations) sealed() {}
func (RejectedBusiness) sealed()         {}
func (RejectedSchema) sealed()           {}
func (TransientFailure) sealed()         {}
func (Unknown) sealed()                  {}
func (MalformedResponse) sealed()        {}

// ProtocolNumberOf devuelve el número de protocolo si el resultado es una aprobación.
func ProtocolNumberOf(o Outcome) string {
	switch v := o.(type) {
	case Accepted:
		return v.ProtocolNumber
	case AcceptedWithObservations:
		return v.ProtocolNumber
	}
	return ""
}

// IsDefinitive indica si el resultado es una respuesta autoritativa (aprobado o rechazado).
func IsDefinitive(o Outcome) bool {
	switch o.(type) {
	case Accepted, AcceptedWithObservations, RejectedBusiness, RejectedSchema:
		return true
	}
	return false
}
