package entity

import "time"

// Status estado del ciclo de vida del documento electrónico.
type Status string

const (
	StatusDraft                    Status = "DRAFT"
	StatusIdentified               Status = "IDENTIFIED"
	StatusRendered                 Status = "RENDERED"
	StatusValidated                Status = "VALIDATED"
	StatusSubmitting               Status = "SUBMITTING"
	StatusAccepted                 Status = "ACCEPTED"
	StatusAcceptedWithObservations Status = "ACCEPTED_WITH_OBSERVATIONS"
	StatusRejectedBusiness         Status = "REJECTED_BUSINESS"
	StatusRejectedSchema           Status = "REJECTED_SCHEMA"
	StatusPendingContingency       Status = "PENDING_CONTINGENCY"
	StatusExpired                  Status = "EXPIRED"
)

// AllStatuses en orden del flujo principal seguido de los estados laterales.
var AllStatuses = []Status{
	StatusDraft, StatusIdentified, StatusRendered, StatusValidated, StatusSubmitting,
	StatusAccepted, StatusAcceptedWithObservations, StatusRejectedBusiness, StatusRejectedSchema,
	StatusPendingContingency, StatusExpired,
}

// IsTerminal indica si el estado no admite más transiciones.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusAcceptedWithObservations, StatusRejectedBusiness,
		StatusRejectedSchema, StatusExpired:
		return true
	}
	return false
}

// HasIdentifier indica si en este estado el documento ya debe tener CDC.
func (s Status) HasIdentifier() bool {
	return s != StatusDraft && s != ""
}

// Trigger evento que provoca una transición.
type Trigger string

const (
	TriggerIdentified        Trigger = "identified"
	TriggerRendered          Trigger = "rendered"
	TriggerValidated         Trigger = "validated"
	TriggerDispatched        Trigger = "dispatched"
	TriggerRemoteOutcome     Trigger = "remote-outcome"
	TriggerCircuitOpen       Trigger = "circuit-open"
	TriggerRetriesExhausted  Trigger = "retries-exhausted"
	TriggerContingencyReplay Trigger = "contingency-replay"
	TriggerLateness          Trigger = "lateness-exceeded"
	TriggerArchived          Trigger = "archived"
)

// Transition registro de auditoría (append-only) de un cambio de estado.
type Transition struct {
	ID         string
	DocumentID string
	From       Status
	To         Status
	Trigger    Trigger
	Outcome    OutcomeKind // vacío si la transición no proviene de una respuesta remota
	Code       string
	Message    string
	At         time.Time
}
