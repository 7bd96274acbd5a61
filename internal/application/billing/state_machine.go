package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/sifen-gateway/internal/domain"
	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	"github.com/jhoicas/sifen-gateway/internal/domain/repository"
)

// transitions tabla cerrada: estado origen -> estado destino -> disparadores admitidos.
// Las auto-transiciones registran reintentos y respuestas sin cambiar de estado.
var transitions = map[entity.Status]map[entity.Status][]entity.Trigger{
	entity.StatusDraft:      {entity.StatusIdentified: {entity.TriggerIdentified}},
	entity.StatusIdentified: {entity.StatusRendered: {entity.TriggerRendered}},
	entity.StatusRendered:   {entity.StatusValidated: {entity.TriggerValidated}},
	entity.StatusValidated: {
		entity.StatusSubmitting:         {entity.TriggerDispatched},
		entity.StatusPendingContingency: {entity.TriggerCircuitOpen},
		entity.StatusExpired:            {entity.TriggerLateness},
	},
	entity.StatusSubmitting: {
		entity.StatusSubmitting:               {entity.TriggerDispatched, entity.TriggerRemoteOutcome},
		entity.StatusAccepted:                 {entity.TriggerRemoteOutcome},
		entity.StatusAcceptedWithObservations: {entity.TriggerRemoteOutcome},
		entity.StatusRejectedBusiness:         {entity.TriggerRemoteOutcome},
		entity.StatusRejectedSchema:           {entity.TriggerRemoteOutcome},
		entity.StatusPendingContingency:       {entity.TriggerCircuitOpen, entity.TriggerRetriesExhausted},
		entity.StatusExpired:                  {entity.TriggerLateness},
	},
	entity.StatusPendingContingency: {
		entity.StatusPendingContingency:       {entity.TriggerRemoteOutcome},
		entity.StatusSubmitting:               {entity.TriggerContingencyReplay},
		entity.StatusAccepted:                 {entity.TriggerRemoteOutcome},
		entity.StatusAcceptedWithObservations: {entity.TriggerRemoteOutcome},
		entity.StatusRejectedBusiness:         {entity.TriggerRemoteOutcome},
		entity.StatusRejectedSchema:           {entity.TriggerRemoteOutcome},
		entity.StatusExpired:                  {entity.TriggerLateness},
	},
}

// CanTransition indica si la tabla admite from -> to con el disparador dado.
// Ningún estado terminal tiene transiciones de salida.
func CanTransition(from, to entity.Status, trigger entity.Trigger) bool {
	for _, t := range transitions[from][to] {
		if t == trigger {
			return true
		}
	}
	return false
}

// Successors estados alcanzables desde from (incluido from si admite auto-transición).
func Successors(from entity.Status) []entity.Status {
	var out []entity.Status
	for _, s := range entity.AllStatuses {
		if _, ok := transitions[from][s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// StateMachine único componente que persiste el estado de un documento.
// Cada cambio queda en la bitácora append-only junto con el disparador y la respuesta.
type StateMachine struct {
	repo repository.DocumentRepository
	now  func() time.Time
	log  zerolog.Logger
}

// NewStateMachine crea la máquina. now nil usa time.Now.
func NewStateMachine(repo repository.DocumentRepository, log zerolog.Logger, now func() time.Time) *StateMachine {
	if now == nil {
		now = time.Now
	}
	return &StateMachine{repo: repo, now: now, log: log}
}

type change struct {
	to      entity.Status
	trigger entity.Trigger
	outcome entity.Outcome
	mutate  func(*entity.Document)
}

// Transition mueve doc a `to`. doc se actualiza en el lugar solo si la persistencia tuvo éxito.
func (m *StateMachine) Transition(ctx context.Context, doc *entity.Document, to entity.Status, trigger entity.Trigger) error {
	return m.apply(ctx, doc, change{to: to, trigger: trigger})
}

// ApplyOutcome registra la respuesta de la SET y mueve el documento al estado que le corresponde.
// TransientFailure, Unknown y MalformedResponse quedan registrados sin cambio de estado.
func (m *StateMachine) ApplyOutcome(ctx context.Context, doc *entity.Document, o entity.Outcome) error {
	if o == nil {
		return fmt.Errorf("respuesta nula: %w", domain.ErrInvalidInput)
	}
	to := doc.Status
	switch o.Kind() {
	case entity.OutcomeAccepted:
		to = entity.StatusAccepted
	case entity.OutcomeAcceptedWithObservations:
		to = entity.StatusAcceptedWithObservations
	case entity.OutcomeRejectedBusiness:
		to = entity.StatusRejectedBusiness
	case entity.OutcomeRejectedSchema:
		to = entity.StatusRejectedSchema
	}
	resp := &entity.RemoteResponse{
		Outcome:        o.Kind(),
		Code:           o.RawCode(),
		Message:        o.Text(),
		ProtocolNumber: entity.ProtocolNumberOf(o),
		ReceivedAt:     m.now(),
	}
	if awo, ok := o.(entity.AcceptedWithObservations); ok {
		resp.Notes = append([]string(nil), awo.Notes...)
	}
	if k := o.Kind(); k == entity.OutcomeUnknown || k == entity.OutcomeMalformed {
		m.log.Error().
			Str("document_id", doc.ID).
			Str("cdc", doc.Identifier).
			Str("outcome", string(k)).
			Str("code", o.RawCode()).
			Str("message", o.Text()).
			Msg("respuesta de la SET requiere revisión")
	}
	return m.apply(ctx, doc, change{
		to:      to,
		trigger: entity.TriggerRemoteOutcome,
		outcome: o,
		mutate:  func(d *entity.Document) { d.LastRemoteResponse = resp },
	})
}

// Archive marca un documento terminal como archivado. El estado no cambia; la bitácora
// registra una entrada From == To. Archivar dos veces no hace nada.
func (m *StateMachine) Archive(ctx context.Context, documentID string) (*entity.Document, error) {
	doc, err := m.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.Status.IsTerminal() {
		return nil, fmt.Errorf("documento %s en %s: solo se archivan documentos terminales: %w",
			documentID, doc.Status, domain.ErrInvalidTransition)
	}
	if doc.ArchivedAt != nil {
		return doc, nil
	}
	at := m.now()
	next := doc.Clone()
	next.ArchivedAt = &at
	next.UpdatedAt = at
	t := entity.Transition{DocumentID: doc.ID, From: doc.Status, To: doc.Status, Trigger: entity.TriggerArchived, At: at}
	if err := m.repo.SaveTransition(ctx, next, t); err != nil {
		return nil, err
	}
	m.logTransition(next, t)
	return next, nil
}

// CurrentStatus estado persistido del documento.
func (m *StateMachine) CurrentStatus(ctx context.Context, documentID string) (entity.Status, error) {
	doc, err := m.repo.GetByID(ctx, documentID)
	if err != nil {
		return "", err
	}
	return doc.Status, nil
}

// TransitionLog bitácora completa en orden cronológico.
func (m *StateMachine) TransitionLog(ctx context.Context, documentID string) ([]entity.Transition, error) {
	return m.repo.ListTransitions(ctx, documentID)
}

// FindStuck documentos en un estado no terminal desde hace más de olderThan.
func (m *StateMachine) FindStuck(ctx context.Context, olderThan time.Duration) ([]string, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("umbral %s: %w", olderThan, domain.ErrInvalidInput)
	}
	var open []entity.Status
	for _, s := range entity.AllStatuses {
		if !s.IsTerminal() {
			open = append(open, s)
		}
	}
	return m.repo.ListStale(ctx, open, m.now().Add(-olderThan))
}

func (m *StateMachine) apply(ctx context.Context, doc *entity.Document, c change) error {
	from := doc.Status
	if from.IsTerminal() {
		return fmt.Errorf("documento %s en %s: %w", doc.ID, from, domain.ErrTerminalDocument)
	}
	if !CanTransition(from, c.to, c.trigger) {
		return fmt.Errorf("%s -> %s (%s): %w", from, c.to, c.trigger, domain.ErrInvalidTransition)
	}
	if c.to.HasIdentifier() && doc.Identifier == "" {
		return fmt.Errorf("%s -> %s sin CDC: %w", from, c.to, domain.ErrInvalidTransition)
	}

	at := m.now()
	next := doc.Clone()
	if c.mutate != nil {
		c.mutate(next)
	}
	next.Status = c.to
	next.UpdatedAt = at
	if from != c.to {
		next.StatusChangedAt = at
	}
	if c.to == entity.StatusPendingContingency {
		next.ContingencyFlag = true
	}
	if (c.trigger == entity.TriggerDispatched && from == entity.StatusSubmitting) || c.trigger == entity.TriggerContingencyReplay {
		next.RetryCount++
	}

	t := entity.Transition{DocumentID: doc.ID, From: from, To: c.to, Trigger: c.trigger, At: at}
	if c.outcome != nil {
		t.Outcome, t.Code, t.Message = c.outcome.Kind(), c.outcome.RawCode(), c.outcome.Text()
	}
	if err := m.repo.SaveTransition(ctx, next, t); err != nil {
		return err
	}
	*doc = *next
	m.logTransition(doc, t)
	return nil
}

func (m *StateMachine) logTransition(doc *entity.Document, t entity.Transition) {
	ev := m.log.Info()
	if t.From == t.To {
		ev = m.log.Debug()
	}
	ev.Str("document_id", doc.ID).
		Str("cdc", doc.Identifier).
		Str("from", string(t.From)).
		Str("to", string(t.To)).
		Str("trigger", string(t.Trigger)).
		Str("outcome", string(t.Outcome)).
		Msg("transición de estado")
}
