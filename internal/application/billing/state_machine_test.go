package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sifen-gateway/internal/application/billing"
	"github.com/jhoicas/sifen-gateway/internal/domain"
	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/memory"
)

func newMachine(t *testing.T, status entity.Status) (*billing.StateMachine, *memory.DocumentRepo, *clock, *entity.Document) {
	t.Helper()
	clk := &clock{now: issued}
	repo := memory.NewDocumentRepository()
	doc := &entity.Document{ID: "doc-1", Status: status, StatusChangedAt: issued, CreatedAt: issued}
	if status.HasIdentifier() {
		doc.Identifier = "01800695631001001000000112026101511234567890"
	}
	require.NoError(t, repo.Create(context.Background(), doc))
	return billing.NewStateMachine(repo, zerolog.Nop(), clk.Now), repo, clk, doc
}

func TestCanTransition_Tabla(t *testing.T) {
	cases := []struct {
		from, to entity.Status
		trigger  entity.Trigger
		want     bool
	}{
		{entity.StatusDraft, entity.StatusIdentified, entity.TriggerIdentified, true},
		{entity.StatusDraft, entity.StatusRendered, entity.TriggerRendered, false},
		{entity.StatusValidated, entity.StatusSubmitting, entity.TriggerDispatched, true},
		{entity.StatusValidated, entity.StatusPendingContingency, entity.TriggerCircuitOpen, true},
		{entity.StatusSubmitting, entity.StatusSubmitting, entity.TriggerDispatched, true},
		{entity.StatusSubmitting, entity.StatusAccepted, entity.TriggerRemoteOutcome, true},
		{entity.StatusSubmitting, entity.StatusAccepted, entity.TriggerDispatched, false},
		{entity.StatusSubmitting, entity.StatusPendingContingency, entity.TriggerRetriesExhausted, true},
		{entity.StatusPendingContingency, entity.StatusSubmitting, entity.TriggerContingencyReplay, true},
		{entity.StatusPendingContingency, entity.StatusSubmitting, entity.TriggerDispatched, false},
		{entity.StatusPendingContingency, entity.StatusExpired, entity.TriggerLateness, true},
		{entity.StatusDraft, entity.StatusExpired, entity.TriggerLateness, false},
		{entity.StatusAccepted, entity.StatusSubmitting, entity.TriggerDispatched, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, billing.CanTransition(tc.from, tc.to, tc.trigger), "%s -> %s (%s)", tc.from, tc.to, tc.trigger)
	}
}

func TestSuccessors_TerminalesSinSalida(t *testing.T) {
	for _, s := range entity.AllStatuses {
		if s.IsTerminal() {
			assert.Empty(t, billing.Successors(s), s)
		} else {
			assert.NotEmpty(t, billing.Successors(s), s)
		}
	}
	assert.Equal(t, []entity.Status{entity.StatusIdentified}, billing.Successors(entity.StatusDraft))
}

func TestTransition_Persistida(t *testing.T) {
	m, repo, clk, doc := newMachine(t, entity.StatusIdentified)
	clk.Advance(time.Minute)

	require.NoError(t, m.Transition(context.Background(), doc, entity.StatusRendered, entity.TriggerRendered))
	assert.Equal(t, entity.StatusRendered, doc.Status)
	assert.Equal(t, issued.Add(time.Minute), doc.StatusChangedAt)

	stored, err := repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRendered, stored.Status)

	log, err := m.TransitionLog(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, entity.StatusIdentified, log[0].From)
	assert.Equal(t, entity.StatusRendered, log[0].To)
	assert.Equal(t, entity.TriggerRendered, log[0].Trigger)
	assert.NotEmpty(t, log[0].ID)
}

func TestTransition_NoPermitida(t *testing.T) {
	m, _, _, doc := newMachine(t, entity.StatusIdentified)

	err := m.Transition(context.Background(), doc, entity.StatusSubmitting, entity.TriggerDispatched)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, entity.StatusIdentified, doc.Status)
}

func TestTransition_SinCDC(t *testing.T) {
	m, _, _, doc := newMachine(t, entity.StatusDraft)

	err := m.Transition(context.Background(), doc, entity.StatusIdentified, entity.TriggerIdentified)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, entity.StatusDraft, doc.Status)
}

func TestTransition_DesdeTerminal(t *testing.T) {
	m, _, _, doc := newMachine(t, entity.StatusAccepted)

	err := m.Transition(context.Background(), doc, entity.StatusSubmitting, entity.TriggerDispatched)
	require.ErrorIs(t, err, domain.ErrTerminalDocument)
}

func TestTransition_ConcurrenciaOptimista(t *testing.T) {
	m, repo, _, doc := newMachine(t, entity.StatusIdentified)
	stale, err := repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)

	require.NoError(t, m.Transition(context.Background(), doc, entity.StatusRendered, entity.TriggerRendered))
	err = m.Transition(context.Background(), stale, entity.StatusRendered, entity.TriggerRendered)
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, entity.StatusIdentified, stale.Status, "la copia vieja no se modifica")
}

func TestApplyOutcome_DesconocidoYLuegoAprobado(t *testing.T) {
	m, _, clk, doc := newMachine(t, entity.StatusSubmitting)
	ctx := context.Background()

	clk.Advance(time.Minute)
	require.NoError(t, m.ApplyOutcome(ctx, doc, entity.Unknown{Code: "9999", Message: "código nuevo"}))
	assert.Equal(t, entity.StatusSubmitting, doc.Status)
	assert.Equal(t, issued, doc.StatusChangedAt, "una auto-transición no cambia la fecha de estado")
	require.NotNil(t, doc.LastRemoteResponse)
	assert.Equal(t, "9999", doc.LastRemoteResponse.Code)

	require.NoError(t, m.ApplyOutcome(ctx, doc, entity.Accepted{ProtocolNumber: protocolNumber, Code: "0260", Message: "Aprobado"}))
	assert.Equal(t, entity.StatusAccepted, doc.Status)
	assert.Equal(t, protocolNumber, doc.LastRemoteResponse.ProtocolNumber)

	log, err := m.TransitionLog(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, entity.OutcomeUnknown, log[0].Outcome)
	assert.Equal(t, "9999", log[0].Code)
	assert.Equal(t, entity.OutcomeAccepted, log[1].Outcome)

	err = m.ApplyOutcome(ctx, doc, entity.RejectedBusiness{Code: "1001"})
	require.ErrorIs(t, err, domain.ErrTerminalDocument)
}

func TestApplyOutcome_ObservacionesSeGuardan(t *testing.T) {
	m, _, _, doc := newMachine(t, entity.StatusPendingContingency)

	require.NoError(t, m.ApplyOutcome(context.Background(), doc, entity.AcceptedWithObservations{
		ProtocolNumber: protocolNumber, Code: "0261", Notes: []string{"0261: aprobado con observación", "1305: dirección incompleta"},
	}))
	assert.Equal(t, entity.StatusAcceptedWithObservations, doc.Status)
	assert.Len(t, doc.LastRemoteResponse.Notes, 2)
}

func TestTransition_ContadoresDeContingencia(t *testing.T) {
	m, _, _, doc := newMachine(t, entity.StatusValidated)
	ctx := context.Background()

	require.NoError(t, m.Transition(ctx, doc, entity.StatusSubmitting, entity.TriggerDispatched))
	assert.Equal(t, 0, doc.RetryCount)
	require.NoError(t, m.Transition(ctx, doc, entity.StatusSubmitting, entity.TriggerDispatched))
	assert.Equal(t, 1, doc.RetryCount)
	assert.False(t, doc.ContingencyFlag)

	require.NoError(t, m.Transition(ctx, doc, entity.StatusPendingContingency, entity.TriggerRetriesExhausted))
	assert.True(t, doc.ContingencyFlag)
	require.NoError(t, m.Transition(ctx, doc, entity.StatusSubmitting, entity.TriggerContingencyReplay))
	assert.Equal(t, 2, doc.RetryCount)
	assert.True(t, doc.ContingencyFlag, "la marca de contingencia no se borra")
}

func TestArchive_SoloTerminalesEIdempotente(t *testing.T) {
	ctx := context.Background()

	m, _, _, open := newMachine(t, entity.StatusSubmitting)
	_, err := m.Archive(ctx, open.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	m, _, clk, doc := newMachine(t, entity.StatusRejectedBusiness)
	clk.Advance(time.Hour)
	archived, err := m.Archive(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, archived.ArchivedAt)
	assert.Equal(t, issued.Add(time.Hour), *archived.ArchivedAt)
	assert.Equal(t, entity.StatusRejectedBusiness, archived.Status)

	clk.Advance(time.Hour)
	again, err := m.Archive(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, *archived.ArchivedAt, *again.ArchivedAt)

	log, err := m.TransitionLog(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, entity.TriggerArchived, log[0].Trigger)
	assert.Equal(t, log[0].From, log[0].To)
}

func TestFindStuck(t *testing.T) {
	m, repo, clk, doc := newMachine(t, entity.StatusSubmitting)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &entity.Document{
		ID: "doc-2", Status: entity.StatusAccepted, Identifier: "cdc-2", StatusChangedAt: issued,
	}))

	_, err := m.FindStuck(ctx, 0)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	stuck, err := m.FindStuck(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, stuck)

	clk.Advance(2 * time.Hour)
	stuck, err = m.FindStuck(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{doc.ID}, stuck)

	status, err := m.CurrentStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSubmitting, status)
}
