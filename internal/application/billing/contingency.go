package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/sifen-gateway/internal/domain"
	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/resilience"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/sifen"
)

// ResumeReport resumen de una pasada de reanudación.
type ResumeReport struct {
	Reconciled  []string         // resueltos con la consulta de estado
	Resubmitted []string         // reenviados (la SET no los conocía)
	Expired     []string         // vencidos por atraso sin llamar a la SET
	Failed      map[string]error // siguen pendientes
}

type resumeAction int

const (
	resumeSkipped resumeAction = iota
	resumeReconciled
	resumeResubmitted
	resumeExpired
)

// Resume retoma los documentos en SUBMITTING y PENDING_CONTINGENCY (p. ej. tras un reinicio
// o al cerrarse el circuito). Antes de reenviar consulta el CDC: si la SET ya tiene una
// respuesta definitiva se aplica; solo si no conoce el documento (0420) se reenvía.
func (o *SubmissionOrchestrator) Resume(ctx context.Context) (*ResumeReport, error) {
	docs, err := o.deps.Documents.ListByStatus(ctx, entity.StatusSubmitting, entity.StatusPendingContingency)
	if err != nil {
		return nil, err
	}
	report := &ResumeReport{Failed: map[string]error{}}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(o.cfg.ResumeConcurrency)
	for _, doc := range docs {
		id := doc.ID
		g.Go(func() error {
			action, err := o.resumeOne(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed[id] = err
			case action == resumeReconciled:
				report.Reconciled = append(report.Reconciled, id)
			case action == resumeResubmitted:
				report.Resubmitted = append(report.Resubmitted, id)
			case action == resumeExpired:
				report.Expired = append(report.Expired, id)
			}
			return nil
		})
	}
	_ = g.Wait()

	o.log.Info().Int("documents", len(docs)).Int("reconciled", len(report.Reconciled)).
		Int("resubmitted", len(report.Resubmitted)).Int("expired", len(report.Expired)).
		Int("failed", len(report.Failed)).Msg("reanudación completada")
	return report, ctx.Err()
}

func (o *SubmissionOrchestrator) resumeOne(ctx context.Context, id string) (resumeAction, error) {
	doc, err := o.deps.Documents.GetByID(ctx, id)
	if err != nil {
		return resumeSkipped, err
	}
	if !awaitingOutcome(doc.Status) {
		return resumeSkipped, nil
	}
	release, err := o.deps.Locks.Acquire(ctx, doc.Identifier)
	if err != nil {
		return resumeSkipped, err
	}
	defer release()
	if doc, err = o.deps.Documents.GetByID(ctx, id); err != nil {
		return resumeSkipped, err
	}
	if !awaitingOutcome(doc.Status) {
		return resumeSkipped, nil
	}
	if late, err := o.expireIfLate(ctx, doc); late || err != nil {
		return resumeExpired, err
	}

	action, _, err := o.reconcile(ctx, doc)
	if err == nil && action == resumeResubmitted && doc.Status == entity.StatusPendingContingency {
		return resumeSkipped, fmt.Errorf("documento %s sigue en contingencia", doc.ID)
	}
	return action, err
}

// reconcile resuelve un documento en SUBMITTING o PENDING_CONTINGENCY consultando el CDC
// antes de reenviar: una respuesta definitiva se aplica y solo un 0420 (la SET no lo
// conoce) lleva a un nuevo envío. Requiere el lock del CDC.
func (o *SubmissionOrchestrator) reconcile(ctx context.Context, doc *entity.Document) (resumeAction, *SubmissionResult, error) {
	outcome, err := o.queryRemote(ctx, doc.Identifier, o.deps.Coordinator.Execute)
	if err != nil {
		if doc.Status == entity.StatusSubmitting && unreachable(err) {
			if _, cerr := o.toContingency(context.WithoutCancel(ctx), doc, 0, entity.TriggerCircuitOpen); cerr != nil {
				return resumeSkipped, o.result(doc, nil, 0), cerr
			}
		}
		return resumeSkipped, o.result(doc, nil, 0), err
	}

	switch {
	case entity.IsDefinitive(outcome):
		if err := o.machine.ApplyOutcome(context.WithoutCancel(ctx), doc, outcome); err != nil {
			return resumeSkipped, o.result(doc, outcome, 0), err
		}
		o.log.Info().Str("document_id", doc.ID).Str("cdc", doc.Identifier).Str("status", string(doc.Status)).
			Msg("documento conciliado con la consulta de estado")
		return resumeReconciled, o.result(doc, outcome, 0), nil
	case sifen.IsDocumentNotFound(outcome):
		res, err := o.dispatch(ctx, doc)
		return resumeResubmitted, res, err
	default:
		if err := o.machine.ApplyOutcome(context.WithoutCancel(ctx), doc, outcome); err != nil {
			return resumeSkipped, o.result(doc, outcome, 0), err
		}
		return resumeSkipped, o.result(doc, outcome, 0),
			fmt.Errorf("consulta %s %s: %w", outcome.Kind(), outcome.RawCode(), domain.ErrUnresolvedOutcome)
	}
}

// unreachable la SET no respondió: circuito abierto o reintentos agotados.
func unreachable(err error) bool {
	return resilience.IsKind(err, resilience.CircuitOpen) || resilience.IsKind(err, resilience.RetriesExhausted)
}

// ExpireOverdue pasa a EXPIRED los documentos no terminales que superaron la ventana de
// atraso, sin llamar a la SET. Los que tienen un envío en curso se omiten en esta pasada.
func (o *SubmissionOrchestrator) ExpireOverdue(ctx context.Context) ([]string, error) {
	if o.cfg.Lateness.MaxLateness <= 0 {
		return nil, nil
	}
	docs, err := o.deps.Documents.ListByStatus(ctx,
		entity.StatusValidated, entity.StatusSubmitting, entity.StatusPendingContingency)
	if err != nil {
		return nil, err
	}
	now := o.now()
	var expired []string
	for _, doc := range docs {
		if !o.cfg.Lateness.IsLate(doc.IssueTimestamp, now) {
			continue
		}
		ok, err := o.expireLocked(ctx, doc.ID, doc.Identifier)
		if err != nil {
			if errors.Is(err, domain.ErrSubmissionInFlight) {
				continue
			}
			return expired, err
		}
		if ok {
			expired = append(expired, doc.ID)
		}
	}
	return expired, nil
}

func (o *SubmissionOrchestrator) expireLocked(ctx context.Context, id, cdc string) (bool, error) {
	release, err := o.deps.Locks.Acquire(ctx, cdc)
	if err != nil {
		return false, err
	}
	defer release()
	doc, err := o.deps.Documents.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return o.expireIfLate(ctx, doc)
}

// onBreakerChange al abrirse el circuito el motor entra en contingencia; al cerrarse
// después de una prueba exitosa se pide una reanudación.
func (o *SubmissionOrchestrator) onBreakerChange(from, to resilience.BreakerState) {
	switch {
	case to == resilience.StateOpen:
		o.log.Warn().Str("from", from.String()).Msg("circuito abierto: modo contingencia")
	case to == resilience.StateClosed && from != resilience.StateClosed:
		o.log.Info().Msg("circuito cerrado: se programa el reenvío de contingencia")
		select {
		case o.replay <- struct{}{}:
		default:
		}
	}
}

// RunReplay ejecuta Resume y ExpireOverdue cada interval y cada vez que el circuito se
// recupera. Termina cuando ctx se cancela.
func (o *SubmissionOrchestrator) RunReplay(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-o.replay:
		}
		if expired, err := o.ExpireOverdue(ctx); err != nil {
			o.log.Error().Err(err).Msg("barrido de vencidos")
		} else if len(expired) > 0 {
			o.log.Warn().Strs("documents", expired).Msg("documentos vencidos por atraso")
		}
		if _, err := o.Resume(ctx); err != nil && ctx.Err() == nil {
			o.log.Error().Err(err).Msg("reanudación de contingencia")
		}
	}
}
