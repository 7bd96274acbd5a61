package billing

import (
	"context"
	"fmt"

	"github.com/jhoicas/sifen-gateway/internal/domain"
	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/sifen"
)

// BatchItem resultado de un documento dentro del lote.
type BatchItem struct {
	SubmissionResult
	Err error
}

// BatchResult resultado por documento, en el orden recibido. Attempts cuenta las llamadas
// del lote completo: el coordinador lo trata como una sola operación.
type BatchResult struct {
	Items    []BatchItem
	Attempts int
}

type batchEntry struct {
	doc  *entity.Document
	item *BatchItem
}

// SubmitBatch envía hasta MaxBatchDocuments documentos en una sola llamada rEnvioLote.
// Los documentos que fallan en la preparación local quedan fuera del lote con su error y
// los que ya fueron enviados se concilian por consulta; el resto recibe su resultado
// individual de la respuesta de la SET.
func (o *SubmissionOrchestrator) SubmitBatch(ctx context.Context, documentIDs []string) (*BatchResult, error) {
	ids := dedupe(documentIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("lote vacío: %w", domain.ErrInvalidInput)
	}
	if len(ids) > o.cfg.MaxBatchDocuments {
		return nil, fmt.Errorf("%d documentos, máximo %d: %w", len(ids), o.cfg.MaxBatchDocuments, domain.ErrBatchTooLarge)
	}

	result := &BatchResult{Items: make([]BatchItem, len(ids))}
	var ready []batchEntry
	for i, id := range ids {
		item := &result.Items[i]
		item.DocumentID = id
		doc, release, err := o.prepareForBatch(ctx, id)
		if release != nil {
			defer release()
		}
		if doc != nil {
			item.SubmissionResult = *o.result(doc, nil, 0)
		}
		if err != nil {
			item.Err = err
			continue
		}
		if awaitingOutcome(doc.Status) {
			// Ya hubo un envío: se concilia por consulta y, si hace falta, se reenvía solo.
			_, res, err := o.reconcile(ctx, doc)
			item.SubmissionResult = *res
			item.Err = err
			continue
		}
		ready = append(ready, batchEntry{doc: doc, item: item})
	}
	if len(ready) == 0 {
		return result, nil
	}

	payloads := make([][]byte, len(ready))
	for i, e := range ready {
		payloads[i] = e.doc.RenderedPayload
	}
	req := sifen.Request{Kind: sifen.RequestBatch, Documents: payloads}
	if err := o.deps.Transport.CheckLimits(req); err != nil {
		return result, err
	}
	persist := context.WithoutCancel(ctx)

	var (
		perDoc       map[string]entity.Outcome
		batchOutcome entity.Outcome
	)
	attempts, err := o.deps.Coordinator.Execute(ctx, func(context.Context) error {
		for _, e := range ready {
			if err := o.markSubmitting(persist, e.doc); err != nil {
				return err
			}
		}
		raw, err := o.deps.Transport.Call(persist, req)
		if err != nil {
			return err
		}
		perDoc, batchOutcome = o.deps.Classifier.ClassifyBatch(raw.Body)
		if tf, ok := batchOutcome.(entity.TransientFailure); ok && len(perDoc) == 0 {
			for _, e := range ready {
				if err := o.machine.ApplyOutcome(persist, e.doc, tf); err != nil {
					return err
				}
			}
			return &remoteTransientError{outcome: tf}
		}
		return nil
	})
	result.Attempts = attempts

	for _, e := range ready {
		var outcome entity.Outcome
		if err == nil {
			outcome = perDoc[e.doc.Identifier]
			if outcome == nil {
				outcome = batchOutcome
			}
			if outcome == nil {
				outcome = entity.MalformedResponse{Reason: "la respuesta del lote no incluye el CDC " + e.doc.Identifier}
			}
		}
		res, itemErr := o.settle(persist, e.doc, outcome, attempts, err)
		e.item.SubmissionResult = *res
		e.item.Err = itemErr
	}
	o.log.Info().Int("documents", len(ids)).Int("dispatched", len(ready)).Int("attempts", attempts).Msg("lote procesado")
	return result, nil
}

// prepareForBatch toma el lock del CDC y ejecuta los pasos locales. Devuelve release
// aunque falle después de tomarlo.
func (o *SubmissionOrchestrator) prepareForBatch(ctx context.Context, id string) (*entity.Document, func(), error) {
	doc, err := o.deps.Documents.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if doc.Status.IsTerminal() {
		return doc, nil, fmt.Errorf("documento %s en %s: %w", doc.ID, doc.Status, domain.ErrTerminalDocument)
	}
	cdc, window, err := o.deriveIdentifier(ctx, doc)
	if err != nil {
		return doc, nil, err
	}
	release, err := o.deps.Locks.Acquire(ctx, cdc)
	if err != nil {
		return doc, nil, err
	}
	if doc, err = o.deps.Documents.GetByID(ctx, id); err != nil {
		return nil, release, err
	}
	if doc.Status.IsTerminal() {
		return doc, release, fmt.Errorf("documento %s en %s: %w", doc.ID, doc.Status, domain.ErrTerminalDocument)
	}
	if err := ctx.Err(); err != nil {
		return doc, release, err
	}
	if err := o.prepare(ctx, doc, cdc, window); err != nil {
		return doc, release, err
	}
	if late, err := o.expireIfLate(ctx, doc); late || err != nil {
		return doc, release, lateError(doc, err)
	}
	return doc, release, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
