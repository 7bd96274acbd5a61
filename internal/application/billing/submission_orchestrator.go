package billing

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jhoicas/sifen-gateway/internal/domain"
	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	"github.com/jhoicas/sifen-gateway/internal/domain/repository"
	domainsifen "github.com/jhoicas/sifen-gateway/internal/domain/sifen"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/resilience"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/sifen"
	pkgsifen "github.com/jhoicas/sifen-gateway/pkg/sifen"
)

// SubmissionOrchestrator compone el pipeline de envío:
//
//	lock(CDC) → CDC → XML → validación → firma → QR → límites → atraso → coordinador{envío, clasificación} → estado
//
// Es el único componente expuesto a los llamadores (API y CLI).
type SubmissionOrchestrator struct {
	deps    Dependencies
	cfg     Config
	machine *StateMachine
	now     func() time.Time
	log     zerolog.Logger
	replay  chan struct{}
}

// Dependencies colaboradores del orquestador.
type Dependencies struct {
	Documents   repository.DocumentRepository
	Timbrados   repository.TimbradoRepository
	Codec       *domainsifen.CDCService
	Renderer    Renderer
	Validator   Validator
	Signer      pkgsifen.Signer
	Transport   Transport
	Coordinator Coordinator
	Classifier  Classifier
	Locks       InflightLock
}

// Config parámetros del orquestador.
type Config struct {
	Certificate       tls.Certificate
	Lateness          domainsifen.LatenessPolicy
	MaxBatchDocuments int // por defecto 50
	ResumeConcurrency int // por defecto 4
}

// Option ajusta el orquestador (pruebas).
type Option func(*SubmissionOrchestrator)

// WithClock reemplaza el reloj.
func WithClock(now func() time.Time) Option {
	return func(o *SubmissionOrchestrator) { o.now = now }
}

// SubmissionResult estado del documento al terminar una operación.
type SubmissionResult struct {
	DocumentID     string
	Identifier     string
	Status         entity.Status
	Outcome        entity.Outcome // nil si no hubo respuesta de la SET
	ProtocolNumber string
	Attempts       int
}

// NewSubmissionOrchestrator construye el orquestador y se suscribe al circuito del coordinador.
func NewSubmissionOrchestrator(deps Dependencies, cfg Config, log zerolog.Logger, opts ...Option) *SubmissionOrchestrator {
	if deps.Codec == nil {
		deps.Codec = domainsifen.NewCDCService()
	}
	if cfg.MaxBatchDocuments <= 0 {
		cfg.MaxBatchDocuments = 50
	}
	if cfg.ResumeConcurrency <= 0 {
		cfg.ResumeConcurrency = 4
	}
	o := &SubmissionOrchestrator{
		deps:   deps,
		cfg:    cfg,
		now:    time.Now,
		log:    log,
		replay: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.machine = NewStateMachine(deps.Documents, log, o.now)
	deps.Coordinator.Subscribe(o.onBreakerChange)
	return o
}

// StateMachine expone las consultas de monitoreo (estado, bitácora, trabados).
func (o *SubmissionOrchestrator) StateMachine() *StateMachine { return o.machine }

// Get documento persistido.
func (o *SubmissionOrchestrator) Get(ctx context.Context, documentID string) (*entity.Document, error) {
	return o.deps.Documents.GetByID(ctx, documentID)
}

func (o *SubmissionOrchestrator) TransitionLog(ctx context.Context, documentID string) ([]entity.Transition, error) {
	return o.machine.TransitionLog(ctx, documentID)
}

func (o *SubmissionOrchestrator) FindStuck(ctx context.Context, olderThan time.Duration) ([]string, error) {
	return o.machine.FindStuck(ctx, olderThan)
}

func (o *SubmissionOrchestrator) Archive(ctx context.Context, documentID string) (*entity.Document, error) {
	return o.machine.Archive(ctx, documentID)
}

// ── NewDocument ───────────────────────────────────────────────────────────────

// NewDocument registra un documento en DRAFT a partir de datos de negocio ya validados.
// Recalcula los totales, genera el código de seguridad y verifica de antemano que exista
// un timbrado que cubra número y fecha; el CDC se asigna recién al enviar.
func (o *SubmissionOrchestrator) NewDocument(ctx context.Context, input *entity.Document) (*entity.Document, error) {
	if input == nil {
		return nil, fmt.Errorf("documento nulo: %w", domain.ErrInvalidInput)
	}
	doc := input.Clone()
	if doc.EmissionType == "" {
		doc.EmissionType = entity.EmissionNormal
	}
	if doc.Currency == "" {
		doc.Currency = pkgsifen.DefaultCurrency
	}
	if err := checkDraft(doc); err != nil {
		return nil, err
	}
	totals, err := domainsifen.ComputeTotals(doc.LineItems)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrInvalidInput)
	}
	code, err := domainsifen.NewSecurityCode()
	if err != nil {
		return nil, err
	}

	now := o.now()
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.Totals = totals
	doc.SecurityCode = code
	doc.Status = entity.StatusDraft
	doc.Identifier = ""
	doc.RenderedPayload = nil
	doc.LastRemoteResponse = nil
	doc.RetryCount = 0
	doc.ContingencyFlag = false
	doc.ArchivedAt = nil
	doc.CreatedAt, doc.UpdatedAt, doc.StatusChangedAt = now, now, now

	if _, _, err := o.deriveIdentifier(ctx, doc); err != nil {
		return nil, err
	}
	if err := o.deps.Documents.Create(ctx, doc); err != nil {
		return nil, err
	}
	o.log.Info().Str("document_id", doc.ID).Str("type", string(doc.Type)).Msg("documento creado")
	return doc, nil
}

func checkDraft(doc *entity.Document) error {
	var problems []string
	if _, ok := pkgsifen.DocumentTypeXMLCode(doc.Type); !ok {
		problems = append(problems, fmt.Sprintf("tipo de documento %q desconocido", doc.Type))
	}
	if doc.IssuerTaxID == "" || strings.TrimSpace(doc.IssuerName) == "" {
		problems = append(problems, "faltan RUC o razón social del emisor")
	}
	if doc.IssueTimestamp.IsZero() {
		problems = append(problems, "falta la fecha de emisión")
	}
	if len(doc.LineItems) == 0 {
		problems = append(problems, "el documento no tiene ítems")
	}
	if doc.Type.RequiresAssociatedDocument() {
		if err := domainsifen.VerifyCheckDigit(doc.AssociatedCDC); err != nil {
			problems = append(problems, "CDC del documento asociado inválido: "+err.Error())
		}
	} else if doc.AssociatedCDC != "" {
		problems = append(problems, "solo las notas de crédito/débito referencian otro documento")
	}
	if doc.Receiver.IsTaxpayer() {
		if _, err := pkgsifen.ComputeRUCCheckDigit(doc.Receiver.TaxID); err != nil {
			problems = append(problems, "RUC del receptor inválido: "+err.Error())
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s: %w", strings.Join(problems, "; "), domain.ErrInvalidInput)
	}
	return nil
}

// ── Submit ────────────────────────────────────────────────────────────────────

// Submit lleva el documento desde su estado actual hasta una respuesta de la SET.
// Retoma desde donde quedó; en SUBMITTING o PENDING_CONTINGENCY consulta el CDC antes de reenviar.
// Circuito abierto o reintentos agotados dejan el documento en PENDING_CONTINGENCY sin error.
func (o *SubmissionOrchestrator) Submit(ctx context.Context, documentID string) (*SubmissionResult, error) {
	doc, err := o.deps.Documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status.IsTerminal() {
		return o.result(doc, nil, 0), fmt.Errorf("documento %s en %s: %w", doc.ID, doc.Status, domain.ErrTerminalDocument)
	}
	cdc, window, err := o.deriveIdentifier(ctx, doc)
	if err != nil {
		return o.result(doc, nil, 0), err
	}
	release, err := o.deps.Locks.Acquire(ctx, cdc)
	if err != nil {
		return o.result(doc, nil, 0), err
	}
	defer release()

	if doc, err = o.deps.Documents.GetByID(ctx, documentID); err != nil {
		return nil, err
	}
	if doc.Status.IsTerminal() {
		return o.result(doc, nil, 0), fmt.Errorf("documento %s en %s: %w", doc.ID, doc.Status, domain.ErrTerminalDocument)
	}
	if err := ctx.Err(); err != nil {
		return o.result(doc, nil, 0), err
	}
	if err := o.prepare(ctx, doc, cdc, window); err != nil {
		return o.result(doc, nil, 0), err
	}
	if late, err := o.expireIfLate(ctx, doc); late || err != nil {
		return o.result(doc, nil, 0), lateError(doc, err)
	}
	if awaitingOutcome(doc.Status) {
		// Un envío anterior pudo haber llegado: reenviar sin consultar convertiría una
		// aprobación en un rechazo por CDC duplicado.
		_, res, err := o.reconcile(ctx, doc)
		if err != nil && unreachable(err) {
			return o.toContingency(context.WithoutCancel(ctx), doc, res.Attempts, entity.TriggerCircuitOpen)
		}
		return res, err
	}
	return o.dispatch(ctx, doc)
}

// deriveIdentifier CDC del documento: el ya asignado o el derivado del timbrado vigente.
func (o *SubmissionOrchestrator) deriveIdentifier(ctx context.Context, doc *entity.Document) (string, *entity.TimbradoWindow, error) {
	if doc.Identifier != "" {
		return doc.Identifier, nil, nil
	}
	window, err := o.deps.Timbrados.GetActiveWindow(ctx, doc.IssuerTaxID, doc.Sequence.Establishment, doc.Sequence.PointOfSale, doc.IssueTimestamp)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil, &domainsifen.IdentifierError{Kind: domainsifen.OutsideAuthorizedWindow, Field: "timbrado",
			Reason: fmt.Sprintf("sin timbrado vigente para %s-%s al %s",
				doc.Sequence.Establishment, doc.Sequence.PointOfSale, doc.IssueTimestamp.Format("2006-01-02"))}
	}
	if err != nil {
		return "", nil, err
	}
	cdc, err := o.deps.Codec.Derive(doc, window)
	if err != nil {
		return "", nil, err
	}
	return cdc, window, nil
}

// prepare pasos locales y deterministas. Cualquier error se devuelve sin reintentar y el
// documento queda en el último estado alcanzado.
func (o *SubmissionOrchestrator) prepare(ctx context.Context, doc *entity.Document, cdc string, window *entity.TimbradoWindow) error {
	if doc.Status == entity.StatusDraft {
		doc.Identifier = cdc
		doc.Timbrado = entity.TimbradoRef{Number: window.Number, ValidFrom: window.ValidFrom}
		if err := o.machine.Transition(ctx, doc, entity.StatusIdentified, entity.TriggerIdentified); err != nil {
			return err
		}
	}
	if doc.Status == entity.StatusIdentified {
		if _, err := o.deps.Renderer.Render(doc); err != nil {
			return err
		}
		if err := o.machine.Transition(ctx, doc, entity.StatusRendered, entity.TriggerRendered); err != nil {
			return err
		}
	}
	if doc.Status == entity.StatusRendered {
		if err := o.deps.Validator.Validate(doc.RenderedPayload).Err(); err != nil {
			return err
		}
		if err := o.machine.Transition(ctx, doc, entity.StatusValidated, entity.TriggerValidated); err != nil {
			return err
		}
	}
	if doc.Status == entity.StatusValidated {
		signed, err := o.deps.Signer.Sign(doc.RenderedPayload, o.cfg.Certificate)
		if err != nil {
			return err
		}
		if _, err := o.deps.Renderer.AttachPostSignature(doc, signed); err != nil {
			return err
		}
	}
	return nil
}

// expireIfLate mueve a EXPIRED un documento que superó la ventana de atraso.
func (o *SubmissionOrchestrator) expireIfLate(ctx context.Context, doc *entity.Document) (bool, error) {
	if !o.cfg.Lateness.IsLate(doc.IssueTimestamp, o.now()) {
		return false, nil
	}
	if !CanTransition(doc.Status, entity.StatusExpired, entity.TriggerLateness) {
		return false, nil
	}
	if err := o.machine.Transition(ctx, doc, entity.StatusExpired, entity.TriggerLateness); err != nil {
		return false, err
	}
	o.log.Warn().Str("document_id", doc.ID).Str("cdc", doc.Identifier).
		Time("issued", doc.IssueTimestamp).Msg("documento vencido por atraso")
	return true, nil
}

func lateError(doc *entity.Document, err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("documento %s emitido el %s: %w", doc.ID, doc.IssueTimestamp.Format(time.RFC3339), domain.ErrLateDocument)
}

// dispatch envío individual a través del coordinador. La llamada de red no hereda la
// cancelación del llamador: cancelar solo evita reintentos y el resultado se registra igual.
func (o *SubmissionOrchestrator) dispatch(ctx context.Context, doc *entity.Document) (*SubmissionResult, error) {
	req := sifen.Request{Kind: sifen.RequestSubmit, Documents: [][]byte{doc.RenderedPayload}}
	if err := o.deps.Transport.CheckLimits(req); err != nil {
		return o.result(doc, nil, 0), err
	}
	persist := context.WithoutCancel(ctx)

	var outcome entity.Outcome
	attempts, err := o.deps.Coordinator.Execute(ctx, func(context.Context) error {
		if err := o.markSubmitting(persist, doc); err != nil {
			return err
		}
		raw, err := o.deps.Transport.Call(persist, req)
		if err != nil {
			return err
		}
		outcome = o.deps.Classifier.Classify(raw.Body)
		return o.checkTransient(persist, doc, outcome)
	})
	return o.settle(persist, doc, outcome, attempts, err)
}

// markSubmitting primer despacho, reintento o reingreso desde contingencia.
func (o *SubmissionOrchestrator) markSubmitting(ctx context.Context, doc *entity.Document) error {
	trigger := entity.TriggerDispatched
	if doc.Status == entity.StatusPendingContingency {
		trigger = entity.TriggerContingencyReplay
	}
	return o.machine.Transition(ctx, doc, entity.StatusSubmitting, trigger)
}

// checkTransient registra una falla temporal de la SET y la devuelve como error reintentable.
func (o *SubmissionOrchestrator) checkTransient(ctx context.Context, doc *entity.Document, outcome entity.Outcome) error {
	tf, ok := outcome.(entity.TransientFailure)
	if !ok {
		return nil
	}
	if err := o.machine.ApplyOutcome(ctx, doc, tf); err != nil {
		return err
	}
	return &remoteTransientError{outcome: tf}
}

// settle aplica el resultado del coordinador al documento.
func (o *SubmissionOrchestrator) settle(ctx context.Context, doc *entity.Document, outcome entity.Outcome, attempts int, err error) (*SubmissionResult, error) {
	if err == nil {
		if outcome.Kind() == entity.OutcomeTransientFailure {
			// Solo ocurre por documento dentro de un lote: el lote no se reintenta por uno solo.
			if applyErr := o.machine.ApplyOutcome(ctx, doc, outcome); applyErr != nil {
				return o.result(doc, outcome, attempts), applyErr
			}
			return o.toContingency(ctx, doc, attempts, entity.TriggerRetriesExhausted)
		}
		if applyErr := o.machine.ApplyOutcome(ctx, doc, outcome); applyErr != nil {
			return o.result(doc, outcome, attempts), applyErr
		}
		res := o.result(doc, outcome, attempts)
		if !entity.IsDefinitive(outcome) {
			return res, fmt.Errorf("%s %s: %w", outcome.Kind(), outcome.RawCode(), domain.ErrUnresolvedOutcome)
		}
		o.log.Info().Str("document_id", doc.ID).Str("cdc", doc.Identifier).Str("status", string(doc.Status)).
			Str("protocol", res.ProtocolNumber).Int("attempts", attempts).Msg("respuesta definitiva de la SET")
		return res, nil
	}

	switch {
	case resilience.IsKind(err, resilience.CircuitOpen):
		return o.toContingency(ctx, doc, attempts, entity.TriggerCircuitOpen)
	case resilience.IsKind(err, resilience.RetriesExhausted):
		return o.toContingency(ctx, doc, attempts, entity.TriggerRetriesExhausted)
	}
	o.log.Warn().Err(err).Str("document_id", doc.ID).Str("cdc", doc.Identifier).
		Str("status", string(doc.Status)).Int("attempts", attempts).Msg("envío interrumpido")
	return o.result(doc, nil, attempts), err
}

func (o *SubmissionOrchestrator) toContingency(ctx context.Context, doc *entity.Document, attempts int, trigger entity.Trigger) (*SubmissionResult, error) {
	if doc.Status != entity.StatusPendingContingency {
		if err := o.machine.Transition(ctx, doc, entity.StatusPendingContingency, trigger); err != nil {
			return o.result(doc, nil, attempts), err
		}
	}
	o.log.Warn().Str("document_id", doc.ID).Str("cdc", doc.Identifier).Str("trigger", string(trigger)).
		Int("attempts", attempts).Msg("documento en contingencia, se reenviará al recuperarse la SET")
	return o.result(doc, nil, attempts), nil
}

func (o *SubmissionOrchestrator) result(doc *entity.Document, outcome entity.Outcome, attempts int) *SubmissionResult {
	res := &SubmissionResult{
		DocumentID: doc.ID,
		Identifier: doc.Identifier,
		Status:     doc.Status,
		Outcome:    outcome,
		Attempts:   attempts,
	}
	if outcome != nil {
		res.ProtocolNumber = entity.ProtocolNumberOf(outcome)
	}
	return res
}

// ── QueryStatus ───────────────────────────────────────────────────────────────

// QueryResult respuesta de una consulta por CDC.
type QueryResult struct {
	Identifier string
	Outcome    entity.Outcome
	DocumentID string        // vacío si el CDC no corresponde a un documento local
	Status     entity.Status // estado local luego de aplicar la respuesta
}

// QueryStatus consulta a la SET el estado de un CDC. Si el documento es local y está en
// SUBMITTING o PENDING_CONTINGENCY, una respuesta definitiva se aplica a su estado.
// La consulta sale aunque el circuito esté abierto y no altera su estado.
func (o *SubmissionOrchestrator) QueryStatus(ctx context.Context, cdc string) (*QueryResult, error) {
	if err := domainsifen.VerifyCheckDigit(cdc); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrInvalidInput)
	}
	outcome, err := o.queryRemote(ctx, cdc, o.deps.Coordinator.ExecuteUnguarded)
	if err != nil {
		return nil, err
	}
	res := &QueryResult{Identifier: cdc, Outcome: outcome}

	doc, err := o.deps.Documents.GetByIdentifier(ctx, cdc)
	if errors.Is(err, domain.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return res, err
	}
	res.DocumentID, res.Status = doc.ID, doc.Status
	if !entity.IsDefinitive(outcome) || !awaitingOutcome(doc.Status) {
		return res, nil
	}

	release, err := o.deps.Locks.Acquire(ctx, cdc)
	if err != nil {
		// Hay un envío en curso: registrará su propia respuesta.
		return res, nil
	}
	defer release()
	if doc, err = o.deps.Documents.GetByID(ctx, doc.ID); err != nil {
		return res, err
	}
	if awaitingOutcome(doc.Status) {
		if err := o.machine.ApplyOutcome(context.WithoutCancel(ctx), doc, outcome); err != nil {
			return res, err
		}
	}
	res.Status = doc.Status
	return res, nil
}

type executeFunc func(ctx context.Context, op func(ctx context.Context) error) (int, error)

func (o *SubmissionOrchestrator) queryRemote(ctx context.Context, cdc string, execute executeFunc) (entity.Outcome, error) {
	req := sifen.Request{Kind: sifen.RequestQuery, Identifier: cdc}
	var outcome entity.Outcome
	_, err := execute(ctx, func(callCtx context.Context) error {
		raw, err := o.deps.Transport.Call(callCtx, req)
		if err != nil {
			return err
		}
		outcome = o.deps.Classifier.Classify(raw.Body)
		if tf, ok := outcome.(entity.TransientFailure); ok {
			return &remoteTransientError{outcome: tf}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func awaitingOutcome(s entity.Status) bool {
	return s == entity.StatusSubmitting || s == entity.StatusPendingContingency
}

// remoteTransientError TransientFailure de la SET expuesta al coordinador como reintentable.
type remoteTransientError struct {
	outcome entity.TransientFailure
}

func (e *remoteTransientError) Error() string {
	return fmt.Sprintf("SET %s: %s", e.outcome.Code, e.outcome.Message)
}

func (e *remoteTransientError) Transient() bool { return true }
