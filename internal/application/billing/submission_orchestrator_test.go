package billing_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sifen-gateway/internal/domain"
	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	domainsifen "github.com/jhoicas/sifen-gateway/internal/domain/sifen"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/resilience"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/sifen"
	pkgsifen "github.com/jhoicas/sifen-gateway/pkg/sifen"
)

func TestNewDocument_Borrador(t *testing.T) {
	e := newEngine(t)

	doc := e.newDocument(t, "0000001")
	assert.Equal(t, entity.StatusDraft, doc.Status)
	assert.Empty(t, doc.Identifier, "el CDC se asigna al enviar")
	assert.Len(t, doc.SecurityCode, 9)
	assert.Equal(t, "PYG", doc.Currency)
	assert.Equal(t, entity.EmissionNormal, doc.EmissionType)
	assert.True(t, doc.Totals.GrandTotal.IsPositive())

	stored := e.load(t, doc.ID)
	assert.Equal(t, doc.SecurityCode, stored.SecurityCode)
}

func TestNewDocument_EntradaInvalida(t *testing.T) {
	e := newEngine(t)
	cases := map[string]func(*entity.Document){
		"sin ítems":             func(d *entity.Document) { d.LineItems = nil },
		"tipo desconocido":      func(d *entity.Document) { d.Type = "recibo" },
		"sin emisor":            func(d *entity.Document) { d.IssuerName = " " },
		"nota sin asociado":     func(d *entity.Document) { d.Type = entity.DocumentTypeCreditNote },
		"factura con asociado":  func(d *entity.Document) { d.AssociatedCDC = "01800695631001001000000112026101511234567890" },
		"RUC receptor inválido": func(d *entity.Document) { d.Receiver.TaxID = "123456789" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := invoiceInput("0000001")
			mutate(in)
			_, err := e.orch.NewDocument(context.Background(), in)
			require.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestNewDocument_SinTimbradoVigente(t *testing.T) {
	e := newEngine(t)
	in := invoiceInput("0000001")
	in.Sequence.Establishment = "002"

	_, err := e.orch.NewDocument(context.Background(), in)
	var idErr *domainsifen.IdentifierError
	require.ErrorAs(t, err, &idErr)
	assert.Equal(t, domainsifen.OutsideAuthorizedWindow, idErr.Kind)
}

func TestSubmit_Aprobado(t *testing.T) {
	e := newEngine(t)
	doc := e.newDocument(t, "0000001")

	res, err := e.orch.Submit(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAccepted, res.Status)
	assert.Equal(t, protocolNumber, res.ProtocolNumber)
	assert.Equal(t, 1, res.Attempts)
	require.NoError(t, domainsifen.VerifyCheckDigit(res.Identifier))

	assert.Equal(t, []entity.Trigger{
		entity.TriggerIdentified, entity.TriggerRendered, entity.TriggerValidated,
		entity.TriggerDispatched, entity.TriggerRemoteOutcome,
	}, e.triggers(t, doc.ID))

	sent := e.transport.last()
	assert.Equal(t, sifen.RequestSubmit, sent.Kind)
	payload := string(sent.Documents[0])
	assert.Contains(t, payload, "<Signature")
	assert.Contains(t, payload, "<dCarQR>")
	assert.Equal(t, res.Identifier, cdcOf(sent.Documents[0]))

	stored := e.load(t, doc.ID)
	assert.Equal(t, res.Identifier, stored.Identifier)
	assert.Equal(t, "12345678", stored.Timbrado.Number)
	require.NotNil(t, stored.LastRemoteResponse)
	assert.Equal(t, "0260", stored.LastRemoteResponse.Code)
	assert.Equal(t, 0, stored.RetryCount)
	assert.False(t, stored.ContingencyFlag)
}

func TestSubmit_RechazoDeNegocioEsTerminal(t *testing.T) {
	e := newEngine(t)
	e.transport.setHandler(respondCode("1001"))
	doc := e.newDocument(t, "0000001")

	res, err := e.orch.Submit(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejectedBusiness, res.Status)
	assert.Empty(t, res.ProtocolNumber)

	_, err = e.orch.Submit(context.Background(), doc.ID)
	require.ErrorIs(t, err, domain.ErrTerminalDocument)
	assert.Equal(t, 1, e.transport.total(), "un documento terminal no se reenvía")
}

func TestSubmit_FallaTransitoriaYLuegoAprobado(t *testing.T) {
	e := newEngine(t)
	e.transport.setHandler(func(n int, req sifen.Request) (*sifen.RawResponse, error) {
		if n == 1 {
			return timeout(n, req)
		}
		return respondCode("0260")(n, req)
	})
	doc := e.newDocument(t, "0000001")

	res, err := e.orch.Submit(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAccepted, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, e.load(t, doc.ID).RetryCount)
	assert.Equal(t, []entity.Trigger{
		entity.TriggerIdentified, entity.TriggerRendered, entity.TriggerValidated,
		entity.TriggerDispatched, entity.TriggerDispatched, entity.TriggerRemoteOutcome,
	}, e.triggers(t, doc.ID))
}

func TestSubmit_FallaTemporalDeLaSETSeReintenta(t *testing.T) {
	e := newEngine(t)
	e.transport.setHandler(func(n int, req sifen.Request) (*sifen.RawResponse, error) {
		if n == 1 {
			return respondCode("0500")(n, req)
		}
		return respondCode("0260")(n, req)
	})
	doc := e.newDocument(t, "0000001")

	res, err := e.orch.Submit(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAccepted, res.Status)
	assert.Equal(t, 2, res.Attempts)

	log, err := e.orch.StateMachine().TransitionLog(context.Background(), doc.ID)
	require.NoError(t, err)
	var transient int
	for _, tr := range log {
		if tr.Outcome == entity.OutcomeTransientFailure {
			transient++
			assert.Equal(t, "0500", tr.Code)
			assert.Equal(t, tr.From, tr.To)
		}
	}
	assert.Equal(t, 1, transient)
}

func TestSubmit_ReintentosAgotadosPasaAContingencia(t *testing.T) {
	e := newEngine(t)
	e.transport.setHandler(timeout)
	doc := e.newDocument(t, "0000001")

	res, err := e.orch.Submit(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPendingContingency, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, e.transport.total())

	stored := e.load(t, doc.ID)
	assert.True(t, stored.ContingencyFlag)
	assert.Equal(t, 2, stored.RetryCount)
	triggers := e.triggers(t, doc.ID)
	assert.Equal(t, entity.TriggerRetriesExhausted, triggers[len(triggers)-1])
}

func TestSubmit_CircuitoAbiertoNoLlamaALaSET(t *testing.T) {
	e := newEngine(t, func(o *engineOptions) { o.threshold = 2 })
	e.transport.setHandler(timeout)
	first := e.newDocument(t, "0000001")
	second := e.newDocument(t, "0000002")

	res, err := e.orch.Submit(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPendingContingency, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, resilience.StateOpen, e.coord.State())

	calls := e.transport.total()
	res, err = e.orch.Submit(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPendingContingency, res.Status)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, calls, e.transport.total())

	stored := e.load(t, second.ID)
	assert.Contains(t, string(stored.RenderedPayload), "<dCarQR>", "el XML firmado queda listo para el reenvío")
	assert.Equal(t, []entity.Trigger{
		entity.TriggerIdentified, entity.TriggerRendered, entity.TriggerValidated, entity.TriggerCircuitOpen,
	}, e.triggers(t, second.ID))
}

func TestSubmit_CodigoDesconocidoQuedaEnRevision(t *testing.T) {
	e := newEngine(t)
	e.transport.setHandler(respondCode("9999"))
	doc := e.newDocument(t, "0000001")

	res, err := e.orch.Submit(context.Background(), doc.ID)
	require.ErrorIs(t, err, domain.ErrUnresolvedOutcome)
	assert.Equal(t, entity.StatusSubmitting, res.Status)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, entity.OutcomeUnknown, res.Outcome.Kind())
	assert.Equal(t, 1, e.transport.total(), "un código desconocido no se reintenta")

	e.clock.Advance(2 * time.Hour)
	stuck, err := e.orch.StateMachine().FindStuck(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{doc.ID}, stuck)
}

func TestSubmit_SinRespuestaConsultaAntesDeReenviar(t *testing.T) {
	e := newEngine(t)
	e.transport.setHandler(respondCode("9999"))
	doc := e.newDocument(t, "0000001")
	_, err := e.orch.Submit(context.Background(), doc.ID)
	require.ErrorIs(t, err, domain.ErrUnresolvedOutcome)

	// la SET ya lo aprobó; un reenvío devolvería CDC duplicado
	e.transport.setHandler(func(n int, req sifen.Request) (*sifen.RawResponse, error) {
		if req.Kind == sifen.RequestQuery {
			return respondCode("0260")(n, req)
		}
		return respondCode("1001")(n, req)
	})
	res, err := e.orch.Submit(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAccepted, res.Status)
	assert.Equal(t, protocolNumber, res.ProtocolNumber)
	assert.Equal(t, 1, e.transport.count(sifen.RequestQuery))
	assert.Equal(t, 1, e.transport.count(sifen.RequestSubmit))
	assert.Equal(t, entity.StatusAccepted, e.load(t, doc.ID).Status)
}

func TestSubmit_ContingenciaReenviaSoloSiLaSETNoLoConoce(t *testing.T) {
	e := newEngine(t)
	e.transport.setHandler(timeout)
	doc := e.newDocument(t, "0000001")
	res, err := e.orch.Submit(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StatusPendingContingency, res.Status)
	submits := e.transport.count(sifen.RequestSubmit)

	e.transport.setHandler(func(n int, req sifen.Request) (*sifen.RawResponse, error) {
		if req.Kind == sifen.RequestQuery {
			return notFoundResponse(), nil
		}
		return respondCode("0260")(n, req)
	})
	res, err = e.orch.Submit(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAccepted, res.Status)
	assert.Equal(t, 1, e.transport.count(sifen.RequestQuery))
	assert.Equal(t, submits+1, e.transport.count(sifen.RequestSubmit))
}

func TestSubmit_ContingenciaConLaSETCaidaNoFalla(t *testing.T) {
	e := newEngine(t)
	e.transport.setHandler(timeout)
	doc := e.newDocument(t, "0000001")
	_, err := e.orch.Submit(context.Background(), doc.ID)
	require.NoError(t, err)
	submits := e.transport.count(sifen.RequestSubmit)

	res, err := e.orch.Submit(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPendingContingency, res.Status)
	assert.Equal(t, submits, e.transport.count(sifen.RequestSubmit), "sin respuesta a la consulta no se reenvía")
}

func TestSubmit_ErrorDeFirma(t *testing.T) {
	e := newEngine(t)
	e.signer.err = &pkgsifen.SigningError{Kind: pkgsifen.SigningExpired, Subject: "CN=Comercial Asunción SA"}
	doc := e.newDocument(t, "0000001")

	_, err := e.orch.Submit(context.Background(), doc.ID)
	var sigErr *pkgsifen.SigningError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, pkgsifen.SigningExpired, sigErr.Kind)
	assert.Equal(t, entity.StatusValidated, e.load(t, doc.ID).Status)
	assert.Zero(t, e.transport.total())

	// con el certificado renovado el envío retoma desde VALIDATED
	e.signer.err = nil
	res, err := e.orch.Submit(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAccepted, res.Status)
}

func TestSubmit_LimiteLocalSinLlamada(t *testing.T) {
	e := newEngine(t)
	e.transport.limitErr = &sifen.TransportError{Kind: sifen.ErrKindPayloadTooLarge, Op: sifen.RequestSubmit}
	doc := e.newDocument(t, "0000001")

	_, err := e.orch.Submit(context.Background(), doc.ID)
	var tErr *sifen.TransportError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, sifen.ErrKindPayloadTooLarge, tErr.Kind)
	assert.Zero(t, e.transport.total())
	assert.Equal(t, entity.StatusValidated, e.load(t, doc.ID).Status)
}

func TestSubmit_CanceladoAntesDelEnvio(t *testing.T) {
	e := newEngine(t)
	doc := e.newDocument(t, "0000001")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.orch.Submit(ctx, doc.ID)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, e.transport.total())
	assert.Equal(t, entity.StatusDraft, e.load(t, doc.ID).Status)
}

func TestSubmit_EnvioEnCurso(t *testing.T) {
	e := newEngine(t)
	e.transport.setHandler(respondCode("9999"))
	doc := e.newDocument(t, "0000001")
	res, err := e.orch.Submit(context.Background(), doc.ID)
	require.ErrorIs(t, err, domain.ErrUnresolvedOutcome)

	release, err := e.locks.Acquire(context.Background(), res.Identifier)
	require.NoError(t, err)
	defer release()

	_, err = e.orch.Submit(context.Background(), doc.ID)
	require.ErrorIs(t, err, domain.ErrSubmissionInFlight)
	assert.Equal(t, 1, e.transport.total())
}

func TestSubmit_DocumentoAtrasadoVence(t *testing.T) {
	e := newEngine(t)
	doc := e.newDocument(t, "0000001")
	e.clock.Advance(73 * time.Hour)

	res, err := e.orch.Submit(context.Background(), doc.ID)
	require.ErrorIs(t, err, domain.ErrLateDocument)
	assert.Equal(t, entity.StatusExpired, res.Status)
	assert.Zero(t, e.transport.total())
	triggers := e.triggers(t, doc.ID)
	assert.Equal(t, entity.TriggerLateness, triggers[len(triggers)-1])
}

func TestSubmit_DocumentoInexistente(t *testing.T) {
	e := newEngine(t)
	_, err := e.orch.Submit(context.Background(), "no-existe")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueryStatus(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.orch.QueryStatus(ctx, "123")
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	e.transport.setHandler(respondCode("9999"))
	doc := e.newDocument(t, "0000001")
	res, err := e.orch.Submit(ctx, doc.ID)
	require.True(t, errors.Is(err, domain.ErrUnresolvedOutcome))

	e.transport.setHandler(respondCode("0260"))
	q, err := e.orch.QueryStatus(ctx, res.Identifier)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, q.DocumentID)
	assert.Equal(t, entity.OutcomeAccepted, q.Outcome.Kind())
	assert.Equal(t, entity.StatusAccepted, q.Status)
	assert.Equal(t, entity.StatusAccepted, e.load(t, doc.ID).Status)
	assert.Equal(t, 1, e.transport.count(sifen.RequestQuery))
}

func TestQueryStatus_ConCircuitoAbierto(t *testing.T) {
	e := newEngine(t, func(o *engineOptions) { o.threshold = 2 })
	doc := e.pending(t, "0000001")
	require.Equal(t, resilience.StateOpen, e.coord.State())

	e.transport.setHandler(respondCode("0260"))
	q, err := e.orch.QueryStatus(context.Background(), doc.Identifier)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAccepted, q.Status)
	assert.Equal(t, resilience.StateOpen, e.coord.State(), "la consulta del operador no altera el circuito")
}

func TestQueryStatus_CDCAjeno(t *testing.T) {
	e := newEngine(t)
	e.transport.setHandler(func(int, sifen.Request) (*sifen.RawResponse, error) { return notFoundResponse(), nil })
	cdc := foreignCDC(t)

	q, err := e.orch.QueryStatus(context.Background(), cdc)
	require.NoError(t, err)
	assert.Empty(t, q.DocumentID)
	assert.True(t, sifen.IsDocumentNotFound(q.Outcome))
}

// foreignCDC CDC válido que no pertenece a ningún documento local.
func foreignCDC(t *testing.T) string {
	t.Helper()
	doc := invoiceInput("0000099")
	doc.EmissionType = entity.EmissionNormal
	doc.SecurityCode = "123456789"
	cdc, err := domainsifen.NewCDCService().Derive(doc, &entity.TimbradoWindow{
		Number: "12345678", Establishment: "001", PointOfSale: "001",
		ValidFrom:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil: time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		RangeFrom:  1, RangeTo: 9999999,
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(cdc, "8006956301"))
	return cdc
}
