package billing_test

import (
	"context"
	"crypto/tls"
	"sync"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sifen-gateway/internal/application/billing"
	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	domainsifen "github.com/jhoicas/sifen-gateway/internal/domain/sifen"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/memory"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/resilience"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/sifen"
)

var issued = time.Date(2026, 10, 15, 10, 30, 0, 0, time.UTC)

const protocolNumber = "4455667788"

// ── reloj ─────────────────────────────────────────────────────────────────────

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ── firma ─────────────────────────────────────────────────────────────────────

// fakeSigner inserta un ds:Signature mínimo como hermano siguiente de DE.
type fakeSigner struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *fakeSigner) Sign(canonical []byte, _ tls.Certificate) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	x := etree.NewDocument()
	if err := x.ReadFromBytes(canonical); err != nil {
		return nil, err
	}
	root := x.Root()
	if old := root.SelectElement("Signature"); old != nil {
		root.RemoveChild(old)
	}
	de := root.SelectElement("DE")
	sig := etree.NewElement("Signature")
	sig.CreateAttr("xmlns", "http://www.w3.org/2000/09/xmldsig#")
	ref := sig.CreateElement("SignedInfo").CreateElement("Reference")
	ref.CreateAttr("URI", "#"+de.SelectAttrValue("Id", ""))
	ref.CreateElement("DigestValue").SetText("q1w2e3r4t5y6u7i8o9p0=")
	sig.CreateElement("SignatureValue").SetText("AAAA")
	root.InsertChildAt(de.Index()+1, sig)
	return x.WriteToBytes()
}

// ── transporte ────────────────────────────────────────────────────────────────

type handler func(n int, req sifen.Request) (*sifen.RawResponse, error)

type fakeTransport struct {
	mu       sync.Mutex
	calls    []sifen.Request
	handle   handler
	limitErr error
}

func (f *fakeTransport) CheckLimits(sifen.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limitErr
}

func (f *fakeTransport) Call(_ context.Context, req sifen.Request) (*sifen.RawResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n, h := len(f.calls), f.handle
	f.mu.Unlock()
	return h(n, req)
}

func (f *fakeTransport) setHandler(h handler) {
	f.mu.Lock()
	f.handle = h
	f.mu.Unlock()
}

func (f *fakeTransport) count(kind sifen.RequestKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

func (f *fakeTransport) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransport) last() sifen.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func timeout(_ int, req sifen.Request) (*sifen.RawResponse, error) {
	return nil, &sifen.TransportError{Kind: sifen.ErrKindTimeout, Op: req.Kind}
}

// respondCode responde a envíos y consultas con el código dado para el CDC pedido.
func respondCode(code string) handler {
	return func(_ int, req sifen.Request) (*sifen.RawResponse, error) {
		return protocolResponse(requestCDC(req), code), nil
	}
}

// requestCDC CDC del primer documento (envío) o el consultado (consulta).
func requestCDC(req sifen.Request) string {
	if req.Kind == sifen.RequestQuery {
		return req.Identifier
	}
	return cdcOf(req.Documents[0])
}

func cdcOf(payload []byte) string {
	x := etree.NewDocument()
	if err := x.ReadFromBytes(payload); err != nil {
		return ""
	}
	if de := x.FindElement("//DE"); de != nil {
		return de.SelectAttrValue("Id", "")
	}
	return ""
}

func envelope(body string) []byte {
	return []byte(`<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope"><env:Body>` +
		body + `</env:Body></env:Envelope>`)
}

func record(cdc, code string) string {
	return `<Id>` + cdc + `</Id><dFecProc>2026-10-15T10:31:00</dFecProc><dProtAut>` + protocolNumber + `</dProtAut>` +
		`<gResProc><dCodRes>` + code + `</dCodRes><dMsgRes>mensaje ` + code + `</dMsgRes></gResProc>`
}

func protocolResponse(cdc, code string) *sifen.RawResponse {
	return &sifen.RawResponse{StatusCode: 200, Body: envelope(
		`<rRetEnviDe xmlns="http://ekuatia.set.gov.py/sifen/xsd"><rProtDe>` + record(cdc, code) + `</rProtDe></rRetEnviDe>`)}
}

func notFoundResponse() *sifen.RawResponse {
	return &sifen.RawResponse{StatusCode: 200, Body: envelope(
		`<rEnviConsDeResponse xmlns="http://ekuatia.set.gov.py/sifen/xsd"><dCodRes>0420</dCodRes>` +
			`<dMsgRes>CDC inexistente</dMsgRes></rEnviConsDeResponse>`)}
}

func batchResponse(codes map[string]string) *sifen.RawResponse {
	body := `<rResEnviConsLoteDe xmlns="http://ekuatia.set.gov.py/sifen/xsd">`
	for cdc, code := range codes {
		body += `<gResProcLote>` + record(cdc, code) + `</gResProcLote>`
	}
	return &sifen.RawResponse{StatusCode: 200, Body: envelope(body + `</rResEnviConsLoteDe>`)}
}

// ── motor ─────────────────────────────────────────────────────────────────────

type engine struct {
	orch      *billing.SubmissionOrchestrator
	docs      *memory.DocumentRepo
	locks     *memory.InflightLock
	transport *fakeTransport
	signer    *fakeSigner
	clock     *clock
	coord     *resilience.Coordinator
}

type engineOptions struct {
	maxAttempts int
	threshold   int
	lateness    time.Duration
}

func newEngine(t *testing.T, tweaks ...func(*engineOptions)) *engine {
	t.Helper()
	opts := engineOptions{maxAttempts: 3, threshold: 5, lateness: 72 * time.Hour}
	for _, tw := range tweaks {
		tw(&opts)
	}
	clk := &clock{now: issued.Add(time.Hour)}
	coord := resilience.NewCoordinator(resilience.Config{
		MaxAttempts: opts.maxAttempts,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
		Breaker:     resilience.BreakerConfig{Threshold: opts.threshold, Cooldown: time.Minute, MaxCooldown: 10 * time.Minute},
	}, zerolog.Nop(),
		resilience.WithClock(clk.Now),
		resilience.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		resilience.WithRandom(func() float64 { return 0 }),
	)

	e := &engine{
		docs:      memory.NewDocumentRepository(),
		locks:     memory.NewInflightLock(),
		transport: &fakeTransport{handle: respondCode("0260")},
		signer:    &fakeSigner{},
		clock:     clk,
		coord:     coord,
	}
	e.orch = billing.NewSubmissionOrchestrator(billing.Dependencies{
		Documents: e.docs,
		Timbrados: memory.NewTimbradoRepository(entity.TimbradoWindow{
			ID: "t1", Number: "12345678", IssuerTaxID: "80069563", Establishment: "001", PointOfSale: "001",
			ValidFrom:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			ValidUntil: time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
			RangeFrom:  1, RangeTo: 9999999,
		}),
		Renderer: sifen.NewXMLBuilderService(sifen.BuilderOptions{QR: sifen.QRConfig{
			BaseURL: "https://ekuatia.set.gov.py/consultas-test/qr?",
			CSCID:   "0001",
			CSC:     "ABCD0000000000000000000000000000",
		}}),
		Validator:   sifen.NewSchemaValidator(),
		Signer:      e.signer,
		Transport:   e.transport,
		Coordinator: coord,
		Classifier:  sifen.NewResponseClassifier(),
		Locks:       e.locks,
	}, billing.Config{
		Lateness: domainsifen.LatenessPolicy{MaxLateness: opts.lateness},
	}, zerolog.Nop(), billing.WithClock(clk.Now))
	return e
}

// invoiceInput factura de consumo con un ítem gravado al 10%.
func invoiceInput(number string) *entity.Document {
	return &entity.Document{
		Type:           entity.DocumentTypeInvoice,
		IssueTimestamp: issued,
		IssuerTaxID:    "80069563",
		IssuerName:     "Comercial Asunción SA",
		Receiver:       &entity.Receiver{TaxID: "80012345", Name: "Cliente Ejemplo SRL"},
		Sequence:       entity.SequenceNumber{Establishment: "001", PointOfSale: "001", Number: number},
		LineItems: []entity.LineItem{
			{Code: "P-001", Description: "Café molido 500g", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(25000), TaxRate: 10},
		},
	}
}

func (e *engine) newDocument(t *testing.T, number string) *entity.Document {
	t.Helper()
	doc, err := e.orch.NewDocument(context.Background(), invoiceInput(number))
	require.NoError(t, err)
	return doc
}

func (e *engine) load(t *testing.T, id string) *entity.Document {
	t.Helper()
	doc, err := e.docs.GetByID(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func (e *engine) triggers(t *testing.T, id string) []entity.Trigger {
	t.Helper()
	log, err := e.orch.StateMachine().TransitionLog(context.Background(), id)
	require.NoError(t, err)
	out := make([]entity.Trigger, len(log))
	for i, tr := range log {
		out[i] = tr.Trigger
	}
	return out
}
