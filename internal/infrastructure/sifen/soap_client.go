package sifen

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/beevik/etree"

	pkgsifen "github.com/jhoicas/sifen-gateway/pkg/sifen"
)

const (
	soapNS          = "http://www.w3.org/2003/05/soap-envelope"
	soapContentType = "application/soap+xml; charset=utf-8"
	maxResponseSize = 4 << 20
)

// ── Petición y respuesta ──────────────────────────────────────────────────────

// RequestKind operación remota.
type RequestKind string

const (
	RequestSubmit RequestKind = "submit" // rEnviDe (un documento)
	RequestBatch  RequestKind = "batch"  // rEnvioLote (hasta MaxBatchDocuments)
	RequestQuery  RequestKind = "query"  // rEnviConsDeRequest (estado por CDC)
)

// Request una llamada al WS de la SET.
type Request struct {
	Kind       RequestKind
	ID         string   // dId; si está vacío se genera
	Documents  [][]byte // rDE firmados (submit: exactamente uno)
	Identifier string   // CDC para query
}

// RawResponse respuesta HTTP sin interpretar.
type RawResponse struct {
	StatusCode int
	Body       []byte
}

// ── Errores ───────────────────────────────────────────────────────────────────

// TransportErrorKind categoría del fallo de transporte.
type TransportErrorKind string

const (
	ErrKindConnectionRefused TransportErrorKind = "ConnectionRefused"
	ErrKindConnectionReset   TransportErrorKind = "ConnectionReset"
	ErrKindTimeout           TransportErrorKind = "Timeout"
	ErrKindRemoteServer      TransportErrorKind = "RemoteServerError"
	ErrKindPayloadTooLarge   TransportErrorKind = "PayloadTooLarge"
	ErrKindBatchTooLarge     TransportErrorKind = "BatchTooLarge"
	ErrKindInsecureChannel   TransportErrorKind = "InsecureChannel"
	ErrKindAuthentication    TransportErrorKind = "Authentication"
	ErrKindInvalidRequest    TransportErrorKind = "InvalidRequest"
	ErrKindCancelled         TransportErrorKind = "Cancelled"
)

// TransportError fallo de una llamada. Solo los tipos transitorios se reintentan.
type TransportError struct {
	Kind       TransportErrorKind
	Op         RequestKind
	StatusCode int
	Cause      error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("soap %s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Transient indica si el fallo se puede reintentar.
func (e *TransportError) Transient() bool {
	switch e.Kind {
	case ErrKindConnectionRefused, ErrKindConnectionReset, ErrKindTimeout, ErrKindRemoteServer:
		return true
	}
	return false
}

// ── Configuración ─────────────────────────────────────────────────────────────

// Endpoints URLs de los servicios de la SET.
type Endpoints struct {
	Submit string
	Batch  string
	Query  string
}

// TransportConfig límites y parámetros de seguridad por llamada.
type TransportConfig struct {
	Endpoints         Endpoints
	ConnectTimeout    time.Duration // TCP + handshake TLS
	ReadTimeout       time.Duration // espera de cabeceras de respuesta
	TotalTimeout      time.Duration // operación completa
	MaxDocumentBytes  int
	MaxBatchBytes     int
	MaxBatchDocuments int
	MinTLSVersion     uint16 // por defecto TLS 1.2
	ClientCertificate *tls.Certificate
	RootCAs           *x509.CertPool
}

// SOAPClient cliente SOAP 1.2 del WS de la SET. Sin estado de documento ni reintentos.
type SOAPClient struct {
	cfg        TransportConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewSOAPClient construye el cliente con los timeouts y el piso TLS configurados.
func NewSOAPClient(cfg TransportConfig) *SOAPClient {
	if cfg.MinTLSVersion == 0 {
		cfg.MinTLSVersion = tls.VersionTLS12
	}
	if cfg.MaxBatchDocuments <= 0 {
		cfg.MaxBatchDocuments = 50
	}
	tlsCfg := &tls.Config{
		MinVersion: cfg.MinTLSVersion,
		RootCAs:    cfg.RootCAs,
	}
	if cfg.ClientCertificate != nil {
		tlsCfg.Certificates = []tls.Certificate{*cfg.ClientCertificate}
	}
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsCfg,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ForceAttemptHTTP2:     false,
		MaxIdleConnsPerHost:   8,
	}
	return &SOAPClient{
		cfg:        cfg,
		httpClient: &http.Client{Transport: transport},
		now:        time.Now,
	}
}

// CheckLimits verifica localmente tamaño y cantidad de documentos, sin tocar la red.
func (c *SOAPClient) CheckLimits(req Request) error {
	switch req.Kind {
	case RequestSubmit:
		if len(req.Documents) != 1 {
			return &TransportError{Kind: ErrKindInvalidRequest, Op: req.Kind,
				Cause: fmt.Errorf("se esperaba un documento, se recibieron %d", len(req.Documents))}
		}
		return c.checkDocumentSize(req.Kind, req.Documents[0])
	case RequestBatch:
		if len(req.Documents) == 0 {
			return &TransportError{Kind: ErrKindInvalidRequest, Op: req.Kind, Cause: errors.New("lote vacío")}
		}
		if len(req.Documents) > c.cfg.MaxBatchDocuments {
			return &TransportError{Kind: ErrKindBatchTooLarge, Op: req.Kind,
				Cause: fmt.Errorf("%d documentos, máximo %d", len(req.Documents), c.cfg.MaxBatchDocuments)}
		}
		total := 0
		for _, d := range req.Documents {
			if err := c.checkDocumentSize(req.Kind, d); err != nil {
				return err
			}
			total += len(d)
		}
		if c.cfg.MaxBatchBytes > 0 && total > c.cfg.MaxBatchBytes {
			return &TransportError{Kind: ErrKindPayloadTooLarge, Op: req.Kind,
				Cause: fmt.Errorf("lote de %d bytes, máximo %d", total, c.cfg.MaxBatchBytes)}
		}
	case RequestQuery:
		if len(req.Identifier) != 44 || !onlyDigits(req.Identifier) {
			return &TransportError{Kind: ErrKindInvalidRequest, Op: req.Kind, Cause: errors.New("CDC inválido")}
		}
	default:
		return &TransportError{Kind: ErrKindInvalidRequest, Op: req.Kind, Cause: fmt.Errorf("operación desconocida %q", req.Kind)}
	}
	return nil
}

func (c *SOAPClient) checkDocumentSize(op RequestKind, doc []byte) error {
	if c.cfg.MaxDocumentBytes > 0 && len(doc) > c.cfg.MaxDocumentBytes {
		return &TransportError{Kind: ErrKindPayloadTooLarge, Op: op,
			Cause: fmt.Errorf("documento de %d bytes, máximo %d", len(doc), c.cfg.MaxDocumentBytes)}
	}
	return nil
}

// ── Call ──────────────────────────────────────────────────────────────────────

// Call realiza un único intercambio. Los SOAP Fault se devuelven como respuesta para que
// el clasificador los interprete; el resto de códigos HTTP de error se mapean a TransportError.
func (c *SOAPClient) Call(ctx context.Context, req Request) (*RawResponse, error) {
	if err := c.CheckLimits(req); err != nil {
		return nil, err
	}
	endpoint, err := c.endpoint(req.Kind)
	if err != nil {
		return nil, err
	}
	payload, err := c.buildEnvelope(req)
	if err != nil {
		return nil, &TransportError{Kind: ErrKindInvalidRequest, Op: req.Kind, Cause: err}
	}

	if c.cfg.TotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.TotalTimeout)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Kind: ErrKindInvalidRequest, Op: req.Kind, Cause: err}
	}
	httpReq.Header.Set("Content-Type", soapContentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, mapNetError(ctx, req.Kind, err)
	}
	defer resp.Body.Close()

	if resp.TLS == nil || resp.TLS.Version < c.cfg.MinTLSVersion {
		return nil, &TransportError{Kind: ErrKindInsecureChannel, Op: req.Kind,
			Cause: errors.New("canal sin TLS o por debajo de la versión mínima")}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, mapNetError(ctx, req.Kind, err)
	}
	raw := &RawResponse{StatusCode: resp.StatusCode, Body: body}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return raw, nil
	case (resp.StatusCode == http.StatusBadRequest || resp.StatusCode >= 500) && isSOAPFault(body):
		return raw, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &TransportError{Kind: ErrKindAuthentication, Op: req.Kind, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return nil, &TransportError{Kind: ErrKindPayloadTooLarge, Op: req.Kind, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500:
		return nil, &TransportError{Kind: ErrKindRemoteServer, Op: req.Kind, StatusCode: resp.StatusCode}
	default:
		return nil, &TransportError{Kind: ErrKindInvalidRequest, Op: req.Kind, StatusCode: resp.StatusCode}
	}
}

func (c *SOAPClient) endpoint(kind RequestKind) (string, error) {
	var raw string
	switch kind {
	case RequestSubmit:
		raw = c.cfg.Endpoints.Submit
	case RequestBatch:
		raw = c.cfg.Endpoints.Batch
	case RequestQuery:
		raw = c.cfg.Endpoints.Query
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", &TransportError{Kind: ErrKindInvalidRequest, Op: kind, Cause: fmt.Errorf("endpoint inválido %q", raw)}
	}
	if u.Scheme != "https" {
		return "", &TransportError{Kind: ErrKindInsecureChannel, Op: kind, Cause: fmt.Errorf("el endpoint %s no usa https", u.Host)}
	}
	return u.String(), nil
}

// mapNetError traduce errores de red al tipo de TransportError correspondiente.
func mapNetError(ctx context.Context, op RequestKind, err error) *TransportError {
	te := &TransportError{Op: op, Cause: err}
	var netErr net.Error
	var unknownCA x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var certErr x509.CertificateInvalidError
	var verifyErr *tls.CertificateVerificationError
	switch {
	case errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled:
		te.Kind = ErrKindCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		te.Kind = ErrKindTimeout
	case errors.As(err, &unknownCA), errors.As(err, &hostErr), errors.As(err, &certErr), errors.As(err, &verifyErr):
		te.Kind = ErrKindInsecureChannel
	case strings.Contains(err.Error(), "tls:"), strings.Contains(err.Error(), "x509:"):
		te.Kind = ErrKindInsecureChannel
	case errors.Is(err, syscall.ECONNREFUSED):
		te.Kind = ErrKindConnectionRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		te.Kind = ErrKindConnectionReset
	default:
		te.Kind = ErrKindConnectionReset
	}
	return te
}

// isSOAPFault indica si el cuerpo es un SOAP Fault.
func isSOAPFault(body []byte) bool {
	x := etree.NewDocument()
	if err := x.ReadFromBytes(body); err != nil {
		return false
	}
	return x.FindElement("//Body/Fault") != nil
}

// ── Envelope SOAP 1.2 ─────────────────────────────────────────────────────────

type soapEnvelope struct {
	XMLName xml.Name   `xml:"soap:Envelope"`
	XmlnsS  string     `xml:"xmlns:soap,attr"`
	Header  soapHeader `xml:"soap:Header"`
	Body    soapBody   `xml:"soap:Body"`
}

type soapHeader struct{}

type soapBody struct {
	Content interface{}
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "soap:Body"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// innerXML inserta bytes XML sin escapar.
type innerXML struct {
	Inner []byte `xml:",innerxml"`
}

// rEnviDe envío de un documento.
type rEnviDe struct {
	XMLName xml.Name `xml:"rEnviDe"`
	Xmlns   string   `xml:"xmlns,attr"`
	DID     string   `xml:"dId"`
	XDE     innerXML `xml:"xDE"`
}

// rEnvioLote envío de lote: ZIP de rLoteDE en Base64.
type rEnvioLote struct {
	XMLName xml.Name `xml:"rEnvioLote"`
	Xmlns   string   `xml:"xmlns,attr"`
	DID     string   `xml:"dId"`
	XDE     string   `xml:"xDE"`
}

// rEnviConsDeRequest consulta de documento por CDC.
type rEnviConsDeRequest struct {
	XMLName xml.Name `xml:"rEnviConsDeRequest"`
	Xmlns   string   `xml:"xmlns,attr"`
	DID     string   `xml:"dId"`
	DCDC    string   `xml:"dCDC"`
}

func (c *SOAPClient) buildEnvelope(req Request) ([]byte, error) {
	id := req.ID
	if id == "" {
		id = c.now().Format("20060102150405")
	}
	var body interface{}
	switch req.Kind {
	case RequestSubmit:
		body = &rEnviDe{Xmlns: pkgsifen.Namespace, DID: id, XDE: innerXML{Inner: stripXMLDeclaration(req.Documents[0])}}
	case RequestBatch:
		zipped, err := BuildBatch(req.Documents)
		if err != nil {
			return nil, err
		}
		body = &rEnvioLote{Xmlns: pkgsifen.Namespace, DID: id, XDE: base64.StdEncoding.EncodeToString(zipped)}
	case RequestQuery:
		body = &rEnviConsDeRequest{Xmlns: pkgsifen.Namespace, DID: id, DCDC: req.Identifier}
	}
	env := soapEnvelope{XmlnsS: soapNS, Body: soapBody{Content: body}}
	out, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("soap: serializar envelope: %w", err)
	}
	return out, nil
}
