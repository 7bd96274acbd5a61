package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateDocumentRequest body para POST /api/documents.
// El RUC del emisor se toma del token; el CDC y los totales los calcula el motor.
type CreateDocumentRequest struct {
	Type           string            `json:"type"` // invoice | auto-invoice | credit-note | debit-note | waybill
	IssueTimestamp time.Time         `json:"issue_timestamp"`
	IssuerName     string            `json:"issuer_name"`
	Receiver       *ReceiverRequest  `json:"receiver,omitempty"` // nil: consumidor final innominado
	Establishment  string            `json:"establishment"`
	PointOfSale    string            `json:"point_of_sale"`
	Number         string            `json:"number"`
	Currency       string            `json:"currency,omitempty"`
	Reason         int               `json:"reason,omitempty"`
	AssociatedCDC  string            `json:"associated_cdc,omitempty"`
	GeneralNotes   string            `json:"general_notes,omitempty"`
	PurchaseOrder  string            `json:"purchase_order,omitempty"`
	Items          []LineItemRequest `json:"items"`
}

// ReceiverRequest receptor: RUC (contribuyente) o documento de identidad.
type ReceiverRequest struct {
	TaxID    string `json:"tax_id,omitempty"`
	IDNumber string `json:"id_number,omitempty"`
	Name     string `json:"name"`
}

// LineItemRequest ítem con precio unitario sin IVA.
type LineItemRequest struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     int             `json:"tax_rate"` // 0, 5 o 10
}

// TotalsResponse totales del grupo F.
type TotalsResponse struct {
	Exempt     decimal.Decimal `json:"exempt"`
	Taxed5     decimal.Decimal `json:"taxed_5"`
	Taxed10    decimal.Decimal `json:"taxed_10"`
	IVA5       decimal.Decimal `json:"iva_5"`
	IVA10      decimal.Decimal `json:"iva_10"`
	TotalIVA   decimal.Decimal `json:"total_iva"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// RemoteResponse última respuesta de la SET.
type RemoteResponse struct {
	Outcome        string    `json:"outcome"`
	Code           string    `json:"code"`
	Message        string    `json:"message,omitempty"`
	ProtocolNumber string    `json:"protocol_number,omitempty"`
	Notes          []string  `json:"notes,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}

// DocumentResponse documento en respuestas (sin el XML).
type DocumentResponse struct {
	ID                 string          `json:"id"`
	Type               string          `json:"type"`
	Status             string          `json:"status"`
	Identifier         string          `json:"cdc,omitempty"`
	IssuerTaxID        string          `json:"issuer_ruc"`
	Sequence           string          `json:"sequence"` // 001-001-0000001
	IssueTimestamp     time.Time       `json:"issue_timestamp"`
	Totals             TotalsResponse  `json:"totals"`
	TimbradoNumber     string          `json:"timbrado,omitempty"`
	LastRemoteResponse *RemoteResponse `json:"last_response,omitempty"`
	RetryCount         int             `json:"retry_count"`
	ContingencyFlag    bool            `json:"contingency"`
	CreatedAt          time.Time       `json:"created_at"`
	StatusChangedAt    time.Time       `json:"status_changed_at"`
	ArchivedAt         *time.Time      `json:"archived_at,omitempty"`
}

// TransitionResponse entrada de la bitácora.
type TransitionResponse struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	Trigger string    `json:"trigger"`
	Outcome string    `json:"outcome,omitempty"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// SubmissionResponse resultado de un envío.
type SubmissionResponse struct {
	DocumentID     string `json:"document_id"`
	Identifier     string `json:"cdc,omitempty"`
	Status         string `json:"status"`
	Outcome        string `json:"outcome,omitempty"`
	Code           string `json:"code,omitempty"`
	Message        string `json:"message,omitempty"`
	ProtocolNumber string `json:"protocol_number,omitempty"`
	Attempts       int    `json:"attempts"`
	Error          string `json:"error,omitempty"`
}

// BatchRequest body para POST /api/documents/batch.
type BatchRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

// BatchResponse resultado por documento en el orden recibido.
type BatchResponse struct {
	Attempts int                  `json:"attempts"`
	Items    []SubmissionResponse `json:"items"`
}

// QueryResponse resultado de una consulta por CDC.
type QueryResponse struct {
	Identifier     string `json:"cdc"`
	Outcome        string `json:"outcome"`
	Code           string `json:"code,omitempty"`
	Message        string `json:"message,omitempty"`
	ProtocolNumber string `json:"protocol_number,omitempty"`
	DocumentID     string `json:"document_id,omitempty"`
	Status         string `json:"status,omitempty"`
}

// ResumeResponse resumen de una reanudación de contingencia.
type ResumeResponse struct {
	Reconciled  []string          `json:"reconciled"`
	Resubmitted []string          `json:"resubmitted"`
	Expired     []string          `json:"expired"`
	Failed      map[string]string `json:"failed,omitempty"`
}
