package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/sifen-gateway/internal/domain"
	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	"github.com/jhoicas/sifen-gateway/internal/domain/repository"
)

var _ repository.DocumentRepository = (*DocumentRepo)(nil)

// DocumentRepo implementación de DocumentRepository sobre PostgreSQL.
type DocumentRepo struct {
	db TxBeginner
}

// NewDocumentRepository construye el adaptador con el pool.
func NewDocumentRepository(db TxBeginner) *DocumentRepo {
	return &DocumentRepo{db: db}
}

const documentColumns = `
	id, doc_type, issue_ts, issuer_tax_id, issuer_name, receiver,
	establishment, point_of_sale, seq_number, emission_type, currency, line_items,
	total_exempt, total_taxed5, total_taxed10, total_operation,
	total_iva5, total_iva10, total_iva, grand_total,
	reason, associated_cdc, general_notes, purchase_order,
	timbrado_number, timbrado_valid_from,
	status, identifier, security_code, rendered_payload, last_response,
	retry_count, contingency_flag, created_at, updated_at, status_changed_at, archived_at`

// Create persiste un documento nuevo (normalmente en DRAFT).
func (r *DocumentRepo) Create(ctx context.Context, doc *entity.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	receiver, items, last, err := encodeJSONColumns(doc)
	if err != nil {
		return err
	}
	query := `INSERT INTO documents (` + documentColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
		        $21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35,$36,$37)`
	t := doc.Totals
	_, err = r.db.Exec(ctx, query,
		doc.ID, string(doc.Type), doc.IssueTimestamp, doc.IssuerTaxID, doc.IssuerName, receiver,
		doc.Sequence.Establishment, doc.Sequence.PointOfSale, doc.Sequence.Number, string(doc.EmissionType), doc.Currency, items,
		t.Exempt, t.Taxed5, t.Taxed10, t.Operation,
		t.IVA5, t.IVA10, t.TotalIVA, t.GrandTotal,
		doc.Reason, nullIfEmpty(doc.AssociatedCDC), nullIfEmpty(doc.GeneralNotes), nullIfEmpty(doc.PurchaseOrder),
		nullIfEmpty(doc.Timbrado.Number), nullTime(doc.Timbrado.ValidFrom),
		string(doc.Status), nullIfEmpty(doc.Identifier), doc.SecurityCode, doc.RenderedPayload, last,
		doc.RetryCount, doc.ContingencyFlag, doc.CreatedAt, doc.UpdatedAt, doc.StatusChangedAt, doc.ArchivedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("documento %s: %w", doc.ID, domain.ErrDuplicate)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetByID obtiene un documento por ID.
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*entity.Document, error) {
	row := r.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

// GetByIdentifier obtiene un documento por CDC.
func (r *DocumentRepo) GetByIdentifier(ctx context.Context, cdc string) (*entity.Document, error) {
	row := r.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE identifier = $1`, cdc)
	return scanDocument(row)
}

// SaveTransition actualiza el documento y agrega la transición en una transacción.
// El UPDATE solo aplica si el estado persistido sigue siendo t.From.
func (r *DocumentRepo) SaveTransition(ctx context.Context, doc *entity.Document, t entity.Transition) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	receiver, items, last, err := encodeJSONColumns(doc)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tot := doc.Totals
	tag, err := tx.Exec(ctx, `
		UPDATE documents
		SET receiver = $3, line_items = $4,
		    total_exempt = $5, total_taxed5 = $6, total_taxed10 = $7, total_operation = $8,
		    total_iva5 = $9, total_iva10 = $10, total_iva = $11, grand_total = $12,
		    timbrado_number = $13, timbrado_valid_from = $14,
		    status = $15, identifier = $16, rendered_payload = $17, last_response = $18,
		    retry_count = $19, contingency_flag = $20, emission_type = $21,
		    updated_at = $22, status_changed_at = $23, archived_at = $24
		WHERE id = $1 AND status = $2`,
		doc.ID, string(t.From), receiver, items,
		tot.Exempt, tot.Taxed5, tot.Taxed10, tot.Operation,
		tot.IVA5, tot.IVA10, tot.TotalIVA, tot.GrandTotal,
		nullIfEmpty(doc.Timbrado.Number), nullTime(doc.Timbrado.ValidFrom),
		string(doc.Status), nullIfEmpty(doc.Identifier), doc.RenderedPayload, last,
		doc.RetryCount, doc.ContingencyFlag, string(doc.EmissionType),
		doc.UpdatedAt, doc.StatusChangedAt, doc.ArchivedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("CDC %s: %w", doc.Identifier, domain.ErrDuplicate)
		}
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("documento %s ya no está en %s: %w", doc.ID, t.From, domain.ErrConflict)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO document_transitions (id, document_id, from_status, to_status, trigger, outcome, code, message, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, doc.ID, string(t.From), string(t.To), string(t.Trigger),
		nullIfEmpty(string(t.Outcome)), nullIfEmpty(t.Code), nullIfEmpty(t.Message), t.At,
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListTransitions bitácora en orden de inserción.
func (r *DocumentRepo) ListTransitions(ctx context.Context, documentID string) ([]entity.Transition, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, document_id, from_status, to_status, trigger,
		       COALESCE(outcome, ''), COALESCE(code, ''), COALESCE(message, ''), at
		FROM document_transitions WHERE document_id = $1 ORDER BY seq`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()
	var out []entity.Transition
	for rows.Next() {
		var t entity.Transition
		var from, to, trigger, outcome string
		if err := rows.Scan(&t.ID, &t.DocumentID, &from, &to, &trigger, &outcome, &t.Code, &t.Message, &t.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.From, t.To = entity.Status(from), entity.Status(to)
		t.Trigger, t.Outcome = entity.Trigger(trigger), entity.OutcomeKind(outcome)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListByStatus documentos en los estados dados, del más antiguo al más nuevo.
func (r *DocumentRepo) ListByStatus(ctx context.Context, statuses ...entity.Status) ([]*entity.Document, error) {
	rows, err := r.db.Query(ctx, `SELECT `+documentColumns+`
		FROM documents WHERE status = ANY($1) ORDER BY status_changed_at`, statusStrings(statuses))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var out []*entity.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// ListStale IDs de documentos cuyo último cambio de estado es anterior a before.
func (r *DocumentRepo) ListStale(ctx context.Context, statuses []entity.Status, before time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM documents
		WHERE status = ANY($1) AND status_changed_at < $2
		ORDER BY status_changed_at`, statusStrings(statuses), before)
	if err != nil {
		return nil, fmt.Errorf("list stale: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanDocument(row pgx.Row) (*entity.Document, error) {
	var (
		d                                         entity.Document
		docType, emission, status                 string
		receiver, items, last                     []byte
		assoc, notes, order, timbrado, identifier *string
		timbradoFrom                              *time.Time
	)
	t := &d.Totals
	err := row.Scan(
		&d.ID, &docType, &d.IssueTimestamp, &d.IssuerTaxID, &d.IssuerName, &receiver,
		&d.Sequence.Establishment, &d.Sequence.PointOfSale, &d.Sequence.Number, &emission, &d.Currency, &items,
		&t.Exempt, &t.Taxed5, &t.Taxed10, &t.Operation,
		&t.IVA5, &t.IVA10, &t.TotalIVA, &t.GrandTotal,
		&d.Reason, &assoc, &notes, &order,
		&timbrado, &timbradoFrom,
		&status, &identifier, &d.SecurityCode, &d.RenderedPayload, &last,
		&d.RetryCount, &d.ContingencyFlag, &d.CreatedAt, &d.UpdatedAt, &d.StatusChangedAt, &d.ArchivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.Type, d.EmissionType, d.Status = entity.DocumentType(docType), entity.EmissionType(emission), entity.Status(status)
	d.AssociatedCDC, d.GeneralNotes, d.PurchaseOrder = deref(assoc), deref(notes), deref(order)
	d.Timbrado.Number, d.Identifier = deref(timbrado), deref(identifier)
	if timbradoFrom != nil {
		d.Timbrado.ValidFrom = *timbradoFrom
	}
	if len(receiver) > 0 && string(receiver) != "null" {
		d.Receiver = &entity.Receiver{}
		if err := json.Unmarshal(receiver, d.Receiver); err != nil {
			return nil, fmt.Errorf("decode receiver: %w", err)
		}
	}
	if err := json.Unmarshal(items, &d.LineItems); err != nil {
		return nil, fmt.Errorf("decode line items: %w", err)
	}
	if len(last) > 0 && string(last) != "null" {
		d.LastRemoteResponse = &entity.RemoteResponse{}
		if err := json.Unmarshal(last, d.LastRemoteResponse); err != nil {
			return nil, fmt.Errorf("decode last response: %w", err)
		}
	}
	return &d, nil
}

// encodeJSONColumns serializa receptor, ítems y última respuesta (JSONB).
func encodeJSONColumns(doc *entity.Document) (receiver, items, last []byte, err error) {
	if doc.Receiver != nil {
		if receiver, err = json.Marshal(doc.Receiver); err != nil {
			return nil, nil, nil, fmt.Errorf("encode receiver: %w", err)
		}
	}
	if items, err = json.Marshal(doc.LineItems); err != nil {
		return nil, nil, nil, fmt.Errorf("encode line items: %w", err)
	}
	if doc.LastRemoteResponse != nil {
		if last, err = json.Marshal(doc.LastRemoteResponse); err != nil {
			return nil, nil, nil, fmt.Errorf("encode last response: %w", err)
		}
	}
	return receiver, items, last, nil
}

func statusStrings(statuses []entity.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
