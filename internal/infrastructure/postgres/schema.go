package postgres

import (
	"context"
	"fmt"
)

// schema tablas del motor. Idempotente.
const schema = `
CREATE TABLE IF NOT EXISTS timbrados (
	id             UUID PRIMARY KEY,
	number         VARCHAR(8)  NOT NULL,
	issuer_tax_id  VARCHAR(8)  NOT NULL,
	establishment  VARCHAR(3)  NOT NULL,
	point_of_sale  VARCHAR(3)  NOT NULL,
	valid_from     DATE        NOT NULL,
	valid_until    DATE        NOT NULL,
	range_from     BIGINT      NOT NULL,
	range_to       BIGINT      NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_timbrados_lookup ON timbrados (issuer_tax_id, establishment, point_of_sale);

CREATE TABLE IF NOT EXISTS documents (
	id                   UUID PRIMARY KEY,
	doc_type             VARCHAR(20)  NOT NULL,
	issue_ts             TIMESTAMPTZ  NOT NULL,
	issuer_tax_id        VARCHAR(8)   NOT NULL,
	issuer_name          VARCHAR(255) NOT NULL,
	receiver             JSONB,
	establishment        VARCHAR(3)   NOT NULL,
	point_of_sale        VARCHAR(3)   NOT NULL,
	seq_number           VARCHAR(7)   NOT NULL,
	emission_type        VARCHAR(1)   NOT NULL,
	currency             VARCHAR(3)   NOT NULL,
	line_items           JSONB        NOT NULL,
	total_exempt         NUMERIC(23,8) NOT NULL DEFAULT 0,
	total_taxed5         NUMERIC(23,8) NOT NULL DEFAULT 0,
	total_taxed10        NUMERIC(23,8) NOT NULL DEFAULT 0,
	total_operation      NUMERIC(23,8) NOT NULL DEFAULT 0,
	total_iva5           NUMERIC(23,8) NOT NULL DEFAULT 0,
	total_iva10          NUMERIC(23,8) NOT NULL DEFAULT 0,
	total_iva            NUMERIC(23,8) NOT NULL DEFAULT 0,
	grand_total          NUMERIC(23,8) NOT NULL DEFAULT 0,
	reason               INT          NOT NULL DEFAULT 0,
	associated_cdc       VARCHAR(44),
	general_notes        TEXT,
	purchase_order       VARCHAR(15),
	timbrado_number      VARCHAR(8),
	timbrado_valid_from  DATE,
	status               VARCHAR(32)  NOT NULL,
	identifier           VARCHAR(44) UNIQUE,
	security_code        VARCHAR(9)   NOT NULL,
	rendered_payload     BYTEA,
	last_response        JSONB,
	retry_count          INT          NOT NULL DEFAULT 0,
	contingency_flag     BOOLEAN      NOT NULL DEFAULT FALSE,
	created_at           TIMESTAMPTZ  NOT NULL,
	updated_at           TIMESTAMPTZ  NOT NULL,
	status_changed_at    TIMESTAMPTZ  NOT NULL,
	archived_at          TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status, status_changed_at);

CREATE TABLE IF NOT EXISTS document_transitions (
	id           UUID PRIMARY KEY,
	document_id  UUID        NOT NULL REFERENCES documents(id),
	from_status  VARCHAR(32) NOT NULL,
	to_status    VARCHAR(32) NOT NULL,
	trigger      VARCHAR(32) NOT NULL,
	outcome      VARCHAR(32),
	code         VARCHAR(16),
	message      TEXT,
	at           TIMESTAMPTZ NOT NULL,
	seq          BIGSERIAL
);
CREATE INDEX IF NOT EXISTS idx_transitions_document ON document_transitions (document_id, seq);
`

// Migrate crea las tablas si no existen.
func Migrate(ctx context.Context, q Querier) error {
	if _, err := q.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrar esquema: %w", err)
	}
	return nil
}
