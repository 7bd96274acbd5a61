package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/sifen-gateway/internal/domain"
	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	"github.com/jhoicas/sifen-gateway/internal/domain/repository"
)

var _ repository.TimbradoRepository = (*TimbradoRepo)(nil)

// TimbradoRepo lectura de timbrados. Create existe solo para carga inicial (sifenctl).
type TimbradoRepo struct {
	q Querier
}

// NewTimbradoRepository construye el adaptador. Pasar pool o tx (Querier).
func NewTimbradoRepository(q Querier) *TimbradoRepo {
	return &TimbradoRepo{q: q}
}

// GetActiveWindow timbrado vigente a la fecha; si hay varios, el de inicio más reciente.
func (r *TimbradoRepo) GetActiveWindow(ctx context.Context, issuerTaxID, establishment, pointOfSale string, asOf time.Time) (*entity.TimbradoWindow, error) {
	const query = `
		SELECT id, number, issuer_tax_id, establishment, point_of_sale,
		       valid_from, valid_until, range_from, range_to
		FROM timbrados
		WHERE issuer_tax_id = $1 AND establishment = $2 AND point_of_sale = $3
		  AND valid_from <= $4::date AND valid_until >= $4::date
		ORDER BY valid_from DESC
		LIMIT 1`
	var w entity.TimbradoWindow
	err := r.q.QueryRow(ctx, query, issuerTaxID, establishment, pointOfSale, asOf).Scan(
		&w.ID, &w.Number, &w.IssuerTaxID, &w.Establishment, &w.PointOfSale,
		&w.ValidFrom, &w.ValidUntil, &w.RangeFrom, &w.RangeTo,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get timbrado: %w", err)
	}
	return &w, nil
}

// Create registra un timbrado.
func (r *TimbradoRepo) Create(ctx context.Context, w *entity.TimbradoWindow) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO timbrados (id, number, issuer_tax_id, establishment, point_of_sale, valid_from, valid_until, range_from, range_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.ID, w.Number, w.IssuerTaxID, w.Establishment, w.PointOfSale, w.ValidFrom, w.ValidUntil, w.RangeFrom, w.RangeTo,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("timbrado %s: %w", w.Number, domain.ErrDuplicate)
		}
		return fmt.Errorf("insert timbrado: %w", err)
	}
	return nil
}
