package repository

import (
	"context"
	"time"

	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
)

// TimbradoRepository define el puerto de lectura de timbrados (autorizaciones de numeración).
type TimbradoRepository interface {
	// GetActiveWindow devuelve el timbrado vigente para emisor, establecimiento y punto de
	// expedición a la fecha asOf. Sin timbrado vigente devuelve domain.ErrNotFound.
	GetActiveWindow(ctx context.Context, issuerTaxID, establishment, pointOfSale string, asOf time.Time) (*entity.TimbradoWindow, error)
}
