package repository

import (
	"context"
	"time"

	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
)

// DocumentRepository define el puerto de persistencia de documentos electrónicos y su bitácora.
// Los métodos de lectura devuelven domain.ErrNotFound si el documento no existe.
type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.Document) error
	GetByID(ctx context.Context, id string) (*entity.Document, error)
	GetByIdentifier(ctx context.Context, cdc string) (*entity.Document, error)

	// SaveTransition persiste el documento y agrega t a la bitácora en una sola operación atómica.
	// Solo aplica si el estado persistido sigue siendo t.From; si no, devuelve domain.ErrConflict.
	SaveTransition(ctx context.Context, doc *entity.Document, t entity.Transition) error

	// ListTransitions devuelve la bitácora del documento en orden cronológico.
	ListTransitions(ctx context.Context, documentID string) ([]entity.Transition, error)

	// ListByStatus devuelve los documentos en alguno de los estados dados.
	ListByStatus(ctx context.Context, statuses ...entity.Status) ([]*entity.Document, error)

	// ListStale devuelve los IDs de documentos en alguno de los estados dados cuyo último
	// cambio de estado es anterior a before.
	ListStale(ctx context.Context, statuses []entity.Status, before time.Time) ([]string, error)
}
