package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jhoicas/sifen-gateway/internal/domain"
	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	"github.com/jhoicas/sifen-gateway/internal/domain/repository"
)

var _ repository.TimbradoRepository = (*TimbradoRepo)(nil)

// TimbradoRepo timbrados cargados de antemano.
type TimbradoRepo struct {
	mu      sync.RWMutex
	windows []entity.TimbradoWindow
}

// NewTimbradoRepository crea el repositorio con los timbrados dados.
func NewTimbradoRepository(windows ...entity.TimbradoWindow) *TimbradoRepo {
	return &TimbradoRepo{windows: append([]entity.TimbradoWindow(nil), windows...)}
}

// Add registra un timbrado.
func (r *TimbradoRepo) Add(w entity.TimbradoWindow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, w)
}

// GetActiveWindow el timbrado vigente de inicio más reciente.
func (r *TimbradoRepo) GetActiveWindow(_ context.Context, issuerTaxID, establishment, pointOfSale string, asOf time.Time) (*entity.TimbradoWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *entity.TimbradoWindow
	for i := range r.windows {
		w := &r.windows[i]
		if w.IssuerTaxID != issuerTaxID || w.Establishment != establishment || w.PointOfSale != pointOfSale {
			continue
		}
		if !w.CoversDate(asOf) {
			continue
		}
		if best == nil || w.ValidFrom.After(best.ValidFrom) {
			best = w
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	out := *best
	return &out, nil
}
