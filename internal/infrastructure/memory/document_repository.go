// Package memory implementa los puertos de persistencia y el lock de envíos en memoria.
// Se usa en pruebas y en desarrollo (STORAGE=memory); no sobrevive a un reinicio.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/sifen-gateway/internal/domain"
	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	"github.com/jhoicas/sifen-gateway/internal/domain/repository"
)

var _ repository.DocumentRepository = (*DocumentRepo)(nil)

// DocumentRepo guarda copias profundas: quien lee nunca comparte punteros con el almacén.
type DocumentRepo struct {
	mu          sync.RWMutex
	docs        map[string]*entity.Document
	byCDC       map[string]string
	transitions map[string][]entity.Transition
}

// NewDocumentRepository crea un repositorio vacío.
func NewDocumentRepository() *DocumentRepo {
	return &DocumentRepo{
		docs:        map[string]*entity.Document{},
		byCDC:       map[string]string{},
		transitions: map[string][]entity.Transition{},
	}
}

func (r *DocumentRepo) Create(_ context.Context, doc *entity.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if _, ok := r.docs[doc.ID]; ok {
		return fmt.Errorf("documento %s: %w", doc.ID, domain.ErrDuplicate)
	}
	if doc.Identifier != "" {
		if _, ok := r.byCDC[doc.Identifier]; ok {
			return fmt.Errorf("CDC %s: %w", doc.Identifier, domain.ErrDuplicate)
		}
		r.byCDC[doc.Identifier] = doc.ID
	}
	r.docs[doc.ID] = doc.Clone()
	return nil
}

func (r *DocumentRepo) GetByID(_ context.Context, id string) (*entity.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return doc.Clone(), nil
}

func (r *DocumentRepo) GetByIdentifier(ctx context.Context, cdc string) (*entity.Document, error) {
	r.mu.RLock()
	id, ok := r.byCDC[cdc]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// SaveTransition reemplaza el documento y agrega t a la bitácora si el estado guardado es t.From.
func (r *DocumentRepo) SaveTransition(_ context.Context, doc *entity.Document, t entity.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.docs[doc.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Status != t.From {
		return fmt.Errorf("documento %s está en %s, se esperaba %s: %w", doc.ID, stored.Status, t.From, domain.ErrConflict)
	}
	if doc.Identifier != "" && doc.Identifier != stored.Identifier {
		if owner, taken := r.byCDC[doc.Identifier]; taken && owner != doc.ID {
			return fmt.Errorf("CDC %s: %w", doc.Identifier, domain.ErrDuplicate)
		}
		r.byCDC[doc.Identifier] = doc.ID
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.DocumentID = doc.ID
	r.docs[doc.ID] = doc.Clone()
	r.transitions[doc.ID] = append(r.transitions[doc.ID], t)
	return nil
}

func (r *DocumentRepo) ListTransitions(_ context.Context, documentID string) ([]entity.Transition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.docs[documentID]; !ok {
		return nil, domain.ErrNotFound
	}
	return append([]entity.Transition(nil), r.transitions[documentID]...), nil
}

func (r *DocumentRepo) ListByStatus(_ context.Context, statuses ...entity.Status) ([]*entity.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Document
	for _, doc := range r.docs {
		if hasStatus(statuses, doc.Status) {
			out = append(out, doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StatusChangedAt.Equal(out[j].StatusChangedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StatusChangedAt.Before(out[j].StatusChangedAt)
	})
	return out, nil
}

func (r *DocumentRepo) ListStale(ctx context.Context, statuses []entity.Status, before time.Time) ([]string, error) {
	docs, err := r.ListByStatus(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, doc := range docs {
		if doc.StatusChangedAt.Before(before) {
			ids = append(ids, doc.ID)
		}
	}
	return ids, nil
}

func hasStatus(statuses []entity.Status, s entity.Status) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}
