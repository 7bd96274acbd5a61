package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jhoicas/sifen-gateway/internal/domain"
)

// InflightLock a lo sumo un envío en curso por CDC dentro del proceso.
type InflightLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewInflightLock crea el lock.
func NewInflightLock() *InflightLock {
	return &InflightLock{held: map[string]struct{}{}}
}

// Acquire toma el lock de key o devuelve domain.ErrSubmissionInFlight sin esperar.
func (l *InflightLock) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrSubmissionInFlight)
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
