package billing

import (
	"context"

	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/resilience"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/sifen"
)

// Renderer proyecta el documento al XML y agrega el grupo J tras la firma.
type Renderer interface {
	Render(doc *entity.Document) ([]byte, error)
	AttachPostSignature(doc *entity.Document, signed []byte) ([]byte, error)
}

// Validator validación estructural local.
type Validator interface {
	Validate(payload []byte) sifen.ValidationResult
}

// Transport un intercambio con el WS de la SET, sin reintentos.
type Transport interface {
	CheckLimits(req sifen.Request) error
	Call(ctx context.Context, req sifen.Request) (*sifen.RawResponse, error)
}

// Classifier interpreta respuestas de la SET.
type Classifier interface {
	Classify(raw []byte) entity.Outcome
	ClassifyBatch(raw []byte) (map[string]entity.Outcome, entity.Outcome)
}

// Coordinator política de reintentos y circuito alrededor del transporte.
type Coordinator interface {
	Execute(ctx context.Context, op func(ctx context.Context) error) (int, error)
	ExecuteUnguarded(ctx context.Context, op func(ctx context.Context) error) (int, error)
	Subscribe(fn resilience.StateListener)
}

// InflightLock a lo sumo un envío en curso por CDC. Acquire no espera: si el CDC está
// tomado devuelve domain.ErrSubmissionInFlight.
type InflightLock interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
