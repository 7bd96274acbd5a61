package resilience

import (
	"errors"
	"fmt"
)

// CoordinatorErrorKind motivo por el que el coordinador dejó de intentar.
type CoordinatorErrorKind string

const (
	RetriesExhausted CoordinatorErrorKind = "RetriesExhausted"
	CircuitOpen      CoordinatorErrorKind = "CircuitOpen"
	Cancelled        CoordinatorErrorKind = "Cancelled"
)

// CoordinatorError envuelve el último error transitorio observado (si hubo).
type CoordinatorError struct {
	Kind     CoordinatorErrorKind
	Attempts int
	Last     error
}

func (e *CoordinatorError) Error() string {
	msg := fmt.Sprintf("coordinador: %s tras %d intentos", e.Kind, e.Attempts)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *CoordinatorError) Unwrap() error { return e.Last }

// IsKind indica si err es un *CoordinatorError del tipo dado.
func IsKind(err error, kind CoordinatorErrorKind) bool {
	var ce *CoordinatorError
	return errors.As(err, &ce) && ce.Kind == kind
}

type transient interface {
	Transient() bool
}

// IsTransient indica si el error se declara reintentable.
func IsTransient(err error) bool {
	var t transient
	return errors.As(err, &t) && t.Transient()
}
