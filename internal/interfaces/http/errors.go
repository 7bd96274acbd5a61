package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/sifen-gateway/internal/application/dto"
	"github.com/jhoicas/sifen-gateway/internal/domain"
	domainsifen "github.com/jhoicas/sifen-gateway/internal/domain/sifen"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/resilience"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/sifen"
	pkgsifen "github.com/jhoicas/sifen-gateway/pkg/sifen"
)

// errorStatus traduce un error del motor a status HTTP y código estable.
func errorStatus(err error) (int, string) {
	var (
		idErr   *domainsifen.IdentifierError
		valErr  *sifen.ValidationError
		rendErr *sifen.RenderError
		sigErr  *pkgsifen.SigningError
		trErr   *sifen.TransportError
	)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, domain.ErrInvalidInput):
		return fiber.StatusBadRequest, "VALIDATION"
	case errors.Is(err, domain.ErrBatchTooLarge):
		return fiber.StatusBadRequest, "BATCH_TOO_LARGE"
	case errors.Is(err, domain.ErrSubmissionInFlight):
		return fiber.StatusConflict, "SUBMISSION_IN_FLIGHT"
	case errors.Is(err, domain.ErrTerminalDocument):
		return fiber.StatusConflict, "TERMINAL_DOCUMENT"
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, domain.ErrLateDocument):
		return fiber.StatusUnprocessableEntity, "LATE_DOCUMENT"
	case errors.Is(err, domain.ErrUnresolvedOutcome):
		return fiber.StatusAccepted, "NEEDS_REVIEW"
	case errors.As(err, &idErr):
		return fiber.StatusUnprocessableEntity, "IDENTIFIER_" + string(idErr.Kind)
	case errors.As(err, &valErr):
		return fiber.StatusUnprocessableEntity, "SCHEMA_VIOLATION"
	case errors.As(err, &rendErr):
		return fiber.StatusUnprocessableEntity, "RENDER_ERROR"
	case errors.As(err, &sigErr):
		return fiber.StatusUnprocessableEntity, "SIGNING_" + string(sigErr.Kind)
	case resilience.IsKind(err, resilience.Cancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable, "CANCELLED"
	case errors.As(err, &trErr):
		if trErr.Kind == sifen.ErrKindPayloadTooLarge || trErr.Kind == sifen.ErrKindBatchTooLarge {
			return fiber.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"
		}
		return fiber.StatusBadGateway, "TRANSPORT_" + string(trErr.Kind)
	}
	return fiber.StatusInternalServerError, "INTERNAL"
}

func writeError(c *fiber.Ctx, err error) error {
	status, code := errorStatus(err)
	body := dto.ErrorResponse{Code: code, Message: err.Error()}
	var valErr *sifen.ValidationError
	if errors.As(err, &valErr) {
		for _, v := range valErr.Violations {
			body.Details = append(body.Details, v.Path+": "+v.Message)
		}
	}
	return c.Status(status).JSON(body)
}
