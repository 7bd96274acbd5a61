package http

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/sifen-gateway/internal/application/billing"
	"github.com/jhoicas/sifen-gateway/internal/application/dto"
	"github.com/jhoicas/sifen-gateway/internal/domain"
	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	"github.com/jhoicas/sifen-gateway/pkg/jwt"
)

// submissionEngine operaciones del orquestador que expone la API.
// Lo implementa *billing.SubmissionOrchestrator.
type submissionEngine interface {
	NewDocument(ctx context.Context, input *entity.Document) (*entity.Document, error)
	Get(ctx context.Context, documentID string) (*entity.Document, error)
	Submit(ctx context.Context, documentID string) (*billing.SubmissionResult, error)
	SubmitBatch(ctx context.Context, documentIDs []string) (*billing.BatchResult, error)
	QueryStatus(ctx context.Context, cdc string) (*billing.QueryResult, error)
	Resume(ctx context.Context) (*billing.ResumeReport, error)
	TransitionLog(ctx context.Context, documentID string) ([]entity.Transition, error)
	FindStuck(ctx context.Context, olderThan time.Duration) ([]string, error)
	Archive(ctx context.Context, documentID string) (*entity.Document, error)
}

// DocumentHandler maneja alta, envío y monitoreo de documentos electrónicos.
type DocumentHandler struct {
	engine         submissionEngine
	stuckThreshold time.Duration
}

// NewDocumentHandler construye el handler. stuckThreshold es el umbral por defecto de /stuck.
func NewDocumentHandler(engine submissionEngine, stuckThreshold time.Duration) *DocumentHandler {
	if stuckThreshold <= 0 {
		stuckThreshold = 15 * time.Minute
	}
	return &DocumentHandler{engine: engine, stuckThreshold: stuckThreshold}
}

// Create registra un documento en DRAFT para el emisor del token.
// POST /api/documents
func (h *DocumentHandler) Create(c *fiber.Ctx) error {
	issuer := GetIssuerTaxID(c)
	if issuer == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "el token no indica el RUC del emisor"})
	}
	var in dto.CreateDocumentRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	doc, err := h.engine.NewDocument(c.Context(), toDocumentEntity(in, issuer))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toDocumentResponse(doc))
}

// GetByID documento con su estado actual.
// GET /api/documents/:id
func (h *DocumentHandler) GetByID(c *fiber.Ctx) error {
	doc, err := h.owned(c)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toDocumentResponse(doc))
}

// Submit envía el documento a la SET. Un resultado sin clasificar responde 202.
// POST /api/documents/:id/submit
func (h *DocumentHandler) Submit(c *fiber.Ctx) error {
	doc, err := h.owned(c)
	if err != nil {
		return writeError(c, err)
	}
	res, err := h.engine.Submit(c.Context(), doc.ID)
	if err != nil {
		status, _ := errorStatus(err)
		if status != fiber.StatusAccepted {
			return writeError(c, err)
		}
		return c.Status(status).JSON(toSubmissionResponse(res, err))
	}
	return c.JSON(toSubmissionResponse(res, nil))
}

// SubmitBatch envía varios documentos del emisor en un solo lote.
// POST /api/documents/batch
func (h *DocumentHandler) SubmitBatch(c *fiber.Ctx) error {
	var in dto.BatchRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	for _, id := range in.DocumentIDs {
		if _, err := h.ownedID(c, id); err != nil {
			return writeError(c, fmt.Errorf("documento %s: %w", id, err))
		}
	}
	res, err := h.engine.SubmitBatch(c.Context(), in.DocumentIDs)
	if err != nil {
		return writeError(c, err)
	}
	out := dto.BatchResponse{Attempts: res.Attempts, Items: make([]dto.SubmissionResponse, 0, len(res.Items))}
	for i := range res.Items {
		item := res.Items[i]
		out.Items = append(out.Items, toSubmissionResponse(&item.SubmissionResult, item.Err))
	}
	return c.JSON(out)
}

// Transitions bitácora de transiciones.
// GET /api/documents/:id/transitions
func (h *DocumentHandler) Transitions(c *fiber.Ctx) error {
	doc, err := h.owned(c)
	if err != nil {
		return writeError(c, err)
	}
	log, err := h.engine.TransitionLog(c.Context(), doc.ID)
	if err != nil {
		return writeError(c, err)
	}
	items := toTransitionResponses(log)
	return c.JSON(dto.ListResponse[dto.TransitionResponse]{Items: items, Total: len(items)})
}

// Archive marca un documento terminal como archivado.
// POST /api/documents/:id/archive
func (h *DocumentHandler) Archive(c *fiber.Ctx) error {
	doc, err := h.owned(c)
	if err != nil {
		return writeError(c, err)
	}
	doc, err = h.engine.Archive(c.Context(), doc.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toDocumentResponse(doc))
}

// Stuck documentos no terminales sin cambios desde hace más de older_than (por defecto el
// umbral configurado).
// GET /api/documents/stuck?older_than=30m
func (h *DocumentHandler) Stuck(c *fiber.Ctx) error {
	threshold := h.stuckThreshold
	if raw := c.Query("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "older_than inválido: " + raw})
		}
		threshold = d
	}
	ids, err := h.engine.FindStuck(c.Context(), threshold)
	if err != nil {
		return writeError(c, err)
	}
	ids = nonNil(ids)
	return c.JSON(dto.ListResponse[string]{Items: ids, Total: len(ids)})
}

// QueryStatus consulta el CDC en la SET.
// GET /api/cdc/:cdc
func (h *DocumentHandler) QueryStatus(c *fiber.Ctx) error {
	res, err := h.engine.QueryStatus(c.Context(), c.Params("cdc"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toQueryResponse(res))
}

// Replay reanuda los documentos en contingencia.
// POST /api/contingency/replay
func (h *DocumentHandler) Replay(c *fiber.Ctx) error {
	report, err := h.engine.Resume(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toResumeResponse(report))
}

func (h *DocumentHandler) owned(c *fiber.Ctx) (*entity.Document, error) {
	id := c.Params("id")
	if id == "" {
		return nil, fmt.Errorf("id requerido: %w", domain.ErrInvalidInput)
	}
	return h.ownedID(c, id)
}

// ownedID el documento debe pertenecer al emisor del token, salvo para admin.
func (h *DocumentHandler) ownedID(c *fiber.Ctx, id string) (*entity.Document, error) {
	doc, err := h.engine.Get(c.Context(), id)
	if err != nil {
		return nil, err
	}
	if GetRole(c) != jwt.RoleAdmin && doc.IssuerTaxID != GetIssuerTaxID(c) {
		return nil, domain.ErrForbidden
	}
	return doc, nil
}
