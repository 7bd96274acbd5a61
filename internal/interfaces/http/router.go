package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/sifen-gateway/pkg/jwt"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Documents *DocumentHandler
	JWTSecret string
}

// Router registra las rutas de la API. Todas requieren Bearer Token.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api", AuthMiddleware(deps.JWTSecret))
	h := deps.Documents

	readers := RequireRole(jwt.RoleAdmin, jwt.RoleOperator, jwt.RoleAuditor)
	writers := RequireRole(jwt.RoleAdmin, jwt.RoleOperator)
	admins := RequireRole(jwt.RoleAdmin)

	docs := api.Group("/documents")
	docs.Post("/", writers, h.Create)
	docs.Post("/batch", writers, h.SubmitBatch)
	docs.Get("/stuck", readers, h.Stuck)
	docs.Get("/:id", readers, h.GetByID)
	docs.Get("/:id/transitions", readers, h.Transitions)
	docs.Post("/:id/submit", writers, h.Submit)
	docs.Post("/:id/archive", admins, h.Archive)

	api.Get("/cdc/:cdc", readers, h.QueryStatus)
	api.Post("/contingency/replay", admins, h.Replay)
}
