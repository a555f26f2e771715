package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jhoicas/dte-api/internal/application/billing"
	"github.com/jhoicas/dte-api/internal/application/signing"
	"github.com/jhoicas/dte-api/pkg/jwt"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Issuance      *billing.IssuanceService
	Invalidations *billing.InvalidationEngine
	PDF           *billing.PDFUseCase
	SignerAdmin   *signing.AdminUseCase
	JWTSecret     string
	ServiceName   string
	Gatherer      prometheus.Gatherer // nil: sin /metrics
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": deps.ServiceName})
	})
	if deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Rutas protegidas (requieren Bearer Token)
	api := app.Group("/api", AuthMiddleware(deps.JWTSecret))

	// DTE (emisor; un admin también puede emitir a nombre propio)
	dte := api.Group("/dte", RequireRole(jwt.RoleEmisor, jwt.RoleAdmin))
	dteHandler := NewDTEHandler(deps.Issuance, deps.Invalidations, deps.PDF)
	dte.Post("/", dteHandler.Issue)
	dte.Post("/invalidations", dteHandler.Invalidate)
	dte.Get("/:id", dteHandler.GetByID)
	dte.Get("/:id/pdf", dteHandler.PDF)
	dte.Post("/:id/retry", dteHandler.Retry)

	// Firmadores (solo admin)
	signers := api.Group("/signers", RequireRole(jwt.RoleAdmin))
	signerHandler := NewSignerHandler(deps.SignerAdmin)
	signers.Post("/", signerHandler.Register)
	signers.Get("/", signerHandler.List)
	signers.Get("/stats", signerHandler.Stats)
	signers.Post("/assignments", signerHandler.Assign)
	signers.Post("/:id/health-check", signerHandler.HealthCheck)
	signers.Patch("/:id/load", signerHandler.UpdateLoad)
}
