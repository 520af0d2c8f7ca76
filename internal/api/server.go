// Package api exposes budgetgate over HTTP with fiber and provides a typed Go
// client for it.
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/Veraticus/budgetgate/internal/budget"
	"github.com/Veraticus/budgetgate/internal/conflict"
	"github.com/Veraticus/budgetgate/internal/document"
	"github.com/Veraticus/budgetgate/internal/ledgerimport"
	"github.com/Veraticus/budgetgate/internal/metrics"
	"github.com/Veraticus/budgetgate/internal/registry"
	"github.com/Veraticus/budgetgate/internal/validator"
)

// Services are the components the HTTP handlers call into.
type Services struct {
	Registry  *registry.Registry
	Budgets   *budget.Ledger
	Metrics   *metrics.Computer
	Validator *validator.Service
	Documents *document.Service
	Conflicts *conflict.Resolver
	Ledger    *ledgerimport.Importer
}

// Config holds HTTP server settings.
type Config struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP boundary of budgetgate.
type Server struct {
	app      *fiber.App
	services Services
}

// NewServer builds the fiber app and registers every route.
func NewServer(services Services, cfg Config) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "budgetgate",
		ErrorHandler:          errorHandler,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		DisableStartupMessage: true,
	})

	s := &Server{app: app, services: services}

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(requestLogger())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	api.Post("/accounts", s.createAccount)
	api.Get("/accounts", s.listAccounts)
	api.Get("/accounts/:id", s.getAccount)
	api.Post("/accounts/:id/deactivate", s.deactivateAccount)
	api.Post("/accounts/:id/activate", s.activateAccount)

	api.Post("/budgets", s.createBudget)
	api.Get("/budgets", s.listBudgets)
	api.Get("/budgets/:id", s.getBudget)
	api.Post("/budgets/:id/lines", s.addBudgetLine)
	api.Put("/budgets/:id/lines/:lineId", s.updateBudgetLine)
	api.Delete("/budgets/:id/lines/:lineId", s.deleteBudgetLine)
	api.Post("/budgets/:id/confirm", s.transition(services.Budgets.Confirm))
	api.Post("/budgets/:id/validate", s.transition(services.Budgets.Validate))
	api.Post("/budgets/:id/done", s.transition(services.Budgets.Done))
	api.Post("/budgets/:id/cancel", s.transition(services.Budgets.Cancel))
	api.Post("/budgets/:id/revise", s.reviseBudget)
	api.Post("/budgets/:id/metrics/compute", s.computeMetrics)
	api.Get("/budgets/:id/metrics", s.getMetrics)

	api.Post("/validation/preview", s.preview)

	api.Post("/documents", s.commitDocument)
	api.Get("/documents/:id", s.getDocument)
	api.Get("/documents/:id/conflicts", s.listConflicts)

	api.Post("/suggestions", s.ingestSuggestions)
	api.Post("/suggestions/:id/resolve", s.resolveSuggestion)

	api.Post("/ledger-entries", s.recordLedgerEntries)

	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves HTTP on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	slog.Info("HTTP server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// requestLogger logs one line per request. Handler errors are rendered here so the
// logged status is the one the client receives.
func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/healthz" {
			return c.Next()
		}

		start := time.Now()
		if err := c.Next(); err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		slog.Info("HTTP request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"latency", time.Since(start).String(),
			"request_id", c.GetRespHeader(fiber.HeaderXRequestID))
		return nil
	}
}
