// Package main provides the Runtrace API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/runtrace/runtrace/pkg/history"
	"github.com/runtrace/runtrace/pkg/manager"
	"github.com/runtrace/runtrace/pkg/web"
)

type API struct {
	logger   *slog.Logger
	manager  *manager.Manager
	history  history.History
	ingestor web.Ingestor
	validate *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	mgr *manager.Manager,
	h history.History,
	ingestor web.Ingestor,
) *API {
	return &API{
		logger:   logger,
		manager:  mgr,
		history:  h,
		ingestor: ingestor,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.manager, a.history, a.ingestor, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Runtrace API")
	})

	app.Post("/events", handlers.IngestEvent)

	r := app.Group("/runs")
	r.Get("/", handlers.GetRuns)
	r.Get("/:id", handlers.GetRun)
	r.Post("/:id/stop", handlers.StopRun)
	r.Post("/:id/reset", handlers.ResetRun)
	r.Delete("/:id", handlers.RemoveRun)
	r.Post("/:id/expanded", handlers.ToggleExpanded)

	h := app.Group("/history/runs")
	h.Get("/", handlers.GetArchivedRuns)
	h.Get("/:id", handlers.GetArchivedRun)
	h.Delete("/:id", handlers.DeleteArchivedRun)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
