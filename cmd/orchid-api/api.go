// Package main provides the Orchid API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/venlock/orchid/pkg/condition"
	"github.com/venlock/orchid/pkg/eventbus"
	"github.com/venlock/orchid/pkg/lifecycle"
	"github.com/venlock/orchid/pkg/persistence"
	"github.com/venlock/orchid/pkg/services"
	"github.com/venlock/orchid/pkg/tracker"
	"github.com/venlock/orchid/pkg/triggers"
	"github.com/venlock/orchid/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	trk := tracker.NewTracker(a.persistence.ExecutionRepository(), a.eventBus, a.logger)
	lc := lifecycle.NewManager(a.persistence, trk, condition.NewEvaluator(), a.eventBus, a.logger)
	trk.SetObserver(lc)

	starter := triggers.NewManager(a.persistence, a.eventBus, a.logger)

	workflowService := services.NewWorkflow(a.persistence)
	instanceService := services.NewInstance(a.persistence, starter, lc)

	handlers := web.NewAPIHandlers(workflowService, instanceService, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Orchid API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/activate", handlers.ActivateWorkflow)
	w.Post("/:id/deactivate", handlers.DeactivateWorkflow)
	w.Post("/:id/archive", handlers.ArchiveWorkflow)

	// Trigger endpoints:
	w.Get("/:id/triggers", handlers.GetWorkflowTriggers)
	w.Post("/:id/triggers", handlers.CreateTrigger)
	w.Post("/triggers/:triggerId/activate", handlers.ActivateTrigger)
	w.Post("/triggers/:triggerId/deactivate", handlers.DeactivateTrigger)

	// Instance endpoints:
	w.Post("/:id/instances", handlers.StartInstance)

	i := app.Group("/instances")
	i.Get("/", handlers.GetInstances)
	i.Get("/:id", handlers.GetInstance)
	i.Post("/:id/cancel", handlers.CancelInstance)
	i.Post("/:id/pause", handlers.PauseInstance)
	i.Post("/:id/resume", handlers.ResumeInstance)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
