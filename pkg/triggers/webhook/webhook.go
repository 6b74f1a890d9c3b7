// Package webhook exposes active webhook triggers as HTTP endpoints. A
// POST to /hooks/:path activates every active webhook trigger whose
// configured path matches.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/moogar0880/problems"
	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence"
)

// Activator is the slice of the trigger manager the server needs.
type Activator interface {
	Activate(ctx context.Context, triggerID string, payload map[string]any) (*models.Instance, error)
}

// Server routes incoming webhook requests to their triggers.
type Server struct {
	store     persistence.Persistence
	activator Activator
	logger    *slog.Logger
	port      int

	mu      sync.Mutex
	app     *fiber.App
	started bool
}

func NewServer(store persistence.Persistence, activator Activator, logger *slog.Logger, port int) *Server {
	return &Server{
		store:     store,
		activator: activator,
		logger:    logger.With("module", "webhook"),
		port:      port,
	}
}

// App builds the fiber application; exposed separately for tests.
func (s *Server) App() *fiber.App {
	app := fiber.New()
	app.Use(logger.New(logger.Config{DisableColors: true}))
	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Post("/hooks/:path", s.handleHook)

	return app
}

// Start serves webhooks until Stop. It blocks.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()

	if s.started {
		s.mu.Unlock()

		return nil
	}

	s.app = s.App()
	s.started = true
	s.mu.Unlock()

	s.logger.Info("webhook server starting", "port", s.port)

	return s.app.Listen(":" + strconv.Itoa(s.port))
}

// Stop shuts the server down, letting in-flight requests finish.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.started = false

	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleHook(c fiber.Ctx) error {
	path := c.Params("path")

	triggers, err := s.store.TriggerRepository().ListActiveByType(c.Context(), models.TriggerTypeWebhook)
	if err != nil {
		s.logger.Error("failed to list webhook triggers", "error", err)

		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}

	var matched []*models.Trigger

	for _, trigger := range triggers {
		if trigger.WebhookPath() == path {
			matched = append(matched, trigger)
		}
	}

	if len(matched) == 0 {
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("unknown_webhook").
			WithDetail("no active webhook trigger matches this path")

		return c.Status(fiber.StatusNotFound).JSON(problem)
	}

	payload := map[string]any{}
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &payload); err != nil {
			problem := problems.NewStatusProblem(400).
				WithInstance(c.Path()).
				WithType("invalid_payload").
				WithDetail("request body must be a JSON object")

			return c.Status(fiber.StatusBadRequest).JSON(problem)
		}
	}

	instanceIDs := make([]string, 0, len(matched))

	for _, trigger := range matched {
		instance, err := s.activator.Activate(c.Context(), trigger.ID, payload)
		if err != nil {
			s.logger.Error("webhook activation failed",
				"trigger_id", trigger.ID, "path", path, "error", err)

			continue
		}

		instanceIDs = append(instanceIDs, instance.ID)
	}

	if len(instanceIDs) == 0 {
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("activation_failed").
			WithDetail("no matching trigger could be activated")

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"instance_ids": instanceIDs})
}
