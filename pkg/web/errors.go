package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/venlock/orchid/pkg/lifecycle"
	"github.com/venlock/orchid/pkg/persistence"
	"github.com/venlock/orchid/pkg/services"
	"github.com/venlock/orchid/pkg/triggers"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case services.IsConflictError(err):
		return conflict(c, "conflict", err.Error())

	case errors.Is(err, lifecycle.ErrInstanceTerminal):
		return conflict(c, "instance_terminal", "instance is already in a terminal status")

	case errors.Is(err, triggers.ErrWorkflowNotTriggerable):
		return conflict(c, "workflow_not_active", "workflow is not active")

	case errors.Is(err, triggers.ErrTriggerInactive):
		return conflict(c, "trigger_inactive", "trigger is deactivated")

	case persistence.IsInvalidTransition(err):
		return conflict(c, "invalid_transition", err.Error())

	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow not found")

	case persistence.IsTriggerNotFound(err):
		return notFound(c, "trigger not found")

	case persistence.IsInstanceNotFound(err):
		return notFound(c, "instance not found")

	default:
		// Unexpected errors surface as opaque 500s.
		return internalError(c, err)
	}
}
