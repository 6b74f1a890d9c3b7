package services

import (
	"context"

	"github.com/venlock/orchid/pkg/lifecycle"
	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence"
	"github.com/venlock/orchid/pkg/triggers"
)

// ErrInstanceNotFound is returned when an instance is not found.
var ErrInstanceNotFound = persistence.ErrInstanceNotFound

// Instance exposes the instance control surface: manual starts, status
// reads, and the cancel / pause / resume operations.
type Instance struct {
	persistence persistence.Persistence
	starter     *triggers.Manager
	lifecycle   *lifecycle.Manager
}

// NewInstance creates a new instance service.
func NewInstance(persistence persistence.Persistence, starter *triggers.Manager, lc *lifecycle.Manager) *Instance {
	return &Instance{
		persistence: persistence,
		starter:     starter,
		lifecycle:   lc,
	}
}

// Start creates an instance of an active workflow with the given input. It
// is the manual / API trigger path; schedule, webhook and event triggers go
// through the trigger runtimes instead.
func (s *Instance) Start(ctx context.Context, workflowID string, input map[string]any) (*models.Instance, error) {
	instance, err := s.starter.StartInstance(ctx, workflowID, input)
	if err != nil {
		return nil, err
	}

	return instance, nil
}

// FetchByID retrieves an instance by its ID.
func (s *Instance) FetchByID(ctx context.Context, id string) (*models.Instance, error) {
	instance, err := s.persistence.InstanceRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if instance == nil {
		return nil, ErrInstanceNotFound
	}

	return instance, nil
}

// View returns an instance together with its per-node execution records.
func (s *Instance) View(ctx context.Context, id string) (*models.InstanceView, error) {
	instance, err := s.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	executions, err := s.persistence.ExecutionRepository().ListByInstance(ctx, id)
	if err != nil {
		return nil, err
	}

	return &models.InstanceView{
		Instance:   instance,
		Executions: executions,
	}, nil
}

// ListByStatus retrieves instances in any of the given statuses. With no
// statuses it returns all instances.
func (s *Instance) ListByStatus(ctx context.Context, statuses ...models.InstanceStatus) ([]*models.Instance, error) {
	return s.persistence.InstanceRepository().ListByStatus(ctx, statuses...)
}

// Cancel aborts an instance and, transitively, its child instances.
func (s *Instance) Cancel(ctx context.Context, id, reason string) error {
	if reason == "" {
		reason = "cancelled via API"
	}

	return s.lifecycle.Cancel(ctx, id, reason)
}

// Pause suspends dispatching for a running instance.
func (s *Instance) Pause(ctx context.Context, id string) error {
	return s.lifecycle.Pause(ctx, id)
}

// Resume continues a paused instance.
func (s *Instance) Resume(ctx context.Context, id string) error {
	return s.lifecycle.Resume(ctx, id)
}
