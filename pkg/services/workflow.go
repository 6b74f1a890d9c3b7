package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/venlock/orchid/pkg/graph"
	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence"
	"github.com/venlock/orchid/pkg/triggers/schedule"
)

// ErrWorkflowNotFound is returned when a workflow is not found.
var ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

// ErrTriggerNotFound is returned when a trigger is not found.
var ErrTriggerNotFound = persistence.ErrTriggerNotFound

// Workflow implements the workflow management operations: authoring, the
// status lifecycle (draft, active, inactive, archived) and trigger
// administration.
type Workflow struct {
	persistence persistence.Persistence
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence) *Workflow {
	return &Workflow{
		persistence: persistence,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	// Pagination
	Limit  int `validate:"min=1,max=100"`
	Offset int `validate:"min=0"`

	// Filtering
	OwnerID string
	Status  *models.WorkflowStatus

	// Sorting
	SortBy    string `validate:"oneof=created_at updated_at name"`
	SortOrder string `validate:"oneof=asc desc"`
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

// ListWorkflows retrieves workflows with filtering, sorting, and pagination.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	if err := w.validateListWorkflowsRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	opts := persistence.ListWorkflowsOptions{
		Limit:     req.Limit,
		Offset:    req.Offset,
		OwnerID:   req.OwnerID,
		Status:    req.Status,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	}

	result, err := w.persistence.WorkflowRepository().List(ctx, opts)
	if err != nil {
		if persistence.IsInvalidSortField(err) {
			return nil, ErrInvalidSortField
		}

		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return &ListWorkflowsResponse{
		Workflows:   result.Workflows,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

// validateListWorkflowsRequest validates and sets defaults for the request.
func (w *Workflow) validateListWorkflowsRequest(req *ListWorkflowsRequest) error {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	allowedSorts := []string{"created_at", "updated_at", "name"}

	if !slices.Contains(allowedSorts, req.SortBy) {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_SORT_FIELD",
			fmt.Sprintf("invalid sort field '%s', allowed: %s", req.SortBy, strings.Join(allowedSorts, ", ")),
			ErrInvalidSortField,
		)
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_SORT_ORDER",
			fmt.Sprintf("invalid sort order '%s', allowed: asc, desc", req.SortOrder),
			ErrInvalidSortOrder,
		)
	}

	if req.Status != nil {
		allowedStatuses := []models.WorkflowStatus{
			models.WorkflowStatusDraft,
			models.WorkflowStatusActive,
			models.WorkflowStatusInactive,
			models.WorkflowStatusArchived,
		}

		if !slices.Contains(allowedStatuses, *req.Status) {
			return NewValidationError(
				"validateListWorkflowsRequest",
				"INVALID_STATUS",
				fmt.Sprintf("invalid status '%s'", *req.Status),
				ErrInvalidStatus,
			)
		}
	}

	if req.OwnerID != "" {
		req.OwnerID = strings.TrimSpace(req.OwnerID)
		if req.OwnerID == "" {
			return ErrEmptyOwnerID
		}
	}

	return nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}

// Create adds a new workflow to the repository. New workflows start as
// drafts at version 1 and their definition must pass structural validation.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	if strings.TrimSpace(workflow.Name) == "" {
		return nil, NewValidationError("Create", "NAME_REQUIRED", "workflow name is required", ErrInvalidRequest)
	}

	if _, err := graph.Validate(workflow.Definition); err != nil {
		return nil, NewValidationError("Create", "INVALID_DEFINITION", err.Error(), ErrDefinitionInvalid)
	}

	now := time.Now().UTC()
	workflow.ID = uuid.New().String()
	workflow.Version = 1
	workflow.Status = models.WorkflowStatusDraft
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	workflow.ArchivedAt = nil

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// UpdateRequest carries the mutable fields of a workflow update. Nil fields
// are left unchanged.
type UpdateRequest struct {
	Name        *string
	Description *string
	Definition  *models.GraphDefinition
	Config      map[string]any
}

// Update modifies a draft workflow. Updating a workflow in any other status
// is a conflict; running instances keep their frozen definition snapshots
// regardless. Every successful update bumps Version.
func (w *Workflow) Update(ctx context.Context, workflowID string, req UpdateRequest) (*models.Workflow, error) {
	if req.Definition != nil {
		if _, err := graph.Validate(req.Definition); err != nil {
			return nil, NewValidationError("Update", "INVALID_DEFINITION", err.Error(), ErrDefinitionInvalid)
		}
	}

	updated, err := w.persistence.WorkflowRepository().Update(ctx, workflowID, func(workflow *models.Workflow) error {
		if !workflow.IsEditable() {
			return ErrWorkflowNotDraft
		}

		if req.Name != nil {
			if strings.TrimSpace(*req.Name) == "" {
				return NewValidationError("Update", "NAME_REQUIRED", "workflow name is required", ErrInvalidRequest)
			}

			workflow.Name = *req.Name
		}

		if req.Description != nil {
			workflow.Description = *req.Description
		}

		if req.Definition != nil {
			workflow.Definition = req.Definition
		}

		if req.Config != nil {
			workflow.Config = req.Config
		}

		workflow.Version++
		workflow.UpdatedAt = time.Now().UTC()

		return nil
	})
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, ErrWorkflowNotFound
		}

		return nil, err
	}

	return updated, nil
}

// Activate transitions a draft or inactive workflow to active, re-validating
// the definition first. Activation is what makes a workflow triggerable.
func (w *Workflow) Activate(ctx context.Context, workflowID string) (*models.Workflow, error) {
	updated, err := w.persistence.WorkflowRepository().Update(ctx, workflowID, func(workflow *models.Workflow) error {
		if workflow.Status != models.WorkflowStatusDraft && workflow.Status != models.WorkflowStatusInactive {
			return ErrWorkflowNotActivatable
		}

		if _, err := graph.Validate(workflow.Definition); err != nil {
			return NewValidationError("Activate", "INVALID_DEFINITION", err.Error(), ErrDefinitionInvalid)
		}

		workflow.Status = models.WorkflowStatusActive
		workflow.UpdatedAt = time.Now().UTC()

		return nil
	})
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, ErrWorkflowNotFound
		}

		return nil, err
	}

	return updated, nil
}

// Deactivate transitions an active workflow to inactive. New instances can
// no longer be triggered; in-flight instances are unaffected.
func (w *Workflow) Deactivate(ctx context.Context, workflowID string) (*models.Workflow, error) {
	updated, err := w.persistence.WorkflowRepository().Update(ctx, workflowID, func(workflow *models.Workflow) error {
		if workflow.Status != models.WorkflowStatusActive {
			return ErrWorkflowNotActivatable
		}

		workflow.Status = models.WorkflowStatusInactive
		workflow.UpdatedAt = time.Now().UTC()

		return nil
	})
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, ErrWorkflowNotFound
		}

		return nil, err
	}

	return updated, nil
}

// Archive transitions a workflow to its immutable terminal status. Archived
// workflows are kept for the history of their instances and can never be
// edited or re-activated.
func (w *Workflow) Archive(ctx context.Context, workflowID string) (*models.Workflow, error) {
	updated, err := w.persistence.WorkflowRepository().Update(ctx, workflowID, func(workflow *models.Workflow) error {
		if workflow.Status == models.WorkflowStatusArchived {
			return ErrWorkflowArchived
		}

		now := time.Now().UTC()
		workflow.Status = models.WorkflowStatusArchived
		workflow.ArchivedAt = &now
		workflow.UpdatedAt = now

		return nil
	})
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, ErrWorkflowNotFound
		}

		return nil, err
	}

	return updated, nil
}

// Delete removes a draft workflow. Any other status is a conflict: active
// and inactive workflows must be archived instead, and archived workflows
// are retained as history.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	existing, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return err
	}

	if existing.Status != models.WorkflowStatusDraft {
		return ErrWorkflowNotDraft
	}

	if err := w.persistence.WorkflowRepository().Delete(ctx, workflowID); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

// CreateTriggerRequest describes a trigger to attach to a workflow.
type CreateTriggerRequest struct {
	Name   string
	Type   models.TriggerType
	Config map[string]any
}

// CreateTrigger attaches a trigger to a workflow after validating its
// type-specific configuration.
func (w *Workflow) CreateTrigger(ctx context.Context, workflowID string, req CreateTriggerRequest) (*models.Trigger, error) {
	if _, err := w.FetchByID(ctx, workflowID); err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Name) == "" {
		return nil, NewValidationError("CreateTrigger", "NAME_REQUIRED", "trigger name is required", ErrTriggerInvalid)
	}

	now := time.Now().UTC()
	trigger := &models.Trigger{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Name:       req.Name,
		Type:       req.Type,
		Config:     req.Config,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := w.validateTriggerConfig(trigger); err != nil {
		return nil, err
	}

	if err := w.persistence.TriggerRepository().Save(ctx, trigger); err != nil {
		return nil, fmt.Errorf("failed to create trigger: %w", err)
	}

	return trigger, nil
}

func (w *Workflow) validateTriggerConfig(trigger *models.Trigger) error {
	switch trigger.Type {
	case models.TriggerTypeSchedule:
		expr := trigger.CronExpression()
		if expr == "" {
			return NewValidationError("CreateTrigger", "CRON_REQUIRED",
				"schedule triggers require a 'cron' config entry", ErrTriggerInvalid)
		}

		if err := schedule.ValidateExpression(expr); err != nil {
			return NewValidationError("CreateTrigger", "INVALID_CRON", err.Error(), ErrTriggerInvalid)
		}
	case models.TriggerTypeWebhook:
		if trigger.WebhookPath() == "" {
			return NewValidationError("CreateTrigger", "PATH_REQUIRED",
				"webhook triggers require a 'path' config entry", ErrTriggerInvalid)
		}
	case models.TriggerTypeEvent:
		if trigger.EventName() == "" {
			return NewValidationError("CreateTrigger", "EVENT_NAME_REQUIRED",
				"event triggers require an 'event_name' config entry", ErrTriggerInvalid)
		}
	case models.TriggerTypeManual, models.TriggerTypeAPI:
		// No type-specific configuration.
	default:
		return NewValidationError("CreateTrigger", "INVALID_TYPE",
			fmt.Sprintf("unknown trigger type '%s'", trigger.Type), ErrTriggerInvalid)
	}

	return nil
}

// ListTriggers returns a workflow's triggers.
func (w *Workflow) ListTriggers(ctx context.Context, workflowID string) ([]*models.Trigger, error) {
	if _, err := w.FetchByID(ctx, workflowID); err != nil {
		return nil, err
	}

	return w.persistence.TriggerRepository().ListByWorkflow(ctx, workflowID)
}

// DeactivateTrigger stops a trigger from firing without detaching it from
// its workflow.
func (w *Workflow) DeactivateTrigger(ctx context.Context, triggerID string) (*models.Trigger, error) {
	updated, err := w.persistence.TriggerRepository().Update(ctx, triggerID, func(trigger *models.Trigger) error {
		trigger.Active = false
		trigger.UpdatedAt = time.Now().UTC()

		return nil
	})
	if err != nil {
		if persistence.IsTriggerNotFound(err) {
			return nil, ErrTriggerNotFound
		}

		return nil, err
	}

	return updated, nil
}

// ActivateTrigger re-enables a previously deactivated trigger.
func (w *Workflow) ActivateTrigger(ctx context.Context, triggerID string) (*models.Trigger, error) {
	updated, err := w.persistence.TriggerRepository().Update(ctx, triggerID, func(trigger *models.Trigger) error {
		trigger.Active = true
		trigger.UpdatedAt = time.Now().UTC()

		return nil
	})
	if err != nil {
		if persistence.IsTriggerNotFound(err) {
			return nil, ErrTriggerNotFound
		}

		return nil, err
	}

	return updated, nil
}
