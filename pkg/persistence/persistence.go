// Package persistence provides the data storage abstraction for workflows,
// triggers, instances and executions.
package persistence

import (
	"context"

	"github.com/venlock/orchid/pkg/models"
)

// Persistence aggregates the repositories the engine depends on. Adapters
// must support atomic read-modify-write per execution and per instance; the
// Update* methods are the single write path for those records.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	TriggerRepository() TriggerRepository
	InstanceRepository() InstanceRepository
	ExecutionRepository() ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListWorkflowsOptions controls filtering, sorting and pagination of
// workflow listings.
type ListWorkflowsOptions struct {
	Limit     int
	Offset    int
	OwnerID   string
	Status    *models.WorkflowStatus
	SortBy    string // created_at | updated_at | name
	SortOrder string // asc | desc
}

// ListWorkflowsResult is a page of workflows plus paging metadata.
type ListWorkflowsResult struct {
	Workflows   []*models.Workflow
	TotalCount  int64
	HasNextPage bool
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	List(ctx context.Context, opts ListWorkflowsOptions) (*ListWorkflowsResult, error)
	Update(ctx context.Context, id string, mutate func(*models.Workflow) error) (*models.Workflow, error)
	Delete(ctx context.Context, id string) error
}

// TriggerRepository stores triggers, owned by their workflow.
type TriggerRepository interface {
	Save(ctx context.Context, trigger *models.Trigger) error
	GetByID(ctx context.Context, id string) (*models.Trigger, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Trigger, error)
	ListActiveByType(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error)
	Update(ctx context.Context, id string, mutate func(*models.Trigger) error) (*models.Trigger, error)
	Delete(ctx context.Context, id string) error
}

// InstanceRepository stores workflow instances. Deleting an instance
// cascades to its executions.
type InstanceRepository interface {
	Save(ctx context.Context, instance *models.Instance) error
	GetByID(ctx context.Context, id string) (*models.Instance, error)
	ListByStatus(ctx context.Context, statuses ...models.InstanceStatus) ([]*models.Instance, error)
	ListByParent(ctx context.Context, parentInstanceID string) ([]*models.Instance, error)
	Update(ctx context.Context, id string, mutate func(*models.Instance) error) (*models.Instance, error)
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores per-(instance, node) execution records.
type ExecutionRepository interface {
	Save(ctx context.Context, execution *models.Execution) error
	Get(ctx context.Context, instanceID, nodeID string) (*models.Execution, error)
	ListByInstance(ctx context.Context, instanceID string) ([]*models.Execution, error)

	// Update applies mutate under the record's write lock. The mutate
	// callback sees the current state and may reject the change by
	// returning an error, which aborts the write.
	Update(ctx context.Context, instanceID, nodeID string, mutate func(*models.Execution) error) (*models.Execution, error)

	DeleteByInstance(ctx context.Context, instanceID string) error
}
