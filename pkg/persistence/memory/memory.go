// Package memory provides an in-memory persistence implementation used by
// tests and single-process deployments.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence"
)

// Persistence implements persistence.Persistence backed by process memory.
// Each repository serializes writes behind a single mutex, which satisfies
// the atomic read-modify-write contract for Update calls.
type Persistence struct {
	workflowRepo  *workflowRepository
	triggerRepo   *triggerRepository
	instanceRepo  *instanceRepository
	executionRepo *executionRepository
}

// NewPersistence creates an empty in-memory persistence layer.
func NewPersistence() *Persistence {
	return &Persistence{
		workflowRepo:  &workflowRepository{workflows: make(map[string]*models.Workflow)},
		triggerRepo:   &triggerRepository{triggers: make(map[string]*models.Trigger)},
		instanceRepo:  &instanceRepository{instances: make(map[string]*models.Instance)},
		executionRepo: &executionRepository{executions: make(map[string]*models.Execution)},
	}
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) TriggerRepository() persistence.TriggerRepository {
	return p.triggerRepo
}

func (p *Persistence) InstanceRepository() persistence.InstanceRepository {
	return p.instanceRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// executionKey builds the composite map key for an (instance, node) pair.
func executionKey(instanceID, nodeID string) string {
	return instanceID + "/" + nodeID
}

type workflowRepository struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
}

func (r *workflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *workflow
	r.workflows[workflow.ID] = &copied

	return nil
}

func (r *workflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflow, ok := r.workflows[id]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	copied := *workflow

	return &copied, nil
}

func (r *workflowRepository) List(_ context.Context, opts persistence.ListWorkflowsOptions) (*persistence.ListWorkflowsResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*models.Workflow, 0, len(r.workflows))

	for _, workflow := range r.workflows {
		if opts.OwnerID != "" && workflow.Owner != opts.OwnerID {
			continue
		}

		if opts.Status != nil && workflow.Status != *opts.Status {
			continue
		}

		copied := *workflow
		matched = append(matched, &copied)
	}

	if err := sortWorkflows(matched, opts.SortBy, opts.SortOrder); err != nil {
		return nil, err
	}

	total := int64(len(matched))

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[opts.Offset:]
		}
	}

	hasNext := false
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
		hasNext = true
	}

	return &persistence.ListWorkflowsResult{
		Workflows:   matched,
		TotalCount:  total,
		HasNextPage: hasNext,
	}, nil
}

func sortWorkflows(workflows []*models.Workflow, sortBy, sortOrder string) error {
	desc := strings.EqualFold(sortOrder, "desc")

	var less func(a, b *models.Workflow) bool

	switch sortBy {
	case "", "created_at":
		less = func(a, b *models.Workflow) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case "updated_at":
		less = func(a, b *models.Workflow) bool { return a.UpdatedAt.Before(b.UpdatedAt) }
	case "name":
		less = func(a, b *models.Workflow) bool { return a.Name < b.Name }
	default:
		return persistence.ErrInvalidSortField
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		if desc {
			return less(workflows[j], workflows[i])
		}

		return less(workflows[i], workflows[j])
	})

	return nil
}

func (r *workflowRepository) Update(_ context.Context, id string, mutate func(*models.Workflow) error) (*models.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	workflow, ok := r.workflows[id]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	copied := *workflow
	if err := mutate(&copied); err != nil {
		return nil, err
	}

	r.workflows[id] = &copied
	result := copied

	return &result, nil
}

func (r *workflowRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workflows[id]; !ok {
		return persistence.ErrWorkflowNotFound
	}

	delete(r.workflows, id)

	return nil
}

type triggerRepository struct {
	mu       sync.RWMutex
	triggers map[string]*models.Trigger
}

func (r *triggerRepository) Save(_ context.Context, trigger *models.Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *trigger
	r.triggers[trigger.ID] = &copied

	return nil
}

func (r *triggerRepository) GetByID(_ context.Context, id string) (*models.Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	trigger, ok := r.triggers[id]
	if !ok {
		return nil, persistence.ErrTriggerNotFound
	}

	copied := *trigger

	return &copied, nil
}

func (r *triggerRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Trigger

	for _, trigger := range r.triggers {
		if trigger.WorkflowID == workflowID {
			copied := *trigger
			result = append(result, &copied)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

func (r *triggerRepository) ListActiveByType(_ context.Context, triggerType models.TriggerType) ([]*models.Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Trigger

	for _, trigger := range r.triggers {
		if trigger.Active && trigger.Type == triggerType {
			copied := *trigger
			result = append(result, &copied)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

func (r *triggerRepository) Update(_ context.Context, id string, mutate func(*models.Trigger) error) (*models.Trigger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	trigger, ok := r.triggers[id]
	if !ok {
		return nil, persistence.ErrTriggerNotFound
	}

	copied := *trigger
	if err := mutate(&copied); err != nil {
		return nil, err
	}

	r.triggers[id] = &copied
	result := copied

	return &result, nil
}

func (r *triggerRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.triggers[id]; !ok {
		return persistence.ErrTriggerNotFound
	}

	delete(r.triggers, id)

	return nil
}

type instanceRepository struct {
	mu        sync.RWMutex
	instances map[string]*models.Instance
}

func (r *instanceRepository) Save(_ context.Context, instance *models.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *instance
	r.instances[instance.ID] = &copied

	return nil
}

func (r *instanceRepository) GetByID(_ context.Context, id string) (*models.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, ok := r.instances[id]
	if !ok {
		return nil, persistence.ErrInstanceNotFound
	}

	copied := *instance

	return &copied, nil
}

func (r *instanceRepository) ListByStatus(_ context.Context, statuses ...models.InstanceStatus) ([]*models.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[models.InstanceStatus]bool, len(statuses))
	for _, status := range statuses {
		wanted[status] = true
	}

	var result []*models.Instance

	for _, instance := range r.instances {
		if len(wanted) == 0 || wanted[instance.Status] {
			copied := *instance
			result = append(result, &copied)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })

	return result, nil
}

func (r *instanceRepository) ListByParent(_ context.Context, parentInstanceID string) ([]*models.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Instance

	for _, instance := range r.instances {
		if instance.ParentInstanceID != nil && *instance.ParentInstanceID == parentInstanceID {
			copied := *instance
			result = append(result, &copied)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })

	return result, nil
}

func (r *instanceRepository) Update(_ context.Context, id string, mutate func(*models.Instance) error) (*models.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	instance, ok := r.instances[id]
	if !ok {
		return nil, persistence.ErrInstanceNotFound
	}

	copied := *instance
	if err := mutate(&copied); err != nil {
		return nil, err
	}

	r.instances[id] = &copied
	result := copied

	return &result, nil
}

func (r *instanceRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[id]; !ok {
		return persistence.ErrInstanceNotFound
	}

	delete(r.instances, id)

	return nil
}

type executionRepository struct {
	mu         sync.RWMutex
	executions map[string]*models.Execution
}

func (r *executionRepository) Save(_ context.Context, execution *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *execution
	r.executions[executionKey(execution.InstanceID, execution.NodeID)] = &copied

	return nil
}

func (r *executionRepository) Get(_ context.Context, instanceID, nodeID string) (*models.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	execution, ok := r.executions[executionKey(instanceID, nodeID)]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	copied := *execution

	return &copied, nil
}

func (r *executionRepository) ListByInstance(_ context.Context, instanceID string) ([]*models.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Execution

	for _, execution := range r.executions {
		if execution.InstanceID == instanceID {
			copied := *execution
			result = append(result, &copied)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].NodeID < result[j].NodeID })

	return result, nil
}

func (r *executionRepository) Update(_ context.Context, instanceID, nodeID string, mutate func(*models.Execution) error) (*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[executionKey(instanceID, nodeID)]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	copied := *execution
	if err := mutate(&copied); err != nil {
		return nil, err
	}

	r.executions[executionKey(instanceID, nodeID)] = &copied
	result := copied

	return &result, nil
}

func (r *executionRepository) DeleteByInstance(_ context.Context, instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, execution := range r.executions {
		if execution.InstanceID == instanceID {
			delete(r.executions, key)
		}
	}

	return nil
}
