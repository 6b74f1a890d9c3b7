// Package redis provides a Redis-backed persistence implementation. Records
// are stored as JSON values; atomic read-modify-write is implemented with
// optimistic WATCH transactions.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence"
)

const (
	workflowPrefix  = "orchid:workflow:"
	triggerPrefix   = "orchid:trigger:"
	instancePrefix  = "orchid:instance:"
	executionPrefix = "orchid:execution:"

	// maxTxRetries bounds optimistic transaction retries under contention.
	maxTxRetries = 16
)

// Options configures the Redis connection.
type Options struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// Persistence implements persistence.Persistence on top of Redis.
type Persistence struct {
	client        *redis.Client
	workflowRepo  *workflowRepository
	triggerRepo   *triggerRepository
	instanceRepo  *instanceRepository
	executionRepo *executionRepository
}

// NewPersistence connects to Redis and verifies the connection.
func NewPersistence(ctx context.Context, opts Options) (*Persistence, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Persistence{
		client:        client,
		workflowRepo:  &workflowRepository{client: client},
		triggerRepo:   &triggerRepository{client: client},
		instanceRepo:  &instanceRepository{client: client},
		executionRepo: &executionRepository{client: client},
	}, nil
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

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

// setJSON stores a record as a JSON value.
func setJSON(ctx context.Context, client *redis.Client, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal record for %s: %w", key, err)
	}

	return client.Set(ctx, key, data, 0).Err()
}

// getJSON loads a record, returning notFound when the key is absent.
func getJSON(ctx context.Context, client *redis.Client, key string, dest any, notFound error) error {
	data, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return notFound
	}

	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal record at %s: %w", key, err)
	}

	return nil
}

// updateJSON applies mutate to the record at key under an optimistic WATCH
// transaction, retrying on write conflicts.
func updateJSON[T any](ctx context.Context, client *redis.Client, key string, notFound error, mutate func(*T) error) (*T, error) {
	var result *T

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return notFound
		}

		if err != nil {
			return err
		}

		record := new(T)
		if err := json.Unmarshal(data, record); err != nil {
			return fmt.Errorf("failed to unmarshal record at %s: %w", key, err)
		}

		if err := mutate(record); err != nil {
			return err
		}

		updated, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal record for %s: %w", key, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)

			return nil
		})
		if err != nil {
			return err
		}

		result = record

		return nil
	}

	for range maxTxRetries {
		err := client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		if err != nil {
			return nil, err
		}

		return result, nil
	}

	return nil, fmt.Errorf("update of %s kept conflicting after %d attempts", key, maxTxRetries)
}

// scanAll collects every value under a key prefix.
func scanAll[T any](ctx context.Context, client *redis.Client, prefix string) ([]*T, error) {
	var records []*T

	iter := client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get %s: %w", iter.Val(), err)
		}

		record := new(T)
		if err := json.Unmarshal(data, record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record at %s: %w", iter.Val(), err)
		}

		records = append(records, record)
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", prefix, err)
	}

	return records, nil
}

type workflowRepository struct {
	client *redis.Client
}

func (r *workflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	return setJSON(ctx, r.client, workflowPrefix+workflow.ID, workflow)
}

func (r *workflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	var workflow models.Workflow
	if err := getJSON(ctx, r.client, workflowPrefix+id, &workflow, persistence.ErrWorkflowNotFound); err != nil {
		return nil, err
	}

	return &workflow, nil
}

func (r *workflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.ListWorkflowsResult, error) {
	all, err := scanAll[models.Workflow](ctx, r.client, workflowPrefix)
	if err != nil {
		return nil, err
	}

	matched := all[:0]

	for _, workflow := range all {
		if opts.OwnerID != "" && workflow.Owner != opts.OwnerID {
			continue
		}

		if opts.Status != nil && workflow.Status != *opts.Status {
			continue
		}

		matched = append(matched, workflow)
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

func (r *workflowRepository) Update(ctx context.Context, id string, mutate func(*models.Workflow) error) (*models.Workflow, error) {
	return updateJSON(ctx, r.client, workflowPrefix+id, persistence.ErrWorkflowNotFound, mutate)
}

func (r *workflowRepository) Delete(ctx context.Context, id string) error {
	deleted, err := r.client.Del(ctx, workflowPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	if deleted == 0 {
		return persistence.ErrWorkflowNotFound
	}

	return nil
}

type triggerRepository struct {
	client *redis.Client
}

func (r *triggerRepository) Save(ctx context.Context, trigger *models.Trigger) error {
	return setJSON(ctx, r.client, triggerPrefix+trigger.ID, trigger)
}

func (r *triggerRepository) GetByID(ctx context.Context, id string) (*models.Trigger, error) {
	var trigger models.Trigger
	if err := getJSON(ctx, r.client, triggerPrefix+id, &trigger, persistence.ErrTriggerNotFound); err != nil {
		return nil, err
	}

	return &trigger, nil
}

func (r *triggerRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Trigger, error) {
	all, err := scanAll[models.Trigger](ctx, r.client, triggerPrefix)
	if err != nil {
		return nil, err
	}

	matched := all[:0]

	for _, trigger := range all {
		if trigger.WorkflowID == workflowID {
			matched = append(matched, trigger)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	return matched, nil
}

func (r *triggerRepository) ListActiveByType(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error) {
	all, err := scanAll[models.Trigger](ctx, r.client, triggerPrefix)
	if err != nil {
		return nil, err
	}

	matched := all[:0]

	for _, trigger := range all {
		if trigger.Active && trigger.Type == triggerType {
			matched = append(matched, trigger)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	return matched, nil
}

func (r *triggerRepository) Update(ctx context.Context, id string, mutate func(*models.Trigger) error) (*models.Trigger, error) {
	return updateJSON(ctx, r.client, triggerPrefix+id, persistence.ErrTriggerNotFound, mutate)
}

func (r *triggerRepository) Delete(ctx context.Context, id string) error {
	deleted, err := r.client.Del(ctx, triggerPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete trigger %s: %w", id, err)
	}

	if deleted == 0 {
		return persistence.ErrTriggerNotFound
	}

	return nil
}

type instanceRepository struct {
	client *redis.Client
}

func (r *instanceRepository) Save(ctx context.Context, instance *models.Instance) error {
	return setJSON(ctx, r.client, instancePrefix+instance.ID, instance)
}

func (r *instanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	var instance models.Instance
	if err := getJSON(ctx, r.client, instancePrefix+id, &instance, persistence.ErrInstanceNotFound); err != nil {
		return nil, err
	}

	return &instance, nil
}

func (r *instanceRepository) ListByStatus(ctx context.Context, statuses ...models.InstanceStatus) ([]*models.Instance, error) {
	all, err := scanAll[models.Instance](ctx, r.client, instancePrefix)
	if err != nil {
		return nil, err
	}

	wanted := make(map[models.InstanceStatus]bool, len(statuses))
	for _, status := range statuses {
		wanted[status] = true
	}

	matched := all[:0]

	for _, instance := range all {
		if len(wanted) == 0 || wanted[instance.Status] {
			matched = append(matched, instance)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })

	return matched, nil
}

func (r *instanceRepository) ListByParent(ctx context.Context, parentInstanceID string) ([]*models.Instance, error) {
	all, err := scanAll[models.Instance](ctx, r.client, instancePrefix)
	if err != nil {
		return nil, err
	}

	matched := all[:0]

	for _, instance := range all {
		if instance.ParentInstanceID != nil && *instance.ParentInstanceID == parentInstanceID {
			matched = append(matched, instance)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })

	return matched, nil
}

func (r *instanceRepository) Update(ctx context.Context, id string, mutate func(*models.Instance) error) (*models.Instance, error) {
	return updateJSON(ctx, r.client, instancePrefix+id, persistence.ErrInstanceNotFound, mutate)
}

func (r *instanceRepository) Delete(ctx context.Context, id string) error {
	deleted, err := r.client.Del(ctx, instancePrefix+id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", id, err)
	}

	if deleted == 0 {
		return persistence.ErrInstanceNotFound
	}

	// Cascade to the owned execution records.
	iter := r.client.Scan(ctx, 0, executionPrefix+id+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to cascade delete %s: %w", iter.Val(), err)
		}
	}

	return iter.Err()
}

type executionRepository struct {
	client *redis.Client
}

func executionKey(instanceID, nodeID string) string {
	return executionPrefix + instanceID + ":" + nodeID
}

func (r *executionRepository) Save(ctx context.Context, execution *models.Execution) error {
	return setJSON(ctx, r.client, executionKey(execution.InstanceID, execution.NodeID), execution)
}

func (r *executionRepository) Get(ctx context.Context, instanceID, nodeID string) (*models.Execution, error) {
	var execution models.Execution
	if err := getJSON(ctx, r.client, executionKey(instanceID, nodeID), &execution, persistence.ErrExecutionNotFound); err != nil {
		return nil, err
	}

	return &execution, nil
}

func (r *executionRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.Execution, error) {
	executions, err := scanAll[models.Execution](ctx, r.client, executionPrefix+instanceID+":")
	if err != nil {
		return nil, err
	}

	sort.Slice(executions, func(i, j int) bool { return executions[i].NodeID < executions[j].NodeID })

	return executions, nil
}

func (r *executionRepository) Update(ctx context.Context, instanceID, nodeID string, mutate func(*models.Execution) error) (*models.Execution, error) {
	return updateJSON(ctx, r.client, executionKey(instanceID, nodeID), persistence.ErrExecutionNotFound, mutate)
}

func (r *executionRepository) DeleteByInstance(ctx context.Context, instanceID string) error {
	iter := r.client.Scan(ctx, 0, executionPrefix+instanceID+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete %s: %w", iter.Val(), err)
		}
	}

	return iter.Err()
}
