// Package dispatcher decides which nodes are runnable and hands them to
// step executors. It runs a poll-or-wake loop: every execution transition
// wakes it, retry delays schedule a timer, and a safety interval catches
// anything missed.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/venlock/orchid/pkg/condition"
	"github.com/venlock/orchid/pkg/graph"
	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/otelhelper"
	"github.com/venlock/orchid/pkg/persistence"
	"github.com/venlock/orchid/pkg/protocol"
	"github.com/venlock/orchid/pkg/registry"
	"github.com/venlock/orchid/pkg/tracker"
)

const (
	defaultWorkerLimit  = 16
	defaultPollInterval = 5 * time.Second
	minRetryWait        = 10 * time.Millisecond
)

// InstanceStarter flips a pending instance to running when its first node
// dispatches. The lifecycle manager implements it.
type InstanceStarter interface {
	MarkRunning(ctx context.Context, instanceID string) (*models.Instance, error)
}

// Dispatcher finds eligible nodes across non-terminal instances and runs
// them on a bounded worker pool.
type Dispatcher struct {
	store     persistence.Persistence
	tracker   *tracker.Tracker
	registry  *registry.Registry
	evaluator *condition.Evaluator
	starter   InstanceStarter
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	workers      chan struct{}
	wakeCh       chan struct{}
	pollInterval time.Duration

	mu       sync.Mutex
	cancels  map[string]instanceContext
	inflight sync.WaitGroup
}

type instanceContext struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithWorkerLimit bounds concurrent step executions across all instances.
func WithWorkerLimit(limit int) Option {
	return func(d *Dispatcher) {
		if limit > 0 {
			d.workers = make(chan struct{}, limit)
		}
	}
}

// WithPollInterval overrides the safety re-poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithTracer overrides the default tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = tracer }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(store persistence.Persistence, trk *tracker.Tracker, reg *registry.Registry, evaluator *condition.Evaluator, starter InstanceStarter, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:        store,
		tracker:      trk,
		registry:     reg,
		evaluator:    evaluator,
		starter:      starter,
		logger:       logger.With("module", "dispatcher"),
		tracer:       otel.Tracer("orchid.dispatcher"),
		now:          func() time.Time { return time.Now().UTC() },
		workers:      make(chan struct{}, defaultWorkerLimit),
		wakeCh:       make(chan struct{}, 1),
		pollInterval: defaultPollInterval,
		cancels:      make(map[string]instanceContext),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Wake nudges the run loop to re-evaluate eligibility now. Safe to call
// from any goroutine; extra wakes while one is pending coalesce.
func (d *Dispatcher) Wake() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

// CancelInstance cancels the dispatch context of one instance, interrupting
// its in-flight executors cooperatively.
func (d *Dispatcher) CancelInstance(instanceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.cancels[instanceID]; ok {
		entry.cancel()
		delete(d.cancels, instanceID)
	}
}

// Run drives the dispatch loop until ctx is cancelled, then waits for
// in-flight executions to record their results.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		"worker_limit", cap(d.workers), "poll_interval", d.pollInterval)

	for {
		nextRetry := d.dispatchOnce(ctx)

		wait := d.pollInterval
		if nextRetry != nil {
			if until := nextRetry.Sub(d.now()); until < wait {
				wait = max(until, minRetryWait)
			}
		}

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			d.inflight.Wait()
			d.logger.Info("dispatcher stopped")

			return ctx.Err()
		case <-d.wakeCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// dispatchOnce sweeps all non-terminal, non-paused instances and dispatches
// every eligible node. It returns the earliest pending NextRetryAt, if any,
// so the loop can schedule the next wake-up precisely.
func (d *Dispatcher) dispatchOnce(ctx context.Context) *time.Time {
	instances, err := d.store.InstanceRepository().ListByStatus(ctx,
		models.InstanceStatusPending, models.InstanceStatusRunning)
	if err != nil {
		d.logger.Error("failed to list dispatchable instances", "error", err)

		return nil
	}

	var earliest *time.Time

	for _, instance := range instances {
		if ctx.Err() != nil {
			return earliest
		}

		next := d.dispatchInstance(ctx, instance)
		if next != nil && (earliest == nil || next.Before(*earliest)) {
			earliest = next
		}
	}

	return earliest
}

func (d *Dispatcher) dispatchInstance(ctx context.Context, instance *models.Instance) *time.Time {
	g, err := graph.Validate(instance.Definition)
	if err != nil {
		// The snapshot was validated at trigger time; reaching this means
		// the stored definition was corrupted.
		d.logger.Error("instance definition no longer validates",
			"instance_id", instance.ID, "error", err)

		return nil
	}

	executions, err := d.store.ExecutionRepository().ListByInstance(ctx, instance.ID)
	if err != nil {
		d.logger.Error("failed to list executions",
			"instance_id", instance.ID, "error", err)

		return nil
	}

	byNode := make(map[string]*models.Execution, len(executions))
	for _, execution := range executions {
		byNode[execution.NodeID] = execution
	}

	now := d.now()

	var earliest *time.Time

	var eligible []*models.Node

	for _, node := range instance.Definition.Nodes {
		execution, ok := byNode[node.ID]
		if !ok || execution.Status != models.ExecutionStatusPending || !node.Enabled {
			continue
		}

		if execution.NextRetryAt != nil && execution.NextRetryAt.After(now) {
			if earliest == nil || execution.NextRetryAt.Before(*earliest) {
				earliest = execution.NextRetryAt
			}

			continue
		}

		disposition, _ := graph.ResolveNode(d.evaluator, g, node.ID, byNode)
		if disposition == graph.NodeEligible {
			eligible = append(eligible, node)
		}
	}

	if len(eligible) == 0 {
		return earliest
	}

	if instance.Status == models.InstanceStatusPending {
		started, err := d.starter.MarkRunning(ctx, instance.ID)
		if err != nil {
			d.logger.Warn("failed to start instance",
				"instance_id", instance.ID, "error", err)

			return earliest
		}

		instance = started
	}

	for _, node := range eligible {
		d.dispatchNode(ctx, instance, g, node, byNode)
	}

	return earliest
}

// dispatchNode claims a worker slot (blocking for backpressure), records
// the start, and runs the executor asynchronously. Losing the RecordStart
// race to a concurrent dispatcher is not an error.
func (d *Dispatcher) dispatchNode(ctx context.Context, instance *models.Instance, g *graph.ValidatedGraph, node *models.Node, byNode map[string]*models.Execution) {
	select {
	case d.workers <- struct{}{}:
	case <-ctx.Done():
		return
	}

	input := buildInput(d.evaluator, g, instance, node.ID, byNode)

	execution, err := d.tracker.RecordStart(ctx, instance, node, input)
	if err != nil {
		<-d.workers

		if !persistence.IsInvalidTransition(err) {
			d.logger.Error("failed to record execution start",
				"instance_id", instance.ID, "node_id", node.ID, "error", err)
		}

		return
	}

	runCtx := d.contextFor(ctx, instance.ID)

	d.inflight.Add(1)

	go func() {
		defer d.inflight.Done()
		defer func() { <-d.workers }()

		d.execute(runCtx, instance, node, execution.RetryCount+1, input)
	}()
}

func (d *Dispatcher) execute(ctx context.Context, instance *models.Instance, node *models.Node, attempt int, input map[string]any) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatch."+node.Type,
		attribute.String(otelhelper.WorkflowIDKey, instance.WorkflowID),
		attribute.String(otelhelper.InstanceIDKey, instance.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, node.Type),
		attribute.Int(otelhelper.AttemptKey, attempt),
	)
	defer span.End()

	if node.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(node.TimeoutSeconds)*time.Second)

		defer cancel()
	}

	output, execErr := d.runStep(ctx, instance, node, input)
	if execErr != nil {
		otelhelper.SetError(span, execErr)
	}

	// Recording must survive instance cancellation and shutdown.
	recordCtx := context.WithoutCancel(ctx)

	if _, err := d.tracker.RecordResult(recordCtx, instance, node, output, execErr); err != nil {
		d.logger.Error("failed to record execution result",
			"instance_id", instance.ID, "node_id", node.ID, "error", err)
	}
}

// runStep resolves and invokes the executor. Resolution failure is a normal
// failure outcome: it consumes a retry instead of being dropped.
func (d *Dispatcher) runStep(ctx context.Context, instance *models.Instance, node *models.Node, input map[string]any) (map[string]any, error) {
	executor, err := d.registry.CreateStep(node.Type, node.Config)
	if err != nil {
		return nil, err
	}

	result, err := executor.Execute(ctx, protocol.StepRequest{
		InstanceID: instance.ID,
		NodeID:     node.ID,
		NodeType:   node.Type,
		Config:     node.Config,
		Input:      input,
		Context:    instance.Context,
	})
	if err != nil {
		return nil, err
	}

	if result == nil {
		return nil, nil
	}

	if result.Error != "" {
		return result.Output, errors.New(result.Error)
	}

	return result.Output, nil
}

// contextFor returns the shared cancellable context for one instance,
// creating it on first use.
func (d *Dispatcher) contextFor(parent context.Context, instanceID string) context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.cancels[instanceID]; ok {
		return entry.ctx
	}

	ctx, cancel := context.WithCancel(parent)
	d.cancels[instanceID] = instanceContext{ctx: ctx, cancel: cancel}

	return ctx
}

// buildInput assembles a node's input: entry nodes receive the instance
// input, downstream nodes receive the outputs of their satisfied inbound
// sources keyed by source node id.
func buildInput(evaluator *condition.Evaluator, g *graph.ValidatedGraph, instance *models.Instance, nodeID string, byNode map[string]*models.Execution) map[string]any {
	inbound := g.Inbound[nodeID]
	if len(inbound) == 0 {
		return instance.Input
	}

	input := make(map[string]any, len(inbound))

	for _, edge := range inbound {
		source, ok := byNode[edge.SourceNodeID]
		if !ok {
			continue
		}

		if resolution := graph.ResolveEdge(evaluator, edge, source); resolution.State == graph.EdgeSatisfied {
			input[edge.SourceNodeID] = source.Output
		}
	}

	return input
}
