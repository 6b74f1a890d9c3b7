package testutil

import (
	"context"
	"log/slog"
	"sync"

	"github.com/venlock/orchid/pkg/protocol"
)

// FakeStep is a scriptable step executor for engine tests. Results are
// dequeued per node id; an exhausted queue falls back to echoing the input.
type FakeStep struct {
	mu      sync.Mutex
	results map[string][]*protocol.StepResult
	errs    map[string][]error
	calls   []protocol.StepRequest
}

// NewFakeStep creates an empty fake executor.
func NewFakeStep() *FakeStep {
	return &FakeStep{
		results: make(map[string][]*protocol.StepResult),
		errs:    make(map[string][]error),
	}
}

// QueueResult appends a scripted result for the node.
func (f *FakeStep) QueueResult(nodeID string, result *protocol.StepResult) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.results[nodeID] = append(f.results[nodeID], result)
}

// QueueError appends a scripted transport error for the node.
func (f *FakeStep) QueueError(nodeID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.errs[nodeID] = append(f.errs[nodeID], err)
}

// Calls returns the requests seen so far.
func (f *FakeStep) Calls() []protocol.StepRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	calls := make([]protocol.StepRequest, len(f.calls))
	copy(calls, f.calls)

	return calls
}

func (f *FakeStep) Execute(_ context.Context, request protocol.StepRequest) (*protocol.StepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, request)

	if queue := f.errs[request.NodeID]; len(queue) > 0 {
		err := queue[0]
		f.errs[request.NodeID] = queue[1:]

		return nil, err
	}

	if queue := f.results[request.NodeID]; len(queue) > 0 {
		result := queue[0]
		f.results[request.NodeID] = queue[1:]

		return result, nil
	}

	return &protocol.StepResult{Output: request.Input}, nil
}

// FakeStepFactory serves the fake executor for every node type it is
// registered under.
type FakeStepFactory struct {
	TypeID string
	Step   *FakeStep
}

func (f FakeStepFactory) ID() string {
	return f.TypeID
}

func (f FakeStepFactory) Create(_ map[string]any, _ *slog.Logger) (protocol.StepExecutor, error) {
	return f.Step, nil
}

var (
	_ protocol.StepExecutor = (*FakeStep)(nil)
	_ protocol.StepFactory  = FakeStepFactory{}
)
