// Package protocol defines the contracts between the engine and pluggable
// step executors.
package protocol

import (
	"context"
	"log/slog"
)

// StepRequest carries everything an executor needs for one node run.
type StepRequest struct {
	InstanceID string         `json:"instance_id"`
	NodeID     string         `json:"node_id"`
	NodeType   string         `json:"node_type"`
	Config     map[string]any `json:"config,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// StepResult is the outcome of one node run. A non-empty Error is an
// explicit failure; the engine treats it exactly like an error returned
// from Execute.
type StepResult struct {
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// StepExecutor runs one node type. Implementations must honor ctx
// cancellation and deadlines; the engine enforces per-node timeouts
// through ctx.
type StepExecutor interface {
	Execute(ctx context.Context, request StepRequest) (*StepResult, error)
}

// StepFactory creates executors for a node type.
type StepFactory interface {
	// Create builds an executor from node configuration.
	Create(config map[string]any, logger *slog.Logger) (StepExecutor, error)

	// ID returns the node type this factory serves.
	ID() string
}
