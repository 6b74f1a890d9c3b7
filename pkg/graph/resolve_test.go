package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venlock/orchid/pkg/condition"
	"github.com/venlock/orchid/pkg/models"
)

func execWith(status models.ExecutionStatus, output map[string]any) *models.Execution {
	return &models.Execution{InstanceID: "inst-1", NodeID: "src", Status: status, Output: output}
}

func TestResolveEdgeUnconditional(t *testing.T) {
	evaluator := condition.NewEvaluator()
	edge := &models.Edge{ID: "e1", SourceNodeID: "src", TargetNodeID: "dst"}

	tests := []struct {
		name   string
		status models.ExecutionStatus
		want   EdgeState
	}{
		{name: "pending source is undecided", status: models.ExecutionStatusPending, want: EdgeUndecided},
		{name: "running source is undecided", status: models.ExecutionStatusRunning, want: EdgeUndecided},
		{name: "completed source satisfies", status: models.ExecutionStatusCompleted, want: EdgeSatisfied},
		{name: "skipped source blocks benignly", status: models.ExecutionStatusSkipped, want: EdgeBlockedBenign},
		{name: "failed source blocks as failure", status: models.ExecutionStatusFailed, want: EdgeBlockedFailure},
		{name: "cancelled source blocks as failure", status: models.ExecutionStatusCancelled, want: EdgeBlockedFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolution := ResolveEdge(evaluator, edge, execWith(tt.status, nil))
			assert.Equal(t, tt.want, resolution.State)
		})
	}
}

func TestResolveEdgeConditional(t *testing.T) {
	evaluator := condition.NewEvaluator()
	edge := &models.Edge{ID: "e1", SourceNodeID: "src", TargetNodeID: "dst", Condition: "count > 10"}

	satisfied := ResolveEdge(evaluator, edge, execWith(models.ExecutionStatusCompleted, map[string]any{"count": 11}))
	assert.Equal(t, EdgeSatisfied, satisfied.State)

	blocked := ResolveEdge(evaluator, edge, execWith(models.ExecutionStatusCompleted, map[string]any{"count": 3}))
	assert.Equal(t, EdgeBlockedBenign, blocked.State)
	assert.Contains(t, blocked.Reason, "false")
}

func TestResolveEdgeOnFailure(t *testing.T) {
	evaluator := condition.NewEvaluator()
	edge := &models.Edge{ID: "e1", SourceNodeID: "src", TargetNodeID: "dst", OnFailure: true}

	failed := ResolveEdge(evaluator, edge, execWith(models.ExecutionStatusFailed, nil))
	assert.Equal(t, EdgeSatisfied, failed.State)

	skipped := ResolveEdge(evaluator, edge, execWith(models.ExecutionStatusSkipped, nil))
	assert.Equal(t, EdgeSatisfied, skipped.State)

	completed := ResolveEdge(evaluator, edge, execWith(models.ExecutionStatusCompleted, nil))
	assert.Equal(t, EdgeBlockedBenign, completed.State)
}

func TestResolveNodeRequiresAllInboundSatisfied(t *testing.T) {
	evaluator := condition.NewEvaluator()

	def := &models.GraphDefinition{
		Nodes: []*models.Node{
			{ID: "a", Type: "log", Name: "A", Enabled: true},
			{ID: "b", Type: "log", Name: "B", Enabled: true},
			{ID: "join", Type: "log", Name: "Join", Enabled: true},
		},
		Edges: []*models.Edge{
			{ID: "e1", SourceNodeID: "a", TargetNodeID: "join"},
			{ID: "e2", SourceNodeID: "b", TargetNodeID: "join"},
		},
	}

	g, err := Validate(def)
	require.NoError(t, err)

	executions := map[string]*models.Execution{
		"a": execWith(models.ExecutionStatusCompleted, nil),
		"b": execWith(models.ExecutionStatusRunning, nil),
	}

	disposition, _ := ResolveNode(evaluator, g, "join", executions)
	assert.Equal(t, NodeWaiting, disposition)

	executions["b"] = execWith(models.ExecutionStatusCompleted, nil)
	disposition, resolutions := ResolveNode(evaluator, g, "join", executions)
	assert.Equal(t, NodeEligible, disposition)
	assert.Len(t, resolutions, 2)
}

func TestResolveNodeBlockedDominatesWaiting(t *testing.T) {
	evaluator := condition.NewEvaluator()

	def := &models.GraphDefinition{
		Nodes: []*models.Node{
			{ID: "a", Type: "log", Name: "A", Enabled: true},
			{ID: "b", Type: "log", Name: "B", Enabled: true},
			{ID: "join", Type: "log", Name: "Join", Enabled: true},
		},
		Edges: []*models.Edge{
			{ID: "e1", SourceNodeID: "a", TargetNodeID: "join"},
			{ID: "e2", SourceNodeID: "b", TargetNodeID: "join"},
		},
	}

	g, err := Validate(def)
	require.NoError(t, err)

	executions := map[string]*models.Execution{
		"a": execWith(models.ExecutionStatusSkipped, nil),
		"b": execWith(models.ExecutionStatusRunning, nil),
	}

	disposition, _ := ResolveNode(evaluator, g, "join", executions)
	assert.Equal(t, NodeBlockedBenign, disposition)

	executions["a"] = execWith(models.ExecutionStatusFailed, nil)
	disposition, _ = ResolveNode(evaluator, g, "join", executions)
	assert.Equal(t, NodeBlockedFailure, disposition)
}

func TestResolveNodeEntryIsEligible(t *testing.T) {
	evaluator := condition.NewEvaluator()

	def := &models.GraphDefinition{
		Nodes: []*models.Node{{ID: "entry", Type: "log", Name: "Entry", Enabled: true}},
	}

	g, err := Validate(def)
	require.NoError(t, err)

	disposition, resolutions := ResolveNode(evaluator, g, "entry", map[string]*models.Execution{})
	assert.Equal(t, NodeEligible, disposition)
	assert.Empty(t, resolutions)
}
