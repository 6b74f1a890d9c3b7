package graph

import (
	"fmt"

	"github.com/venlock/orchid/pkg/condition"
	"github.com/venlock/orchid/pkg/models"
)

// EdgeState is the runtime disposition of one edge given the current
// execution records.
type EdgeState int

const (
	// EdgeUndecided means the source has not reached an outcome yet.
	EdgeUndecided EdgeState = iota

	// EdgeSatisfied means the edge admits the target.
	EdgeSatisfied

	// EdgeBlockedBenign means the edge can never be satisfied for a benign
	// reason (condition false, skipped source, untaken failure path). The
	// target is a candidate for skip propagation.
	EdgeBlockedBenign

	// EdgeBlockedFailure means the edge can never be satisfied because its
	// source failed or was cancelled with no failure path covering it. The
	// target can never run and the instance is headed for failure.
	EdgeBlockedFailure
)

// EdgeResolution pairs an edge with its runtime state.
type EdgeResolution struct {
	Edge   *models.Edge
	State  EdgeState
	Reason string
}

// ResolveEdge determines the runtime state of one edge from its source's
// execution record. Conditions are evaluated over the source output; on an
// OnFailure edge the condition applies on top of the failed/skipped
// requirement.
func ResolveEdge(evaluator *condition.Evaluator, edge *models.Edge, source *models.Execution) EdgeResolution {
	resolution := EdgeResolution{Edge: edge}

	switch source.Status {
	case models.ExecutionStatusPending, models.ExecutionStatusRunning:
		resolution.State = EdgeUndecided

		return resolution
	case models.ExecutionStatusCancelled:
		resolution.State = EdgeBlockedFailure
		resolution.Reason = fmt.Sprintf("source node %s was cancelled", edge.SourceNodeID)

		return resolution
	}

	if edge.OnFailure {
		return resolveFailureEdge(evaluator, edge, source)
	}

	switch source.Status {
	case models.ExecutionStatusSkipped:
		resolution.State = EdgeBlockedBenign
		resolution.Reason = fmt.Sprintf("source node %s was skipped", edge.SourceNodeID)

		return resolution
	case models.ExecutionStatusFailed:
		resolution.State = EdgeBlockedFailure
		resolution.Reason = fmt.Sprintf("source node %s failed", edge.SourceNodeID)

		return resolution
	}

	// Source completed.
	if !edge.IsConditional() {
		resolution.State = EdgeSatisfied

		return resolution
	}

	ok, err := evaluator.Evaluate(edge.Condition, source.Output)
	if err != nil {
		resolution.State = EdgeBlockedFailure
		resolution.Reason = fmt.Sprintf("condition on edge %s failed to evaluate: %v", edge.ID, err)

		return resolution
	}

	if ok {
		resolution.State = EdgeSatisfied
	} else {
		resolution.State = EdgeBlockedBenign
		resolution.Reason = fmt.Sprintf("condition on edge %s evaluated to false", edge.ID)
	}

	return resolution
}

// resolveFailureEdge handles OnFailure edges: satisfied when the source was
// routed off the happy path (failed or skipped), blocked benignly when the
// source completed.
func resolveFailureEdge(evaluator *condition.Evaluator, edge *models.Edge, source *models.Execution) EdgeResolution {
	resolution := EdgeResolution{Edge: edge}

	if source.Status == models.ExecutionStatusCompleted {
		resolution.State = EdgeBlockedBenign
		resolution.Reason = fmt.Sprintf("source node %s completed, failure path not taken", edge.SourceNodeID)

		return resolution
	}

	// Failed or skipped source.
	if edge.IsConditional() {
		env := map[string]any{"error": source.Error, "status": string(source.Status)}

		ok, err := evaluator.Evaluate(edge.Condition, env)
		if err != nil {
			resolution.State = EdgeBlockedFailure
			resolution.Reason = fmt.Sprintf("condition on edge %s failed to evaluate: %v", edge.ID, err)

			return resolution
		}

		if !ok {
			resolution.State = EdgeBlockedBenign
			resolution.Reason = fmt.Sprintf("condition on failure edge %s evaluated to false", edge.ID)

			return resolution
		}
	}

	resolution.State = EdgeSatisfied

	return resolution
}

// NodeDisposition summarizes a node's inbound edges.
type NodeDisposition int

const (
	// NodeWaiting means at least one inbound edge is undecided and none is
	// blocked; the node may still become eligible.
	NodeWaiting NodeDisposition = iota

	// NodeEligible means every inbound edge is satisfied.
	NodeEligible

	// NodeBlockedBenign means the node can never run for benign reasons
	// only; it should be skipped.
	NodeBlockedBenign

	// NodeBlockedFailure means an unhandled upstream failure blocks the
	// node permanently.
	NodeBlockedFailure
)

// ResolveNode classifies a node from its inbound edges. Entry nodes have no
// inbound edges and are always eligible. A single failure-blocked edge
// dominates benign blocks, which dominate waiting.
func ResolveNode(evaluator *condition.Evaluator, g *ValidatedGraph, nodeID string, executions map[string]*models.Execution) (NodeDisposition, []EdgeResolution) {
	inbound := g.Inbound[nodeID]
	if len(inbound) == 0 {
		return NodeEligible, nil
	}

	resolutions := make([]EdgeResolution, 0, len(inbound))
	disposition := NodeEligible

	for _, edge := range inbound {
		source, ok := executions[edge.SourceNodeID]
		if !ok {
			// No record yet, treat as undecided.
			resolutions = append(resolutions, EdgeResolution{Edge: edge, State: EdgeUndecided})

			if disposition == NodeEligible {
				disposition = NodeWaiting
			}

			continue
		}

		resolution := ResolveEdge(evaluator, edge, source)
		resolutions = append(resolutions, resolution)

		switch resolution.State {
		case EdgeBlockedFailure:
			disposition = NodeBlockedFailure
		case EdgeBlockedBenign:
			if disposition != NodeBlockedFailure {
				disposition = NodeBlockedBenign
			}
		case EdgeUndecided:
			if disposition == NodeEligible {
				disposition = NodeWaiting
			}
		}
	}

	return disposition, resolutions
}
