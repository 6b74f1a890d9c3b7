// Package graph validates workflow definitions for structural soundness and
// builds the indexed adjacency used by the dispatcher and lifecycle manager.
package graph

import (
	"fmt"
	"strings"

	"github.com/venlock/orchid/pkg/condition"
	"github.com/venlock/orchid/pkg/models"
)

// Validation error codes.
const (
	CodeEmptyDefinition  = "empty_definition"
	CodeDuplicateNode    = "duplicate_node"
	CodeDanglingEdge     = "dangling_edge"
	CodeCycle            = "cycle"
	CodeInvalidCondition = "invalid_condition"
)

// ValidationError describes a fatal structural problem in a definition.
type ValidationError struct {
	Code   string `json:"code"`
	NodeID string `json:"node_id,omitempty"`
	EdgeID string `json:"edge_id,omitempty"`
	Detail string `json:"detail"`
}

func (e *ValidationError) Error() string {
	switch {
	case e.NodeID != "":
		return fmt.Sprintf("%s: node %s: %s", e.Code, e.NodeID, e.Detail)
	case e.EdgeID != "":
		return fmt.Sprintf("%s: edge %s: %s", e.Code, e.EdgeID, e.Detail)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
}

// ValidatedGraph is the result of a successful validation: the definition
// plus indexed adjacency and non-fatal warnings.
type ValidatedGraph struct {
	Definition *models.GraphDefinition

	// NodesByID indexes nodes by their stable id.
	NodesByID map[string]*models.Node

	// Inbound and Outbound index edges by target and source node id.
	Inbound  map[string][]*models.Edge
	Outbound map[string][]*models.Edge

	// EntryNodes are nodes with no inbound edges; they become eligible as
	// soon as the instance enters running.
	EntryNodes []string

	// Warnings lists non-fatal findings, such as nodes unreachable from the
	// entry set. Manual and event triggers may still target them directly.
	Warnings []string
}

// Validate checks a workflow definition for structural soundness. It is a
// pure function over the definition: node ids must be unique, edge endpoints
// must exist, the graph (excluding nodes flagged as loop constructs) must be
// acyclic, and edge conditions must reference only fields declared in the
// source node's output schema when one is declared.
func Validate(def *models.GraphDefinition) (*ValidatedGraph, error) {
	if def == nil || len(def.Nodes) == 0 {
		return nil, &ValidationError{Code: CodeEmptyDefinition, Detail: "definition has no nodes"}
	}

	validated := &ValidatedGraph{
		Definition: def,
		NodesByID:  make(map[string]*models.Node, len(def.Nodes)),
		Inbound:    make(map[string][]*models.Edge),
		Outbound:   make(map[string][]*models.Edge),
	}

	for _, node := range def.Nodes {
		if _, exists := validated.NodesByID[node.ID]; exists {
			return nil, &ValidationError{
				Code:   CodeDuplicateNode,
				NodeID: node.ID,
				Detail: "node id is not unique within the workflow",
			}
		}

		validated.NodesByID[node.ID] = node
	}

	for _, edge := range def.Edges {
		if _, ok := validated.NodesByID[edge.SourceNodeID]; !ok {
			return nil, &ValidationError{
				Code:   CodeDanglingEdge,
				EdgeID: edge.ID,
				Detail: fmt.Sprintf("source node %s does not exist", edge.SourceNodeID),
			}
		}

		if _, ok := validated.NodesByID[edge.TargetNodeID]; !ok {
			return nil, &ValidationError{
				Code:   CodeDanglingEdge,
				EdgeID: edge.ID,
				Detail: fmt.Sprintf("target node %s does not exist", edge.TargetNodeID),
			}
		}

		validated.Outbound[edge.SourceNodeID] = append(validated.Outbound[edge.SourceNodeID], edge)
		validated.Inbound[edge.TargetNodeID] = append(validated.Inbound[edge.TargetNodeID], edge)
	}

	if cycle := findCycle(validated); cycle != nil {
		return nil, &ValidationError{
			Code:   CodeCycle,
			Detail: "directed cycle: " + strings.Join(cycle, " -> "),
		}
	}

	for _, node := range def.Nodes {
		if len(validated.Inbound[node.ID]) == 0 {
			validated.EntryNodes = append(validated.EntryNodes, node.ID)
		}
	}

	for _, nodeID := range unreachableNodes(validated) {
		validated.Warnings = append(validated.Warnings,
			fmt.Sprintf("node %s is not reachable from any entry node", nodeID))
	}

	for _, edge := range def.Edges {
		if !edge.IsConditional() {
			continue
		}

		source := validated.NodesByID[edge.SourceNodeID]
		if err := condition.CheckAgainstSchema(edge.Condition, source.OutputSchema); err != nil {
			return nil, &ValidationError{
				Code:   CodeInvalidCondition,
				EdgeID: edge.ID,
				Detail: fmt.Sprintf("condition does not match output schema of node %s: %v", source.ID, err),
			}
		}
	}

	return validated, nil
}

// findCycle runs an indexed DFS with three-color marking and returns the
// first directed cycle found, or nil. Nodes flagged as loop constructs are
// excluded, as are edges touching them.
func findCycle(g *ValidatedGraph) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)

	colors := make(map[string]int, len(g.NodesByID))
	parents := make(map[string]string)

	var cycleStart, cycleEnd string

	var visit func(nodeID string) bool
	visit = func(nodeID string) bool {
		colors[nodeID] = gray

		for _, edge := range g.Outbound[nodeID] {
			next := edge.TargetNodeID
			if g.NodesByID[next].Loop {
				continue
			}

			switch colors[next] {
			case white:
				parents[next] = nodeID
				if visit(next) {
					return true
				}
			case gray:
				cycleStart, cycleEnd = next, nodeID

				return true
			}
		}

		colors[nodeID] = black

		return false
	}

	for _, node := range g.Definition.Nodes {
		if node.Loop || colors[node.ID] != white {
			continue
		}

		if visit(node.ID) {
			var path []string
			for at := cycleEnd; at != cycleStart; at = parents[at] {
				path = append(path, at)
			}

			path = append(path, cycleStart)

			// Reverse into source-to-target order, closing the loop.
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}

			return append(path, cycleStart)
		}
	}

	return nil
}

// unreachableNodes returns nodes with no path from any entry node, in
// definition order.
func unreachableNodes(g *ValidatedGraph) []string {
	reached := make(map[string]bool, len(g.NodesByID))

	var walk func(nodeID string)
	walk = func(nodeID string) {
		if reached[nodeID] {
			return
		}

		reached[nodeID] = true

		for _, edge := range g.Outbound[nodeID] {
			walk(edge.TargetNodeID)
		}
	}

	for _, node := range g.Definition.Nodes {
		if len(g.Inbound[node.ID]) == 0 {
			walk(node.ID)
		}
	}

	var unreachable []string

	for _, node := range g.Definition.Nodes {
		if !reached[node.ID] {
			unreachable = append(unreachable, node.ID)
		}
	}

	return unreachable
}
