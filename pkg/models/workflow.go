// Package models defines the core domain models for graph-based workflow orchestration.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not triggerable
	WorkflowStatusActive   WorkflowStatus = "active"   // Triggerable
	WorkflowStatusInactive WorkflowStatus = "inactive" // Temporarily not triggerable
	WorkflowStatusArchived WorkflowStatus = "archived" // Immutable, historical
)

// Workflow represents a directed graph of typed steps executed as traceable instances.
type Workflow struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"        validate:"required,min=3"`
	Description string           `json:"description"`
	Version     int              `json:"version"`
	Status      WorkflowStatus   `json:"status"      validate:"required"`
	Definition  *GraphDefinition `json:"definition"  validate:"required"`
	Config      map[string]any   `json:"config,omitempty"`
	Owner       string           `json:"owner"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	ArchivedAt  *time.Time       `json:"archived_at,omitempty"`
}

// GraphDefinition is the node/edge graph of a workflow. It is treated as an
// arena indexed by stable string ids; execution never holds live references
// into it.
type GraphDefinition struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// Clone returns a deep-enough copy of the definition for freezing into an
// instance snapshot. Node and edge structs are copied; config and schema maps
// are shared because they are never mutated after creation.
func (d *GraphDefinition) Clone() *GraphDefinition {
	if d == nil {
		return nil
	}

	clone := &GraphDefinition{
		Nodes: make([]*Node, len(d.Nodes)),
		Edges: make([]*Edge, len(d.Edges)),
	}

	for i, node := range d.Nodes {
		nodeCopy := *node
		clone.Nodes[i] = &nodeCopy
	}

	for i, edge := range d.Edges {
		edgeCopy := *edge
		clone.Edges[i] = &edgeCopy
	}

	return clone
}

// NodeByID looks up a node in the definition by its id.
func (d *GraphDefinition) NodeByID(nodeID string) (*Node, bool) {
	for _, node := range d.Nodes {
		if node.ID == nodeID {
			return node, true
		}
	}

	return nil, false
}

// IsTriggerable reports whether instances may be created from this workflow.
func (w *Workflow) IsTriggerable() bool {
	return w.Status == WorkflowStatusActive
}

// IsEditable reports whether the workflow definition may be modified in place.
func (w *Workflow) IsEditable() bool {
	return w.Status == WorkflowStatusDraft
}
