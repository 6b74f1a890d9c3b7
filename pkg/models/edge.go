package models

// Edge is a directed, optionally conditional link between two nodes of the
// same workflow. The condition is a predicate expression evaluated against
// the source node's output; an empty condition is always satisfied.
type Edge struct {
	ID           string `json:"id"`
	SourceNodeID string `json:"source_node_id" validate:"required"`
	TargetNodeID string `json:"target_node_id" validate:"required"`
	SourcePort   string `json:"source_port,omitempty"`
	TargetPort   string `json:"target_port,omitempty"`
	Condition    string `json:"condition,omitempty"`
	OnFailure    bool   `json:"on_failure,omitempty"` // Alternate path, satisfied by a failed or skipped source
}

// IsConditional reports whether the edge carries a predicate.
func (e *Edge) IsConditional() bool {
	return e.Condition != ""
}
