package models

// DefaultMaxRetries applies when a node does not override its retry budget.
const DefaultMaxRetries = 3

// Node represents a typed step definition within a workflow graph. The node
// type is an opaque string interpreted by the step executor; the engine only
// decides when and whether to invoke it.
type Node struct {
	ID             string         `json:"id"   validate:"required"`
	Type           string         `json:"type" validate:"required"`
	Name           string         `json:"name" validate:"required,min=1"`
	Config         map[string]any `json:"config,omitempty"`
	InputSchema    map[string]any `json:"input_schema,omitempty"`
	OutputSchema   map[string]any `json:"output_schema,omitempty"`
	MaxRetries     *int           `json:"max_retries,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	Loop           bool           `json:"loop,omitempty"` // Bounded loop construct, excluded from cycle detection
	Enabled        bool           `json:"enabled"`
}

// RetryBudget returns the effective retry limit for the node.
func (n *Node) RetryBudget() int {
	if n.MaxRetries != nil && *n.MaxRetries >= 0 {
		return *n.MaxRetries
	}

	return DefaultMaxRetries
}
