// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/google/uuid"

	"github.com/venlock/orchid/pkg/models"
)

// CreateTestNode creates a test Node with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:      uuid.New().String(),
		Type:    "log",
		Name:    "Test Node",
		Config:  map[string]any{"message": "test", "level": "info"},
		Enabled: true,
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithID sets the node id.
func WithID(id string) func(*models.Node) {
	return func(n *models.Node) {
		n.ID = id
	}
}

// WithType sets the node type.
func WithType(nodeType string) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = nodeType
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.Node) {
	return func(n *models.Node) {
		n.Name = name
	}
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Config = config
	}
}

// WithEnabled sets the node enabled status.
func WithEnabled(enabled bool) func(*models.Node) {
	return func(n *models.Node) {
		n.Enabled = enabled
	}
}

// WithMaxRetries overrides the node retry budget.
func WithMaxRetries(maxRetries int) func(*models.Node) {
	return func(n *models.Node) {
		n.MaxRetries = &maxRetries
	}
}

// WithOutputSchema sets the node output schema.
func WithOutputSchema(schema map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.OutputSchema = schema
	}
}

// CreateTestEdge creates an edge between two nodes.
func CreateTestEdge(sourceID, targetID string, overrides ...func(*models.Edge)) *models.Edge {
	edge := &models.Edge{
		ID:           uuid.New().String(),
		SourceNodeID: sourceID,
		TargetNodeID: targetID,
	}

	for _, override := range overrides {
		override(edge)
	}

	return edge
}

// WithCondition sets the edge condition expression.
func WithCondition(condition string) func(*models.Edge) {
	return func(e *models.Edge) {
		e.Condition = condition
	}
}

// WithOnFailure marks the edge as a failure path.
func WithOnFailure() func(*models.Edge) {
	return func(e *models.Edge) {
		e.OnFailure = true
	}
}

// CreateTestWorkflow creates an active workflow around the given definition.
func CreateTestWorkflow(definition *models.GraphDefinition, overrides ...func(*models.Workflow)) *models.Workflow {
	workflow := &models.Workflow{
		ID:         uuid.New().String(),
		Name:       "Test Workflow",
		Version:    1,
		Status:     models.WorkflowStatusActive,
		Definition: definition,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// LinearDefinition builds a chain of log nodes wired head to tail.
func LinearDefinition(nodeIDs ...string) *models.GraphDefinition {
	definition := &models.GraphDefinition{}

	for i, id := range nodeIDs {
		definition.Nodes = append(definition.Nodes, CreateTestNode(WithID(id), WithName("Node "+id)))

		if i > 0 {
			definition.Edges = append(definition.Edges, CreateTestEdge(nodeIDs[i-1], id))
		}
	}

	return definition
}
