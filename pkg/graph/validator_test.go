package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venlock/orchid/pkg/models"
)

func node(id string) *models.Node {
	return &models.Node{ID: id, Type: "log", Name: id, Enabled: true}
}

func edge(source, target string) *models.Edge {
	return &models.Edge{ID: source + "-" + target, SourceNodeID: source, TargetNodeID: target}
}

func TestValidateLinearGraph(t *testing.T) {
	def := &models.GraphDefinition{
		Nodes: []*models.Node{node("a"), node("b"), node("c")},
		Edges: []*models.Edge{edge("a", "b"), edge("b", "c")},
	}

	validated, err := Validate(def)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, validated.EntryNodes)
	assert.Empty(t, validated.Warnings)
	assert.Len(t, validated.Inbound["b"], 1)
	assert.Len(t, validated.Outbound["b"], 1)
}

func TestValidateEmptyDefinition(t *testing.T) {
	_, err := Validate(nil)
	require.Error(t, err)

	var validationErr *ValidationError

	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, CodeEmptyDefinition, validationErr.Code)
}

func TestValidateDuplicateNodeID(t *testing.T) {
	def := &models.GraphDefinition{
		Nodes: []*models.Node{node("a"), node("a")},
	}

	_, err := Validate(def)

	var validationErr *ValidationError

	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, CodeDuplicateNode, validationErr.Code)
	assert.Equal(t, "a", validationErr.NodeID)
}

func TestValidateDanglingEdge(t *testing.T) {
	def := &models.GraphDefinition{
		Nodes: []*models.Node{node("a")},
		Edges: []*models.Edge{edge("a", "ghost")},
	}

	_, err := Validate(def)

	var validationErr *ValidationError

	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, CodeDanglingEdge, validationErr.Code)
}

func TestValidateRejectsCycle(t *testing.T) {
	def := &models.GraphDefinition{
		Nodes: []*models.Node{node("a"), node("b"), node("c")},
		Edges: []*models.Edge{edge("a", "b"), edge("b", "c"), edge("c", "a")},
	}

	_, err := Validate(def)

	var validationErr *ValidationError

	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, CodeCycle, validationErr.Code)
	assert.Contains(t, validationErr.Detail, "->")
}

func TestValidateAllowsLoopConstruct(t *testing.T) {
	loopNode := node("loop")
	loopNode.Loop = true

	def := &models.GraphDefinition{
		Nodes: []*models.Node{node("a"), loopNode},
		Edges: []*models.Edge{edge("a", "loop"), edge("loop", "a")},
	}

	_, err := Validate(def)
	require.NoError(t, err)
}

func TestValidateUnreachableNodeIsWarning(t *testing.T) {
	// The island pair has inbound edges but no path from the entry node.
	// Its back-edge runs through a loop construct so cycle detection does
	// not reject the definition outright.
	loopNode := node("loop")
	loopNode.Loop = true

	def := &models.GraphDefinition{
		Nodes: []*models.Node{node("a"), node("b"), loopNode, node("island")},
		Edges: []*models.Edge{edge("a", "b"), edge("island", "loop"), edge("loop", "island")},
	}

	validated, err := Validate(def)
	require.NoError(t, err)

	require.Len(t, validated.Warnings, 2)
	assert.Contains(t, validated.Warnings[1], "island")
}

func TestValidateConditionAgainstOutputSchema(t *testing.T) {
	source := node("a")
	source.OutputSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{"type": "string"},
		},
	}

	target := node("b")

	t.Run("declared field passes", func(t *testing.T) {
		conditional := edge("a", "b")
		conditional.Condition = `status == "approved"`

		_, err := Validate(&models.GraphDefinition{
			Nodes: []*models.Node{source, target},
			Edges: []*models.Edge{conditional},
		})
		require.NoError(t, err)
	})

	t.Run("undeclared field is fatal", func(t *testing.T) {
		conditional := edge("a", "b")
		conditional.Condition = `verdict == "approved"`

		_, err := Validate(&models.GraphDefinition{
			Nodes: []*models.Node{source, target},
			Edges: []*models.Edge{conditional},
		})

		var validationErr *ValidationError

		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, CodeInvalidCondition, validationErr.Code)
	})

	t.Run("absent schema is permitted", func(t *testing.T) {
		plain := node("p")
		conditional := edge("p", "b")
		conditional.Condition = `anything > 3`

		_, err := Validate(&models.GraphDefinition{
			Nodes: []*models.Node{plain, target},
			Edges: []*models.Edge{conditional},
		})
		require.NoError(t, err)
	})
}
