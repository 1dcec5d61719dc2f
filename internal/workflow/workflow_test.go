package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caplet-dev/caplet/internal/values"
)

func task(id string) Node {
	return Node{ID: values.NodeID(id), Kind: KindTask, Plugin: "p", Function: "f"}
}

func Test_Workflow_Validate_Valid(t *testing.T) {
	w := New("diamond", "a to b,c to d")
	w.AddNode(task("a"))
	w.AddNode(task("b"))
	w.AddNode(task("c"))
	w.AddNode(task("d"))
	require.NoError(t, w.AddDependency("a", "b"))
	require.NoError(t, w.AddDependency("a", "c"))
	require.NoError(t, w.AddDependency("b", "d"))
	require.NoError(t, w.AddDependency("c", "d"))

	assert.NoError(t, w.Validate())
	assert.Equal(t, []values.NodeID{"a"}, w.EntryNodes)
}

func Test_Workflow_Validate_Cycle(t *testing.T) {
	w := New("cyclic", "")
	w.AddNode(task("a"))
	w.AddNode(task("b"))
	w.AddNode(task("c"))
	require.NoError(t, w.AddDependency("a", "b"))
	require.NoError(t, w.AddDependency("b", "c"))
	require.NoError(t, w.AddDependency("c", "b"))

	err := w.Validate()
	var cyclic *CyclicDependencyError
	assert.ErrorAs(t, err, &cyclic)
}

func Test_Workflow_Validate_Unreachable(t *testing.T) {
	w := New("island", "")
	w.AddNode(task("a"))
	w.AddNode(task("b"))
	w.AddNode(task("c"))
	// b and c depend on each other: no entry reaches them, and they
	// form a cycle among themselves.
	require.NoError(t, w.AddDependency("b", "c"))
	require.NoError(t, w.AddDependency("c", "b"))

	assert.Error(t, w.Validate())
}

func Test_Workflow_Validate_MissingDependency(t *testing.T) {
	w := New("dangling", "")
	w.AddNode(task("a"))
	err := w.AddDependency("ghost", "a")
	var notFound *NodeNotFoundError
	assert.ErrorAs(t, err, &notFound)

	// A dependency injected directly into the edge map is caught by
	// Validate.
	w.Edges["a"] = append(w.Edges["a"], "ghost")
	assert.ErrorAs(t, w.Validate(), &notFound)
}

func Test_Workflow_Validate_NodeShape(t *testing.T) {
	t.Run("task without target", func(t *testing.T) {
		w := New("bad", "")
		w.AddNode(Node{ID: "a", Kind: KindTask})
		var invalid *InvalidDefinitionError
		assert.ErrorAs(t, w.Validate(), &invalid)
	})

	t.Run("condition without expression", func(t *testing.T) {
		w := New("bad", "")
		w.AddNode(Node{ID: "a", Kind: KindCondition})
		var invalid *InvalidDefinitionError
		assert.ErrorAs(t, w.Validate(), &invalid)
	})

	t.Run("empty workflow", func(t *testing.T) {
		w := New("empty", "")
		var invalid *InvalidDefinitionError
		assert.ErrorAs(t, w.Validate(), &invalid)
	})
}

func Test_Workflow_Dependents(t *testing.T) {
	w := New("fan", "")
	w.AddNode(task("a"))
	w.AddNode(task("b"))
	w.AddNode(task("c"))
	require.NoError(t, w.AddDependency("a", "b"))
	require.NoError(t, w.AddDependency("a", "c"))

	dependents := w.Dependents()
	assert.ElementsMatch(t, []values.NodeID{"b", "c"}, dependents["a"])
}
