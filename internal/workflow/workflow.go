package workflow

import (
	"time"

	"github.com/caplet-dev/caplet/internal/values"
)

// NodeKind selects a node's behaviour.
type NodeKind string

const (
	// KindTask invokes one plugin function.
	KindTask NodeKind = "task"

	// KindCondition evaluates an expression over the input and upstream
	// results; a false outcome skips every dependent node.
	KindCondition NodeKind = "condition"

	// KindParallel is a structural fan-out point.
	KindParallel NodeKind = "parallel"

	// KindJoin is a structural fan-in point.
	KindJoin NodeKind = "join"
)

// Node is one vertex of a workflow.
type Node struct {
	ID   values.NodeID `json:"id"`
	Kind NodeKind      `json:"kind"`

	// Task target.
	Plugin   string `json:"plugin,omitempty"`
	Function string `json:"function,omitempty"`

	// Condition source (expr syntax) for KindCondition.
	Condition string `json:"condition,omitempty"`

	Config map[string]any `json:"config,omitempty"`

	ErrorPolicy ErrorPolicy `json:"error_policy,omitempty"`
}

// Workflow is a directed acyclic graph of nodes. Edges map a node to
// its dependencies.
type Workflow struct {
	ID          values.WorkflowID `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Version     string            `json:"version"`

	Nodes      map[values.NodeID]Node            `json:"nodes"`
	Edges      map[values.NodeID][]values.NodeID `json:"edges"`
	EntryNodes []values.NodeID                   `json:"entry_nodes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an empty workflow.
func New(name, description string) *Workflow {
	now := time.Now().UTC()
	return &Workflow{
		ID:          values.NewWorkflowID(),
		Name:        name,
		Description: description,
		Version:     "1.0.0",
		Nodes:       make(map[values.NodeID]Node),
		Edges:       make(map[values.NodeID][]values.NodeID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AddNode inserts a node. Nodes without dependencies are entry nodes
// until a dependency is added.
func (w *Workflow) AddNode(node Node) values.NodeID {
	w.Nodes[node.ID] = node
	if len(w.Edges[node.ID]) == 0 {
		w.EntryNodes = append(w.EntryNodes, node.ID)
	}
	w.UpdatedAt = time.Now().UTC()
	return node.ID
}

// AddDependency makes `to` depend on `from`.
func (w *Workflow) AddDependency(from, to values.NodeID) error {
	if _, ok := w.Nodes[from]; !ok {
		return &NodeNotFoundError{ID: from}
	}
	if _, ok := w.Nodes[to]; !ok {
		return &NodeNotFoundError{ID: to}
	}
	for _, dep := range w.Edges[to] {
		if dep == from {
			return nil
		}
	}
	w.Edges[to] = append(w.Edges[to], from)

	// No longer an entry node.
	for i, entry := range w.EntryNodes {
		if entry == to {
			w.EntryNodes = append(w.EntryNodes[:i], w.EntryNodes[i+1:]...)
			break
		}
	}
	w.UpdatedAt = time.Now().UTC()
	return nil
}

// Dependents returns the reverse adjacency: node -> nodes that depend
// on it.
func (w *Workflow) Dependents() map[values.NodeID][]values.NodeID {
	out := make(map[values.NodeID][]values.NodeID, len(w.Nodes))
	for node, deps := range w.Edges {
		for _, dep := range deps {
			out[dep] = append(out[dep], node)
		}
	}
	return out
}

// Validate checks the three structural invariants: every dependency
// exists, the graph is acyclic (depth-first traversal with a path
// set), and every node is reachable from some entry node.
func (w *Workflow) Validate() error {
	if len(w.Nodes) == 0 {
		return &InvalidDefinitionError{Detail: "workflow has no nodes"}
	}
	if len(w.EntryNodes) == 0 {
		return &InvalidDefinitionError{Detail: "workflow has no entry nodes"}
	}

	for node, deps := range w.Edges {
		if _, ok := w.Nodes[node]; !ok {
			return &NodeNotFoundError{ID: node}
		}
		for _, dep := range deps {
			if _, ok := w.Nodes[dep]; !ok {
				return &NodeNotFoundError{ID: dep}
			}
		}
	}

	for _, node := range w.Nodes {
		if node.Kind == KindTask && (node.Plugin == "" || node.Function == "") {
			return &InvalidDefinitionError{Detail: "task node " + node.ID.String() + " has no target"}
		}
		if node.Kind == KindCondition && node.Condition == "" {
			return &InvalidDefinitionError{Detail: "condition node " + node.ID.String() + " has no expression"}
		}
	}

	dependents := w.Dependents()

	visited := make(map[values.NodeID]bool)
	path := make(map[values.NodeID]bool)
	for _, entry := range w.EntryNodes {
		if cycleAt, found := w.findCycle(entry, dependents, visited, path); found {
			return &CyclicDependencyError{Node: cycleAt}
		}
	}

	reachable := make(map[values.NodeID]bool)
	queue := append([]values.NodeID(nil), w.EntryNodes...)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if reachable[node] {
			continue
		}
		reachable[node] = true
		queue = append(queue, dependents[node]...)
	}
	for id := range w.Nodes {
		if !reachable[id] {
			return &InvalidDefinitionError{Detail: "node " + id.String() + " is not reachable from any entry node"}
		}
	}

	return nil
}

func (w *Workflow) findCycle(node values.NodeID, dependents map[values.NodeID][]values.NodeID, visited, path map[values.NodeID]bool) (values.NodeID, bool) {
	if path[node] {
		return node, true
	}
	if visited[node] {
		return "", false
	}
	visited[node] = true
	path[node] = true
	for _, next := range dependents[node] {
		if at, found := w.findCycle(next, dependents, visited, path); found {
			return at, true
		}
	}
	delete(path, node)
	return "", false
}
