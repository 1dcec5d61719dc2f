// Package workflow implements the DAG executor: validation, parallel
// scheduling through the plugin manager, per-node error policies,
// checkpointing, and pause/resume/cancel.
package workflow

import (
	"fmt"

	"github.com/caplet-dev/caplet/internal/values"
)

// WorkflowNotFoundError indicates an unknown workflow ID.
type WorkflowNotFoundError struct {
	ID values.WorkflowID
}

func (e *WorkflowNotFoundError) Error() string {
	return "workflow not found: " + e.ID.String()
}

// ExecutionNotFoundError indicates an unknown execution ID.
type ExecutionNotFoundError struct {
	ID values.ExecutionID
}

func (e *ExecutionNotFoundError) Error() string {
	return "execution not found: " + e.ID.String()
}

// NodeNotFoundError indicates a reference to a node that does not exist.
type NodeNotFoundError struct {
	ID values.NodeID
}

func (e *NodeNotFoundError) Error() string {
	return "node not found: " + e.ID.String()
}

// CyclicDependencyError indicates the definition contains a cycle.
type CyclicDependencyError struct {
	Node values.NodeID
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency through node %s", e.Node)
}

// InvalidDefinitionError indicates a structurally invalid workflow.
type InvalidDefinitionError struct {
	Detail string
}

func (e *InvalidDefinitionError) Error() string {
	return "invalid workflow definition: " + e.Detail
}

// PersistenceError wraps a checkpoint store failure.
type PersistenceError struct {
	Detail string
	Cause  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("checkpoint persistence failed: %s: %v", e.Detail, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// InvalidStatusError indicates a control operation against an
// execution in the wrong status.
type InvalidStatusError struct {
	Current  values.ExecutionStatus
	Expected values.ExecutionStatus
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("execution in invalid status: current %s, expected %s", e.Current, e.Expected)
}
