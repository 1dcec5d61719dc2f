package values

import (
	"fmt"

	"github.com/google/uuid"
)

// WorkflowID uniquely identifies a registered workflow.
type WorkflowID struct {
	value uuid.UUID
}

// NewWorkflowID creates a new random workflow ID.
func NewWorkflowID() WorkflowID { return WorkflowID{value: uuid.New()} }

// ParseWorkflowID parses a string into a WorkflowID.
func ParseWorkflowID(s string) (WorkflowID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return WorkflowID{}, fmt.Errorf("invalid workflow ID: %w", err)
	}
	return WorkflowID{value: id}, nil
}

// String returns the string representation.
func (w WorkflowID) String() string { return w.value.String() }

// IsZero returns true if this is the zero value.
func (w WorkflowID) IsZero() bool { return w.value == uuid.Nil }

// Equals checks if two WorkflowIDs are equal.
func (w WorkflowID) Equals(other WorkflowID) bool { return w.value == other.value }

// MarshalJSON implements json.Marshaler.
func (w WorkflowID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + w.value.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (w *WorkflowID) UnmarshalJSON(data []byte) error {
	id, err := unmarshalID(data, "workflow")
	if err != nil {
		return err
	}
	w.value = id
	return nil
}

// ExecutionID uniquely identifies a single run of a workflow.
type ExecutionID struct {
	value uuid.UUID
}

// NewExecutionID creates a new random execution ID.
func NewExecutionID() ExecutionID { return ExecutionID{value: uuid.New()} }

// ParseExecutionID parses a string into an ExecutionID.
func ParseExecutionID(s string) (ExecutionID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ExecutionID{}, fmt.Errorf("invalid execution ID: %w", err)
	}
	return ExecutionID{value: id}, nil
}

// String returns the string representation.
func (e ExecutionID) String() string { return e.value.String() }

// IsZero returns true if this is the zero value.
func (e ExecutionID) IsZero() bool { return e.value == uuid.Nil }

// Equals checks if two ExecutionIDs are equal.
func (e ExecutionID) Equals(other ExecutionID) bool { return e.value == other.value }

// MarshalJSON implements json.Marshaler.
func (e ExecutionID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + e.value.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *ExecutionID) UnmarshalJSON(data []byte) error {
	id, err := unmarshalID(data, "execution")
	if err != nil {
		return err
	}
	e.value = id
	return nil
}

// NodeID identifies a node within a workflow definition.
// Unlike the other IDs it is user-assigned: workflow authors name
// their nodes, and the names are only unique within one workflow.
type NodeID string

// String returns the string representation.
func (n NodeID) String() string { return string(n) }

// CheckpointID uniquely identifies a persisted execution snapshot.
type CheckpointID struct {
	value uuid.UUID
}

// NewCheckpointID creates a new random checkpoint ID.
func NewCheckpointID() CheckpointID { return CheckpointID{value: uuid.New()} }

// ParseCheckpointID parses a string into a CheckpointID.
func ParseCheckpointID(s string) (CheckpointID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return CheckpointID{}, fmt.Errorf("invalid checkpoint ID: %w", err)
	}
	return CheckpointID{value: id}, nil
}

// String returns the string representation.
func (c CheckpointID) String() string { return c.value.String() }

// IsZero returns true if this is the zero value.
func (c CheckpointID) IsZero() bool { return c.value == uuid.Nil }

// Equals checks if two CheckpointIDs are equal.
func (c CheckpointID) Equals(other CheckpointID) bool { return c.value == other.value }

// MarshalJSON implements json.Marshaler.
func (c CheckpointID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.value.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *CheckpointID) UnmarshalJSON(data []byte) error {
	id, err := unmarshalID(data, "checkpoint")
	if err != nil {
		return err
	}
	c.value = id
	return nil
}
