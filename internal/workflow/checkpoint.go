package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/caplet-dev/caplet/internal/values"
)

// CheckpointSchemaVersion is bumped when the checkpoint layout changes.
const CheckpointSchemaVersion = 1

// Checkpoint is a persisted snapshot of an execution from which it can
// be resumed. Addressed by (execution_id, checkpoint_id).
type Checkpoint struct {
	ID            values.CheckpointID           `json:"checkpoint_id"`
	ExecutionID   values.ExecutionID            `json:"execution_id"`
	WorkflowID    values.WorkflowID             `json:"workflow_id"`
	NodeResults   map[values.NodeID]NodeResult  `json:"node_results"`
	Status        values.ExecutionStatus        `json:"status"`
	Input         json.RawMessage               `json:"input,omitempty"`
	Timestamp     time.Time                     `json:"timestamp"`
	SchemaVersion int                           `json:"schema_version"`
}

// CheckpointStore persists checkpoints. The core ships an in-memory
// store and a file-tree store; nothing assumes a database.
type CheckpointStore interface {
	// Save persists a checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error

	// Load retrieves one checkpoint.
	Load(ctx context.Context, execution values.ExecutionID, id values.CheckpointID) (*Checkpoint, error)

	// List returns the checkpoint IDs for an execution, oldest first.
	List(ctx context.Context, execution values.ExecutionID) ([]values.CheckpointID, error)
}
