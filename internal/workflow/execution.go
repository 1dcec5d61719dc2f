package workflow

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/caplet-dev/caplet/internal/values"
)

// NodeStatus is the terminal outcome of one node.
type NodeStatus string

const (
	// NodeCompleted means the node produced a result.
	NodeCompleted NodeStatus = "completed"

	// NodeFailed means the node failed after its error policy ran out.
	NodeFailed NodeStatus = "failed"

	// NodeSkipped means an upstream failure or false condition
	// prevented the node from running.
	NodeSkipped NodeStatus = "skipped"
)

// NodeResult records one node's outcome.
type NodeResult struct {
	Status   NodeStatus      `json:"status"`
	Value    json.RawMessage `json:"value,omitempty"`
	Error    string          `json:"error,omitempty"`
	Attempts int             `json:"attempts,omitempty"`
}

// Retries returns how many retries the node consumed (attempts beyond
// the first).
func (r NodeResult) Retries() int {
	if r.Attempts <= 1 {
		return 0
	}
	return r.Attempts - 1
}

// Execution is one run of a workflow. Node results become visible to
// readiness computation only after the node's status is recorded, under
// the execution lock.
type Execution struct {
	ID         values.ExecutionID `json:"id"`
	WorkflowID values.WorkflowID  `json:"workflow_id"`

	mu          sync.Mutex
	status      values.ExecutionStatus
	input       json.RawMessage
	nodeResults map[values.NodeID]NodeResult
	checkpoints []values.CheckpointID
	failure     string

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewExecution creates a pending execution.
func NewExecution(workflowID values.WorkflowID, input json.RawMessage) *Execution {
	now := time.Now().UTC()
	return &Execution{
		ID:          values.NewExecutionID(),
		WorkflowID:  workflowID,
		status:      values.ExecutionPending,
		input:       input,
		nodeResults: make(map[values.NodeID]NodeResult),
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

// Status returns the current status.
func (e *Execution) Status() values.ExecutionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// FailureReason returns the failure detail when status is Failed.
func (e *Execution) FailureReason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failure
}

// Input returns the execution input.
func (e *Execution) Input() json.RawMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.input
}

// transition moves the execution to next, enforcing monotonicity
// (except the Paused/Running pair).
func (e *Execution) transition(next values.ExecutionStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.status.CanTransitionTo(next) {
		return &InvalidStatusError{Current: e.status, Expected: next}
	}
	e.status = next
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// fail moves to Failed and records the reason.
func (e *Execution) fail(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.CanTransitionTo(values.ExecutionFailed) {
		e.status = values.ExecutionFailed
		e.failure = reason
		e.UpdatedAt = time.Now().UTC()
	}
}

// recordResult stores a node outcome.
func (e *Execution) recordResult(node values.NodeID, result NodeResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nodeResults[node] = result
	e.UpdatedAt = time.Now().UTC()
}

// Result returns one node's outcome.
func (e *Execution) Result(node values.NodeID) (NodeResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	result, ok := e.nodeResults[node]
	return result, ok
}

// Results returns a copy of the per-node result map.
func (e *Execution) Results() map[values.NodeID]NodeResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[values.NodeID]NodeResult, len(e.nodeResults))
	for id, result := range e.nodeResults {
		out[id] = result
	}
	return out
}

// Checkpoints returns the checkpoint IDs in creation order.
func (e *Execution) Checkpoints() []values.CheckpointID {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]values.CheckpointID, len(e.checkpoints))
	copy(out, e.checkpoints)
	return out
}

func (e *Execution) addCheckpoint(id values.CheckpointID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkpoints = append(e.checkpoints, id)
}

// snapshot captures the state a checkpoint persists.
func (e *Execution) snapshot() Checkpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	results := make(map[values.NodeID]NodeResult, len(e.nodeResults))
	for id, result := range e.nodeResults {
		results[id] = result
	}
	return Checkpoint{
		ID:            values.NewCheckpointID(),
		ExecutionID:   e.ID,
		WorkflowID:    e.WorkflowID,
		NodeResults:   results,
		Status:        e.status,
		Input:         e.input,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: CheckpointSchemaVersion,
	}
}

// restore overwrites execution state from a checkpoint.
func (e *Execution) restore(cp *Checkpoint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.input = cp.Input
	e.nodeResults = make(map[values.NodeID]NodeResult, len(cp.NodeResults))
	for id, result := range cp.NodeResults {
		e.nodeResults[id] = result
	}
	// A restored execution resumes from Paused regardless of the
	// status it was checkpointed under, unless it already finished.
	if !cp.Status.IsTerminal() {
		e.status = values.ExecutionPaused
	} else {
		e.status = cp.Status
	}
	e.UpdatedAt = time.Now().UTC()
}
