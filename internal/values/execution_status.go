package values

// ExecutionStatus is the status of a workflow execution.
// Transitions are monotonic except for the Paused/Running pair.
type ExecutionStatus string

const (
	// ExecutionPending means the execution is created but not started.
	ExecutionPending ExecutionStatus = "pending"

	// ExecutionRunning means nodes are being scheduled.
	ExecutionRunning ExecutionStatus = "running"

	// ExecutionPaused means in-flight nodes finish but no new nodes start.
	ExecutionPaused ExecutionStatus = "paused"

	// ExecutionCompleted means every node finished successfully or was skipped.
	ExecutionCompleted ExecutionStatus = "completed"

	// ExecutionFailed means a node failed with a Fail error policy.
	ExecutionFailed ExecutionStatus = "failed"

	// ExecutionCancelled means the execution was cancelled by the caller.
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// String returns the status name.
func (s ExecutionStatus) String() string { return string(s) }

// IsTerminal reports whether the execution can make no further progress.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// CanTransitionTo reports whether the status change is legal.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	switch s {
	case ExecutionPending:
		return next == ExecutionRunning || next == ExecutionCancelled
	case ExecutionRunning:
		return next == ExecutionPaused || next.IsTerminal()
	case ExecutionPaused:
		return next == ExecutionRunning || next == ExecutionCancelled
	default:
		return false
	}
}
