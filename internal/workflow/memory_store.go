package workflow

import (
	"context"
	"sync"

	"github.com/caplet-dev/caplet/internal/values"
)

// Ensure interface compliance.
var _ CheckpointStore = (*MemoryCheckpointStore)(nil)

// MemoryCheckpointStore keeps checkpoints in process memory. Useful for
// tests and ephemeral runs.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[values.ExecutionID]map[values.CheckpointID]*Checkpoint
	order       map[values.ExecutionID][]values.CheckpointID
}

// NewMemoryCheckpointStore creates an empty in-memory store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		checkpoints: make(map[values.ExecutionID]map[values.CheckpointID]*Checkpoint),
		order:       make(map[values.ExecutionID][]values.CheckpointID),
	}
}

// Save implements CheckpointStore.
func (s *MemoryCheckpointStore) Save(_ context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.checkpoints[cp.ExecutionID]
	if !ok {
		byID = make(map[values.CheckpointID]*Checkpoint)
		s.checkpoints[cp.ExecutionID] = byID
	}
	stored := *cp
	byID[cp.ID] = &stored
	s.order[cp.ExecutionID] = append(s.order[cp.ExecutionID], cp.ID)
	return nil
}

// Load implements CheckpointStore.
func (s *MemoryCheckpointStore) Load(_ context.Context, execution values.ExecutionID, id values.CheckpointID) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[execution][id]
	if !ok {
		return nil, &PersistenceError{Detail: "checkpoint " + id.String() + " not found for execution " + execution.String()}
	}
	out := *cp
	return &out, nil
}

// List implements CheckpointStore.
func (s *MemoryCheckpointStore) List(_ context.Context, execution values.ExecutionID) ([]values.CheckpointID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order[execution]
	out := make([]values.CheckpointID, len(ids))
	copy(out, ids)
	return out, nil
}
