package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/caplet-dev/caplet/internal/values"
)

// Ensure interface compliance.
var _ CheckpointStore = (*FileCheckpointStore)(nil)

// FileCheckpointStore persists checkpoints as a file tree: one
// directory per execution, one JSON document per checkpoint.
type FileCheckpointStore struct {
	root string
}

// NewFileCheckpointStore creates a store rooted at dir, creating it if
// needed.
func NewFileCheckpointStore(dir string) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &PersistenceError{Detail: "cannot create checkpoint root", Cause: err}
	}
	return &FileCheckpointStore{root: dir}, nil
}

func (s *FileCheckpointStore) executionDir(execution values.ExecutionID) string {
	return filepath.Join(s.root, execution.String())
}

func (s *FileCheckpointStore) checkpointPath(execution values.ExecutionID, id values.CheckpointID) string {
	return filepath.Join(s.executionDir(execution), id.String()+".json")
}

// Save implements CheckpointStore. The write goes through a temp file
// and rename so a crash never leaves a torn checkpoint.
func (s *FileCheckpointStore) Save(_ context.Context, cp *Checkpoint) error {
	dir := s.executionDir(cp.ExecutionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &PersistenceError{Detail: "cannot create execution directory", Cause: err}
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return &PersistenceError{Detail: "cannot encode checkpoint", Cause: err}
	}

	path := s.checkpointPath(cp.ExecutionID, cp.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return &PersistenceError{Detail: "cannot write checkpoint", Cause: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &PersistenceError{Detail: "cannot finalise checkpoint", Cause: err}
	}
	return nil
}

// Load implements CheckpointStore.
func (s *FileCheckpointStore) Load(_ context.Context, execution values.ExecutionID, id values.CheckpointID) (*Checkpoint, error) {
	data, err := os.ReadFile(s.checkpointPath(execution, id))
	if err != nil {
		return nil, &PersistenceError{Detail: fmt.Sprintf("cannot read checkpoint %s", id), Cause: err}
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, &PersistenceError{Detail: "cannot decode checkpoint", Cause: err}
	}
	if cp.SchemaVersion != CheckpointSchemaVersion {
		return nil, &PersistenceError{
			Detail: fmt.Sprintf("unsupported checkpoint schema version %d", cp.SchemaVersion),
		}
	}
	return &cp, nil
}

// List implements CheckpointStore. Ordering follows checkpoint
// timestamps.
func (s *FileCheckpointStore) List(ctx context.Context, execution values.ExecutionID) ([]values.CheckpointID, error) {
	entries, err := os.ReadDir(s.executionDir(execution))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &PersistenceError{Detail: "cannot list checkpoints", Cause: err}
	}

	type stamped struct {
		id values.CheckpointID
		at int64
	}
	var found []stamped
	for _, entry := range entries {
		name := entry.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		id, err := values.ParseCheckpointID(name[:len(name)-len(".json")])
		if err != nil {
			continue
		}
		cp, err := s.Load(ctx, execution, id)
		if err != nil {
			continue
		}
		found = append(found, stamped{id: id, at: cp.Timestamp.UnixNano()})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].at < found[j].at })

	out := make([]values.CheckpointID, len(found))
	for i, f := range found {
		out[i] = f.id
	}
	return out, nil
}
