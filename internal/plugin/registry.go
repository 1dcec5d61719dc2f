package plugin

import (
	"sort"
	"sync"

	"github.com/caplet-dev/caplet/internal/values"
)

// Metadata is the runtime record for one plugin. State is the single
// source of truth for the lifecycle machine; it is mutated only through
// the registry under its write lock.
type Metadata struct {
	ID                   values.PluginID    `json:"id"`
	Name                 string             `json:"name"`
	Version              string             `json:"version"`
	Description          string             `json:"description,omitempty"`
	SourceLocation       string             `json:"source_location"`
	DeclaredCapabilities []CapabilityDecl   `json:"declared_capabilities,omitempty"`
	ResourceLimits       ResourceLimits     `json:"resource_limits"`
	State                values.PluginState `json:"state"`
}

// Registry maps plugin IDs to metadata with a secondary name index.
type Registry struct {
	mu     sync.RWMutex
	byID   map[values.PluginID]*Metadata
	byName map[string]values.PluginID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[values.PluginID]*Metadata),
		byName: make(map[string]values.PluginID),
	}
}

// Register records a plugin. A duplicate name fails with
// AlreadyLoadedError.
func (r *Registry) Register(meta Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[meta.Name]; taken {
		return &AlreadyLoadedError{Name: meta.Name}
	}
	stored := meta
	r.byID[meta.ID] = &stored
	r.byName[meta.Name] = meta.ID
	return nil
}

// Get returns a copy of the plugin's metadata.
func (r *Registry) Get(id values.PluginID) (Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.byID[id]
	if !ok {
		return Metadata{}, &NotFoundError{ID: id}
	}
	return *meta, nil
}

// GetByName resolves a plugin name.
func (r *Registry) GetByName(name string) (Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return Metadata{}, &NotFoundError{Name: name}
	}
	return *r.byID[id], nil
}

// List returns every plugin's metadata, sorted by name.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.byID))
	for _, meta := range r.byID {
		out = append(out, *meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// State returns the plugin's current lifecycle state.
func (r *Registry) State(id values.PluginID) (values.PluginState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.byID[id]
	if !ok {
		return "", &NotFoundError{ID: id}
	}
	return meta.State, nil
}

// Transition moves the plugin to next, failing with InvalidStateError
// (and leaving state untouched) when the lifecycle machine forbids it.
func (r *Registry) Transition(id values.PluginID, next values.PluginState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.byID[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	if !meta.State.CanTransitionTo(next) {
		return &InvalidStateError{Current: meta.State, Expected: next}
	}
	meta.State = next
	return nil
}

// Remove forgets the plugin entirely, freeing its name.
func (r *Registry) Remove(id values.PluginID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byName, meta.Name)
	delete(r.byID, id)
}
