// Package plugin owns plugin metadata, manifests, the registry, and
// the manager that drives the lifecycle state machine.
package plugin

import (
	"fmt"

	"github.com/caplet-dev/caplet/internal/values"
)

// NotFoundError indicates no plugin with the given ID or name.
type NotFoundError struct {
	ID   values.PluginID
	Name string
}

func (e *NotFoundError) Error() string {
	if e.Name != "" {
		return "plugin not found: " + e.Name
	}
	return "plugin not found: " + e.ID.String()
}

// AlreadyLoadedError indicates a plugin with this name is registered.
type AlreadyLoadedError struct {
	Name string
}

func (e *AlreadyLoadedError) Error() string {
	return "plugin already loaded: " + e.Name
}

// InvalidStateError indicates an illegal lifecycle transition. The
// plugin's state is not mutated.
type InvalidStateError struct {
	Current  values.PluginState
	Expected values.PluginState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("plugin in invalid state: current %s, expected %s", e.Current, e.Expected)
}

// PausedError indicates a call against a paused plugin.
type PausedError struct {
	Plugin values.PluginID
}

func (e *PausedError) Error() string {
	return fmt.Sprintf("plugin %s is paused", e.Plugin)
}

// UpgradingError indicates a call raced a reload.
type UpgradingError struct {
	Plugin values.PluginID
}

func (e *UpgradingError) Error() string {
	return fmt.Sprintf("plugin %s is upgrading", e.Plugin)
}

// ExecutionError wraps a failure inside plugin code.
type ExecutionError struct {
	Plugin values.PluginID
	Detail string
	Cause  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("plugin %s execution failed: %s", e.Plugin, e.Detail)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// ManifestError indicates a manifest that failed validation.
type ManifestError struct {
	Detail string
	Cause  error
}

func (e *ManifestError) Error() string {
	return "invalid manifest: " + e.Detail
}

func (e *ManifestError) Unwrap() error { return e.Cause }
