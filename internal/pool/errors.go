// Package pool maintains bounded sets of warm sandbox instances so
// concurrent calls to one plugin do not pay instantiation cost.
package pool

import (
	"fmt"
	"time"

	"github.com/caplet-dev/caplet/internal/values"
)

// LimitReachedError indicates the pool cannot grow past max_instances.
type LimitReachedError struct {
	Plugin values.PluginID
	Max    int
}

func (e *LimitReachedError) Error() string {
	return fmt.Sprintf("instance pool for %s at limit (%d)", e.Plugin, e.Max)
}

// AcquisitionTimeoutError indicates no instance became available
// within the wait timeout.
type AcquisitionTimeoutError struct {
	Plugin values.PluginID
	Wait   time.Duration
}

func (e *AcquisitionTimeoutError) Error() string {
	return fmt.Sprintf("timed out acquiring instance of %s after %dms", e.Plugin, e.Wait.Milliseconds())
}

// CreationError indicates instantiation failed while growing the pool.
type CreationError struct {
	Plugin values.PluginID
	Cause  error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("failed to create instance of %s: %v", e.Plugin, e.Cause)
}

func (e *CreationError) Unwrap() error { return e.Cause }

// ShuttingDownError indicates the pool no longer hands out instances.
type ShuttingDownError struct {
	Plugin values.PluginID
}

func (e *ShuttingDownError) Error() string {
	return fmt.Sprintf("instance pool for %s is shutting down", e.Plugin)
}
