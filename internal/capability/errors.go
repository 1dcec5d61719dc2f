package capability

import (
	"fmt"

	"github.com/caplet-dev/caplet/internal/values"
)

// NotFoundError indicates the capability ID does not exist (or is
// already revoked; revocation removes the record).
type NotFoundError struct {
	ID values.CapabilityID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("capability not found: %s", e.ID)
}

// PermissionDeniedError indicates a request outside the holder's
// authority, or one refused by policy. When policy refused, the policy
// violation is available through Unwrap.
type PermissionDeniedError struct {
	Reason string
	Cause  error
}

func (e *PermissionDeniedError) Error() string {
	return "permission denied: " + e.Reason
}

func (e *PermissionDeniedError) Unwrap() error { return e.Cause }

// CompositionError indicates an illegal combination of capabilities,
// such as joining mismatched variants or composite modes.
type CompositionError struct {
	Detail string
}

func (e *CompositionError) Error() string {
	return "composition error: " + e.Detail
}

// ConstraintError indicates an attenuation that would yield empty
// authority in a dimension the parent had.
type ConstraintError struct {
	Detail string
}

func (e *ConstraintError) Error() string {
	return "constraint error: " + e.Detail
}

// AlreadyGrantedError indicates the plugin already holds an
// extensionally equal capability.
type AlreadyGrantedError struct {
	Plugin values.PluginID
}

func (e *AlreadyGrantedError) Error() string {
	return fmt.Sprintf("capability already granted to plugin %s", e.Plugin)
}

// NotGrantedError indicates the plugin does not hold the capability.
type NotGrantedError struct {
	Plugin values.PluginID
	ID     values.CapabilityID
}

func (e *NotGrantedError) Error() string {
	return fmt.Sprintf("capability %s not granted to plugin %s", e.ID, e.Plugin)
}

func denied(format string, args ...any) *PermissionDeniedError {
	return &PermissionDeniedError{Reason: fmt.Sprintf(format, args...)}
}
