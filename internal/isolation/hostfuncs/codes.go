package hostfuncs

import (
	"context"
	"errors"

	"github.com/caplet-dev/caplet/internal/capability"
	"github.com/caplet-dev/caplet/internal/policy"
)

// Host-call failures reach the plugin as negative i32 return values;
// positive values are byte counts or descriptors.
const (
	CodeErr               int32 = -1
	CodeCapabilityDenied  int32 = -2
	CodePolicyDenied      int32 = -3
	CodeTimeout           int32 = -4
	CodeResourceExhausted int32 = -5
)

// errorCode maps a host-side failure to its wire code.
func errorCode(err error) int32 {
	if err == nil {
		return 0
	}
	var limitExceeded *policy.ResourceLimitExceededError
	if errors.As(err, &limitExceeded) {
		return CodeResourceExhausted
	}
	var pd *capability.PermissionDeniedError
	if errors.As(err, &pd) {
		var fileViolation *policy.FileAccessViolationError
		var netViolation *policy.NetworkAccessViolationError
		if errors.As(err, &fileViolation) || errors.As(err, &netViolation) {
			return CodePolicyDenied
		}
		return CodeCapabilityDenied
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeErr
}
