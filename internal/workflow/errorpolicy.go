package workflow

import "time"

// PolicyKind selects how a node failure is handled.
type PolicyKind string

const (
	// PolicyFail propagates the failure: the execution fails.
	// This is the default when no policy is set.
	PolicyFail PolicyKind = "fail"

	// PolicySkip marks the node failed and continues the execution;
	// downstream nodes are skipped.
	PolicySkip PolicyKind = "skip"

	// PolicyRetry retries up to MaxRetries with the configured backoff
	// before falling back to Fail.
	PolicyRetry PolicyKind = "retry"
)

// BackoffKind selects the delay progression between retries.
type BackoffKind string

const (
	BackoffNone        BackoffKind = "none"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// ErrorPolicy is a node's failure handling configuration.
type ErrorPolicy struct {
	Kind       PolicyKind    `json:"kind,omitempty"`
	MaxRetries int           `json:"max_retries,omitempty"`
	Backoff    BackoffKind   `json:"backoff,omitempty"`
	Delay      time.Duration `json:"delay,omitempty"`
	MaxDelay   time.Duration `json:"max_delay,omitempty"`
}

// kind returns the effective policy; unset defaults to Fail.
func (p ErrorPolicy) kind() PolicyKind {
	if p.Kind == "" {
		return PolicyFail
	}
	return p.Kind
}

// CalculateBackoff computes the delay before retry number attempt
// (1-based).
func CalculateBackoff(strategy BackoffKind, attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	switch strategy {
	case BackoffLinear:
		delay := time.Duration(attempt) * initialDelay
		if maxDelay > 0 && delay > maxDelay {
			return maxDelay
		}
		return delay
	case BackoffExponential:
		if attempt > 62 {
			return maxDelay
		}
		delay := time.Duration(1<<uint(attempt)) * initialDelay
		if maxDelay > 0 && delay > maxDelay {
			return maxDelay
		}
		return delay
	default:
		return initialDelay
	}
}
