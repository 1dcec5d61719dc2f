package policy

import (
	"github.com/caplet-dev/caplet/internal/values"
)

// Effect is the outcome of a policy evaluation.
type Effect string

const (
	// EffectAllow permits the request.
	EffectAllow Effect = "allow"

	// EffectDeny refuses the request.
	EffectDeny Effect = "deny"

	// EffectAllowWithAudit permits the request but marks it for audit.
	EffectAllowWithAudit Effect = "allow_with_audit"
)

// Decision carries the effect plus the matched rule for audit.
type Decision struct {
	Effect Effect
	Reason string
	RuleID string

	// Limit is the matched rule's maxAmount, set only by EvaluateResource.
	Limit uint64
}

// Engine evaluates requests against the rule store. Rules are consulted
// in declaration order; the first match wins. With no match the default
// is allow: the capability layer is the authoritative denial surface
// and policy only overlays further restriction or audit.
type Engine struct {
	store *Store
}

// NewEngine creates an engine over the given store.
func NewEngine(store *Store) *Engine {
	return &Engine{store: store}
}

// Store exposes the rule store for administration.
func (e *Engine) Store() *Store { return e.store }

// EvaluateFile evaluates a file access.
func (e *Engine) EvaluateFile(plugin values.PluginID, path string, write bool) Decision {
	for _, rule := range e.store.All() {
		r, ok := rule.(*FileRule)
		if !ok {
			continue
		}
		action, matched := r.match(plugin, path, write)
		if !matched {
			continue
		}
		return decisionFor(action, r.ID(), r.Description())
	}
	return Decision{Effect: EffectAllow}
}

// EvaluateNetwork evaluates a network access.
func (e *Engine) EvaluateNetwork(plugin values.PluginID, host string, port uint16, listen bool) Decision {
	for _, rule := range e.store.All() {
		r, ok := rule.(*NetworkRule)
		if !ok {
			continue
		}
		action, matched := r.match(plugin, host, port, listen)
		if !matched {
			continue
		}
		return decisionFor(action, r.ID(), r.Description())
	}
	return Decision{Effect: EffectAllow}
}

// EvaluateResource evaluates measured resource usage against limit
// rules. The matched rule's maxAmount is carried on the decision so
// callers can report it alongside the violation.
func (e *Engine) EvaluateResource(plugin values.PluginID, resource ResourceType, amount uint64) Decision {
	for _, rule := range e.store.All() {
		r, ok := rule.(*ResourceLimitRule)
		if !ok {
			continue
		}
		action, matched := r.match(plugin, resource, amount)
		if !matched {
			continue
		}
		dec := decisionFor(action, r.ID(), r.Description())
		dec.Limit = r.maxAmount
		return dec
	}
	return Decision{Effect: EffectAllow}
}

func decisionFor(action Action, ruleID, description string) Decision {
	switch action {
	case ActionDeny:
		return Decision{Effect: EffectDeny, Reason: description, RuleID: ruleID}
	case ActionLog:
		return Decision{Effect: EffectAllowWithAudit, Reason: description, RuleID: ruleID}
	default:
		return Decision{Effect: EffectAllow, Reason: description, RuleID: ruleID}
	}
}
