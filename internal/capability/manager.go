package capability

import (
	"log/slog"

	"github.com/caplet-dev/caplet/internal/audit"
	"github.com/caplet-dev/caplet/internal/metrics"
	"github.com/caplet-dev/caplet/internal/policy"
	"github.com/caplet-dev/caplet/internal/values"
)

// Manager grants, attenuates, revokes, and checks capabilities. Every
// check also consults the policy engine and appends an audit record.
type Manager struct {
	store   *Store
	policy  *policy.Engine
	audit   *audit.Log
	metrics *metrics.Metrics
}

// NewManager creates a capability manager. The policy engine and audit
// log are required collaborators; metrics may be nil.
func NewManager(store *Store, engine *policy.Engine, log *audit.Log, m *metrics.Metrics) *Manager {
	return &Manager{store: store, policy: engine, audit: log, metrics: m}
}

// Grant issues a fresh capability to the plugin, subject to policy.
// Granting a capability the plugin already holds (extensionally equal)
// fails with AlreadyGrantedError.
func (m *Manager) Grant(plugin values.PluginID, cap Capability) (values.CapabilityID, error) {
	if dec, denied := m.policyRefusesGrant(plugin, cap); denied {
		m.metrics.PolicyDenied()
		slog.Warn("capability grant refused by policy",
			"plugin", plugin, "kind", cap.Kind(), "rule", dec.RuleID)
		return values.CapabilityID{}, &PermissionDeniedError{
			Reason: "policy refuses the access this capability would grant: " + dec.Reason,
			Cause:  m.policyViolation(cap, dec),
		}
	}
	if m.store.Holds(plugin, cap) {
		return values.CapabilityID{}, &AlreadyGrantedError{Plugin: plugin}
	}
	id := m.store.Add(plugin, cap)
	slog.Debug("capability granted", "plugin", plugin, "capability", id, "kind", cap.Kind())
	return id, nil
}

// Check decides whether the plugin may perform the request. The
// capability layer is consulted first, then the policy overlay; the
// decision is always audited.
func (m *Manager) Check(plugin values.PluginID, req AccessRequest) error {
	resource, action := req.Describe()

	if err := m.store.Permits(plugin, req); err != nil {
		m.record(plugin, resource, action, audit.DecisionDeny, "", err.Error())
		m.metrics.CheckRecorded("deny")
		return err
	}

	dec := m.evaluatePolicy(plugin, req)
	switch dec.Effect {
	case policy.EffectDeny:
		m.record(plugin, resource, action, audit.DecisionDeny, dec.RuleID, "policy: "+dec.Reason)
		m.metrics.CheckRecorded("deny")
		m.metrics.PolicyDenied()
		return &PermissionDeniedError{
			Reason: "denied by policy rule " + dec.RuleID,
			Cause:  m.policyViolationForRequest(req, dec),
		}
	case policy.EffectAllowWithAudit:
		m.record(plugin, resource, action, audit.DecisionAudit, dec.RuleID, dec.Reason)
		m.metrics.CheckRecorded("audit")
		return nil
	default:
		m.record(plugin, resource, action, audit.DecisionAllow, dec.RuleID, "")
		m.metrics.CheckRecorded("allow")
		return nil
	}
}

// Attenuate derives a monotonically weaker capability from an existing
// one. The derived capability becomes a descendant of the parent in the
// derivation tree and is revoked with it.
func (m *Manager) Attenuate(plugin values.PluginID, id values.CapabilityID, c Constraints) (values.CapabilityID, error) {
	owner, parent, err := m.store.Get(id)
	if err != nil {
		return values.CapabilityID{}, err
	}
	if !owner.Equals(plugin) {
		return values.CapabilityID{}, &NotGrantedError{Plugin: plugin, ID: id}
	}
	child, err := parent.Constrain(c)
	if err != nil {
		return values.CapabilityID{}, err
	}
	childID, err := m.store.AddDerived(plugin, id, child)
	if err != nil {
		return values.CapabilityID{}, err
	}
	slog.Debug("capability attenuated", "plugin", plugin, "parent", id, "child", childID)
	return childID, nil
}

// Revoke invalidates the capability and every descendant derived from
// it, atomically with respect to subsequent checks.
func (m *Manager) Revoke(id values.CapabilityID) error {
	if err := m.store.Remove(id); err != nil {
		return err
	}
	slog.Debug("capability revoked", "capability", id)
	return nil
}

// CheckResourceUsage evaluates measured resource consumption against
// policy's ResourceLimit rules. No capability governs resource usage,
// so this is policy-only, but the decision is audited like any other
// check so ResourceLimitExceeded denials are visible in the ring
// buffer alongside file and network denials.
func (m *Manager) CheckResourceUsage(plugin values.PluginID, resource policy.ResourceType, amount uint64) error {
	resourceTag := "resource:" + string(resource)
	dec := m.policy.EvaluateResource(plugin, resource, amount)
	switch dec.Effect {
	case policy.EffectDeny:
		m.record(plugin, resourceTag, "exceed", audit.DecisionDeny, dec.RuleID, dec.Reason)
		m.metrics.CheckRecorded("deny")
		m.metrics.PolicyDenied()
		return &PermissionDeniedError{
			Reason: "denied by policy rule " + dec.RuleID,
			Cause:  &policy.ResourceLimitExceededError{Resource: resource, Amount: amount, Limit: dec.Limit},
		}
	case policy.EffectAllowWithAudit:
		m.record(plugin, resourceTag, "exceed", audit.DecisionAudit, dec.RuleID, dec.Reason)
		m.metrics.CheckRecorded("audit")
		return nil
	default:
		m.record(plugin, resourceTag, "exceed", audit.DecisionAllow, dec.RuleID, "")
		m.metrics.CheckRecorded("allow")
		return nil
	}
}

// List returns every capability held by the plugin.
func (m *Manager) List(plugin values.PluginID) []Granted {
	return m.store.List(plugin)
}

// Clear drops every capability held by the plugin. Called on unload.
func (m *Manager) Clear(plugin values.PluginID) {
	m.store.Clear(plugin)
	slog.Debug("capabilities cleared", "plugin", plugin)
}

// Audit exposes the audit log for querying.
func (m *Manager) Audit() *audit.Log { return m.audit }

func (m *Manager) record(plugin values.PluginID, resource, action string, decision audit.Decision, ruleID, detail string) {
	m.audit.Append(audit.Record{
		Plugin:   plugin,
		Resource: resource,
		Action:   action,
		Decision: decision,
		RuleID:   ruleID,
		Detail:   detail,
	})
}

func (m *Manager) evaluatePolicy(plugin values.PluginID, req AccessRequest) policy.Decision {
	switch r := req.(type) {
	case FileRequest:
		return m.policy.EvaluateFile(plugin, r.Path, r.Write)
	case NetworkRequest:
		return m.policy.EvaluateNetwork(plugin, r.Host, r.Port, r.Listen)
	default:
		// Message and plugin-call requests have no policy rule kind;
		// the capability layer is their only gate.
		return policy.Decision{Effect: policy.EffectAllow}
	}
}

// policyRefusesGrant evaluates the accesses a capability would imply.
// A grant is refused when policy denies any of them outright.
func (m *Manager) policyRefusesGrant(plugin values.PluginID, cap Capability) (policy.Decision, bool) {
	switch c := cap.(type) {
	case *File:
		for _, path := range c.Paths() {
			if c.CanWrite() {
				if dec := m.policy.EvaluateFile(plugin, path, true); dec.Effect == policy.EffectDeny {
					return dec, true
				}
			}
			if c.CanRead() || c.CanExecute() {
				if dec := m.policy.EvaluateFile(plugin, path, false); dec.Effect == policy.EffectDeny {
					return dec, true
				}
			}
		}
	case *Network:
		ports := c.Ports()
		if len(ports) == 0 {
			ports = []PortRange{{Lo: 0, Hi: 0}}
		}
		for _, host := range c.Hosts() {
			for _, pr := range ports {
				if c.CanConnect() {
					if dec := m.policy.EvaluateNetwork(plugin, host, pr.Lo, false); dec.Effect == policy.EffectDeny {
						return dec, true
					}
				}
				if c.CanListen() {
					if dec := m.policy.EvaluateNetwork(plugin, host, pr.Lo, true); dec.Effect == policy.EffectDeny {
						return dec, true
					}
				}
			}
		}
	case *Composite:
		for _, child := range c.Children() {
			if dec, denied := m.policyRefusesGrant(plugin, child); denied {
				return dec, true
			}
		}
	}
	return policy.Decision{Effect: policy.EffectAllow}, false
}

func (m *Manager) policyViolation(cap Capability, dec policy.Decision) error {
	switch cap.Kind() {
	case KindNetwork:
		return &policy.NetworkAccessViolationError{Reason: dec.Reason}
	default:
		return &policy.FileAccessViolationError{Reason: dec.Reason}
	}
}

func (m *Manager) policyViolationForRequest(req AccessRequest, dec policy.Decision) error {
	switch r := req.(type) {
	case FileRequest:
		return &policy.FileAccessViolationError{Path: r.Path, Reason: dec.Reason}
	case NetworkRequest:
		return &policy.NetworkAccessViolationError{Host: r.Host, Port: r.Port, Reason: dec.Reason}
	default:
		return nil
	}
}
