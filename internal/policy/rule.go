// Package policy implements the policy overlay: an ordered rule set
// evaluated on every capability-mediated request, able to further deny
// or audit what the capability layer would permit.
package policy

import (
	"regexp"

	"github.com/caplet-dev/caplet/internal/values"
)

// Action is what a matched rule decides.
type Action string

const (
	// ActionAllow allows the request.
	ActionAllow Action = "allow"

	// ActionDeny denies the request.
	ActionDeny Action = "deny"

	// ActionLog allows the request but flags it for audit.
	ActionLog Action = "log"
)

// ResourceType names a metered resource for limit rules.
type ResourceType string

const (
	ResourceMemory ResourceType = "memory"
	ResourceCPU    ResourceType = "cpu"
	ResourceFuel   ResourceType = "fuel"
	ResourceTime   ResourceType = "time"
)

// Rule is a single policy rule. Rules are evaluated in declaration
// order; the first rule whose scope and predicate match determines the
// decision.
type Rule interface {
	// ID returns the rule's name.
	ID() string

	// Description returns a human-readable summary.
	Description() string

	// appliesTo reports whether the rule is scoped to this plugin.
	appliesTo(plugin values.PluginID) bool
}

type baseRule struct {
	id          string
	description string
	plugins     *regexp.Regexp // nil = every plugin
}

func (b baseRule) ID() string          { return b.id }
func (b baseRule) Description() string { return b.description }

func (b baseRule) appliesTo(plugin values.PluginID) bool {
	return b.plugins == nil || b.plugins.MatchString(plugin.String())
}

// FileRule matches file accesses by path regex and operation bits.
type FileRule struct {
	baseRule
	path   *regexp.Regexp
	read   bool
	write  bool
	action Action
}

// NewFileRule creates a file rule. The path pattern is a regular
// expression matched against the requested path.
func NewFileRule(id, description, pathPattern string, read, write bool, action Action) (*FileRule, error) {
	path, err := regexp.Compile(pathPattern)
	if err != nil {
		return nil, err
	}
	return &FileRule{
		baseRule: baseRule{id: id, description: description},
		path:     path,
		read:     read,
		write:    write,
		action:   action,
	}, nil
}

// WithPluginPattern scopes the rule to plugins whose ID matches pattern.
func (r *FileRule) WithPluginPattern(pattern string) (*FileRule, error) {
	plugins, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	r.plugins = plugins
	return r, nil
}

func (r *FileRule) match(plugin values.PluginID, path string, write bool) (Action, bool) {
	if !r.appliesTo(plugin) {
		return "", false
	}
	if write && !r.write || !write && !r.read {
		return "", false
	}
	if !r.path.MatchString(path) {
		return "", false
	}
	return r.action, true
}

// NetworkRule matches network accesses by host regex, optional port
// range, and operation bits.
type NetworkRule struct {
	baseRule
	host    *regexp.Regexp
	ports   *[2]uint16
	connect bool
	listen  bool
	action  Action
}

// NewNetworkRule creates a network rule.
func NewNetworkRule(id, description, hostPattern string, connect, listen bool, action Action) (*NetworkRule, error) {
	host, err := regexp.Compile(hostPattern)
	if err != nil {
		return nil, err
	}
	return &NetworkRule{
		baseRule: baseRule{id: id, description: description},
		host:     host,
		connect:  connect,
		listen:   listen,
		action:   action,
	}, nil
}

// WithPluginPattern scopes the rule to plugins whose ID matches pattern.
func (r *NetworkRule) WithPluginPattern(pattern string) (*NetworkRule, error) {
	plugins, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	r.plugins = plugins
	return r, nil
}

// WithPortRange limits the rule to ports in [lo, hi].
func (r *NetworkRule) WithPortRange(lo, hi uint16) *NetworkRule {
	r.ports = &[2]uint16{lo, hi}
	return r
}

func (r *NetworkRule) match(plugin values.PluginID, host string, port uint16, listen bool) (Action, bool) {
	if !r.appliesTo(plugin) {
		return "", false
	}
	if listen && !r.listen || !listen && !r.connect {
		return "", false
	}
	if !r.host.MatchString(host) {
		return "", false
	}
	if r.ports != nil && (port < r.ports[0] || port > r.ports[1]) {
		return "", false
	}
	return r.action, true
}

// ResourceLimitRule matches resource usage above a maximum amount.
type ResourceLimitRule struct {
	baseRule
	resource  ResourceType
	maxAmount uint64
	onExceed  Action
}

// NewResourceLimitRule creates a resource limit rule. Usage at or below
// maxAmount is allowed; usage above it triggers onExceed.
func NewResourceLimitRule(id, description string, resource ResourceType, maxAmount uint64, onExceed Action) *ResourceLimitRule {
	return &ResourceLimitRule{
		baseRule:  baseRule{id: id, description: description},
		resource:  resource,
		maxAmount: maxAmount,
		onExceed:  onExceed,
	}
}

// WithPluginPattern scopes the rule to plugins whose ID matches pattern.
func (r *ResourceLimitRule) WithPluginPattern(pattern string) (*ResourceLimitRule, error) {
	plugins, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	r.plugins = plugins
	return r, nil
}

func (r *ResourceLimitRule) match(plugin values.PluginID, resource ResourceType, amount uint64) (Action, bool) {
	if !r.appliesTo(plugin) {
		return "", false
	}
	if resource != r.resource {
		return "", false
	}
	if amount <= r.maxAmount {
		return ActionAllow, true
	}
	return r.onExceed, true
}
