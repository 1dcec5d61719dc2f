package capability

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// PluginCall grants invocation of named functions on target plugins.
type PluginCall struct {
	// target plugin name -> callable functions
	targets map[string]mapset.Set[string]
}

// NewPluginCall creates a plugin-call capability from a plugin-to-functions map.
func NewPluginCall(targets map[string][]string) *PluginCall {
	p := &PluginCall{targets: make(map[string]mapset.Set[string], len(targets))}
	for plugin, functions := range targets {
		p.targets[plugin] = mapset.NewSet(functions...)
	}
	return p
}

// Kind implements Capability.
func (p *PluginCall) Kind() Kind { return KindPluginCall }

// Targets returns the callable plugins in stable order.
func (p *PluginCall) Targets() []string {
	out := make([]string, 0, len(p.targets))
	for t := range p.targets {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Functions returns the callable functions on a target plugin.
func (p *PluginCall) Functions(plugin string) []string {
	set, ok := p.targets[plugin]
	if !ok {
		return nil
	}
	return sortedSlice(set)
}

// Permits implements Capability.
func (p *PluginCall) Permits(req AccessRequest) error {
	r, ok := req.(PluginCallRequest)
	if !ok {
		return denied("plugin-call capability does not cover %T request", req)
	}
	functions, ok := p.targets[r.Plugin]
	if !ok {
		return denied("calling plugin %s not granted", r.Plugin)
	}
	if !functions.Contains(r.Function) {
		return denied("function %s not granted on plugin %s", r.Function, r.Plugin)
	}
	return nil
}

// Constrain implements Capability.
func (p *PluginCall) Constrain(c Constraints) (Capability, error) {
	if c.Functions == nil {
		return p.clone(), nil
	}
	next := make(map[string]mapset.Set[string])
	for plugin, functions := range c.Functions {
		parent, ok := p.targets[plugin]
		if !ok {
			continue
		}
		kept := parent.Intersect(mapset.NewSet(functions...))
		if kept.Cardinality() > 0 {
			next[plugin] = kept
		}
	}
	if len(next) == 0 && len(p.targets) > 0 {
		return nil, &ConstraintError{Detail: "constraint leaves no plugin with any callable function"}
	}
	return &PluginCall{targets: next}, nil
}

// Split implements Capability: one child per target plugin.
func (p *PluginCall) Split() []Capability {
	if len(p.targets) <= 1 {
		return []Capability{p.clone()}
	}
	out := make([]Capability, 0, len(p.targets))
	for _, plugin := range p.Targets() {
		out = append(out, &PluginCall{targets: map[string]mapset.Set[string]{
			plugin: p.targets[plugin].Clone(),
		}})
	}
	return out
}

// Join implements Capability: union of targets and functions.
func (p *PluginCall) Join(other Capability) (Capability, error) {
	o, ok := other.(*PluginCall)
	if !ok {
		return nil, &CompositionError{Detail: "cannot join plugin-call capability with " + string(other.Kind())}
	}
	next := make(map[string]mapset.Set[string], len(p.targets)+len(o.targets))
	for plugin, functions := range p.targets {
		next[plugin] = functions.Clone()
	}
	for plugin, functions := range o.targets {
		if existing, ok := next[plugin]; ok {
			next[plugin] = existing.Union(functions)
		} else {
			next[plugin] = functions.Clone()
		}
	}
	return &PluginCall{targets: next}, nil
}

// Equal implements Capability.
func (p *PluginCall) Equal(other Capability) bool {
	o, ok := other.(*PluginCall)
	if !ok || len(p.targets) != len(o.targets) {
		return false
	}
	for plugin, functions := range p.targets {
		otherFunctions, ok := o.targets[plugin]
		if !ok || !functions.Equal(otherFunctions) {
			return false
		}
	}
	return true
}

func (p *PluginCall) clone() *PluginCall {
	next := make(map[string]mapset.Set[string], len(p.targets))
	for plugin, functions := range p.targets {
		next[plugin] = functions.Clone()
	}
	return &PluginCall{targets: next}
}

func (*PluginCall) sealedCapability() {}
