package capability

// Kind tags the capability variants.
type Kind string

const (
	// KindFile grants filesystem access under a set of path prefixes.
	KindFile Kind = "file"

	// KindNetwork grants outbound and/or inbound network access.
	KindNetwork Kind = "network"

	// KindMessage grants send authority per counterparty and topic.
	KindMessage Kind = "message"

	// KindPluginCall grants invocation of other plugins' functions.
	KindPluginCall Kind = "plugin_call"

	// KindComposite combines children under All or Any semantics.
	KindComposite Kind = "composite"
)

// Capability is an unforgeable, parameterised authority token. The
// variant set is closed; the only implementations live in this package.
//
// Capabilities are immutable values: Constrain returns a new capability
// and leaves the receiver unchanged.
type Capability interface {
	// Kind returns the variant tag.
	Kind() Kind

	// Permits returns nil when the request is within this capability's
	// authority, or a *PermissionDeniedError explaining why not.
	Permits(req AccessRequest) error

	// Constrain derives a monotonically weaker capability. Every request
	// the result permits is also permitted by the receiver. A constraint
	// that would empty a dimension the receiver had is rejected with a
	// *ConstraintError.
	Constrain(c Constraints) (Capability, error)

	// Split returns the minimal independent children that together cover
	// the same authority. Capabilities that cannot be divided return a
	// single-element slice containing themselves.
	Split() []Capability

	// Join merges this capability with another of the same kind into one
	// covering the union of both authorities. Mismatched kinds fail with
	// a *CompositionError.
	Join(other Capability) (Capability, error)

	// Equal reports extensional equality: same variant, same parameters.
	Equal(other Capability) bool

	sealedCapability()
}

// Constraints narrows a capability during attenuation. Only the fields
// relevant to the target variant are consulted; nil fields leave the
// corresponding dimension unchanged.
type Constraints struct {
	// File: restrict to these paths (each must lie within a parent path)
	// and/or clear operation bits.
	Paths   []string
	Read    *bool
	Write   *bool
	Execute *bool

	// Network: restrict hosts, ports, and/or operation bits.
	Hosts   []string
	Ports   []PortRange
	Connect *bool
	Listen  *bool

	// Message: restrict recipients to a subset of topics.
	Topics map[string][]string

	// PluginCall: restrict target plugins to a subset of functions.
	Functions map[string][]string
}

func boolAnd(current bool, c *bool) bool {
	if c == nil {
		return current
	}
	return current && *c
}
