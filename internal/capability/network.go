package capability

import (
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// PortRange is an inclusive range of ports. A single port is a range
// with Lo == Hi.
type PortRange struct {
	Lo uint16 `json:"lo"`
	Hi uint16 `json:"hi"`
}

// Port returns a single-port range.
func Port(p uint16) PortRange { return PortRange{Lo: p, Hi: p} }

// Contains reports whether p lies within the range.
func (r PortRange) Contains(p uint16) bool { return p >= r.Lo && p <= r.Hi }

// Intersect clips two ranges; ok is false when they do not overlap.
func (r PortRange) Intersect(o PortRange) (PortRange, bool) {
	lo, hi := r.Lo, r.Hi
	if o.Lo > lo {
		lo = o.Lo
	}
	if o.Hi < hi {
		hi = o.Hi
	}
	if lo > hi {
		return PortRange{}, false
	}
	return PortRange{Lo: lo, Hi: hi}, true
}

func (r PortRange) String() string {
	if r.Lo == r.Hi {
		return fmt.Sprintf("%d", r.Lo)
	}
	return fmt.Sprintf("%d-%d", r.Lo, r.Hi)
}

// Network grants network access to a set of host patterns and port
// ranges. A host pattern is an exact hostname or a "*.domain" wildcard
// matching the domain and any subdomain.
type Network struct {
	hosts   mapset.Set[string]
	ports   []PortRange
	connect bool
	listen  bool
}

// NewNetwork creates a network capability.
func NewNetwork(hosts []string, ports []PortRange, connect, listen bool) *Network {
	set := mapset.NewSet[string]()
	for _, h := range hosts {
		set.Add(strings.ToLower(h))
	}
	return &Network{hosts: set, ports: normalizeRanges(ports), connect: connect, listen: listen}
}

// NetworkOutbound creates a connect-only network capability.
func NetworkOutbound(hosts []string, ports ...PortRange) *Network {
	return NewNetwork(hosts, ports, true, false)
}

// Kind implements Capability.
func (n *Network) Kind() Kind { return KindNetwork }

// Hosts returns the allowed host patterns.
func (n *Network) Hosts() []string { return sortedSlice(n.hosts) }

// Ports returns the allowed port ranges.
func (n *Network) Ports() []PortRange {
	out := make([]PortRange, len(n.ports))
	copy(out, n.ports)
	return out
}

// CanConnect reports whether outbound connections are allowed.
func (n *Network) CanConnect() bool { return n.connect }

// CanListen reports whether listening is allowed.
func (n *Network) CanListen() bool { return n.listen }

// Permits implements Capability.
func (n *Network) Permits(req AccessRequest) error {
	r, ok := req.(NetworkRequest)
	if !ok {
		return denied("network capability does not cover %T request", req)
	}
	if r.Connect && !n.connect {
		return denied("outbound connections not granted")
	}
	if r.Listen && !n.listen {
		return denied("listening not granted")
	}
	host := strings.ToLower(r.Host)
	matched := false
	n.hosts.Each(func(pattern string) bool {
		if hostMatches(host, pattern) {
			matched = true
			return true
		}
		return false
	})
	if !matched {
		return denied("host %s is not in the allowed set", r.Host)
	}
	if len(n.ports) > 0 {
		inRange := false
		for _, pr := range n.ports {
			if pr.Contains(r.Port) {
				inRange = true
				break
			}
		}
		if !inRange {
			return denied("port %d is not in an allowed range", r.Port)
		}
	}
	return nil
}

// Constrain implements Capability.
func (n *Network) Constrain(c Constraints) (Capability, error) {
	hosts := n.hosts
	if c.Hosts != nil {
		hosts = mapset.NewSet[string]()
		for _, h := range c.Hosts {
			pattern := strings.ToLower(h)
			n.hosts.Each(func(parent string) bool {
				if patternCovers(parent, pattern) {
					hosts.Add(pattern)
					return true
				}
				return false
			})
		}
		if hosts.Cardinality() == 0 && n.hosts.Cardinality() > 0 {
			return nil, &ConstraintError{Detail: "no constrained host lies within the parent host patterns"}
		}
	}

	ports := n.ports
	if c.Ports != nil {
		ports = nil
		for _, cr := range c.Ports {
			if len(n.ports) == 0 {
				// Parent was unrestricted on ports.
				ports = append(ports, cr)
				continue
			}
			for _, pr := range n.ports {
				if clipped, ok := cr.Intersect(pr); ok {
					ports = append(ports, clipped)
				}
			}
		}
		if len(ports) == 0 {
			return nil, &ConstraintError{Detail: "constrained port ranges do not overlap the parent ranges"}
		}
		ports = normalizeRanges(ports)
	}

	connect := boolAnd(n.connect, c.Connect)
	listen := boolAnd(n.listen, c.Listen)
	if !connect && !listen && (n.connect || n.listen) {
		return nil, &ConstraintError{Detail: "constraint clears every network operation the parent had"}
	}

	return &Network{hosts: hosts, ports: ports, connect: connect, listen: listen}, nil
}

// Split implements Capability. A network capability is already minimal.
func (n *Network) Split() []Capability {
	return []Capability{n.clone()}
}

// Join implements Capability.
func (n *Network) Join(other Capability) (Capability, error) {
	o, ok := other.(*Network)
	if !ok {
		return nil, &CompositionError{Detail: "cannot join network capability with " + string(other.Kind())}
	}
	return &Network{
		hosts:   n.hosts.Union(o.hosts),
		ports:   normalizeRanges(append(n.Ports(), o.Ports()...)),
		connect: n.connect || o.connect,
		listen:  n.listen || o.listen,
	}, nil
}

// Equal implements Capability.
func (n *Network) Equal(other Capability) bool {
	o, ok := other.(*Network)
	if !ok {
		return false
	}
	if n.connect != o.connect || n.listen != o.listen || !n.hosts.Equal(o.hosts) {
		return false
	}
	if len(n.ports) != len(o.ports) {
		return false
	}
	for i := range n.ports {
		if n.ports[i] != o.ports[i] {
			return false
		}
	}
	return true
}

func (n *Network) clone() *Network {
	return &Network{hosts: n.hosts.Clone(), ports: n.Ports(), connect: n.connect, listen: n.listen}
}

func (*Network) sealedCapability() {}

// hostMatches reports whether host matches pattern. "*.example.com"
// matches example.com and any subdomain of it.
func hostMatches(host, pattern string) bool {
	if host == pattern {
		return true
	}
	if domain, ok := strings.CutPrefix(pattern, "*."); ok {
		return host == domain || strings.HasSuffix(host, "."+domain)
	}
	return false
}

// patternCovers reports whether every host matched by child is also
// matched by parent. Used during attenuation.
func patternCovers(parent, child string) bool {
	if childDomain, ok := strings.CutPrefix(child, "*."); ok {
		// A wildcard child is only covered by a wildcard parent whose
		// domain is the child domain or an ancestor of it.
		parentDomain, parentWild := strings.CutPrefix(parent, "*.")
		if !parentWild {
			return false
		}
		return childDomain == parentDomain || strings.HasSuffix(childDomain, "."+parentDomain)
	}
	return hostMatches(child, parent)
}

func normalizeRanges(ranges []PortRange) []PortRange {
	if len(ranges) == 0 {
		return nil
	}
	out := make([]PortRange, len(ranges))
	copy(out, ranges)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Lo != out[j].Lo {
			return out[i].Lo < out[j].Lo
		}
		return out[i].Hi < out[j].Hi
	})
	merged := out[:1]
	for _, r := range out[1:] {
		last := &merged[len(merged)-1]
		if r.Lo <= last.Hi || (last.Hi < 65535 && r.Lo == last.Hi+1) {
			if r.Hi > last.Hi {
				last.Hi = r.Hi
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}
