// Package values contains domain value objects that encapsulate
// primitive types with validation and such.
package values

import (
	"fmt"

	"github.com/google/uuid"
)

// PluginID uniquely identifies a loaded plugin.
type PluginID struct {
	value uuid.UUID
}

// NewPluginID creates a new random plugin ID.
func NewPluginID() PluginID {
	return PluginID{value: uuid.New()}
}

// ParsePluginID parses a string into a PluginID.
func ParsePluginID(s string) (PluginID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return PluginID{}, fmt.Errorf("invalid plugin ID: %w", err)
	}
	return PluginID{value: id}, nil
}

// String returns the string representation.
func (p PluginID) String() string { return p.value.String() }

// IsZero returns true if this is the zero value.
func (p PluginID) IsZero() bool { return p.value == uuid.Nil }

// Equals checks if two PluginIDs are equal.
func (p PluginID) Equals(other PluginID) bool { return p.value == other.value }

// MarshalJSON implements json.Marshaler.
func (p PluginID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.value.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PluginID) UnmarshalJSON(data []byte) error {
	id, err := unmarshalID(data, "plugin")
	if err != nil {
		return err
	}
	p.value = id
	return nil
}

// CapabilityID uniquely identifies a granted capability.
// IDs are random and never reused; holding one does not confer
// authority by itself, the capability store is authoritative.
type CapabilityID struct {
	value uuid.UUID
}

// NewCapabilityID creates a new random capability ID.
func NewCapabilityID() CapabilityID {
	return CapabilityID{value: uuid.New()}
}

// ParseCapabilityID parses a string into a CapabilityID.
func ParseCapabilityID(s string) (CapabilityID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return CapabilityID{}, fmt.Errorf("invalid capability ID: %w", err)
	}
	return CapabilityID{value: id}, nil
}

// String returns the string representation.
func (c CapabilityID) String() string { return c.value.String() }

// IsZero returns true if this is the zero value.
func (c CapabilityID) IsZero() bool { return c.value == uuid.Nil }

// Equals checks if two CapabilityIDs are equal.
func (c CapabilityID) Equals(other CapabilityID) bool { return c.value == other.value }

// MarshalJSON implements json.Marshaler.
func (c CapabilityID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.value.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *CapabilityID) UnmarshalJSON(data []byte) error {
	id, err := unmarshalID(data, "capability")
	if err != nil {
		return err
	}
	c.value = id
	return nil
}

func unmarshalID(data []byte, kind string) (uuid.UUID, error) {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return uuid.Nil, fmt.Errorf("invalid %s ID JSON", kind)
	}
	id, err := uuid.Parse(s[1 : len(s)-1])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s ID: %w", kind, err)
	}
	return id, nil
}
