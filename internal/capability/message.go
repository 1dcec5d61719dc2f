package capability

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Message grants send authority per counterparty and topic.
type Message struct {
	// recipient name -> allowed topics
	recipients map[string]mapset.Set[string]
}

// NewMessage creates a message capability from a recipient-to-topics map.
func NewMessage(recipients map[string][]string) *Message {
	m := &Message{recipients: make(map[string]mapset.Set[string], len(recipients))}
	for recipient, topics := range recipients {
		m.recipients[recipient] = mapset.NewSet(topics...)
	}
	return m
}

// Kind implements Capability.
func (m *Message) Kind() Kind { return KindMessage }

// Recipients returns the allowed recipients in stable order.
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.recipients))
	for r := range m.recipients {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Topics returns the allowed topics for a recipient.
func (m *Message) Topics(recipient string) []string {
	set, ok := m.recipients[recipient]
	if !ok {
		return nil
	}
	return sortedSlice(set)
}

// Permits implements Capability.
func (m *Message) Permits(req AccessRequest) error {
	r, ok := req.(MessageRequest)
	if !ok {
		return denied("message capability does not cover %T request", req)
	}
	topics, ok := m.recipients[r.Recipient]
	if !ok {
		return denied("sending to %s not granted", r.Recipient)
	}
	if !topics.Contains(r.Topic) {
		return denied("topic %s not granted for recipient %s", r.Topic, r.Recipient)
	}
	return nil
}

// Constrain implements Capability. The constraint's topic map selects a
// subset of recipients; each recipient's topics are intersected with
// the parent's.
func (m *Message) Constrain(c Constraints) (Capability, error) {
	if c.Topics == nil {
		return m.clone(), nil
	}
	next := make(map[string]mapset.Set[string])
	for recipient, topics := range c.Topics {
		parent, ok := m.recipients[recipient]
		if !ok {
			continue
		}
		kept := parent.Intersect(mapset.NewSet(topics...))
		if kept.Cardinality() > 0 {
			next[recipient] = kept
		}
	}
	if len(next) == 0 && len(m.recipients) > 0 {
		return nil, &ConstraintError{Detail: "constraint leaves no recipient with any topic"}
	}
	return &Message{recipients: next}, nil
}

// Split implements Capability: one child per recipient.
func (m *Message) Split() []Capability {
	if len(m.recipients) <= 1 {
		return []Capability{m.clone()}
	}
	out := make([]Capability, 0, len(m.recipients))
	for _, recipient := range m.Recipients() {
		out = append(out, &Message{recipients: map[string]mapset.Set[string]{
			recipient: m.recipients[recipient].Clone(),
		}})
	}
	return out
}

// Join implements Capability: union of recipients and topics.
func (m *Message) Join(other Capability) (Capability, error) {
	o, ok := other.(*Message)
	if !ok {
		return nil, &CompositionError{Detail: "cannot join message capability with " + string(other.Kind())}
	}
	next := make(map[string]mapset.Set[string], len(m.recipients)+len(o.recipients))
	for recipient, topics := range m.recipients {
		next[recipient] = topics.Clone()
	}
	for recipient, topics := range o.recipients {
		if existing, ok := next[recipient]; ok {
			next[recipient] = existing.Union(topics)
		} else {
			next[recipient] = topics.Clone()
		}
	}
	return &Message{recipients: next}, nil
}

// Equal implements Capability.
func (m *Message) Equal(other Capability) bool {
	o, ok := other.(*Message)
	if !ok || len(m.recipients) != len(o.recipients) {
		return false
	}
	for recipient, topics := range m.recipients {
		otherTopics, ok := o.recipients[recipient]
		if !ok || !topics.Equal(otherTopics) {
			return false
		}
	}
	return true
}

func (m *Message) clone() *Message {
	next := make(map[string]mapset.Set[string], len(m.recipients))
	for recipient, topics := range m.recipients {
		next[recipient] = topics.Clone()
	}
	return &Message{recipients: next}
}

func (*Message) sealedCapability() {}
