package plugin

import (
	"fmt"
	"sync"
	"time"

	"github.com/caplet-dev/caplet/internal/values"
)

// Message is one inter-plugin message held in a recipient's mailbox.
type Message struct {
	From    values.PluginID `json:"from"`
	Topic   string          `json:"topic"`
	Payload []byte          `json:"payload"`
	At      time.Time       `json:"at"`
}

// MessageRouter delivers send_message host calls into bounded
// per-recipient mailboxes. Recipients are addressed by plugin name, the
// same identifier message capabilities grant against.
type MessageRouter struct {
	mu       sync.Mutex
	boxes    map[string][]Message
	capacity int
}

// NewMessageRouter creates a router whose mailboxes hold at most
// capacity messages each.
func NewMessageRouter(capacity int) *MessageRouter {
	if capacity <= 0 {
		capacity = 256
	}
	return &MessageRouter{boxes: make(map[string][]Message), capacity: capacity}
}

// Send enqueues a message for the recipient. The capability check has
// already happened at the host-call boundary. A full mailbox rejects
// the send; senders see the generic failure code.
func (r *MessageRouter) Send(from values.PluginID, recipient, topic string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	box := r.boxes[recipient]
	if len(box) >= r.capacity {
		return fmt.Errorf("mailbox for %s is full", recipient)
	}
	owned := make([]byte, len(payload))
	copy(owned, payload)
	r.boxes[recipient] = append(box, Message{
		From:    from,
		Topic:   topic,
		Payload: owned,
		At:      time.Now().UTC(),
	})
	return nil
}

// Drain removes and returns up to max messages for the recipient, in
// arrival order. max <= 0 drains everything.
func (r *MessageRouter) Drain(recipient string, max int) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	box := r.boxes[recipient]
	if len(box) == 0 {
		return nil
	}
	n := len(box)
	if max > 0 && max < n {
		n = max
	}
	out := make([]Message, n)
	copy(out, box[:n])
	r.boxes[recipient] = box[n:]
	return out
}

// Pending returns how many messages wait for the recipient.
func (r *MessageRouter) Pending(recipient string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.boxes[recipient])
}

// Forget drops a recipient's mailbox. Called on unload.
func (r *MessageRouter) Forget(recipient string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.boxes, recipient)
}
