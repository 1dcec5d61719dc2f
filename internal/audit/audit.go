// Package audit provides the bounded, append-only log of capability
// and policy decisions.
package audit

import (
	"sync"
	"time"

	"github.com/caplet-dev/caplet/internal/values"
)

// Decision names the outcome recorded for a request.
type Decision string

const (
	// DecisionAllow means the request was permitted.
	DecisionAllow Decision = "allow"

	// DecisionDeny means the request was refused.
	DecisionDeny Decision = "deny"

	// DecisionAudit means the request was permitted and flagged by a
	// log-action policy rule.
	DecisionAudit Decision = "audit"
)

// Record is one audited decision. Records within a single plugin are
// totally ordered by append order.
type Record struct {
	ID        uint64           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Plugin    values.PluginID  `json:"plugin"`
	Resource  string           `json:"resource"`
	Action    string           `json:"action"`
	Decision  Decision         `json:"decision"`
	RuleID    string           `json:"rule_id,omitempty"`
	Detail    string           `json:"detail,omitempty"`
}

// Log is a bounded ring buffer of audit records; when full, the oldest
// record is evicted first.
type Log struct {
	mu      sync.Mutex
	records []Record
	start   int
	size    int
	nextID  uint64
}

// NewLog creates a log bounded to capacity records.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = 1
	}
	return &Log{records: make([]Record, capacity), nextID: 1}
}

// Append adds a record, evicting the oldest when full, and returns the
// assigned record ID.
func (l *Log) Append(rec Record) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec.ID = l.nextID
	l.nextID++
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	idx := (l.start + l.size) % len(l.records)
	l.records[idx] = rec
	if l.size < len(l.records) {
		l.size++
	} else {
		l.start = (l.start + 1) % len(l.records)
	}
	return rec.ID
}

// Len returns the number of retained records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Recent returns up to limit records, newest first. limit <= 0 returns
// everything retained.
func (l *Log) Recent(limit int) []Record {
	return l.filter(limit, func(Record) bool { return true })
}

// ByPlugin returns up to limit records for one plugin, newest first.
func (l *Log) ByPlugin(plugin values.PluginID, limit int) []Record {
	return l.filter(limit, func(r Record) bool { return r.Plugin.Equals(plugin) })
}

// ByDecision returns up to limit records with the given decision,
// newest first.
func (l *Log) ByDecision(decision Decision, limit int) []Record {
	return l.filter(limit, func(r Record) bool { return r.Decision == decision })
}

// ByResource returns up to limit records whose resource matches
// exactly, newest first.
func (l *Log) ByResource(resource string, limit int) []Record {
	return l.filter(limit, func(r Record) bool { return r.Resource == resource })
}

func (l *Log) filter(limit int, keep func(Record) bool) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Record
	for i := l.size - 1; i >= 0; i-- {
		rec := l.records[(l.start+i)%len(l.records)]
		if !keep(rec) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
