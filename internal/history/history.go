// Package history records an append-only audit trail of process lifecycle
// and heartbeat-detected failure events to a queryable external store
// (sqlite/postgres/clickhouse/opensearch), independent of the
// authoritative file-backed registry.
package history

import (
	"context"
	"fmt"
	"time"
)

// EventType identifies the kind of lifecycle event being recorded.
type EventType string

const (
	EventStart           EventType = "start"
	EventStop            EventType = "stop"
	EventRestart         EventType = "restart"
	EventHeartbeatFailure EventType = "heartbeat_failure"
)

// Record is the flattened, storage-agnostic shape every sink persists.
// It deliberately carries no pointer/interface fields so every backend
// can map it onto a flat table or document without branching.
type Record struct {
	ProcessID  string
	Name       string
	PID        int
	State      string
	Reason     string // populated for EventHeartbeatFailure: the failure taxonomy kind
	StartedAt  time.Time
	StoppedAt  time.Time
}

// Key returns a string uniquely identifying this record's process
// instance (pid + start time), used by sinks that want an idempotency key.
func (r Record) Key() string {
	return fmt.Sprintf("%s:%d:%d", r.ProcessID, r.PID, r.StartedAt.UnixNano())
}

// Event is one audit-trail entry handed to a Sink.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events. Implementations must be safe
// for concurrent use; Send should not block the caller longer than the
// context allows.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
