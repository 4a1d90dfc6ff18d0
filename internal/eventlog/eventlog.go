package eventlog

import (
	"context"
	"time"
)

// EventType defines the kind of monitoring event.
type EventType string

const (
	// EventAppeared is recorded when an identity shows up in a snapshot for
	// the first time.
	EventAppeared EventType = "process_appeared"
	// EventVanished is recorded when an identity drops out of the snapshot.
	EventVanished EventType = "process_vanished"
	// EventAction audits a lifecycle action and its outcome.
	EventAction EventType = "action"
	// EventSampleError records a failed system-level read.
	EventSampleError EventType = "sample_error"
)

// Event is one audit entry to be exported to external systems. The sink layer
// is optional: the monitoring core is fully functional without any sink, and
// sink failures are logged, never fatal.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int32     `json:"pid"`
	StartUnix  int64     `json:"start_unix"`
	Name       string    `json:"name"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for monitoring events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
