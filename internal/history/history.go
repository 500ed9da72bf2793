package history

import (
	"context"
	"errors"
	"time"
)

// EventType defines the outcome of one update attempt.
type EventType string

const (
	EventChecked   EventType = "checked"
	EventSkipped   EventType = "skipped"
	EventInstalled EventType = "installed"
	EventFailed    EventType = "failed"
)

// Record describes a single update attempt against a measures directory.
type Record struct {
	Path     string `json:"path"`
	Version  string `json:"version,omitempty"`
	Previous string `json:"previous,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
	Host     string `json:"host"`
	PID      int    `json:"pid"`
	Force    bool   `json:"force"`
	Auto     bool   `json:"auto"`
}

// Event represents an update attempt to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
