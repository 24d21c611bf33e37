package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventSpawn EventType = "spawn"
	EventExit  EventType = "exit"
)

// Record describes one user process of one machine boot.
type Record struct {
	BootID    string    `json:"boot_id"`
	PID       int       `json:"pid"`
	ParentPID int       `json:"parent_pid"`
	Name      string    `json:"name"`
	Cmdline   string    `json:"cmdline"`
	StartedAt time.Time `json:"started_at"`
	// ExitStatus is only meaningful for EventExit.
	ExitStatus int `json:"exit_status"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// ExitStatusValue is the nullable exit_status column value: the status for
// exit events and nil otherwise.
func (e Event) ExitStatusValue() *int32 {
	if e.Type != EventExit {
		return nil
	}
	s := int32(e.Record.ExitStatus)
	return &s
}
