package events

import (
	"context"
	"time"
)

type EventType string

const (
	EventJobCreated       EventType = "job.created"
	EventJobAssigned      EventType = "job.assigned"
	EventJobStatusChanged EventType = "job.status_changed"
	EventNodeConnected    EventType = "node.connected"
	EventNodeDisconnected EventType = "node.disconnected"
)

// Event is the lifecycle notification fanned out to external observers
// (chat relays, dashboards). Best-effort: publishing never blocks or fails
// the operation that produced it.
type Event struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id,omitempty"`
	NodeID    string    `json:"node_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type noopBus struct{}

// NewNoopBus is the default when no broker is configured.
func NewNoopBus() Bus { return noopBus{} }

func (noopBus) Publish(context.Context, Event) error { return nil }
func (noopBus) Close() error                         { return nil }
