package telemetry

import "time"

type EventType string

const (
	EventTaskUpdated  EventType = "task_updated"
	EventSessionEnded EventType = "session_ended"
)

type Event struct {
	ID        int       `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata,omitempty"`
}

type Metadata map[string]string
