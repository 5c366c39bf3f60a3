package events

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is the v2 event envelope. Every event published on the bus is
// wrapped in one. Producers must populate schema_version, event_id,
// event_type, ts, mission_id, and producer; the remaining correlation
// fields default empty.
type Envelope struct {
	SchemaVersion string `json:"schema_version"`
	EventID       string `json:"event_id"`
	EventType     string `json:"event_type"`
	TS            string `json:"ts"` // RFC3339 UTC
	MissionID     string `json:"mission_id"`
	Phase         string `json:"phase,omitempty"`
	TraceID       string `json:"trace_id,omitempty"`
	SpanID        string `json:"span_id,omitempty"`
	TaskID        string `json:"task_id,omitempty"`
	ToolCallID    string `json:"tool_call_id,omitempty"`
	Producer      string `json:"producer"`
	Payload       any    `json:"payload"`
}

// New builds a v2 envelope with a fresh event id and UTC timestamp. The
// payload is sanitized for JSON serialization (bytes to base64, times to
// RFC3339, cycles to "[circular]").
func New(eventType, missionID, producer string, payload any) Envelope {
	return Envelope{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		EventType:     eventType,
		TS:            time.Now().UTC().Format(time.RFC3339Nano),
		MissionID:     missionID,
		Producer:      producer,
		Payload:       Sanitize(payload),
	}
}

// WithPhase returns a copy of the envelope tagged with the phase label.
func (e Envelope) WithPhase(phase string) Envelope {
	e.Phase = phase
	return e
}

// WithToolCall returns a copy of the envelope tagged with a tool call id.
func (e Envelope) WithToolCall(id string) Envelope {
	e.ToolCallID = id
	return e
}

// WithTask returns a copy of the envelope tagged with a task id.
func (e Envelope) WithTask(id string) Envelope {
	e.TaskID = id
	return e
}

// KnownSchema reports whether the envelope carries the pinned schema
// version. Consumers skip envelopes where this is false.
func (e Envelope) KnownSchema() bool {
	return e.SchemaVersion == SchemaVersion
}
