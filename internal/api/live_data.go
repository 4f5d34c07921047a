package api

import (
	"github.com/snarg/scribe/internal/relay"
	"github.com/snarg/scribe/internal/synth"
)

// EventSource provides transcript update events to SSE clients.
// The event bus implements this interface; api owns it so there is no import cycle.
type EventSource interface {
	// Subscribe returns a channel that receives events matching the filter,
	// and a cancel function to unsubscribe.
	Subscribe(filter EventFilter) (<-chan SSEEvent, func())

	// ReplaySince returns buffered events since the given event ID (for Last-Event-ID recovery).
	ReplaySince(lastEventID string, filter EventFilter) []SSEEvent
}

// RelayStatus reports live relay pairs.
type RelayStatus interface {
	Active() int
	Pairs() []relay.PairInfo
}

// SynthStatus reports synthesizer queue counters.
type SynthStatus interface {
	Stats() synth.QueueStats
}

// MQTTStatus reports the transcript publisher's broker connection.
type MQTTStatus interface {
	IsConnected() bool
}

// EventFilter specifies which events a subscriber wants. Empty fields match everything.
type EventFilter struct {
	Types    []string
	Sessions []string
}

// SSEEvent represents a server-sent event ready for transmission.
type SSEEvent struct {
	ID        string `json:"event_id"`
	Type      string `json:"event_type"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id,omitempty"`
	Data      []byte `json:"-"` // pre-serialized JSON payload
}
