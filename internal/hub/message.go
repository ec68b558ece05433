package hub

import "time"

// Frame types exchanged with dashboard clients.
const (
	TypeEvent    = "event"
	TypeResponse = "response"
	TypeError    = "error"
	TypePing     = "ping"
	TypePong     = "pong"
	TypePage     = "page"
	TypeCommand  = "command"
)

// EventSuperseded is sent to a connection replaced by a newer login.
const EventSuperseded = "session.superseded"

// Message is a frame sent to or received from a dashboard client.
type Message struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

func newEvent(event string, payload any) Message {
	return Message{
		Type:      TypeEvent,
		EventType: event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
}
