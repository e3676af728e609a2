package agent

import "encoding/json"

// EventType discriminates worker-to-supervisor frames.
type EventType string

const (
	EventMessage EventType = "message"
	EventDebug   EventType = "debug"
	EventError   EventType = "error"
	EventToUser  EventType = "to_user"
	EventHalt    EventType = "halt"
	EventPing    EventType = "ping"
)

// Event is one tagged frame on the worker's outbound channel. On the wire
// it is a JSON object discriminated by message_type.
type Event struct {
	Type    EventType `json:"message_type"`
	Payload any       `json:"payload,omitempty"`
}

// MarshalFrame renders the event as its JSON wire frame.
func (e Event) MarshalFrame() ([]byte, error) {
	return json.Marshal(e)
}

// Command is a supervisor-to-worker control instruction.
type Command string

const (
	CommandHalt     Command = "halt"
	CommandHaltSoon Command = "halt_soon"
)
