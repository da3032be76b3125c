// ABOUTME: BreezeBeats wire protocol message definitions
// ABOUTME: Defines the event envelope, event kinds and their small payloads
package protocol

// EventType names one observable change pushed to clients
type EventType string

const (
	// EventHello is sent once per session when it opens and carries a full snapshot
	EventHello EventType = "server/hello"

	// EventDevicesChanged carries the full address -> device summary map
	EventDevicesChanged EventType = "devices/changed"

	// EventSinkChanged carries the address of the new sink ("" = system default)
	EventSinkChanged EventType = "sink/changed"

	// EventQueueChanged carries the full queue snapshot
	EventQueueChanged EventType = "queue/changed"

	// EventPlaybackState carries the cursor and transport flag
	EventPlaybackState EventType = "playback/state"

	// EventWarning and EventError carry a Notice
	EventWarning EventType = "notice/warning"
	EventError   EventType = "notice/error"
)

// Event is the envelope for everything the server pushes to clients.
// Events are values and are never mutated after construction.
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

// NewEvent builds an event of the given type
func NewEvent(eventType EventType, payload interface{}) Event {
	return Event{Type: eventType, Payload: payload}
}

// Notice is the payload of warning and error events
type Notice struct {
	Message string `json:"message"`
}

// Warning builds a notice/warning event
func Warning(message string) Event {
	return NewEvent(EventWarning, Notice{Message: message})
}

// Failure builds a notice/error event
func Failure(message string) Event {
	return NewEvent(EventError, Notice{Message: message})
}

// SinkChanged is the payload of sink/changed
type SinkChanged struct {
	Address string `json:"address"` // Empty when output returned to the system default
}

// Hello is the payload of server/hello
type Hello struct {
	SessionID string      `json:"session_id"`
	Server    string      `json:"server"`
	Version   string      `json:"version"`
	Devices   interface{} `json:"devices,omitempty"`
	Queue     interface{} `json:"queue,omitempty"`
}
