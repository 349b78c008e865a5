// README: JSON envelope shared by inbound and outbound realtime messages.
package wire

import "encoding/json"

// Envelope frames every message on a connection as {event, payload}.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Marshal frames a payload under an event name. Marshal errors are
// programmer errors (unserializable payload types) and collapse to an
// error envelope rather than a panic.
func Marshal(event string, payload any) []byte {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Marshal("error", ErrorPayload{Message: "internal encoding failure"})
		}
		raw = b
	}
	out, _ := json.Marshal(Envelope{Event: event, Payload: raw})
	return out
}

// ErrorPayload is the body of an `error` message.
type ErrorPayload struct {
	Message string `json:"message"`
}
