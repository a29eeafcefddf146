package ws

import (
	"encoding/json"
	"fmt"
)

// Event names for the chat service protocol.
const (
	// Client → service
	EventJoin        = "join"         // data: bare session id string
	EventSendMessage = "send_message" // data: SendMessage

	// Service → client
	EventReceiveMessage = "receive_message" // data: ReceiveMessage
	EventError          = "error"           // data: ErrorMessage
)

// Envelope wraps every WebSocket frame with an event name for routing.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope for event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// Decode unmarshals the envelope data into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	return json.Unmarshal(e.Data, v)
}

// SendMessage is a question from the user.
type SendMessage struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// ReceiveMessage is the service's answer to the outstanding question.
type ReceiveMessage struct {
	Content string   `json:"content"`
	Sources []string `json:"sources"`
}

// ErrorMessage is a service-reported failure for the outstanding question.
type ErrorMessage struct {
	Message string `json:"message"`
}
