package realtime

import "encoding/json"

// ProtocolVersion identifies the realtime wire protocol. Every server
// event carries it so clients can reject frames from a different server
// generation.
const ProtocolVersion = "tetra-1.0"

// Server event types.
const (
	EventSubscriptionResponse = "subscription.response"
	EventDataChanged          = "component.data_changed"
	EventRemoved              = "component.removed"
	EventCreated              = "component.created"
	EventNotify               = "notify"
)

// Subscription statuses reported in subscription.response frames.
const (
	StatusSubscribed   = "subscribed"
	StatusResubscribed = "resubscribed"
	StatusUnsubscribed = "unsubscribed"
	StatusError        = "error"
)

// Message is one server-to-client event frame.
type Message struct {
	Protocol string         `json:"protocol"`
	Type     string         `json:"type"`
	Payload  map[string]any `json:"payload"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewMessage builds an event frame on the current protocol version.
func NewMessage(eventType string, payload map[string]any) *Message {
	return &Message{
		Protocol: ProtocolVersion,
		Type:     eventType,
		Payload:  payload,
	}
}

// Encode serializes the message for the wire.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a wire frame back into a message.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ControlFrame is a client-to-server request to change group membership.
type ControlFrame struct {
	Type  string `json:"type"` // "subscribe" or "unsubscribe"
	Group string `json:"group"`
}

// Client control frame types.
const (
	ControlSubscribe   = "subscribe"
	ControlUnsubscribe = "unsubscribe"
)

// SubscriptionResponse builds the status frame answering one control
// frame.
func SubscriptionResponse(group, status, message string) *Message {
	payload := map[string]any{
		"group":  group,
		"status": status,
	}
	if message != "" {
		payload["message"] = message
	}
	return NewMessage(EventSubscriptionResponse, payload)
}
