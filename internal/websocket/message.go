package websocket

import (
	"encoding/json"
	"time"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	// Activity event types
	MessageTypeActionCompleted MessageType = "action.completed"
	MessageTypeActionUndone    MessageType = "action.undone"

	// Connection management
	MessageTypePing         MessageType = "ping"
	MessageTypePong         MessageType = "pong"
	MessageTypeError        MessageType = "error"
	MessageTypeSubscribe    MessageType = "subscribe"
	MessageTypeUnsubscribe  MessageType = "unsubscribe"
	MessageTypeSubscribed   MessageType = "subscribed"
	MessageTypeUnsubscribed MessageType = "unsubscribed"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ActivityEventData carries one action lifecycle event to activity feeds
type ActivityEventData struct {
	RecordID      string     `json:"record_id"`
	ActionID      string     `json:"action_id"`
	EntityType    string     `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	ActorID       string     `json:"actor_id"`
	ActorType     string     `json:"actor_type"`
	Status        string     `json:"status"`
	Summary       string     `json:"summary,omitempty"`
	UndoAvailable bool       `json:"undo_available,omitempty"`
	UndoExpiresAt *time.Time `json:"undo_expires_at,omitempty"`
}

// ErrorData contains error details
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SubscriptionData contains subscription request details
type SubscriptionData struct {
	Channel string  `json:"channel"` // "activity" or "activity:{entityType}"
	Filters Filters `json:"filters,omitempty"`
}

// Filters for subscription
type Filters struct {
	EntityTypes []string `json:"entity_types,omitempty"`
	ActionIDs   []string `json:"action_ids,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		rawData = jsonData
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      rawData,
	}, nil
}

// ToJSON converts a message to JSON bytes
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
