package models

import (
	"encoding/json"
	"time"
)

// EventType определяет тип события push-канала
type EventType string

const (
	EventNewMessage  EventType = "new_message"
	EventMessageRead EventType = "message_read"
)

// Event представляет структуру события push-канала.
// Preview содержит усечённый текст сообщения для уведомления.
type Event struct {
	Type           EventType       `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
	SenderID       string          `json:"sender_id,omitempty"`
	SenderName     string          `json:"sender_name,omitempty"`
	Preview        string          `json:"preview,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}
