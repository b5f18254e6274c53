package models

import (
	"time"

	"github.com/google/uuid"
)

// ConversationType определяет тип беседы
type ConversationType string

const (
	ConversationDirect  ConversationType = "DIRECT_MESSAGE"
	ConversationProject ConversationType = "PROJECT_CHAT"
)

// Conversation представляет беседу текущего пользователя
type Conversation struct {
	ID          uuid.UUID        `json:"id"`
	Type        ConversationType `json:"type"`
	SenderID    uuid.UUID        `json:"sender_id"`
	ReceiverID  uuid.UUID        `json:"receiver_id"`
	ProjectID   *uuid.UUID       `json:"project_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`

	// Денормализованные поля для отображения
	OtherUserName   string     `json:"other_user_name,omitempty"`
	OtherUserEmail  string     `json:"other_user_email,omitempty"`
	OtherUserAvatar string     `json:"other_user_avatar,omitempty"`
	ProjectTitle    string     `json:"project_title,omitempty"`
	LastMessageText string     `json:"last_message_text,omitempty"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
	UnreadCount     int        `json:"unread_count,omitempty"`
}

// Message представляет сообщение в беседе
type Message struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	SenderID       uuid.UUID  `json:"sender_id"`
	Content        *string    `json:"content,omitempty"`
	AttachmentURLs []string   `json:"attachment_urls,omitempty"`
	SentAt         time.Time  `json:"sent_at"`
	IsRead         bool       `json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`

	// Дополнительные поля для API
	Sender *User `json:"sender,omitempty"`

	// Pending выставляется только локально для оптимистичных сообщений
	Pending bool `json:"-"`
}

// MessagePage представляет одну страницу сообщений беседы.
// Сообщения упорядочены по времени отправки по возрастанию;
// повторная загрузка страницы никогда не меняет порядок.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Page     int       `json:"page"`
	HasMore  bool      `json:"has_more"`
}

// User представляет базовую информацию о пользователе
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
}

// UnreadInfo содержит количество непрочитанных сообщений одной беседы
type UnreadInfo struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UnreadCount    int       `json:"unread_count"`
}

// UnreadSummary содержит агрегат непрочитанных сообщений пользователя
type UnreadSummary struct {
	Total         int          `json:"total"`
	Conversations []UnreadInfo `json:"conversations,omitempty"`
}
