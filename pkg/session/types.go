package session

import (
	"time"

	"github.com/google/uuid"
)

// Session status values stored in the metadata hash.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Message is one record in a conversation's hot log. The core treats the
// content as opaque; Tokens is the weight used for budget-bounded reads.
type Message struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Tokens    int            `json:"tokens"`
	Timestamp int64          `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewMessage(role, content string, tokens int) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Tokens:    tokens,
		Timestamp: time.Now().UnixMilli(),
	}
}

func NewUserMessage(content string, tokens int) Message {
	return NewMessage("user", content, tokens)
}

func NewAssistantMessage(content string, tokens int) Message {
	return NewMessage("assistant", content, tokens)
}

// Metadata mirrors the per-conversation hash in the hot store.
type Metadata struct {
	UserID       string
	CreatedAt    int64
	LastActiveAt int64
	MessageCount int
	TotalTokens  int
	Status       string
}

// Event is the envelope published to the session event stream for every
// mutation, consumed by downstream archival/audit pipelines.
type Event struct {
	EventID        string         `json:"eventId"`
	ConversationID string         `json:"conversationId"`
	Type           string         `json:"type"`
	Payload        map[string]any `json:"payload,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

const EventMessageCreated = "MESSAGE_CREATED"
