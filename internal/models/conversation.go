package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole is who authored a conversation message
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Conversation groups the messages of one chat thread between a user and an
// agent, scoped to an organization and optionally focused on an entity.
type Conversation struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	OrganizationID uuid.UUID  `json:"organization_id" db:"organization_id"`
	UserID         uuid.UUID  `json:"user_id" db:"user_id"`
	AgentType      string     `json:"agent_type" db:"agent_type"`
	EntityType     string     `json:"entity_type" db:"entity_type"`
	EntityID       *uuid.UUID `json:"entity_id,omitempty" db:"entity_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// ChatMessage is a single persisted message within a conversation. Only
// completed assistant turns are persisted; partial streams are not.
type ChatMessage struct {
	ID             uuid.UUID   `json:"id" db:"id"`
	ConversationID uuid.UUID   `json:"conversation_id" db:"conversation_id"`
	Role           MessageRole `json:"role" db:"role"`
	Content        string      `json:"content" db:"content"`
	TokensUsed     int         `json:"tokens_used,omitempty" db:"tokens_used"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}
