package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/caseloop/caseloop/internal/models"
)

// MessageRepository handles conversation and chat message database operations
type MessageRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// CreateConversation inserts a new conversation
func (r *MessageRepository) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	query := `
		INSERT INTO conversations (id, organization_id, user_id, agent_type, entity_type, entity_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(
		ctx, query,
		conv.ID, conv.OrganizationID, conv.UserID, conv.AgentType, conv.EntityType, conv.EntityID,
	).Scan(&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	return nil
}

// GetConversation retrieves a conversation scoped to an organization
func (r *MessageRepository) GetConversation(ctx context.Context, orgID, id uuid.UUID) (*models.Conversation, error) {
	query := `
		SELECT id, organization_id, user_id, agent_type, entity_type, entity_id, created_at, updated_at
		FROM conversations
		WHERE organization_id = $1 AND id = $2`

	conv := &models.Conversation{}
	err := r.db.QueryRowContext(ctx, query, orgID, id).Scan(
		&conv.ID, &conv.OrganizationID, &conv.UserID, &conv.AgentType,
		&conv.EntityType, &conv.EntityID, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return conv, nil
}

// AppendMessage persists one message and touches the conversation
func (r *MessageRepository) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	query := `
		INSERT INTO chat_messages (id, conversation_id, role, content, tokens_used, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING created_at`

	err := r.db.QueryRowContext(
		ctx, query,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.TokensUsed,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	if _, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`, msg.ConversationID); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}

	return nil
}

// RecentMessages returns the most recent messages of a conversation in
// chronological order, bounded by limit
func (r *MessageRepository) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, conversation_id, role, content, tokens_used, created_at
		FROM (
			SELECT id, conversation_id, role, content, tokens_used, created_at
			FROM chat_messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent messages: %w", err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		msg := models.ChatMessage{}
		err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.TokensUsed, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
