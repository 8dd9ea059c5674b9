package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/parlor-chat/parlor/internal/domain"
)

const conversationColumns = `id, organization_id, widget_id, visitor_id, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*domain.Conversation, error) {
	var c domain.Conversation
	err := row.Scan(&c.ID, &c.OrganizationID, &c.WidgetID, &c.VisitorID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateConversation inserts a new conversation.
func (q *Queries) CreateConversation(ctx context.Context, orgID, widgetID uuid.UUID, visitorID string) (*domain.Conversation, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO conversations (organization_id, widget_id, visitor_id)
		VALUES ($1, $2, $3)
		RETURNING `+conversationColumns,
		orgID, widgetID, visitorID)
	return scanConversation(row)
}

// GetConversation returns a conversation by ID, or sql.ErrNoRows.
func (q *Queries) GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

// CreateMessage appends a message to a conversation and bumps the
// conversation's updated_at.
func (q *Queries) CreateMessage(ctx context.Context, conversationID uuid.UUID, role domain.MessageRole, content string) (*domain.Message, error) {
	row := q.db.QueryRowContext(ctx, `
		WITH bump AS (
			UPDATE conversations SET updated_at = now() WHERE id = $1
		)
		INSERT INTO messages (conversation_id, role, content)
		VALUES ($1, $2, $3)
		RETURNING id, conversation_id, role, content, created_at`,
		conversationID, string(role), content)

	var m domain.Message
	var r string
	if err := row.Scan(&m.ID, &m.ConversationID, &r, &m.Content, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = domain.MessageRole(r)
	return &m, nil
}

// ListMessages returns a conversation's messages in chronological order.
func (q *Queries) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var r string
		if err := rows.Scan(&m.ID, &m.ConversationID, &r, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = domain.MessageRole(r)
		out = append(out, m)
	}
	return out, rows.Err()
}
