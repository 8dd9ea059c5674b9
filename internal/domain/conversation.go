package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole identifies who authored a message in a conversation.
type MessageRole string

const (
	MessageRoleVisitor   MessageRole = "visitor"
	MessageRoleAssistant MessageRole = "assistant"
)

// Conversation is one billable chat session between a site visitor and a
// widget. The conversation, not the individual message, is the billable
// unit: usage is incremented exactly once per created conversation.
type Conversation struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	WidgetID       uuid.UUID
	VisitorID      string // Opaque visitor identifier from the embed script
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Message is a single turn in a conversation.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           MessageRole
	Content        string
	CreatedAt      time.Time
}
