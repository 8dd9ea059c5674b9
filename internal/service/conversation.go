package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/parlor-chat/parlor/internal/ai"
	"github.com/parlor-chat/parlor/internal/domain"
	"github.com/parlor-chat/parlor/internal/metrics"
)

const (
	// MaxMessageLength caps a single visitor message.
	MaxMessageLength = 4000

	// maxHistoryMessages bounds the context sent to the AI provider.
	maxHistoryMessages = 40
)

// =============================================================================
// Interface Definition
// =============================================================================

// ConversationService handles the public widget chat flow.
type ConversationService interface {
	// Start opens a new conversation for a widget embed.
	//
	// The quota gate runs before anything is written. A blocked decision
	// is returned with a nil conversation and nil error so the handler
	// can render the block reason to the embed script. When the gate
	// allows, the conversation is created and usage is incremented
	// exactly once.
	Start(ctx context.Context, publicKey, visitorID string) (*domain.Conversation, domain.QuotaDecision, error)

	// SendMessage records a visitor message and returns the assistant's
	// reply. The reply is generated by the AI provider from the widget's
	// system prompt and the conversation history.
	SendMessage(ctx context.Context, conversationID uuid.UUID, content string) (*domain.Message, error)

	// History returns all messages in a conversation, oldest first.
	History(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error)
}

// =============================================================================
// Implementation
// =============================================================================

type conversationService struct {
	conversations ConversationStore
	widgets       WidgetStore
	quota         QuotaService
	usage         UsageService
	provider      ai.Provider
	logger        *slog.Logger
}

// NewConversationService creates a new ConversationService.
func NewConversationService(
	conversations ConversationStore,
	widgets WidgetStore,
	quota QuotaService,
	usage UsageService,
	provider ai.Provider,
	logger *slog.Logger,
) ConversationService {
	return &conversationService{
		conversations: conversations,
		widgets:       widgets,
		quota:         quota,
		usage:         usage,
		provider:      provider,
		logger:        logger,
	}
}

// Start opens a new conversation for a widget embed.
//
// Flow:
//  1. Resolve the widget by public key; disabled widgets refuse.
//  2. Run the quota gate for the owning organization.
//  3. Create the conversation row.
//  4. Increment usage exactly once for the created conversation.
//
// An increment failure after the row exists is logged, not surfaced: the
// visitor already has a working conversation and the counter must not
// take it away. The daily catch-up job keeps notifications honest even
// when an increment is lost.
func (s *conversationService) Start(ctx context.Context, publicKey, visitorID string) (*domain.Conversation, domain.QuotaDecision, error) {
	const op = "conversation.start"

	widget, err := s.widgets.GetWidgetByPublicKey(ctx, publicKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.QuotaDecision{}, domain.NotFound(op, "widget", publicKey)
		}
		return nil, domain.QuotaDecision{}, domain.Internal(err, op, "Failed to resolve widget")
	}

	if !widget.Enabled {
		return nil, domain.QuotaDecision{}, domain.Forbidden(op, "This widget is disabled.")
	}

	decision := s.quota.Check(ctx, widget.OrganizationID)
	if decision.Blocked {
		return nil, decision, nil
	}

	conv, err := s.conversations.CreateConversation(ctx, widget.OrganizationID, widget.ID, visitorID)
	if err != nil {
		return nil, domain.QuotaDecision{}, domain.Internal(err, op, "Failed to create conversation")
	}
	metrics.ConversationsCreated.Inc()

	if _, err := s.usage.Increment(ctx, widget.OrganizationID); err != nil {
		s.logger.Error("usage increment failed after conversation creation",
			"op", op,
			"organization_id", widget.OrganizationID,
			"conversation_id", conv.ID,
			"error", err,
		)
	}

	s.logger.Info("conversation started",
		"conversation_id", conv.ID,
		"organization_id", widget.OrganizationID,
		"widget_id", widget.ID,
	)

	if widget.Greeting != "" {
		// A failed greeting is cosmetic, the conversation still works.
		if _, err := s.conversations.CreateMessage(ctx, conv.ID, domain.MessageRoleAssistant, widget.Greeting); err != nil {
			s.logger.Warn("failed to record greeting message",
				"op", op,
				"conversation_id", conv.ID,
				"error", err,
			)
		}
	}

	return conv, decision, nil
}

// SendMessage records a visitor message and returns the assistant's reply.
func (s *conversationService) SendMessage(ctx context.Context, conversationID uuid.UUID, content string) (*domain.Message, error) {
	const op = "conversation.send_message"

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.Invalid(op, "Message is required")
	}
	if len(content) > MaxMessageLength {
		return nil, domain.Invalid(op, "Message is too long")
	}

	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "conversation", conversationID.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve conversation")
	}

	widget, err := s.widgets.GetWidget(ctx, conv.WidgetID)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to resolve widget")
	}

	if _, err := s.conversations.CreateMessage(ctx, conversationID, domain.MessageRoleVisitor, content); err != nil {
		return nil, domain.Internal(err, op, "Failed to record message")
	}

	history, err := s.conversations.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to load conversation history")
	}

	result, err := s.provider.Complete(ctx, ai.CompletionParams{
		SystemPrompt:   widget.SystemPrompt,
		History:        buildHistory(history),
		Model:          widget.Model,
		ConversationID: conversationID,
		WidgetID:       widget.ID,
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to generate reply")
	}

	reply, err := s.conversations.CreateMessage(ctx, conversationID, domain.MessageRoleAssistant, result.Content)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to record reply")
	}

	s.logger.Debug("assistant reply recorded",
		"conversation_id", conversationID,
		"model", result.Usage.Model,
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens,
	)

	return reply, nil
}

// History returns all messages in a conversation, oldest first.
func (s *conversationService) History(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	const op = "conversation.history"

	if _, err := s.conversations.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "conversation", conversationID.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve conversation")
	}

	messages, err := s.conversations.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to load messages")
	}
	return messages, nil
}

// buildHistory converts stored messages into provider turns, bounded to
// the most recent maxHistoryMessages.
func buildHistory(messages []domain.Message) []ai.Message {
	if len(messages) > maxHistoryMessages {
		messages = messages[len(messages)-maxHistoryMessages:]
	}

	out := make([]ai.Message, 0, len(messages))
	for _, m := range messages {
		role := ai.RoleUser
		if m.Role == domain.MessageRoleAssistant {
			role = ai.RoleAssistant
		}
		out = append(out, ai.Message{Role: role, Content: m.Content})
	}
	return out
}
