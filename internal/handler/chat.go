// Package handler contains the HTTP layer of the Parlor API.
//
// This file implements the public chat API consumed by the embed script.
// These routes are unauthenticated: the widget public key is the only
// credential a visitor's browser carries.
package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/parlor-chat/parlor/internal/domain"
	"github.com/parlor-chat/parlor/internal/service"
)

// =============================================================================
// Response Types
// =============================================================================

// WidgetConfigResponse is the embed script's bootstrap payload.
type WidgetConfigResponse struct {
	PublicKey  string `json:"public_key"`
	Name       string `json:"name"`
	Greeting   string `json:"greeting,omitempty"`
	ThemeColor string `json:"theme_color,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	Enabled    bool   `json:"enabled"`

	// Blocked mirrors the quota gate so the widget can render its limit
	// message without attempting a conversation.
	Blocked       bool   `json:"blocked"`
	BlockedReason string `json:"blocked_reason,omitempty"`
	BlockedNotice string `json:"blocked_notice,omitempty"`
}

// ConversationResponse describes a started conversation.
type ConversationResponse struct {
	ID        string `json:"id"`
	WidgetID  string `json:"widget_id"`
	VisitorID string `json:"visitor_id"`
	CreatedAt string `json:"created_at"`
}

// MessageResponse is a single conversation turn.
type MessageResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// BlockedResponse tells the embed script why a conversation was refused.
type BlockedResponse struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// =============================================================================
// Handler Configuration
// =============================================================================

// ChatHandler handles the public widget chat API.
type ChatHandler struct {
	conversations service.ConversationService
	widgets       service.WidgetService
	organizations service.OrganizationService
	quota         service.QuotaService
	logger        *slog.Logger
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(
	conversations service.ConversationService,
	widgets service.WidgetService,
	organizations service.OrganizationService,
	quota service.QuotaService,
	logger *slog.Logger,
) *ChatHandler {
	return &ChatHandler{
		conversations: conversations,
		widgets:       widgets,
		organizations: organizations,
		quota:         quota,
		logger:        logger,
	}
}

// RegisterRoutes registers the public chat routes.
//
// Routes:
//   - GET  /api/v1/chat/widgets/{public_key}             -> WidgetConfig
//   - POST /api/v1/chat/conversations                    -> StartConversation
//   - POST /api/v1/chat/conversations/{id}/messages      -> SendMessage
//   - GET  /api/v1/chat/conversations/{id}/messages      -> ListMessages
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/v1/chat/widgets/{public_key}", http.HandlerFunc(h.WidgetConfig))
	mux.Handle("POST /api/v1/chat/conversations", http.HandlerFunc(h.StartConversation))
	mux.Handle("POST /api/v1/chat/conversations/{id}/messages", http.HandlerFunc(h.SendMessage))
	mux.Handle("GET /api/v1/chat/conversations/{id}/messages", http.HandlerFunc(h.ListMessages))
}

// =============================================================================
// Handlers
// =============================================================================

// WidgetConfig returns the embed bootstrap payload for a widget.
//
// The quota gate runs here too so a blocked widget renders its limit
// notice instead of inviting a conversation it cannot start.
func (h *ChatHandler) WidgetConfig(w http.ResponseWriter, r *http.Request) {
	publicKey := r.PathValue("public_key")

	widget, err := h.widgets.GetByPublicKey(r.Context(), publicKey)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := WidgetConfigResponse{
		PublicKey:  widget.PublicKey,
		Name:       widget.Name,
		Greeting:   widget.Greeting,
		ThemeColor: widget.ThemeColor,
		Enabled:    widget.Enabled,
	}

	if url, err := h.widgets.AvatarURL(r.Context(), widget); err == nil {
		resp.AvatarURL = url
	}

	// Blocking rules run on a loaded snapshot; a load failure here means
	// the widget simply renders unblocked (the gate re-checks on start).
	if org, err := h.organizations.GetWithUsage(r.Context(), widget.OrganizationID); err == nil {
		decision := h.quota.ShouldBlockWidget(org)
		if decision.Blocked {
			resp.Blocked = true
			resp.BlockedReason = string(decision.Reason)
			resp.BlockedNotice = decision.Message
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// StartConversation opens a new conversation for a widget embed.
//
// A quota-blocked organization yields 403 with a structured body the
// embed script renders; it is not an error in the log-level sense.
func (h *ChatHandler) StartConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicKey string `json:"public_key"`
		VisitorID string `json:"visitor_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, h.logger, "Invalid request body")
		return
	}

	req.PublicKey = strings.TrimSpace(req.PublicKey)
	req.VisitorID = strings.TrimSpace(req.VisitorID)
	if req.PublicKey == "" {
		badRequest(w, r, h.logger, "public_key is required")
		return
	}
	if req.VisitorID == "" {
		badRequest(w, r, h.logger, "visitor_id is required")
		return
	}

	conv, decision, err := h.conversations.Start(r.Context(), req.PublicKey, req.VisitorID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if decision.Blocked {
		respondJSON(w, http.StatusForbidden, BlockedResponse{
			Blocked: true,
			Reason:  string(decision.Reason),
			Message: decision.Message,
		})
		return
	}

	respondJSON(w, http.StatusCreated, ConversationResponse{
		ID:        conv.ID.String(),
		WidgetID:  conv.WidgetID.String(),
		VisitorID: conv.VisitorID,
		CreatedAt: conv.CreatedAt.Format(timeFormat),
	})
}

// SendMessage records a visitor message and returns the assistant reply.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		badRequest(w, r, h.logger, "Invalid conversation ID")
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, h.logger, "Invalid request body")
		return
	}

	reply, err := h.conversations.SendMessage(r.Context(), id, req.Content)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, messageResponse(reply))
}

// ListMessages returns all messages in a conversation, oldest first.
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		badRequest(w, r, h.logger, "Invalid conversation ID")
		return
	}

	messages, err := h.conversations.History(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	out := make([]MessageResponse, 0, len(messages))
	for i := range messages {
		out = append(out, messageResponse(&messages[i]))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"messages": out})
}

// =============================================================================
// Helpers
// =============================================================================

const timeFormat = "2006-01-02T15:04:05Z07:00" // RFC 3339

func messageResponse(m *domain.Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID.String(),
		Role:      string(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt.Format(timeFormat),
	}
}
