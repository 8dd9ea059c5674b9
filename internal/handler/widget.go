package handler

import (
	"log/slog"
	"net/http"

	"github.com/parlor-chat/parlor/internal/auth"
	"github.com/parlor-chat/parlor/internal/domain"
	"github.com/parlor-chat/parlor/internal/service"
)

// maxAvatarUpload bounds the multipart form parse for avatar uploads.
const maxAvatarUpload = 6 << 20

// =============================================================================
// Response Types
// =============================================================================

// WidgetResponse is the dashboard shape of a widget.
type WidgetResponse struct {
	ID           string `json:"id"`
	PublicKey    string `json:"public_key"`
	Name         string `json:"name"`
	Greeting     string `json:"greeting,omitempty"`
	ThemeColor   string `json:"theme_color,omitempty"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	AvatarURL    string `json:"avatar_url,omitempty"`
	Enabled      bool   `json:"enabled"`
	CreatedAt    string `json:"created_at"`
}

// =============================================================================
// Handler Configuration
// =============================================================================

// WidgetHandler handles widget management for the dashboard.
type WidgetHandler struct {
	widgets service.WidgetService
	logger  *slog.Logger
}

// NewWidgetHandler creates a new WidgetHandler.
func NewWidgetHandler(widgets service.WidgetService, logger *slog.Logger) *WidgetHandler {
	return &WidgetHandler{
		widgets: widgets,
		logger:  logger,
	}
}

// RegisterRoutes registers the widget routes.
//
// Routes:
//   - GET    /api/v1/widgets             -> Index
//   - POST   /api/v1/widgets             -> Create
//   - GET    /api/v1/widgets/{id}        -> Show
//   - PATCH  /api/v1/widgets/{id}        -> Update
//   - DELETE /api/v1/widgets/{id}        -> Delete
//   - POST   /api/v1/widgets/{id}/avatar -> UploadAvatar
func (h *WidgetHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("GET /api/v1/widgets", requireUser(http.HandlerFunc(h.Index)))
	mux.Handle("POST /api/v1/widgets", requireUser(http.HandlerFunc(h.Create)))
	mux.Handle("GET /api/v1/widgets/{id}", requireUser(http.HandlerFunc(h.Show)))
	mux.Handle("PATCH /api/v1/widgets/{id}", requireUser(http.HandlerFunc(h.Update)))
	mux.Handle("DELETE /api/v1/widgets/{id}", requireUser(http.HandlerFunc(h.Delete)))
	mux.Handle("POST /api/v1/widgets/{id}/avatar", requireUser(http.HandlerFunc(h.UploadAvatar)))
}

// =============================================================================
// Handlers
// =============================================================================

// Index lists the organization's widgets.
func (h *WidgetHandler) Index(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	widgets, err := h.widgets.List(r.Context(), user.OrganizationID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	out := make([]WidgetResponse, 0, len(widgets))
	for i := range widgets {
		out = append(out, h.widgetResponse(r, &widgets[i]))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"widgets": out})
}

// Create registers a new widget for the organization.
func (h *WidgetHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	params, ok := h.decodeParams(w, r)
	if !ok {
		return
	}

	widget, err := h.widgets.Create(r.Context(), user.OrganizationID, params)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, h.widgetResponse(r, widget))
}

// Show returns a single widget.
func (h *WidgetHandler) Show(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.loadOwnWidget(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, h.widgetResponse(r, widget))
}

// Update modifies a widget's configuration.
func (h *WidgetHandler) Update(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.loadOwnWidget(w, r)
	if !ok {
		return
	}

	params, ok := h.decodeParams(w, r)
	if !ok {
		return
	}

	updated, err := h.widgets.Update(r.Context(), widget.ID, params)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, h.widgetResponse(r, updated))
}

// Delete removes a widget.
func (h *WidgetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.loadOwnWidget(w, r)
	if !ok {
		return
	}

	if err := h.widgets.Delete(r.Context(), widget.ID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusNoContent, nil)
}

// UploadAvatar accepts a multipart avatar upload for a widget.
func (h *WidgetHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.loadOwnWidget(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxAvatarUpload); err != nil {
		badRequest(w, r, h.logger, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("avatar")
	if err != nil {
		badRequest(w, r, h.logger, "avatar file is required")
		return
	}
	defer file.Close()

	updated, err := h.widgets.UploadAvatar(r.Context(), widget.ID, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, h.widgetResponse(r, updated))
}

// =============================================================================
// Helpers
// =============================================================================

// loadOwnWidget resolves the {id} path parameter and enforces tenant
// ownership. Foreign widgets yield 404, not 403, so widget IDs leak
// nothing across organizations.
func (h *WidgetHandler) loadOwnWidget(w http.ResponseWriter, r *http.Request) (*domain.Widget, bool) {
	user := auth.GetUser(r.Context())

	id, err := pathUUID(r, "id")
	if err != nil {
		badRequest(w, r, h.logger, "Invalid widget ID")
		return nil, false
	}

	widget, err := h.widgets.Get(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return nil, false
	}

	if widget.OrganizationID != user.OrganizationID {
		NotFoundResponse(w, r, h.logger)
		return nil, false
	}

	return widget, true
}

func (h *WidgetHandler) decodeParams(w http.ResponseWriter, r *http.Request) (domain.WidgetParams, bool) {
	var req struct {
		Name         string `json:"name"`
		Greeting     string `json:"greeting"`
		ThemeColor   string `json:"theme_color"`
		Model        string `json:"model"`
		SystemPrompt string `json:"system_prompt"`
		Enabled      *bool  `json:"enabled"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, h.logger, "Invalid request body")
		return domain.WidgetParams{}, false
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	return domain.WidgetParams{
		Name:         req.Name,
		Greeting:     req.Greeting,
		ThemeColor:   req.ThemeColor,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Enabled:      enabled,
	}, true
}

func (h *WidgetHandler) widgetResponse(r *http.Request, widget *domain.Widget) WidgetResponse {
	resp := WidgetResponse{
		ID:           widget.ID.String(),
		PublicKey:    widget.PublicKey,
		Name:         widget.Name,
		Greeting:     widget.Greeting,
		ThemeColor:   widget.ThemeColor,
		Model:        widget.Model,
		SystemPrompt: widget.SystemPrompt,
		Enabled:      widget.Enabled,
		CreatedAt:    widget.CreatedAt.Format(timeFormat),
	}
	if url, err := h.widgets.AvatarURL(r.Context(), widget); err == nil {
		resp.AvatarURL = url
	}
	return resp
}
