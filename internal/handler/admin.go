package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/parlor-chat/parlor/internal/auth"
	"github.com/parlor-chat/parlor/internal/domain"
	"github.com/parlor-chat/parlor/internal/service"
)

// =============================================================================
// Response Types
// =============================================================================

// ResetAuditResponse is one manual reset audit entry.
type ResetAuditResponse struct {
	ID              string `json:"id"`
	OrganizationID  string `json:"organization_id"`
	ActorID         string `json:"actor_id"`
	PreviousCurrent int    `json:"previous_current"`
	CreatedAt       string `json:"created_at"`
}

// =============================================================================
// Handler Configuration
// =============================================================================

// AdminHandler serves the platform operator surface. Every route requires a
// platform admin session; tenant users never reach these handlers.
type AdminHandler struct {
	organizations service.OrganizationService
	usage         service.UsageService
	cycles        service.CycleService
	logger        *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	organizations service.OrganizationService,
	usage service.UsageService,
	cycles service.CycleService,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		organizations: organizations,
		usage:         usage,
		cycles:        cycles,
		logger:        logger,
	}
}

// RegisterRoutes registers the admin routes.
//
// Routes:
//   - GET    /api/v1/admin/organizations                  -> Index
//   - POST   /api/v1/admin/organizations                  -> Create
//   - GET    /api/v1/admin/organizations/{id}             -> Show
//   - PATCH  /api/v1/admin/organizations/{id}             -> Update
//   - DELETE /api/v1/admin/organizations/{id}             -> Delete
//   - GET    /api/v1/admin/organizations/{id}/usage       -> Usage
//   - POST   /api/v1/admin/organizations/{id}/usage/reset -> ResetUsage
//   - GET    /api/v1/admin/organizations/{id}/usage/resets -> ResetAudits
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux, requireAdmin func(http.Handler) http.Handler) {
	mux.Handle("GET /api/v1/admin/organizations", requireAdmin(http.HandlerFunc(h.Index)))
	mux.Handle("POST /api/v1/admin/organizations", requireAdmin(http.HandlerFunc(h.Create)))
	mux.Handle("GET /api/v1/admin/organizations/{id}", requireAdmin(http.HandlerFunc(h.Show)))
	mux.Handle("PATCH /api/v1/admin/organizations/{id}", requireAdmin(http.HandlerFunc(h.Update)))
	mux.Handle("DELETE /api/v1/admin/organizations/{id}", requireAdmin(http.HandlerFunc(h.Delete)))
	mux.Handle("GET /api/v1/admin/organizations/{id}/usage", requireAdmin(http.HandlerFunc(h.Usage)))
	mux.Handle("POST /api/v1/admin/organizations/{id}/usage/reset", requireAdmin(http.HandlerFunc(h.ResetUsage)))
	mux.Handle("GET /api/v1/admin/organizations/{id}/usage/resets", requireAdmin(http.HandlerFunc(h.ResetAudits)))
}

// =============================================================================
// Handlers
// =============================================================================

// Index lists every organization on the platform.
func (h *AdminHandler) Index(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.organizations.List(r.Context())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	out := make([]OrganizationResponse, 0, len(orgs))
	for i := range orgs {
		out = append(out, organizationResponse(&orgs[i]))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"organizations": out})
}

// Create provisions a new organization.
func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	params, ok := h.decodeParams(w, r, domain.OrganizationParams{Plan: domain.PlanFree})
	if !ok {
		return
	}

	org, err := h.organizations.Create(r.Context(), params)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.logger.Info("organization created",
		slog.String("organization_id", org.ID.String()),
		slog.String("plan", string(org.Plan)))

	respondJSON(w, http.StatusCreated, organizationResponse(org))
}

// Show returns a single organization.
func (h *AdminHandler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		badRequest(w, r, h.logger, "Invalid organization ID")
		return
	}

	org, err := h.organizations.Get(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, organizationResponse(org))
}

// Update modifies an organization. Unlike the tenant-facing handler, plan
// changes are accepted here; the usage limit follows the new plan
// immediately.
func (h *AdminHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		badRequest(w, r, h.logger, "Invalid organization ID")
		return
	}

	current, err := h.organizations.Get(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	params, ok := h.decodeParams(w, r, domain.OrganizationParams{
		Name:         current.Name,
		Plan:         current.Plan,
		TrialEndsAt:  current.TrialEndsAt,
		BillingEmail: current.BillingEmail,
		OwnerEmail:   current.OwnerEmail,
	})
	if !ok {
		return
	}

	org, err := h.organizations.Update(r.Context(), id, params)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, organizationResponse(org))
}

// Delete removes an organization and everything it owns.
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		badRequest(w, r, h.logger, "Invalid organization ID")
		return
	}

	if err := h.organizations.Delete(r.Context(), id); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusNoContent, nil)
}

// Usage returns current cycle usage for any organization.
func (h *AdminHandler) Usage(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		badRequest(w, r, h.logger, "Invalid organization ID")
		return
	}

	stats, err := h.usage.Stats(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// ResetUsage zeroes an organization's conversation counter mid-cycle and
// records who did it.
func (h *AdminHandler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	actor := auth.GetUser(r.Context())

	id, err := pathUUID(r, "id")
	if err != nil {
		badRequest(w, r, h.logger, "Invalid organization ID")
		return
	}

	if err := h.cycles.ManualReset(r.Context(), id, actor.ID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.logger.Info("manual usage reset",
		slog.String("organization_id", id.String()),
		slog.String("actor_id", actor.ID.String()))

	respondJSON(w, http.StatusNoContent, nil)
}

// ResetAudits lists the manual reset history for an organization.
func (h *AdminHandler) ResetAudits(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		badRequest(w, r, h.logger, "Invalid organization ID")
		return
	}

	audits, err := h.cycles.Audits(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	out := make([]ResetAuditResponse, 0, len(audits))
	for _, a := range audits {
		out = append(out, ResetAuditResponse{
			ID:              a.ID.String(),
			OrganizationID:  a.OrganizationID.String(),
			ActorID:         a.ActorID.String(),
			PreviousCurrent: a.PreviousCurrent,
			CreatedAt:       a.CreatedAt.Format(timeFormat),
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"resets": out})
}

// =============================================================================
// Helpers
// =============================================================================

// decodeParams parses an organization request body on top of the given
// defaults, so PATCH requests only need to carry the fields they change.
func (h *AdminHandler) decodeParams(w http.ResponseWriter, r *http.Request, defaults domain.OrganizationParams) (domain.OrganizationParams, bool) {
	var req struct {
		Name         *string `json:"name"`
		Plan         *string `json:"plan"`
		TrialEndsAt  *string `json:"trial_ends_at"`
		BillingEmail *string `json:"billing_email"`
		OwnerEmail   *string `json:"owner_email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, h.logger, "Invalid request body")
		return domain.OrganizationParams{}, false
	}

	params := defaults
	if req.Name != nil {
		params.Name = *req.Name
	}
	if req.Plan != nil {
		params.Plan = domain.Plan(*req.Plan)
	}
	if req.TrialEndsAt != nil {
		if *req.TrialEndsAt == "" {
			params.TrialEndsAt = nil
		} else {
			t, err := time.Parse(time.RFC3339, *req.TrialEndsAt)
			if err != nil {
				badRequest(w, r, h.logger, "trial_ends_at must be RFC 3339")
				return domain.OrganizationParams{}, false
			}
			params.TrialEndsAt = &t
		}
	}
	if req.BillingEmail != nil {
		params.BillingEmail = *req.BillingEmail
	}
	if req.OwnerEmail != nil {
		params.OwnerEmail = *req.OwnerEmail
	}
	return params, true
}
