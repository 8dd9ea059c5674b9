package handler

import (
	"log/slog"
	"net/http"

	"github.com/parlor-chat/parlor/internal/auth"
	"github.com/parlor-chat/parlor/internal/domain"
	"github.com/parlor-chat/parlor/internal/service"
)

// =============================================================================
// Response Types
// =============================================================================

// OrganizationResponse is the dashboard shape of an organization.
type OrganizationResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Plan         string  `json:"plan"`
	TrialEndsAt  *string `json:"trial_ends_at,omitempty"`
	BillingEmail string  `json:"billing_email,omitempty"`
	OwnerEmail   string  `json:"owner_email,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// =============================================================================
// Handler Configuration
// =============================================================================

// OrganizationHandler serves the dashboard's view of its own organization.
type OrganizationHandler struct {
	organizations service.OrganizationService
	usage         service.UsageService
	logger        *slog.Logger
}

// NewOrganizationHandler creates a new OrganizationHandler.
func NewOrganizationHandler(
	organizations service.OrganizationService,
	usage service.UsageService,
	logger *slog.Logger,
) *OrganizationHandler {
	return &OrganizationHandler{
		organizations: organizations,
		usage:         usage,
		logger:        logger,
	}
}

// RegisterRoutes registers the organization routes.
//
// All routes operate on the authenticated user's own organization.
//
// Routes:
//   - GET   /api/v1/organization        -> Show
//   - PATCH /api/v1/organization        -> Update
//   - GET   /api/v1/organization/usage  -> Usage
func (h *OrganizationHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("GET /api/v1/organization", requireUser(http.HandlerFunc(h.Show)))
	mux.Handle("PATCH /api/v1/organization", requireUser(http.HandlerFunc(h.Update)))
	mux.Handle("GET /api/v1/organization/usage", requireUser(http.HandlerFunc(h.Usage)))
}

// =============================================================================
// Handlers
// =============================================================================

// Show returns the authenticated user's organization.
func (h *OrganizationHandler) Show(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	org, err := h.organizations.Get(r.Context(), user.OrganizationID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, organizationResponse(org))
}

// Update modifies the authenticated user's organization.
//
// Plan changes are not accepted here; they arrive through the billing
// integration or the platform admin surface.
func (h *OrganizationHandler) Update(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var req struct {
		Name         string `json:"name"`
		BillingEmail string `json:"billing_email"`
		OwnerEmail   string `json:"owner_email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, h.logger, "Invalid request body")
		return
	}

	current, err := h.organizations.Get(r.Context(), user.OrganizationID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	org, err := h.organizations.Update(r.Context(), user.OrganizationID, domain.OrganizationParams{
		Name:         req.Name,
		Plan:         current.Plan,
		TrialEndsAt:  current.TrialEndsAt,
		BillingEmail: req.BillingEmail,
		OwnerEmail:   req.OwnerEmail,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, organizationResponse(org))
}

// Usage returns the organization's current usage statistics.
func (h *OrganizationHandler) Usage(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	stats, err := h.usage.Stats(r.Context(), user.OrganizationID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// =============================================================================
// Helpers
// =============================================================================

func organizationResponse(org *domain.Organization) OrganizationResponse {
	resp := OrganizationResponse{
		ID:           org.ID.String(),
		Name:         org.Name,
		Plan:         string(org.Plan),
		BillingEmail: org.BillingEmail,
		OwnerEmail:   org.OwnerEmail,
		CreatedAt:    org.CreatedAt.Format(timeFormat),
	}
	if org.TrialEndsAt != nil {
		s := org.TrialEndsAt.Format(timeFormat)
		resp.TrialEndsAt = &s
	}
	return resp
}
