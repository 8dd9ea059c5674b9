package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/parlor-chat/parlor/internal/domain"
)

// =============================================================================
// Interface Definition
// =============================================================================

// OrganizationService defines the interface for tenant management.
type OrganizationService interface {
	// Create registers a new organization on the given plan.
	Create(ctx context.Context, params domain.OrganizationParams) (*domain.Organization, error)

	// Get retrieves an organization by ID.
	Get(ctx context.Context, id uuid.UUID) (*domain.Organization, error)

	// GetWithUsage retrieves an organization with its usage snapshot.
	GetWithUsage(ctx context.Context, id uuid.UUID) (*domain.Organization, error)

	// List returns all organizations. Platform admin surface only.
	List(ctx context.Context) ([]domain.Organization, error)

	// Update modifies an organization. A plan change also refreshes the
	// stored usage limit so the new allowance applies mid-cycle.
	Update(ctx context.Context, id uuid.UUID, params domain.OrganizationParams) (*domain.Organization, error)

	// Delete removes an organization and everything it owns.
	Delete(ctx context.Context, id uuid.UUID) error
}

// =============================================================================
// Implementation
// =============================================================================

type organizationService struct {
	orgs   OrganizationStore
	usage  UsageStore
	logger *slog.Logger
}

// NewOrganizationService creates a new OrganizationService.
func NewOrganizationService(orgs OrganizationStore, usage UsageStore, logger *slog.Logger) OrganizationService {
	return &organizationService{
		orgs:   orgs,
		usage:  usage,
		logger: logger,
	}
}

// Create registers a new organization.
func (s *organizationService) Create(ctx context.Context, params domain.OrganizationParams) (*domain.Organization, error) {
	const op = "organization.create"

	if err := validateOrganizationParams(&params); err != nil {
		return nil, domain.Wrap(err, domain.EINVALID, op, err.Error())
	}

	org, err := s.orgs.CreateOrganization(ctx, params)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to create organization")
	}

	s.logger.Info("organization created",
		"organization_id", org.ID,
		"name", org.Name,
		"plan", org.Plan,
	)

	return org, nil
}

// Get retrieves an organization by ID.
func (s *organizationService) Get(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	const op = "organization.get"

	org, err := s.orgs.GetOrganization(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "organization", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve organization")
	}
	return org, nil
}

// GetWithUsage retrieves an organization with its usage snapshot.
func (s *organizationService) GetWithUsage(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	const op = "organization.get_with_usage"

	org, err := s.orgs.GetOrganizationWithUsage(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "organization", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve organization")
	}
	return org, nil
}

// List returns all organizations.
func (s *organizationService) List(ctx context.Context) ([]domain.Organization, error) {
	const op = "organization.list"

	orgs, err := s.orgs.ListOrganizations(ctx)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to list organizations")
	}
	return orgs, nil
}

// Update modifies an organization.
//
// When the plan changes the stored usage limit is updated in the same
// call so a mid-cycle upgrade raises the allowance immediately. The
// counter itself is never touched here; only a cycle reset clears it.
func (s *organizationService) Update(ctx context.Context, id uuid.UUID, params domain.OrganizationParams) (*domain.Organization, error) {
	const op = "organization.update"

	if err := validateOrganizationParams(&params); err != nil {
		return nil, domain.Wrap(err, domain.EINVALID, op, err.Error())
	}

	current, err := s.orgs.GetOrganization(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "organization", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve organization")
	}

	org, err := s.orgs.UpdateOrganization(ctx, id, params)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "organization", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to update organization")
	}

	if current.Plan != org.Plan {
		newLimit := domain.PlanLimit(org.Plan)
		if err := s.usage.UpdateUsageLimit(ctx, id, newLimit); err != nil {
			// The org row already holds the new plan; the limit catches up
			// at the next cycle reset.
			s.logger.Error("failed to update usage limit after plan change",
				"op", op,
				"organization_id", id,
				"plan", org.Plan,
				"error", err,
			)
		} else {
			s.logger.Info("plan changed",
				"organization_id", id,
				"old_plan", current.Plan,
				"new_plan", org.Plan,
				"new_limit", newLimit,
			)
		}
	}

	return org, nil
}

// Delete removes an organization.
func (s *organizationService) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "organization.delete"

	if err := s.orgs.DeleteOrganization(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(op, "organization", id.String())
		}
		return domain.Internal(err, op, "Failed to delete organization")
	}

	s.logger.Info("organization deleted", "organization_id", id)
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func validateOrganizationParams(params *domain.OrganizationParams) error {
	params.Name = strings.TrimSpace(params.Name)
	params.BillingEmail = strings.ToLower(strings.TrimSpace(params.BillingEmail))
	params.OwnerEmail = strings.ToLower(strings.TrimSpace(params.OwnerEmail))

	if params.Name == "" {
		return errors.New("name is required")
	}
	if !params.Plan.Valid() {
		return errors.New("unknown plan")
	}
	if params.BillingEmail != "" {
		if err := validateEmail(params.BillingEmail); err != nil {
			return errors.New("billing email is not valid")
		}
	}
	if params.OwnerEmail != "" {
		if err := validateEmail(params.OwnerEmail); err != nil {
			return errors.New("owner email is not valid")
		}
	}
	return nil
}
