// Package service contains the business logic layer.
//
// This file implements the cycle resetter: lazy calendar-month rollover
// and the audited administrator reset.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/parlor-chat/parlor/internal/domain"
	"github.com/parlor-chat/parlor/internal/metrics"
)

// =============================================================================
// Interface Definition
// =============================================================================

// CycleService manages billing cycle resets.
type CycleService interface {
	// ResetIfStale advances the organization's cycle when the stored
	// cycle_start predates the current calendar month. Idempotent: a
	// fresh cycle is a no-op.
	ResetIfStale(ctx context.Context, orgID uuid.UUID) error

	// ManualReset unconditionally zeroes the organization's counter,
	// re-derives the limit from the current plan, and writes an audit
	// record. The actor must be a platform administrator; callers lacking
	// the capability are rejected before any mutation occurs.
	ManualReset(ctx context.Context, orgID, actorID uuid.UUID) error

	// Audits returns the manual reset history for an organization,
	// newest first.
	Audits(ctx context.Context, orgID uuid.UUID) ([]domain.UsageResetAudit, error)
}

// =============================================================================
// Implementation
// =============================================================================

type cycleService struct {
	usage  UsageStore
	orgs   OrganizationStore
	users  UserStore
	logger *slog.Logger
	now    func() time.Time
}

// NewCycleService creates a new CycleService.
func NewCycleService(usage UsageStore, orgs OrganizationStore, users UserStore, logger *slog.Logger) CycleService {
	return &cycleService{
		usage:  usage,
		orgs:   orgs,
		users:  users,
		logger: logger,
		now:    time.Now,
	}
}

// ResetIfStale performs the lazy rollover for one organization.
func (s *cycleService) ResetIfStale(ctx context.Context, orgID uuid.UUID) error {
	const op = "cycle.reset_if_stale"

	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(op, "organization", orgID.String())
		}
		return domain.Internal(err, op, "failed to load organization")
	}

	monthStart := domain.StartOfMonth(s.now())
	won, err := s.usage.ResetCycleIfStale(ctx, orgID, monthStart, domain.PlanLimit(org.Plan))
	if err != nil {
		return domain.Internal(err, op, "failed to reset billing cycle")
	}
	if won {
		metrics.CycleResetsTotal.WithLabelValues("lazy").Inc()
		s.logger.Info("billing cycle reset",
			"organization_id", orgID,
			"cycle_start", monthStart,
		)
	}
	return nil
}

// ManualReset is the administrator action behind the admin console's
// reset button.
func (s *cycleService) ManualReset(ctx context.Context, orgID, actorID uuid.UUID) error {
	const op = "cycle.manual_reset"

	actor, err := s.users.GetUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Forbidden(op, "Manual resets require a platform administrator.")
		}
		return domain.Internal(err, op, "failed to load acting user")
	}
	if !actor.IsPlatformAdmin {
		return domain.Forbidden(op, "Manual resets require a platform administrator.")
	}

	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(op, "organization", orgID.String())
		}
		return domain.Internal(err, op, "failed to load organization")
	}

	now := s.now()
	monthStart := domain.StartOfMonth(now)
	limit := domain.PlanLimit(org.Plan)

	previous, err := s.usage.ResetCycle(ctx, orgID, monthStart, limit)
	if errors.Is(err, sql.ErrNoRows) {
		// No usage row yet: initialize one in its reset form. The audit
		// still records the (zero) discarded counter.
		if _, initErr := s.usage.InitUsage(ctx, orgID, limit, monthStart); initErr != nil {
			return domain.Internal(initErr, op, "failed to initialize usage state")
		}
		previous, err = 0, nil
	}
	if err != nil {
		return domain.Internal(err, op, "failed to reset usage state")
	}

	if err := s.usage.InsertUsageResetAudit(ctx, orgID, actorID, previous); err != nil {
		return domain.Internal(err, op, "failed to write reset audit record")
	}

	metrics.CycleResetsTotal.WithLabelValues("manual").Inc()
	s.logger.Info("manual usage reset",
		"organization_id", orgID,
		"actor_id", actorID,
		"previous_current", previous,
	)
	return nil
}

// Audits returns the manual reset history for an organization.
func (s *cycleService) Audits(ctx context.Context, orgID uuid.UUID) ([]domain.UsageResetAudit, error) {
	const op = "cycle.audits"

	audits, err := s.usage.ListUsageResetAudits(ctx, orgID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list reset audits")
	}
	return audits, nil
}
