// Package service contains the business logic layer.
//
// This file implements the usage recorder: the single writer of the
// per-organization conversation counter and of lazy cycle resets.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/parlor-chat/parlor/internal/domain"
	"github.com/parlor-chat/parlor/internal/metrics"
)

// =============================================================================
// Interface Definition
// =============================================================================

// UsageService records billable conversation usage and exposes the
// administrator usage view.
type UsageService interface {
	// Increment applies one atomic increment after a conversation has been
	// successfully created. It is called exactly once per conversation,
	// never per message. Unlike the quota check, it fails loud: a dropped
	// increment corrupts billing data, so errors propagate to the caller.
	Increment(ctx context.Context, orgID uuid.UUID) (*domain.UpdatedUsage, error)

	// Stats returns the read-only administrator view of an organization's
	// usage state. Returns domain.ENOTFOUND if the organization does not
	// exist.
	Stats(ctx context.Context, orgID uuid.UUID) (*domain.UsageStats, error)
}

// =============================================================================
// Implementation
// =============================================================================

type usageService struct {
	usage    UsageStore
	orgs     OrganizationStore
	notifier NotifyService
	logger   *slog.Logger
	now      func() time.Time
}

// NewUsageService creates a new UsageService.
func NewUsageService(usage UsageStore, orgs OrganizationStore, notifier NotifyService, logger *slog.Logger) UsageService {
	return &usageService{
		usage:    usage,
		orgs:     orgs,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Increment is the hot path of quota accounting:
//
//  1. Lazily initialize the usage row on first contact.
//  2. If the stored cycle predates the current month, advance it with a
//     compare-and-swap reset. Of N concurrent stale increments exactly one
//     reset wins; every increment then lands on the fresh cycle, so a
//     reset can never be double-applied or wipe a concurrent increment.
//  3. Atomically increment the counter and recompute overage in storage.
//  4. Hand the post-increment percentage to the threshold notifier.
func (s *usageService) Increment(ctx context.Context, orgID uuid.UUID) (*domain.UpdatedUsage, error) {
	const op = "usage.increment"

	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "organization", orgID.String())
		}
		return nil, domain.Internal(err, op, "failed to load organization")
	}

	now := s.now()
	monthStart := domain.StartOfMonth(now)
	limit := domain.PlanLimit(org.Plan)

	state, err := s.usage.GetUsage(ctx, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		state, err = s.usage.InitUsage(ctx, orgID, limit, monthStart)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load usage state")
	}

	if state.IsStale(now) {
		won, err := s.usage.ResetCycleIfStale(ctx, orgID, monthStart, limit)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to reset billing cycle")
		}
		if won {
			metrics.CycleResetsTotal.WithLabelValues("lazy").Inc()
			s.logger.Info("billing cycle reset",
				"organization_id", orgID,
				"cycle_start", monthStart,
				"limit", limit,
			)
		}
	}

	updated, err := s.usage.IncrementUsage(ctx, orgID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to increment usage")
	}
	metrics.UsageIncrementsTotal.Inc()

	// Threshold dispatch is a side effect of the increment, never a
	// precondition: MaybeNotify logs its own failures.
	s.notifier.MaybeNotify(ctx, org, updated)

	return &domain.UpdatedUsage{
		Current:    updated.Current,
		Limit:      updated.Limit,
		Percentage: updated.Percentage(),
		Overage:    updated.Overage,
	}, nil
}

// Stats builds the administrator view. Organizations without a stored
// usage row, or with a stale one, are presented as freshly reset without
// writing anything: a read-only view must agree with the gate about cycle
// boundaries but must not race the recorder for reset writes.
func (s *usageService) Stats(ctx context.Context, orgID uuid.UUID) (*domain.UsageStats, error) {
	const op = "usage.stats"

	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "organization", orgID.String())
		}
		return nil, domain.Internal(err, op, "failed to load organization")
	}

	now := s.now()
	state, err := s.usage.GetUsage(ctx, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		state = domain.NewUsageState(orgID, org.Plan, now)
		err = nil
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load usage state")
	}
	if state.IsStale(now) {
		state = domain.NewUsageState(orgID, org.Plan, now)
	}

	pct := state.Percentage()
	nextReset := domain.StartOfNextMonth(now)

	labels := make([]string, 0, len(state.NotifiedThresholds))
	for _, t := range state.NotifiedThresholds {
		labels = append(labels, t.Label())
	}

	return &domain.UsageStats{
		Current:              state.Current,
		Limit:                state.Limit,
		Percentage:           pct,
		Overage:              state.Overage,
		DaysRemainingInCycle: int(math.Ceil(nextReset.Sub(now).Hours() / 24)),
		LastReset:            state.CycleStart,
		NextReset:            nextReset,
		NotifiedThresholds:   labels,
		Status:               domain.StatusForPercentage(pct),
	}, nil
}
