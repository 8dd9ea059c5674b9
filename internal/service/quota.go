// Package service contains the business logic layer.
//
// This file implements the quota gate: the decision function that fronts
// every billable conversation creation.
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

// QuotaService answers "may this organization start one more billable
// conversation right now?".
type QuotaService interface {
	// Check loads the organization and its usage snapshot and applies the
	// blocking rules. Storage failures during the read fail open: the
	// decision allows with Detail set, because an accounting outage must
	// never halt tenant traffic.
	Check(ctx context.Context, orgID uuid.UUID) domain.QuotaDecision

	// ShouldBlockWidget applies the identical blocking rules to an
	// already-loaded organization snapshot without touching the store.
	ShouldBlockWidget(org *domain.Organization) domain.QuotaDecision
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	orgs   OrganizationStore
	usage  UsageStore
	logger *slog.Logger
	now    func() time.Time
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(orgs OrganizationStore, usage UsageStore, logger *slog.Logger) QuotaService {
	return &quotaService{
		orgs:   orgs,
		usage:  usage,
		logger: logger,
		now:    time.Now,
	}
}

// Check implements the gate decision for a live request.
func (s *quotaService) Check(ctx context.Context, orgID uuid.UUID) domain.QuotaDecision {
	const op = "quota.check"

	org, err := s.orgs.GetOrganizationWithUsage(ctx, orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			metrics.QuotaChecksTotal.WithLabelValues("blocked").Inc()
			return domain.Block(domain.ReasonOrganizationNotFound, domain.MessageOrgNotFound)
		}
		// Fail open: availability over perfect accounting for the check.
		s.logger.Error("quota check failed open",
			"op", op,
			"organization_id", orgID,
			"error", err,
		)
		metrics.QuotaChecksTotal.WithLabelValues("failed_open").Inc()
		return domain.AllowWithDetail(domain.Internal(err, op, "usage state unavailable"))
	}

	now := s.now()

	// First contact: initialize the usage row so the admin view and the
	// recorder start from a stored state. Best effort only; the decision
	// does not depend on the write landing.
	if org.Usage == nil {
		if _, err := s.usage.InitUsage(ctx, orgID, domain.PlanLimit(org.Plan), domain.StartOfMonth(now)); err != nil {
			s.logger.Warn("lazy usage init failed",
				"op", op,
				"organization_id", orgID,
				"error", err,
			)
		}
	}

	decision := domain.DecideQuota(org, org.Usage, now)
	if decision.Blocked {
		metrics.QuotaChecksTotal.WithLabelValues("blocked").Inc()
		s.logger.Info("conversation blocked",
			"organization_id", orgID,
			"plan", org.Plan,
			"reason", decision.Reason,
		)
	} else {
		metrics.QuotaChecksTotal.WithLabelValues("allowed").Inc()
	}
	return decision
}

// ShouldBlockWidget implements the snapshot-only variant of the gate.
// It shares DecideQuota with Check, so the two can never diverge on
// reasons, messages, or the stale-cycle rule.
func (s *quotaService) ShouldBlockWidget(org *domain.Organization) domain.QuotaDecision {
	return domain.DecideQuota(org, org.Usage, s.now())
}
