// Package service contains the business logic layer.
//
// This file implements the threshold notifier: one-time-per-cycle usage
// alerts at 80%, 100%, and 110% of quota.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/parlor-chat/parlor/internal/domain"
	"github.com/parlor-chat/parlor/internal/email"
	"github.com/parlor-chat/parlor/internal/metrics"
)

// =============================================================================
// Interface Definition
// =============================================================================

// UsageAlertSender is the slice of the email service the notifier needs.
type UsageAlertSender interface {
	SendUsageAlertEmail(ctx context.Context, params email.UsageAlertParams) error
}

// NotifyService dispatches usage threshold notifications.
type NotifyService interface {
	// MaybeNotify fires at most one threshold alert for the given
	// post-increment usage state. It never returns an error: dispatch
	// failures are logged and the threshold stays eligible for retry on a
	// later increment or the daily catch-up run.
	MaybeNotify(ctx context.Context, org *domain.Organization, usage *domain.UsageState)

	// CatchUp re-evaluates every stored usage state and fires any alert a
	// live increment missed (e.g. because an earlier dispatch failed).
	CatchUp(ctx context.Context) error
}

// =============================================================================
// Implementation
// =============================================================================

type notifyService struct {
	usage  UsageStore
	orgs   OrganizationStore
	sender UsageAlertSender
	logger *slog.Logger
	now    func() time.Time
}

// NewNotifyService creates a new NotifyService.
func NewNotifyService(usage UsageStore, orgs OrganizationStore, sender UsageAlertSender, logger *slog.Logger) NotifyService {
	return &notifyService{
		usage:  usage,
		orgs:   orgs,
		sender: sender,
		logger: logger,
		now:    time.Now,
	}
}

// MaybeNotify selects the highest crossed-and-unfired threshold, claims it,
// and dispatches the alert.
//
// The claim happens before the dispatch so that concurrent increments for
// the same organization cannot both send the same alert: the store's
// array-membership guard admits exactly one claimer per label per cycle.
// If the dispatch then fails, the claim is released so the alert is
// retried later rather than lost for the rest of the cycle.
func (s *notifyService) MaybeNotify(ctx context.Context, org *domain.Organization, usage *domain.UsageState) {
	const op = "notify.maybe_notify"

	pct := usage.Percentage()
	threshold, ok := domain.NextThreshold(pct, usage.NotifiedThresholds)
	if !ok {
		return
	}
	label := threshold.Label()

	claimed, err := s.usage.ClaimThreshold(ctx, org.ID, label, usage.CycleStart)
	if err != nil {
		s.logger.Error("threshold claim failed",
			"op", op,
			"organization_id", org.ID,
			"threshold", label,
			"error", err,
		)
		return
	}
	if !claimed {
		// Another worker won the claim, or the cycle advanced underneath us.
		return
	}

	params := email.UsageAlertParams{
		OrganizationName: org.Name,
		Recipients:       org.NotificationRecipients(),
		Plan:             string(org.Plan),
		Current:          usage.Current,
		Limit:            usage.Limit,
		Percentage:       pct,
		Threshold:        label,
	}

	if err := s.sender.SendUsageAlertEmail(ctx, params); err != nil {
		// The counter update is authoritative even if the email never
		// arrives. Release the claim so a later increment at the same
		// threshold retries the dispatch.
		s.logger.Error("usage alert dispatch failed",
			"op", op,
			"organization_id", org.ID,
			"threshold", label,
			"error", err,
		)
		metrics.ThresholdNotificationsTotal.WithLabelValues(label, "failed").Inc()

		if relErr := s.usage.ReleaseThreshold(ctx, org.ID, label, usage.CycleStart); relErr != nil {
			s.logger.Error("threshold release failed",
				"op", op,
				"organization_id", org.ID,
				"threshold", label,
				"error", relErr,
			)
		}
		return
	}

	metrics.ThresholdNotificationsTotal.WithLabelValues(label, "sent").Inc()
	s.logger.Info("usage alert sent",
		"organization_id", org.ID,
		"threshold", label,
		"current", usage.Current,
		"limit", usage.Limit,
	)
}

// CatchUp walks all usage states and re-runs the threshold check for each.
// Per-organization failures are logged and skipped so one bad tenant never
// stalls the sweep.
func (s *notifyService) CatchUp(ctx context.Context) error {
	const op = "notify.catch_up"

	states, err := s.usage.ListUsageStates(ctx)
	if err != nil {
		return domain.Internal(err, op, "failed to list usage states")
	}

	now := s.now()
	for i := range states {
		state := &states[i]

		// A stale state belongs to a finished cycle; it resets on the
		// tenant's next check or increment and owes no further alerts.
		if state.IsStale(now) {
			continue
		}

		org, err := s.orgs.GetOrganization(ctx, state.OrganizationID)
		if err != nil {
			s.logger.Warn("catch-up skipped organization",
				"op", op,
				"organization_id", state.OrganizationID,
				"error", err,
			)
			continue
		}

		s.MaybeNotify(ctx, org, state)
	}
	return nil
}
