// Package domain contains core business types and interfaces.
//
// This file defines usage-quota accounting types: the per-organization
// UsageState, threshold notification labels, and the quota decision
// returned by the gate that fronts conversation creation.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Thresholds
// =============================================================================

// Threshold is a usage percentage at which a one-time-per-cycle alert fires.
type Threshold int

const (
	Threshold80  Threshold = 80
	Threshold100 Threshold = 100
	Threshold110 Threshold = 110
)

// Thresholds lists all notification thresholds ordered highest first.
// The ordering matters: only the highest crossed-and-unfired threshold is
// notified per increment, so a jump past several thresholds fires once.
var Thresholds = []Threshold{Threshold110, Threshold100, Threshold80}

// Label returns the stored label for the threshold (e.g. "100%").
func (t Threshold) Label() string {
	switch t {
	case Threshold80:
		return "80%"
	case Threshold100:
		return "100%"
	case Threshold110:
		return "110%"
	default:
		return ""
	}
}

// ThresholdFromLabel parses a stored label back into a Threshold.
// Returns 0 and false for unknown labels.
func ThresholdFromLabel(label string) (Threshold, bool) {
	switch label {
	case "80%":
		return Threshold80, true
	case "100%":
		return Threshold100, true
	case "110%":
		return Threshold110, true
	default:
		return 0, false
	}
}

// NextThreshold selects the threshold to notify for the given usage
// percentage: the highest threshold that is <= percentage and not already
// fired. Lower thresholds passed in the same jump are considered superseded
// and never fire separately. Returns 0 and false when nothing should fire.
func NextThreshold(percentage float64, fired []Threshold) (Threshold, bool) {
	for _, t := range Thresholds {
		if float64(t) > percentage {
			continue
		}
		if containsThreshold(fired, t) {
			// Everything below the highest fired threshold is superseded.
			return 0, false
		}
		return t, true
	}
	return 0, false
}

func containsThreshold(ts []Threshold, t Threshold) bool {
	for _, v := range ts {
		if v == t {
			return true
		}
	}
	return false
}

// =============================================================================
// Usage state
// =============================================================================

// UsageState is the durable per-organization record of conversation usage
// in the active calendar-month billing cycle. It is owned 1:1 by the
// organization and mutated only by the usage recorder and cycle resetter.
type UsageState struct {
	OrganizationID     uuid.UUID
	Current            int       // Conversations consumed this cycle
	Limit              int       // Monthly limit, derived from the plan at init/reset
	CycleStart         time.Time // First instant of the active cycle (UTC, first of month)
	Overage            int       // max(0, Current-Limit), recomputed on every increment
	NotifiedThresholds []Threshold
	UpdatedAt          time.Time
}

// Percentage returns usage as a percentage of the limit. A zero limit
// yields zero rather than dividing by it.
func (u *UsageState) Percentage() float64 {
	if u.Limit <= 0 {
		return 0
	}
	return float64(u.Current) / float64(u.Limit) * 100
}

// IsStale reports whether the stored cycle predates the current calendar
// month, i.e. the counter should be treated as reset.
func (u *UsageState) IsStale(now time.Time) bool {
	return u.CycleStart.Before(StartOfMonth(now))
}

// HasNotified reports whether the threshold already fired this cycle.
func (u *UsageState) HasNotified(t Threshold) bool {
	return containsThreshold(u.NotifiedThresholds, t)
}

// NewUsageState returns the lazily-initialized state for an organization:
// zero usage, plan-derived limit, cycle anchored at the start of the
// current month.
func NewUsageState(orgID uuid.UUID, plan Plan, now time.Time) *UsageState {
	return &UsageState{
		OrganizationID: orgID,
		Limit:          PlanLimit(plan),
		CycleStart:     StartOfMonth(now),
	}
}

// StartOfMonth returns the first instant of now's calendar month in UTC.
// Every staleness check and every reset write shares this definition, so
// the gate and the recorder can never disagree about cycle boundaries.
func StartOfMonth(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// StartOfNextMonth returns the first instant of the month after now's, UTC.
func StartOfNextMonth(now time.Time) time.Time {
	return StartOfMonth(now).AddDate(0, 1, 0)
}

// =============================================================================
// Quota decision
// =============================================================================

// BlockReason is the stable machine-readable token surfaced to callers when
// conversation creation is rejected.
type BlockReason string

const (
	ReasonQuotaExceeded        BlockReason = "quota_exceeded"
	ReasonTrialExpired         BlockReason = "trial_expired"
	ReasonOrganizationNotFound BlockReason = "organization_not_found"
)

// User-facing block messages.
const (
	MessageQuotaExceeded = "This organization has used all of its conversations for the month. Upgrade to keep chatting."
	MessageTrialExpired  = "This organization's trial has ended. Upgrade to keep chatting."
	MessageOrgNotFound   = "This chat widget is not connected to an active organization."
)

// QuotaDecision is the outcome of a quota check. Blocking conditions are
// business outcomes, not errors: a blocked tenant gets Allowed=false with a
// reason and message, while infrastructure failures during the check fail
// open (Allowed=true with Detail set).
type QuotaDecision struct {
	Allowed bool
	Blocked bool
	Reason  BlockReason
	Message string
	Detail  error // Set when the check failed open on a storage error
}

// Allow returns a permissive decision.
func Allow() QuotaDecision {
	return QuotaDecision{Allowed: true}
}

// AllowWithDetail returns a permissive decision carrying the storage error
// that forced the gate to fail open.
func AllowWithDetail(err error) QuotaDecision {
	return QuotaDecision{Allowed: true, Detail: err}
}

// Block returns a blocking decision with the given reason and message.
func Block(reason BlockReason, message string) QuotaDecision {
	return QuotaDecision{Blocked: true, Reason: reason, Message: message}
}

// DecideQuota applies the blocking rules to an organization snapshot and its
// usage state. This is the single source of the gate's logic: the live
// store-backed check and the snapshot-only widget check both call it.
//
// Rules:
//   - A stale cycle counts as freshly reset: never block a tenant whose
//     cycle rolled over, even if the reset write has not landed yet.
//   - Free tier blocks on quota exhaustion and, independently, on trial
//     expiry.
//   - Paid tiers never block; overage is tracked instead.
func DecideQuota(org *Organization, usage *UsageState, now time.Time) QuotaDecision {
	if org.Plan.IsPaid() {
		return Allow()
	}

	if org.TrialExpired(now) {
		return Block(ReasonTrialExpired, MessageTrialExpired)
	}

	if usage == nil || usage.IsStale(now) {
		return Allow()
	}
	if usage.Limit > 0 && usage.Current >= usage.Limit {
		return Block(ReasonQuotaExceeded, MessageQuotaExceeded)
	}
	return Allow()
}

// =============================================================================
// Views
// =============================================================================

// UpdatedUsage is returned by the usage recorder after an increment.
type UpdatedUsage struct {
	Current    int
	Limit      int
	Percentage float64
	Overage    int
}

// UsageStatus summarizes how close an organization is to its quota.
type UsageStatus string

const (
	UsageStatusOK       UsageStatus = "ok"       // < 80%
	UsageStatusWarning  UsageStatus = "warning"  // 80-99%
	UsageStatusExceeded UsageStatus = "exceeded" // >= 100%
)

// StatusForPercentage derives the status bucket for a usage percentage.
func StatusForPercentage(pct float64) UsageStatus {
	switch {
	case pct >= 100:
		return UsageStatusExceeded
	case pct >= 80:
		return UsageStatusWarning
	default:
		return UsageStatusOK
	}
}

// UsageStats is the read-only administrator view of an organization's
// usage state.
type UsageStats struct {
	Current              int         `json:"current"`
	Limit                int         `json:"limit"`
	Percentage           float64     `json:"percentage"`
	Overage              int         `json:"overage"`
	DaysRemainingInCycle int         `json:"days_remaining_in_cycle"`
	LastReset            time.Time   `json:"last_reset"`
	NextReset            time.Time   `json:"next_reset"`
	NotifiedThresholds   []string    `json:"notified_thresholds"`
	Status               UsageStatus `json:"status"`
}

// UsageResetAudit records a manual counter reset by an administrator.
type UsageResetAudit struct {
	ID              uuid.UUID
	OrganizationID  uuid.UUID
	ActorID         uuid.UUID
	PreviousCurrent int
	CreatedAt       time.Time
}
