package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/parlor-chat/parlor/internal/domain"
)

const usageColumns = `organization_id, current_usage, usage_limit, cycle_start, overage, notified_thresholds, updated_at`

func scanUsage(row interface{ Scan(...any) error }) (*domain.UsageState, error) {
	var (
		u      domain.UsageState
		labels pq.StringArray
	)
	err := row.Scan(&u.OrganizationID, &u.Current, &u.Limit, &u.CycleStart, &u.Overage, &labels, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.NotifiedThresholds = thresholdsFromLabels(labels)
	return &u, nil
}

func thresholdsFromLabels(labels []string) []domain.Threshold {
	var out []domain.Threshold
	for _, l := range labels {
		if t, ok := domain.ThresholdFromLabel(l); ok {
			out = append(out, t)
		}
	}
	return out
}

// GetUsage returns the usage state for an organization, or sql.ErrNoRows
// if none has been initialized yet.
func (q *Queries) GetUsage(ctx context.Context, orgID uuid.UUID) (*domain.UsageState, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+usageColumns+` FROM usage_states WHERE organization_id = $1`, orgID)
	return scanUsage(row)
}

// InitUsage lazily creates the usage row for an organization with zero
// usage and the given plan-derived limit. Safe under concurrent callers:
// the insert is a no-op when a row already exists, and the stored row is
// returned either way.
func (q *Queries) InitUsage(ctx context.Context, orgID uuid.UUID, limit int, cycleStart time.Time) (*domain.UsageState, error) {
	row := q.db.QueryRowContext(ctx, `
		WITH ins AS (
			INSERT INTO usage_states (organization_id, current_usage, usage_limit, cycle_start, overage, notified_thresholds)
			VALUES ($1, 0, $2, $3, 0, '{}')
			ON CONFLICT (organization_id) DO NOTHING
			RETURNING `+usageColumns+`
		)
		SELECT * FROM ins
		UNION ALL
		SELECT `+usageColumns+` FROM usage_states WHERE organization_id = $1
		LIMIT 1`,
		orgID, limit, cycleStart)
	return scanUsage(row)
}

// IncrementUsage atomically adds one to the counter and recomputes overage
// in the same statement, returning the updated state. This is the only way
// the counter moves forward; concurrent increments serialize on the row so
// no update is ever lost.
func (q *Queries) IncrementUsage(ctx context.Context, orgID uuid.UUID) (*domain.UsageState, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE usage_states
		SET current_usage = current_usage + 1,
		    overage = GREATEST(0, current_usage + 1 - usage_limit),
		    updated_at = now()
		WHERE organization_id = $1
		RETURNING `+usageColumns,
		orgID)
	return scanUsage(row)
}

// ResetCycleIfStale advances a stale cycle: zeroes the counter and overage,
// clears notified thresholds, re-derives the limit, and moves cycle_start
// to the given month start. The cycle_start guard makes this a
// compare-and-swap — of N concurrent callers exactly one wins, the rest
// see false and proceed against the already-reset row.
func (q *Queries) ResetCycleIfStale(ctx context.Context, orgID uuid.UUID, cycleStart time.Time, limit int) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE usage_states
		SET current_usage = 0,
		    overage = 0,
		    notified_thresholds = '{}',
		    cycle_start = $2,
		    usage_limit = $3,
		    updated_at = now()
		WHERE organization_id = $1 AND cycle_start < $2`,
		orgID, cycleStart, limit)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ResetCycle performs an unconditional reset (administrator action) and
// returns the counter value that was discarded, for the audit trail.
func (q *Queries) ResetCycle(ctx context.Context, orgID uuid.UUID, cycleStart time.Time, limit int) (previousCurrent int, err error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE usage_states AS u
		SET current_usage = 0,
		    overage = 0,
		    notified_thresholds = '{}',
		    cycle_start = $2,
		    usage_limit = $3,
		    updated_at = now()
		FROM usage_states AS old
		WHERE u.organization_id = $1 AND old.organization_id = u.organization_id
		RETURNING old.current_usage`,
		orgID, cycleStart, limit)
	err = row.Scan(&previousCurrent)
	return previousCurrent, err
}

// UpdateUsageLimit applies a new plan limit mid-cycle. Overage is
// recomputed against the counter as it stands so a mid-cycle upgrade
// clears overage immediately.
func (q *Queries) UpdateUsageLimit(ctx context.Context, orgID uuid.UUID, limit int) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE usage_states
		SET usage_limit = $2,
		    overage = GREATEST(0, current_usage - $2),
		    updated_at = now()
		WHERE organization_id = $1`,
		orgID, limit)
	return err
}

// ClaimThreshold atomically records a threshold label as notified for the
// given cycle. Returns true only for the caller that actually added the
// label; duplicates and claims against a cycle that has since advanced
// return false.
func (q *Queries) ClaimThreshold(ctx context.Context, orgID uuid.UUID, label string, cycleStart time.Time) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE usage_states
		SET notified_thresholds = array_append(notified_thresholds, $2),
		    updated_at = now()
		WHERE organization_id = $1
		  AND cycle_start = $3
		  AND NOT ($2 = ANY (notified_thresholds))`,
		orgID, label, cycleStart)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseThreshold removes a claimed label so a later increment (or the
// daily catch-up job) can retry a dispatch that failed.
func (q *Queries) ReleaseThreshold(ctx context.Context, orgID uuid.UUID, label string, cycleStart time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE usage_states
		SET notified_thresholds = array_remove(notified_thresholds, $2),
		    updated_at = now()
		WHERE organization_id = $1 AND cycle_start = $3`,
		orgID, label, cycleStart)
	return err
}

// InsertUsageResetAudit appends an audit record for a manual reset.
func (q *Queries) InsertUsageResetAudit(ctx context.Context, orgID, actorID uuid.UUID, previousCurrent int) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO usage_reset_audits (organization_id, actor_id, previous_current)
		VALUES ($1, $2, $3)`,
		orgID, actorID, previousCurrent)
	return err
}

// ListUsageResetAudits returns the manual reset history for an
// organization, newest first.
func (q *Queries) ListUsageResetAudits(ctx context.Context, orgID uuid.UUID) ([]domain.UsageResetAudit, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, organization_id, actor_id, previous_current, created_at
		FROM usage_reset_audits
		WHERE organization_id = $1
		ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UsageResetAudit
	for rows.Next() {
		var a domain.UsageResetAudit
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.ActorID, &a.PreviousCurrent, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListUsageStates returns every initialized usage state. Used by the daily
// threshold catch-up job.
func (q *Queries) ListUsageStates(ctx context.Context) ([]domain.UsageState, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+usageColumns+` FROM usage_states ORDER BY organization_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UsageState
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}
