package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/parlor-chat/parlor/internal/domain"
)

const orgColumns = `id, name, plan, trial_ends_at, billing_email, owner_email, created_at, updated_at`

func scanOrganization(row interface{ Scan(...any) error }) (*domain.Organization, error) {
	var (
		o     domain.Organization
		plan  string
		trial sql.NullTime
	)
	err := row.Scan(&o.ID, &o.Name, &plan, &trial, &o.BillingEmail, &o.OwnerEmail, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Plan = domain.Plan(plan)
	if trial.Valid {
		t := trial.Time
		o.TrialEndsAt = &t
	}
	return &o, nil
}

// CreateOrganization inserts a new organization.
func (q *Queries) CreateOrganization(ctx context.Context, params domain.OrganizationParams) (*domain.Organization, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO organizations (name, plan, trial_ends_at, billing_email, owner_email)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+orgColumns,
		params.Name, string(params.Plan), nullTime(params.TrialEndsAt), params.BillingEmail, params.OwnerEmail)
	return scanOrganization(row)
}

// GetOrganization returns an organization by ID, or sql.ErrNoRows.
func (q *Queries) GetOrganization(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id)
	return scanOrganization(row)
}

// GetOrganizationWithUsage returns an organization together with its usage
// snapshot in one round trip. Usage is nil when the organization has never
// been checked or incremented.
func (q *Queries) GetOrganizationWithUsage(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT o.id, o.name, o.plan, o.trial_ends_at, o.billing_email, o.owner_email, o.created_at, o.updated_at,
		       u.current_usage, u.usage_limit, u.cycle_start, u.overage, u.notified_thresholds, u.updated_at
		FROM organizations o
		LEFT JOIN usage_states u ON u.organization_id = o.id
		WHERE o.id = $1`, id)

	var (
		o        domain.Organization
		plan     string
		trial    sql.NullTime
		current  sql.NullInt64
		limit    sql.NullInt64
		cycle    sql.NullTime
		overage  sql.NullInt64
		labels   pq.StringArray
		usageUpd sql.NullTime
	)
	err := row.Scan(&o.ID, &o.Name, &plan, &trial, &o.BillingEmail, &o.OwnerEmail, &o.CreatedAt, &o.UpdatedAt,
		&current, &limit, &cycle, &overage, &labels, &usageUpd)
	if err != nil {
		return nil, err
	}
	o.Plan = domain.Plan(plan)
	if trial.Valid {
		t := trial.Time
		o.TrialEndsAt = &t
	}
	if cycle.Valid {
		o.Usage = &domain.UsageState{
			OrganizationID:     o.ID,
			Current:            int(current.Int64),
			Limit:              int(limit.Int64),
			CycleStart:         cycle.Time,
			Overage:            int(overage.Int64),
			NotifiedThresholds: thresholdsFromLabels(labels),
			UpdatedAt:          usageUpd.Time,
		}
	}
	return &o, nil
}

// ListOrganizations returns all organizations, newest first.
func (q *Queries) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+orgColumns+` FROM organizations ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// UpdateOrganization updates an organization's mutable fields.
func (q *Queries) UpdateOrganization(ctx context.Context, id uuid.UUID, params domain.OrganizationParams) (*domain.Organization, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE organizations
		SET name = $2, plan = $3, trial_ends_at = $4, billing_email = $5, owner_email = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+orgColumns,
		id, params.Name, string(params.Plan), nullTime(params.TrialEndsAt), params.BillingEmail, params.OwnerEmail)
	return scanOrganization(row)
}

// DeleteOrganization removes an organization. Widgets, conversations,
// usage state, and users cascade at the database level.
func (q *Queries) DeleteOrganization(ctx context.Context, id uuid.UUID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
