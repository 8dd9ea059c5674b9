package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/parlor-chat/parlor/internal/domain"
)

const widgetColumns = `id, organization_id, public_key, name, greeting, theme_color, model, system_prompt, avatar_key, enabled, created_at, updated_at`

func scanWidget(row interface{ Scan(...any) error }) (*domain.Widget, error) {
	var w domain.Widget
	err := row.Scan(&w.ID, &w.OrganizationID, &w.PublicKey, &w.Name, &w.Greeting, &w.ThemeColor,
		&w.Model, &w.SystemPrompt, &w.AvatarKey, &w.Enabled, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateWidget inserts a new widget for an organization.
func (q *Queries) CreateWidget(ctx context.Context, orgID uuid.UUID, publicKey string, params domain.WidgetParams) (*domain.Widget, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO widgets (organization_id, public_key, name, greeting, theme_color, model, system_prompt, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+widgetColumns,
		orgID, publicKey, params.Name, params.Greeting, params.ThemeColor, params.Model, params.SystemPrompt, params.Enabled)
	return scanWidget(row)
}

// GetWidget returns a widget by ID, or sql.ErrNoRows.
func (q *Queries) GetWidget(ctx context.Context, id uuid.UUID) (*domain.Widget, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+widgetColumns+` FROM widgets WHERE id = $1`, id)
	return scanWidget(row)
}

// GetWidgetByPublicKey returns a widget by its embed key, or sql.ErrNoRows.
func (q *Queries) GetWidgetByPublicKey(ctx context.Context, publicKey string) (*domain.Widget, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+widgetColumns+` FROM widgets WHERE public_key = $1`, publicKey)
	return scanWidget(row)
}

// ListWidgets returns all widgets for an organization, newest first.
func (q *Queries) ListWidgets(ctx context.Context, orgID uuid.UUID) ([]domain.Widget, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+widgetColumns+` FROM widgets WHERE organization_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Widget
	for rows.Next() {
		w, err := scanWidget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// UpdateWidget updates a widget's configurable fields.
func (q *Queries) UpdateWidget(ctx context.Context, id uuid.UUID, params domain.WidgetParams) (*domain.Widget, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE widgets
		SET name = $2, greeting = $3, theme_color = $4, model = $5, system_prompt = $6, enabled = $7, updated_at = now()
		WHERE id = $1
		RETURNING `+widgetColumns,
		id, params.Name, params.Greeting, params.ThemeColor, params.Model, params.SystemPrompt, params.Enabled)
	return scanWidget(row)
}

// UpdateWidgetAvatar sets the object storage key for a widget's avatar.
func (q *Queries) UpdateWidgetAvatar(ctx context.Context, id uuid.UUID, avatarKey string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE widgets SET avatar_key = $2, updated_at = now() WHERE id = $1`,
		id, avatarKey)
	return err
}

// DeleteWidget removes a widget; its conversations cascade.
func (q *Queries) DeleteWidget(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM widgets WHERE id = $1`, id)
	return err
}
