package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/parlor-chat/parlor/internal/domain"
)

const userColumns = `id, organization_id, email, password_hash, name, is_platform_admin, email_verified, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.PasswordHash, &u.Name,
		&u.IsPlatformAdmin, &u.EmailVerified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user.
func (q *Queries) CreateUser(ctx context.Context, orgID uuid.UUID, email, passwordHash, name string) (*domain.User, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO users (organization_id, email, password_hash, name)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userColumns,
		orgID, email, passwordHash, name)
	return scanUser(row)
}

// GetUser returns a user by ID, or sql.ErrNoRows.
func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByEmail returns a user by email, or sql.ErrNoRows.
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// GetUserBySessionTokenHash returns the user owning an unexpired session
// with the given token hash, or sql.ErrNoRows.
func (q *Queries) GetUserBySessionTokenHash(ctx context.Context, tokenHash string) (*domain.User, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT u.id, u.organization_id, u.email, u.password_hash, u.name, u.is_platform_admin, u.email_verified, u.created_at, u.updated_at
		FROM users u
		JOIN sessions s ON s.user_id = u.id
		WHERE s.token_hash = $1 AND s.expires_at > now()`, tokenHash)
	return scanUser(row)
}

// CreateSession inserts a new session with a hashed token.
func (q *Queries) CreateSession(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)`,
		userID, tokenHash, expiresAt)
	return err
}

// DeleteSessionByTokenHash removes a session. Idempotent.
func (q *Queries) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	return err
}

// DeleteExpiredSessions removes all expired sessions and returns the count.
func (q *Queries) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateUserToken inserts a single-use token hash for the given purpose,
// replacing any outstanding token of the same purpose for the user.
func (q *Queries) CreateUserToken(ctx context.Context, userID uuid.UUID, tokenHash, purpose string, expiresAt time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM user_tokens WHERE user_id = $1 AND purpose = $2`, userID, purpose)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO user_tokens (user_id, token_hash, purpose, expires_at)
		VALUES ($1, $2, $3, $4)`,
		userID, tokenHash, purpose, expiresAt)
	return err
}

// ConsumeUserToken deletes an unexpired token with the given hash and
// purpose and returns its owner. The delete makes consumption single-use:
// of two concurrent redemptions exactly one gets the row, the other gets
// sql.ErrNoRows.
func (q *Queries) ConsumeUserToken(ctx context.Context, tokenHash, purpose string) (uuid.UUID, error) {
	var userID uuid.UUID
	err := q.db.QueryRowContext(ctx, `
		DELETE FROM user_tokens
		WHERE token_hash = $1 AND purpose = $2 AND expires_at > now()
		RETURNING user_id`,
		tokenHash, purpose).Scan(&userID)
	return userID, err
}

// DeleteExpiredUserTokens removes all expired tokens and returns the count.
func (q *Queries) DeleteExpiredUserTokens(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkEmailVerified flags a user's email address as verified.
func (q *Queries) MarkEmailVerified(ctx context.Context, userID uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE users SET email_verified = TRUE, updated_at = now()
		WHERE id = $1`, userID)
	return err
}

// UpdateUserPassword replaces a user's password hash and invalidates every
// session the user holds.
func (q *Queries) UpdateUserPassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now()
		WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}
