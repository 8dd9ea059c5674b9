package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/parlor-chat/parlor/internal/domain"
)

// =============================================================================
// Configuration Constants
// =============================================================================

const (
	// BcryptCost is the cost factor for bcrypt password hashing.
	// Cost 12 takes roughly 250ms on modern hardware, which is acceptable
	// for login flows.
	BcryptCost = 12

	// SessionTokenBytes is the number of random bytes for session tokens.
	// 32 bytes = 256 bits of entropy. The token is hex-encoded to 64
	// characters for transport.
	SessionTokenBytes = 32

	// SessionDuration is how long a session remains valid.
	SessionDuration = 7 * 24 * time.Hour

	// MinPasswordLength is the minimum password length.
	MinPasswordLength = 8

	// MaxPasswordLength caps input before bcrypt's own 72-byte limit.
	MaxPasswordLength = 72

	// VerificationTokenDuration is how long an email verification link works.
	VerificationTokenDuration = 24 * time.Hour

	// PasswordResetTokenDuration is how long a password reset link works.
	PasswordResetTokenDuration = time.Hour
)

// Stored purposes for single-use account tokens.
const (
	tokenPurposeVerifyEmail   = "verify_email"
	tokenPurposePasswordReset = "password_reset"
)

// =============================================================================
// Interface Definition
// =============================================================================

// AccountEmailSender is the slice of the email service the user flows need.
type AccountEmailSender interface {
	SendVerificationEmail(ctx context.Context, to, name, token string) error
	SendPasswordResetEmail(ctx context.Context, to, name, token string) error
}

// UserService defines the interface for dashboard user operations.
type UserService interface {
	// Register creates a new user account in an organization.
	// Returns a conflict error if the email is already registered.
	Register(ctx context.Context, params domain.RegisterParams) (*domain.User, error)

	// Login authenticates a user and creates a new session.
	// Returns the user and raw session token on success.
	Login(ctx context.Context, email, password string) (*domain.LoginResult, error)

	// Logout invalidates a session by its raw token.
	// This is idempotent - calling with an invalid token is not an error.
	Logout(ctx context.Context, token string) error

	// GetByID retrieves a user by their ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetBySessionToken retrieves the user that owns a valid session token.
	// Returns an unauthorized error if the token is invalid or expired.
	GetBySessionToken(ctx context.Context, token string) (*domain.User, error)

	// VerifyEmail redeems a verification token and marks the user's
	// address as verified. Tokens are single-use.
	VerifyEmail(ctx context.Context, token string) error

	// RequestPasswordReset issues a reset token and mails it to the user.
	// Unknown addresses succeed silently so the endpoint does not reveal
	// which emails are registered.
	RequestPasswordReset(ctx context.Context, email string) error

	// ResetPassword redeems a reset token, replaces the password, and
	// invalidates every session the user holds.
	ResetPassword(ctx context.Context, token, newPassword string) error

	// DeleteExpiredSessions removes all expired sessions and account
	// tokens. Called periodically by the jobs scheduler.
	DeleteExpiredSessions(ctx context.Context) error
}

// =============================================================================
// Implementation
// =============================================================================

type userService struct {
	users  UserStore
	mailer AccountEmailSender
	logger *slog.Logger
}

// NewUserService creates a new UserService.
func NewUserService(users UserStore, mailer AccountEmailSender, logger *slog.Logger) UserService {
	return &userService{
		users:  users,
		mailer: mailer,
		logger: logger,
	}
}

// Register creates a new user account.
//
// The password is hashed with bcrypt before storage and the hash is
// cleared from the returned user. When the email is already registered a
// dummy hash is still computed so registration time does not reveal
// whether an address exists.
func (s *userService) Register(ctx context.Context, params domain.RegisterParams) (*domain.User, error) {
	const op = "user.register"

	params.Email = strings.ToLower(strings.TrimSpace(params.Email))
	params.Name = strings.TrimSpace(params.Name)

	if err := validateEmail(params.Email); err != nil {
		return nil, domain.Wrap(err, domain.EINVALID, op, "Invalid email address")
	}
	if params.Name == "" {
		return nil, domain.Invalid(op, "Name is required")
	}
	if err := validatePassword(params.Password); err != nil {
		return nil, domain.Wrap(err, domain.EINVALID, op, "Invalid password")
	}
	if params.OrganizationID == uuid.Nil {
		return nil, domain.Invalid(op, "Organization is required")
	}

	_, err := s.users.GetUserByEmail(ctx, params.Email)
	if err == nil {
		_, _ = bcrypt.GenerateFromPassword([]byte(params.Password), BcryptCost)
		return nil, domain.Conflict(op, "Email already registered")
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Internal(err, op, "Failed to check email availability")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(params.Password), BcryptCost)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to hash password")
	}

	user, err := s.users.CreateUser(ctx, params.OrganizationID, params.Email, string(passwordHash), params.Name)
	if err != nil {
		// The unique index may still fire if two registrations race.
		if strings.Contains(err.Error(), "unique") || strings.Contains(err.Error(), "duplicate") {
			return nil, domain.Conflict(op, "Email already registered")
		}
		return nil, domain.Internal(err, op, "Failed to create user")
	}

	user.PasswordHash = ""

	s.logger.Info("user registered",
		"user_id", user.ID,
		"organization_id", user.OrganizationID,
		"email", user.Email,
	)

	// Verification is best effort: the account works either way, and the
	// user can request a fresh link if the mail never arrives.
	if err := s.sendVerification(ctx, user); err != nil {
		s.logger.Warn("failed to send verification email",
			"op", op,
			"user_id", user.ID,
			"error", err,
		)
	}

	return user, nil
}

func (s *userService) sendVerification(ctx context.Context, user *domain.User) error {
	token, err := generateSessionToken()
	if err != nil {
		return err
	}
	expiresAt := time.Now().Add(VerificationTokenDuration)
	if err := s.users.CreateUserToken(ctx, user.ID, hashSessionToken(token), tokenPurposeVerifyEmail, expiresAt); err != nil {
		return err
	}
	return s.mailer.SendVerificationEmail(ctx, user.Email, user.DisplayName(), token)
}

// Login authenticates a user and creates a new session.
//
// The raw session token is returned exactly once; only its SHA-256 hash
// is stored. Unknown emails still pay a bcrypt comparison so the response
// time does not reveal whether an address exists.
func (s *userService) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	const op = "user.login"

	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			dummyHash := "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW" // bcrypt hash of "dummy"
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
			return nil, domain.Unauthorized(op, "Invalid email or password")
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, domain.Unauthorized(op, "Invalid email or password")
	}

	token, err := generateSessionToken()
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to generate session token")
	}

	expiresAt := time.Now().Add(SessionDuration)
	if err := s.users.CreateSession(ctx, user.ID, hashSessionToken(token), expiresAt); err != nil {
		return nil, domain.Internal(err, op, "Failed to create session")
	}

	user.PasswordHash = ""

	s.logger.Info("user logged in", "user_id", user.ID)

	return &domain.LoginResult{
		User:  user,
		Token: token,
	}, nil
}

// Logout invalidates a session.
func (s *userService) Logout(ctx context.Context, token string) error {
	const op = "user.logout"

	if err := s.users.DeleteSessionByTokenHash(ctx, hashSessionToken(token)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return domain.Internal(err, op, "Failed to delete session")
	}
	return nil
}

// GetByID retrieves a user by their ID.
func (s *userService) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	const op = "user.get"

	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "user", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}
	user.PasswordHash = ""
	return user, nil
}

// GetBySessionToken retrieves the user that owns a valid session token.
func (s *userService) GetBySessionToken(ctx context.Context, token string) (*domain.User, error) {
	const op = "user.get_by_session"

	user, err := s.users.GetUserBySessionTokenHash(ctx, hashSessionToken(token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Unauthorized(op, "Invalid or expired session")
		}
		return nil, domain.Internal(err, op, "Failed to retrieve session")
	}
	user.PasswordHash = ""
	return user, nil
}

// VerifyEmail redeems a verification token.
func (s *userService) VerifyEmail(ctx context.Context, token string) error {
	const op = "user.verify_email"

	userID, err := s.users.ConsumeUserToken(ctx, hashSessionToken(token), tokenPurposeVerifyEmail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Invalid(op, "This verification link is invalid or has expired.")
		}
		return domain.Internal(err, op, "Failed to verify email")
	}

	if err := s.users.MarkEmailVerified(ctx, userID); err != nil {
		return domain.Internal(err, op, "Failed to mark email verified")
	}

	s.logger.Info("email verified", "user_id", userID)
	return nil
}

// RequestPasswordReset issues a reset token for the given address.
func (s *userService) RequestPasswordReset(ctx context.Context, email string) error {
	const op = "user.request_password_reset"

	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Same response as the happy path.
			return nil
		}
		return domain.Internal(err, op, "Failed to retrieve user")
	}

	token, err := generateSessionToken()
	if err != nil {
		return domain.Internal(err, op, "Failed to generate reset token")
	}
	expiresAt := time.Now().Add(PasswordResetTokenDuration)
	if err := s.users.CreateUserToken(ctx, user.ID, hashSessionToken(token), tokenPurposePasswordReset, expiresAt); err != nil {
		return domain.Internal(err, op, "Failed to store reset token")
	}

	if err := s.mailer.SendPasswordResetEmail(ctx, user.Email, user.DisplayName(), token); err != nil {
		return domain.Internal(err, op, "Failed to send reset email")
	}

	s.logger.Info("password reset requested", "user_id", user.ID)
	return nil
}

// ResetPassword redeems a reset token and replaces the password.
func (s *userService) ResetPassword(ctx context.Context, token, newPassword string) error {
	const op = "user.reset_password"

	if err := validatePassword(newPassword); err != nil {
		return domain.Wrap(err, domain.EINVALID, op, "Invalid password")
	}

	userID, err := s.users.ConsumeUserToken(ctx, hashSessionToken(token), tokenPurposePasswordReset)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Invalid(op, "This reset link is invalid or has expired.")
		}
		return domain.Internal(err, op, "Failed to redeem reset token")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), BcryptCost)
	if err != nil {
		return domain.Internal(err, op, "Failed to hash password")
	}

	if err := s.users.UpdateUserPassword(ctx, userID, string(passwordHash)); err != nil {
		return domain.Internal(err, op, "Failed to update password")
	}

	s.logger.Info("password reset", "user_id", userID)
	return nil
}

// DeleteExpiredSessions removes all expired sessions and account tokens.
func (s *userService) DeleteExpiredSessions(ctx context.Context) error {
	const op = "user.delete_expired_sessions"

	deleted, err := s.users.DeleteExpiredSessions(ctx)
	if err != nil {
		return domain.Internal(err, op, "Failed to delete expired sessions")
	}
	tokens, err := s.users.DeleteExpiredUserTokens(ctx)
	if err != nil {
		return domain.Internal(err, op, "Failed to delete expired tokens")
	}
	if deleted > 0 || tokens > 0 {
		s.logger.Info("expired credentials pruned", "sessions", deleted, "tokens", tokens)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// generateSessionToken creates a cryptographically secure random token.
func generateSessionToken() (string, error) {
	buf := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// hashSessionToken hashes a raw session token for storage and lookup.
func hashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// validateEmail checks that an address parses per RFC 5322.
func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errors.New("email address is not valid")
	}
	return nil
}

// validatePassword enforces length bounds on raw passwords.
func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return errors.New("password must be at least 8 characters")
	}
	if len(password) > MaxPasswordLength {
		return errors.New("password must be at most 72 characters")
	}
	return nil
}
