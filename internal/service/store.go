// Package service contains the business logic layer.
//
// Services orchestrate the repository, external transports (email, AI,
// object storage), and domain logic. They own input validation, business
// rule enforcement, and error translation from database errors to domain
// errors.
//
// This file defines the persistence contracts the services depend on.
// *repository.Queries satisfies all of them; tests substitute an
// in-memory implementation so no service ever touches process-wide state.
// Implementations report missing rows with sql.ErrNoRows.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/parlor-chat/parlor/internal/domain"
)

// UsageStore is the durable per-organization usage record. The contract
// mirrors what the quota engine needs from storage: reads, lazy
// initialization, an atomic increment-and-return, compare-and-swap cycle
// resets, and idempotent threshold claims.
type UsageStore interface {
	GetUsage(ctx context.Context, orgID uuid.UUID) (*domain.UsageState, error)

	// InitUsage lazily creates the row with zero usage; concurrent callers
	// all receive the stored row.
	InitUsage(ctx context.Context, orgID uuid.UUID, limit int, cycleStart time.Time) (*domain.UsageState, error)

	// IncrementUsage atomically adds one and recomputes overage,
	// returning the updated state. Never a read-modify-write.
	IncrementUsage(ctx context.Context, orgID uuid.UUID) (*domain.UsageState, error)

	// ResetCycleIfStale advances the cycle only when the stored
	// cycle_start predates cycleStart; returns whether this caller won.
	ResetCycleIfStale(ctx context.Context, orgID uuid.UUID, cycleStart time.Time, limit int) (bool, error)

	// ResetCycle resets unconditionally and returns the discarded counter.
	ResetCycle(ctx context.Context, orgID uuid.UUID, cycleStart time.Time, limit int) (int, error)

	// UpdateUsageLimit applies a new limit mid-cycle, recomputing overage
	// against the counter as it stands.
	UpdateUsageLimit(ctx context.Context, orgID uuid.UUID, limit int) error

	// ClaimThreshold marks a threshold label as notified; returns true
	// only for the single caller that added it for this cycle.
	ClaimThreshold(ctx context.Context, orgID uuid.UUID, label string, cycleStart time.Time) (bool, error)

	// ReleaseThreshold undoes a claim whose dispatch failed.
	ReleaseThreshold(ctx context.Context, orgID uuid.UUID, label string, cycleStart time.Time) error

	InsertUsageResetAudit(ctx context.Context, orgID, actorID uuid.UUID, previousCurrent int) error
	ListUsageResetAudits(ctx context.Context, orgID uuid.UUID) ([]domain.UsageResetAudit, error)
	ListUsageStates(ctx context.Context) ([]domain.UsageState, error)
}

// OrganizationStore provides tenant records.
type OrganizationStore interface {
	CreateOrganization(ctx context.Context, params domain.OrganizationParams) (*domain.Organization, error)
	GetOrganization(ctx context.Context, id uuid.UUID) (*domain.Organization, error)
	GetOrganizationWithUsage(ctx context.Context, id uuid.UUID) (*domain.Organization, error)
	ListOrganizations(ctx context.Context) ([]domain.Organization, error)
	UpdateOrganization(ctx context.Context, id uuid.UUID, params domain.OrganizationParams) (*domain.Organization, error)
	DeleteOrganization(ctx context.Context, id uuid.UUID) error
}

// UserStore provides dashboard users and sessions.
type UserStore interface {
	CreateUser(ctx context.Context, orgID uuid.UUID, email, passwordHash, name string) (*domain.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserBySessionTokenHash(ctx context.Context, tokenHash string) (*domain.User, error)
	CreateSession(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)

	// Single-use account tokens (email verification, password reset).
	// CreateUserToken replaces any outstanding token of the same purpose;
	// ConsumeUserToken redeems one atomically or reports sql.ErrNoRows.
	CreateUserToken(ctx context.Context, userID uuid.UUID, tokenHash, purpose string, expiresAt time.Time) error
	ConsumeUserToken(ctx context.Context, tokenHash, purpose string) (uuid.UUID, error)
	DeleteExpiredUserTokens(ctx context.Context) (int64, error)
	MarkEmailVerified(ctx context.Context, userID uuid.UUID) error
	UpdateUserPassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
}

// WidgetStore provides widget configurations.
type WidgetStore interface {
	CreateWidget(ctx context.Context, orgID uuid.UUID, publicKey string, params domain.WidgetParams) (*domain.Widget, error)
	GetWidget(ctx context.Context, id uuid.UUID) (*domain.Widget, error)
	GetWidgetByPublicKey(ctx context.Context, publicKey string) (*domain.Widget, error)
	ListWidgets(ctx context.Context, orgID uuid.UUID) ([]domain.Widget, error)
	UpdateWidget(ctx context.Context, id uuid.UUID, params domain.WidgetParams) (*domain.Widget, error)
	UpdateWidgetAvatar(ctx context.Context, id uuid.UUID, avatarKey string) error
	DeleteWidget(ctx context.Context, id uuid.UUID) error
}

// ConversationStore provides conversations and messages.
type ConversationStore interface {
	CreateConversation(ctx context.Context, orgID, widgetID uuid.UUID, visitorID string) (*domain.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	CreateMessage(ctx context.Context, conversationID uuid.UUID, role domain.MessageRole, content string) (*domain.Message, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error)
}
