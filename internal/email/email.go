// Package email provides transactional email sending for the Parlor
// platform.
//
// The Service interface is implemented by an SMTP sender (Mailhog in
// development, any authenticated SMTP relay in production). All methods
// are context-aware for timeout and cancellation support.
package email

import (
	"context"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the interface for sending transactional emails.
type Service interface {
	// SendUsageAlertEmail notifies an organization's billing and owner
	// contacts that a usage threshold was crossed. One call sends to the
	// full recipient list; success means every recipient was accepted by
	// the relay.
	SendUsageAlertEmail(ctx context.Context, params UsageAlertParams) error

	// SendVerificationEmail sends an email verification link to a new user.
	SendVerificationEmail(ctx context.Context, to, name, token string) error

	// SendPasswordResetEmail sends a password reset link to a user.
	SendPasswordResetEmail(ctx context.Context, to, name, token string) error
}

// =============================================================================
// Email Data Types
// =============================================================================

// UsageAlertParams carries everything a usage threshold alert mentions.
type UsageAlertParams struct {
	OrganizationName string
	Recipients       []string
	Plan             string
	Current          int
	Limit            int
	Percentage       float64
	Threshold        string // e.g. "100%"
}

// Email represents a single email message.
type Email struct {
	To       []string // Recipient email addresses
	Subject  string   // Email subject line
	HTMLBody string   // HTML content of the email
	TextBody string   // Plain text fallback content
}

// =============================================================================
// Configuration Types
// =============================================================================

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname (e.g., "localhost" for Mailhog)
	Port     int    // SMTP server port (e.g., 1025 for Mailhog)
	Username string // SMTP authentication username (empty for Mailhog)
	Password string // SMTP authentication password (empty for Mailhog)
	From     string // Default sender email address
	FromName string // Default sender display name
}

// =============================================================================
// Common Constants
// =============================================================================

const (
	// DefaultFromEmail is the default sender email for transactional emails.
	DefaultFromEmail = "noreply@parlor.chat"

	// DefaultFromName is the default sender display name.
	DefaultFromName = "Parlor"
)
