package domain

import (
	"time"

	"github.com/google/uuid"
)

// Widget is an embeddable chat widget owned by an organization. The public
// key is the only identifier exposed to end-user browsers.
type Widget struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	PublicKey      string // Embed-script identifier, safe to expose
	Name           string
	Greeting       string
	ThemeColor     string
	Model          string // Upstream model identifier, empty means provider default
	SystemPrompt   string
	AvatarKey      string // Object storage key for the widget avatar, empty if unset
	Enabled        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WidgetParams contains validated parameters for creating or updating a widget.
type WidgetParams struct {
	Name         string
	Greeting     string
	ThemeColor   string
	Model        string
	SystemPrompt string
	Enabled      bool
}
