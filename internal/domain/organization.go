// Package domain contains core business types and interfaces.
//
// This file defines the Organization domain type. An organization is a
// tenant: it owns widgets, conversations, and exactly one UsageState for
// conversation quota accounting.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Plan identifies an organization's pricing tier.
type Plan string

const (
	PlanFree   Plan = "free"
	PlanBasic  Plan = "basic"
	PlanGrowth Plan = "growth"
	PlanPro    Plan = "pro"
)

// Valid reports whether the plan is one of the known tiers.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanBasic, PlanGrowth, PlanPro:
		return true
	default:
		return false
	}
}

// IsPaid reports whether the plan is a paid tier. Paid tiers are never
// blocked on quota; overage is tracked and billed instead.
func (p Plan) IsPaid() bool {
	switch p {
	case PlanBasic, PlanGrowth, PlanPro:
		return true
	default:
		return false
	}
}

// Organization represents a tenant of the Parlor platform.
//
// The Usage field is a snapshot loaded alongside the organization; it is
// nil when the organization has never been checked or incremented.
type Organization struct {
	ID           uuid.UUID
	Name         string
	Plan         Plan
	TrialEndsAt  *time.Time // Only meaningful for free-tier organizations
	BillingEmail string
	OwnerEmail   string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Usage *UsageState
}

// TrialExpired reports whether the organization's trial window has passed.
// Organizations without a trial deadline never expire.
func (o *Organization) TrialExpired(now time.Time) bool {
	return o.TrialEndsAt != nil && now.After(*o.TrialEndsAt)
}

// NotificationRecipients returns the distinct contact addresses that should
// receive usage threshold alerts.
func (o *Organization) NotificationRecipients() []string {
	seen := make(map[string]struct{}, 2)
	var out []string
	for _, addr := range []string{o.BillingEmail, o.OwnerEmail} {
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// OrganizationParams contains validated parameters for creating or updating
// an organization.
type OrganizationParams struct {
	Name         string
	Plan         Plan
	TrialEndsAt  *time.Time
	BillingEmail string
	OwnerEmail   string
}
