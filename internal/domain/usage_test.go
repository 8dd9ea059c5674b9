package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNextThreshold(t *testing.T) {
	tests := []struct {
		name       string
		percentage float64
		fired      []Threshold
		want       Threshold
		wantFire   bool
	}{
		{"below all thresholds", 79.9, nil, 0, false},
		{"crosses 80", 80, nil, Threshold80, true},
		{"crosses 100", 100, []Threshold{Threshold80}, Threshold100, true},
		{"crosses 110", 110, []Threshold{Threshold80, Threshold100}, Threshold110, true},
		{"80 already fired", 85, []Threshold{Threshold80}, 0, false},
		{"jump fires only highest", 113.3, nil, Threshold110, true},
		{"jump to 100 skips 80", 100, nil, Threshold100, true},
		{"highest fired supersedes lower", 120, []Threshold{Threshold110}, 0, false},
		{"all fired", 150, []Threshold{Threshold80, Threshold100, Threshold110}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fire := NextThreshold(tt.percentage, tt.fired)
			if fire != tt.wantFire || got != tt.want {
				t.Errorf("NextThreshold(%v, %v) = (%v, %v), want (%v, %v)",
					tt.percentage, tt.fired, got, fire, tt.want, tt.wantFire)
			}
		})
	}
}

func TestThresholdLabelRoundTrip(t *testing.T) {
	for _, th := range Thresholds {
		got, ok := ThresholdFromLabel(th.Label())
		if !ok || got != th {
			t.Errorf("ThresholdFromLabel(%q) = (%v, %v), want (%v, true)", th.Label(), got, ok, th)
		}
	}
	if _, ok := ThresholdFromLabel("90%"); ok {
		t.Error("ThresholdFromLabel(\"90%\") should not parse")
	}
}

func TestStartOfMonth(t *testing.T) {
	// 15th of March in a non-UTC zone normalizes to March 1st UTC.
	loc := time.FixedZone("UTC+5", 5*3600)
	now := time.Date(2026, time.March, 15, 3, 4, 5, 0, loc)

	got := StartOfMonth(now)
	if got.Location() != time.UTC {
		t.Fatalf("StartOfMonth location = %v, want UTC", got.Location())
	}
	utc := now.UTC()
	if got.Year() != utc.Year() || got.Month() != utc.Month() || got.Day() != 1 {
		t.Errorf("StartOfMonth(%v) = %v, want first day of %v", now, got, utc.Month())
	}
	if got.Hour() != 0 || got.Minute() != 0 || got.Second() != 0 {
		t.Errorf("StartOfMonth(%v) = %v, want midnight", now, got)
	}
}

func TestUsageStateIsStale(t *testing.T) {
	now := time.Date(2026, time.August, 20, 12, 0, 0, 0, time.UTC)

	fresh := &UsageState{CycleStart: StartOfMonth(now)}
	if fresh.IsStale(now) {
		t.Error("state anchored at current month should not be stale")
	}

	stale := &UsageState{CycleStart: StartOfMonth(now).AddDate(0, -1, 0)}
	if !stale.IsStale(now) {
		t.Error("state anchored at previous month should be stale")
	}
}

func TestUsageStatePercentage(t *testing.T) {
	tests := []struct {
		current int
		limit   int
		want    float64
	}{
		{0, 100, 0},
		{80, 100, 80},
		{340, 300, 340.0 / 300.0 * 100},
		{5, 0, 0}, // zero limit must not divide
	}

	for _, tt := range tests {
		u := &UsageState{Current: tt.current, Limit: tt.limit}
		if got := u.Percentage(); got != tt.want {
			t.Errorf("Percentage(current=%d, limit=%d) = %v, want %v", tt.current, tt.limit, got, tt.want)
		}
	}
}

func TestStatusForPercentage(t *testing.T) {
	tests := []struct {
		pct  float64
		want UsageStatus
	}{
		{0, UsageStatusOK},
		{79.9, UsageStatusOK},
		{80, UsageStatusWarning},
		{99.9, UsageStatusWarning},
		{100, UsageStatusExceeded},
		{150, UsageStatusExceeded},
	}

	for _, tt := range tests {
		if got := StatusForPercentage(tt.pct); got != tt.want {
			t.Errorf("StatusForPercentage(%v) = %v, want %v", tt.pct, got, tt.want)
		}
	}
}

func TestDecideQuota(t *testing.T) {
	now := time.Date(2026, time.August, 20, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	org := func(plan Plan, trialEndsAt *time.Time) *Organization {
		return &Organization{ID: uuid.New(), Plan: plan, TrialEndsAt: trialEndsAt}
	}
	usage := func(current, limit int) *UsageState {
		return &UsageState{Current: current, Limit: limit, CycleStart: StartOfMonth(now)}
	}

	tests := []struct {
		name       string
		org        *Organization
		usage      *UsageState
		wantAllow  bool
		wantReason BlockReason
	}{
		{"free under limit", org(PlanFree, nil), usage(99, 100), true, ""},
		{"free at limit", org(PlanFree, nil), usage(100, 100), false, ReasonQuotaExceeded},
		{"free over limit", org(PlanFree, nil), usage(140, 100), false, ReasonQuotaExceeded},
		{"free trial expired with zero usage", org(PlanFree, &past), usage(0, 100), false, ReasonTrialExpired},
		{"free trial active", org(PlanFree, &future), usage(0, 100), true, ""},
		{"free no usage state yet", org(PlanFree, nil), nil, true, ""},
		{
			name: "free stale cycle treated as reset",
			org:  org(PlanFree, nil),
			usage: &UsageState{
				Current: 100, Limit: 100,
				CycleStart: StartOfMonth(now).AddDate(0, -1, 0),
			},
			wantAllow: true,
		},
		{"basic never blocks", org(PlanBasic, nil), usage(1000, 100), true, ""},
		{"growth never blocks", org(PlanGrowth, nil), usage(3000, 300), true, ""},
		{"pro never blocks", org(PlanPro, nil), usage(7500, 750), true, ""},
		{"paid ignores expired trial", org(PlanPro, &past), usage(0, 750), true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DecideQuota(tt.org, tt.usage, now)
			if d.Allowed != tt.wantAllow {
				t.Errorf("Allowed = %v, want %v", d.Allowed, tt.wantAllow)
			}
			if d.Blocked == tt.wantAllow && tt.wantAllow {
				t.Errorf("Blocked = %v inconsistent with Allowed = %v", d.Blocked, d.Allowed)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.wantReason)
			}
			if d.Blocked && d.Message == "" {
				t.Error("blocked decision must carry a user-facing message")
			}
		})
	}
}

func TestOrganizationNotificationRecipients(t *testing.T) {
	o := &Organization{BillingEmail: "billing@acme.test", OwnerEmail: "owner@acme.test"}
	if got := o.NotificationRecipients(); len(got) != 2 {
		t.Errorf("recipients = %v, want both contacts", got)
	}

	dup := &Organization{BillingEmail: "same@acme.test", OwnerEmail: "same@acme.test"}
	if got := dup.NotificationRecipients(); len(got) != 1 {
		t.Errorf("recipients = %v, want dedup to one", got)
	}

	empty := &Organization{}
	if got := empty.NotificationRecipients(); len(got) != 0 {
		t.Errorf("recipients = %v, want none", got)
	}
}
