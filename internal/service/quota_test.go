package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlor-chat/parlor/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newQuotaForTest(store *memStore, now time.Time) *quotaService {
	return &quotaService{
		orgs:   store,
		usage:  store,
		logger: testLogger(),
		now:    func() time.Time { return now },
	}
}

func TestQuotaCheck_AllowsUnderLimit(t *testing.T) {
	store := newMemStore()
	org := store.addOrg(domain.PlanFree)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store.setUsage(&domain.UsageState{
		OrganizationID: org.ID,
		Current:        42,
		Limit:          100,
		CycleStart:     domain.StartOfMonth(now),
	})

	decision := newQuotaForTest(store, now).Check(context.Background(), org.ID)

	assert.True(t, decision.Allowed)
	assert.False(t, decision.Blocked)
}

func TestQuotaCheck_FreeTierBlocksAtLimit(t *testing.T) {
	store := newMemStore()
	org := store.addOrg(domain.PlanFree)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store.setUsage(&domain.UsageState{
		OrganizationID: org.ID,
		Current:        100,
		Limit:          100,
		CycleStart:     domain.StartOfMonth(now),
	})

	decision := newQuotaForTest(store, now).Check(context.Background(), org.ID)

	assert.True(t, decision.Blocked)
	assert.Equal(t, domain.ReasonQuotaExceeded, decision.Reason)
	assert.Equal(t, domain.MessageQuotaExceeded, decision.Message)
}

func TestQuotaCheck_TrialExpiryIndependentOfCounter(t *testing.T) {
	store := newMemStore()
	org := store.addOrg(domain.PlanFree)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	expired := now.Add(-24 * time.Hour)
	store.mu.Lock()
	store.orgs[org.ID].TrialEndsAt = &expired
	store.mu.Unlock()

	// Zero conversations used; the trial rule blocks regardless.
	store.setUsage(&domain.UsageState{
		OrganizationID: org.ID,
		Current:        0,
		Limit:          100,
		CycleStart:     domain.StartOfMonth(now),
	})

	decision := newQuotaForTest(store, now).Check(context.Background(), org.ID)

	assert.True(t, decision.Blocked)
	assert.Equal(t, domain.ReasonTrialExpired, decision.Reason)
}

func TestQuotaCheck_PaidTierNeverBlocks(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	for _, plan := range []domain.Plan{domain.PlanBasic, domain.PlanGrowth, domain.PlanPro} {
		t.Run(string(plan), func(t *testing.T) {
			org := store.addOrg(plan)
			limit := domain.PlanLimit(plan)
			store.setUsage(&domain.UsageState{
				OrganizationID: org.ID,
				Current:        limit + 150,
				Limit:          limit,
				Overage:        150,
				CycleStart:     domain.StartOfMonth(now),
			})

			decision := newQuotaForTest(store, now).Check(context.Background(), org.ID)

			assert.True(t, decision.Allowed, "paid plan must not block on overage")
		})
	}
}

func TestQuotaCheck_StaleCycleAllows(t *testing.T) {
	store := newMemStore()
	org := store.addOrg(domain.PlanFree)
	now := time.Date(2026, 3, 1, 0, 0, 1, 0, time.UTC)

	// Counter exhausted, but in February's cycle.
	store.setUsage(&domain.UsageState{
		OrganizationID: org.ID,
		Current:        100,
		Limit:          100,
		CycleStart:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})

	decision := newQuotaForTest(store, now).Check(context.Background(), org.ID)

	assert.True(t, decision.Allowed, "a rolled-over cycle counts as reset even before the write lands")
}

func TestQuotaCheck_FailsOpenOnStorageError(t *testing.T) {
	store := newMemStore()
	org := store.addOrg(domain.PlanFree)
	store.getOrgErr = errors.New("connection refused")

	decision := newQuotaForTest(store, time.Now()).Check(context.Background(), org.ID)

	assert.True(t, decision.Allowed)
	assert.False(t, decision.Blocked)
	assert.Error(t, decision.Detail)
}

func TestQuotaCheck_UnknownOrganizationBlocks(t *testing.T) {
	store := newMemStore()

	decision := newQuotaForTest(store, time.Now()).Check(context.Background(), uuid.New())

	assert.True(t, decision.Blocked)
	assert.Equal(t, domain.ReasonOrganizationNotFound, decision.Reason)
}

func TestQuotaCheck_InitializesUsageOnFirstContact(t *testing.T) {
	store := newMemStore()
	org := store.addOrg(domain.PlanGrowth)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	decision := newQuotaForTest(store, now).Check(context.Background(), org.ID)
	require.True(t, decision.Allowed)

	state := store.getState(org.ID)
	require.NotNil(t, state, "first check should create the usage row")
	assert.Equal(t, 0, state.Current)
	assert.Equal(t, 300, state.Limit)
	assert.Equal(t, domain.StartOfMonth(now), state.CycleStart)
}

func TestShouldBlockWidget_MatchesCheck(t *testing.T) {
	store := newMemStore()
	org := store.addOrg(domain.PlanFree)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store.setUsage(&domain.UsageState{
		OrganizationID: org.ID,
		Current:        100,
		Limit:          100,
		CycleStart:     domain.StartOfMonth(now),
	})

	svc := newQuotaForTest(store, now)

	snapshot, err := store.GetOrganizationWithUsage(context.Background(), org.ID)
	require.NoError(t, err)

	live := svc.Check(context.Background(), org.ID)
	fromSnapshot := svc.ShouldBlockWidget(snapshot)

	assert.Equal(t, live.Blocked, fromSnapshot.Blocked)
	assert.Equal(t, live.Reason, fromSnapshot.Reason)
}
