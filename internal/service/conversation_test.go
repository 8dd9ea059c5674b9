package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlor-chat/parlor/internal/ai"
	"github.com/parlor-chat/parlor/internal/ai/mock"
	"github.com/parlor-chat/parlor/internal/domain"
)

func newConversationForTest(store *memStore, provider *mock.Provider, now time.Time) *conversationService {
	sender := &recordingSender{}
	return &conversationService{
		conversations: store,
		widgets:       store,
		quota:         newQuotaForTest(store, now),
		usage:         newUsageForTest(store, sender, now),
		provider:      provider,
		logger:        testLogger(),
	}
}

func TestStart_CreatesConversationAndIncrementsOnce(t *testing.T) {
	store := newMemStore()
	org := store.addOrg(domain.PlanFree)
	widget := store.addWidget(org.ID, "Hi there! How can we help?")
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	svc := newConversationForTest(store, mock.New(testLogger()), now)

	conv, decision, err := svc.Start(context.Background(), widget.PublicKey, "visitor-1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.False(t, decision.Blocked)
	assert.Equal(t, org.ID, conv.OrganizationID)
	assert.Equal(t, widget.ID, conv.WidgetID)

	state := store.getState(org.ID)
	require.NotNil(t, state)
	assert.Equal(t, 1, state.Current, "a started conversation bills exactly one unit")

	// The greeting lands as the opening assistant message.
	history, err := svc.History(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.MessageRoleAssistant, history[0].Role)
	assert.Equal(t, widget.Greeting, history[0].Content)
}

func TestStart_BlockedIsDecisionNotError(t *testing.T) {
	store := newMemStore()
	org := store.addOrg(domain.PlanFree)
	widget := store.addWidget(org.ID, "")
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store.setUsage(&domain.UsageState{
		OrganizationID: org.ID,
		Current:        100,
		Limit:          100,
		CycleStart:     domain.StartOfMonth(now),
	})
	svc := newConversationForTest(store, mock.New(testLogger()), now)

	conv, decision, err := svc.Start(context.Background(), widget.PublicKey, "visitor-1")
	require.NoError(t, err, "a quota block is a business outcome, not a failure")
	assert.Nil(t, conv)
	assert.True(t, decision.Blocked)
	assert.Equal(t, domain.ReasonQuotaExceeded, decision.Reason)

	assert.Empty(t, store.conversations, "nothing is written for a blocked start")
	assert.Equal(t, 100, store.getState(org.ID).Current)
}

func TestStart_DisabledWidget(t *testing.T) {
	store := newMemStore()
	org := store.addOrg(domain.PlanPro)
	widget := store.addWidget(org.ID, "")
	store.mu.Lock()
	store.widgets[widget.ID].Enabled = false
	store.mu.Unlock()
	svc := newConversationForTest(store, mock.New(testLogger()), time.Now())

	_, _, err := svc.Start(context.Background(), widget.PublicKey, "visitor-1")
	require.Error(t, err)
	assert.Equal(t, domain.EFORBIDDEN, domain.ErrorCode(err))
}

func TestStart_UnknownPublicKey(t *testing.T) {
	store := newMemStore()
	svc := newConversationForTest(store, mock.New(testLogger()), time.Now())

	_, _, err := svc.Start(context.Background(), "wk_missing", "visitor-1")
	require.Error(t, err)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestStart_IncrementFailureDoesNotSurfaceToVisitor(t *testing.T) {
	store := newMemStore()
	org := store.addOrg(domain.PlanGrowth)
	widget := store.addWidget(org.ID, "")
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store.setUsage(&domain.UsageState{
		OrganizationID: org.ID,
		Limit:          300,
		CycleStart:     domain.StartOfMonth(now),
	})
	store.incrementErr = assert.AnError
	svc := newConversationForTest(store, mock.New(testLogger()), now)

	conv, decision, err := svc.Start(context.Background(), widget.PublicKey, "visitor-1")
	require.NoError(t, err, "the visitor keeps the conversation even when accounting fails")
	require.NotNil(t, conv)
	assert.False(t, decision.Blocked)
}

func TestSendMessage_RoundTrip(t *testing.T) {
	store := newMemStore()
	org := store.addOrg(domain.PlanPro)
	widget := store.addWidget(org.ID, "")
	provider := mock.New(testLogger())
	provider.CompleteResponse = &ai.CompletionResult{
		Content:      "Our hours are 9 to 5, Monday through Friday.",
		FinishReason: "stop",
	}
	svc := newConversationForTest(store, provider, time.Now())

	conv, _, err := svc.Start(context.Background(), widget.PublicKey, "visitor-1")
	require.NoError(t, err)

	reply, err := svc.SendMessage(context.Background(), conv.ID, "What are your hours?")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageRoleAssistant, reply.Role)
	assert.Equal(t, provider.CompleteResponse.Content, reply.Content)

	history, err := svc.History(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.MessageRoleVisitor, history[0].Role)
	assert.Equal(t, domain.MessageRoleAssistant, history[1].Role)

	// The start billed one unit; the messages added nothing.
	state := store.getState(org.ID)
	assert.Equal(t, 1, state.Current, "messages are not billable units")
}

func TestSendMessage_Validation(t *testing.T) {
	store := newMemStore()
	org := store.addOrg(domain.PlanPro)
	widget := store.addWidget(org.ID, "")
	svc := newConversationForTest(store, mock.New(testLogger()), time.Now())

	conv, _, err := svc.Start(context.Background(), widget.PublicKey, "visitor-1")
	require.NoError(t, err)

	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"whitespace only", "   \n\t  "},
		{"too long", strings.Repeat("a", MaxMessageLength+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SendMessage(context.Background(), conv.ID, tt.content)
			require.Error(t, err)
			assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
		})
	}
}

func TestSendMessage_PassesWidgetConfigToProvider(t *testing.T) {
	store := newMemStore()
	org := store.addOrg(domain.PlanPro)
	widget := store.addWidget(org.ID, "")
	store.mu.Lock()
	store.widgets[widget.ID].SystemPrompt = "You answer questions about Acme's return policy."
	store.widgets[widget.ID].Model = "gpt-4o"
	store.mu.Unlock()

	provider := mock.New(testLogger())
	svc := newConversationForTest(store, provider, time.Now())

	conv, _, err := svc.Start(context.Background(), widget.PublicKey, "visitor-1")
	require.NoError(t, err)

	_, err = svc.SendMessage(context.Background(), conv.ID, "Can I return opened items?")
	require.NoError(t, err)

	require.Equal(t, 1, provider.CompleteCalls)
	assert.Equal(t, "You answer questions about Acme's return policy.", provider.LastParams.SystemPrompt)
	assert.Equal(t, "gpt-4o", provider.LastParams.Model)
	assert.Equal(t, widget.ID, provider.LastParams.WidgetID)
}
