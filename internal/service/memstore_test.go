package service

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parlor-chat/parlor/internal/domain"
	"github.com/parlor-chat/parlor/internal/email"
)

// =============================================================================
// In-Memory Store
// =============================================================================

// memStore is an in-memory implementation of the store interfaces. A single
// mutex stands in for the row-level atomicity the SQL statements provide:
// increment, reset, and threshold claim each run as one critical section.
type memStore struct {
	mu            sync.Mutex
	orgs          map[uuid.UUID]*domain.Organization
	usage         map[uuid.UUID]*domain.UsageState
	users         map[uuid.UUID]*domain.User
	widgets       map[uuid.UUID]*domain.Widget
	conversations map[uuid.UUID]*domain.Conversation
	messages      map[uuid.UUID][]domain.Message
	tokens        map[string]memToken
	audits        []domain.UsageResetAudit

	// Error injection, checked before the corresponding operation.
	getOrgErr       error
	getUsageErr     error
	incrementErr    error
	claimErr        error
	listStatesErr   error
	updateLimitErr  error
	resetStaleCalls int
}

func newMemStore() *memStore {
	return &memStore{
		orgs:          make(map[uuid.UUID]*domain.Organization),
		usage:         make(map[uuid.UUID]*domain.UsageState),
		users:         make(map[uuid.UUID]*domain.User),
		widgets:       make(map[uuid.UUID]*domain.Widget),
		conversations: make(map[uuid.UUID]*domain.Conversation),
		messages:      make(map[uuid.UUID][]domain.Message),
	}
}

func (m *memStore) addOrg(plan domain.Plan) *domain.Organization {
	m.mu.Lock()
	defer m.mu.Unlock()
	org := &domain.Organization{
		ID:           uuid.New(),
		Name:         "Acme Co",
		Plan:         plan,
		BillingEmail: "billing@acme.test",
		OwnerEmail:   "owner@acme.test",
		CreatedAt:    time.Now(),
	}
	m.orgs[org.ID] = org
	return org
}

func (m *memStore) addUser(orgID uuid.UUID, admin bool) *domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &domain.User{
		ID:              uuid.New(),
		OrganizationID:  orgID,
		Email:           "user@acme.test",
		Name:            "Test User",
		IsPlatformAdmin: admin,
	}
	m.users[u.ID] = u
	return u
}

func (m *memStore) setUsage(state *domain.UsageState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.usage[state.OrganizationID] = &cp
}

func (m *memStore) getState(orgID uuid.UUID) *domain.UsageState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.usage[orgID]; ok {
		cp := *s
		return &cp
	}
	return nil
}

// =============================================================================
// UsageStore
// =============================================================================

func (m *memStore) GetUsage(_ context.Context, orgID uuid.UUID) (*domain.UsageState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getUsageErr != nil {
		return nil, m.getUsageErr
	}
	s, ok := m.usage[orgID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) InitUsage(_ context.Context, orgID uuid.UUID, limit int, cycleStart time.Time) (*domain.UsageState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.usage[orgID]; ok {
		cp := *s
		return &cp, nil
	}
	s := &domain.UsageState{
		OrganizationID: orgID,
		Limit:          limit,
		CycleStart:     cycleStart,
		UpdatedAt:      time.Now(),
	}
	m.usage[orgID] = s
	cp := *s
	return &cp, nil
}

func (m *memStore) IncrementUsage(_ context.Context, orgID uuid.UUID) (*domain.UsageState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incrementErr != nil {
		return nil, m.incrementErr
	}
	s, ok := m.usage[orgID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	s.Current++
	s.Overage = max(0, s.Current-s.Limit)
	s.UpdatedAt = time.Now()
	cp := *s
	return &cp, nil
}

func (m *memStore) ResetCycleIfStale(_ context.Context, orgID uuid.UUID, cycleStart time.Time, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetStaleCalls++
	s, ok := m.usage[orgID]
	if !ok {
		return false, sql.ErrNoRows
	}
	if !s.CycleStart.Before(cycleStart) {
		return false, nil
	}
	s.Current = 0
	s.Overage = 0
	s.Limit = limit
	s.CycleStart = cycleStart
	s.NotifiedThresholds = nil
	s.UpdatedAt = time.Now()
	return true, nil
}

func (m *memStore) ResetCycle(_ context.Context, orgID uuid.UUID, cycleStart time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.usage[orgID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	previous := s.Current
	s.Current = 0
	s.Overage = 0
	s.Limit = limit
	s.CycleStart = cycleStart
	s.NotifiedThresholds = nil
	s.UpdatedAt = time.Now()
	return previous, nil
}

func (m *memStore) UpdateUsageLimit(_ context.Context, orgID uuid.UUID, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateLimitErr != nil {
		return m.updateLimitErr
	}
	s, ok := m.usage[orgID]
	if !ok {
		return sql.ErrNoRows
	}
	s.Limit = limit
	s.Overage = max(0, s.Current-limit)
	s.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) ClaimThreshold(_ context.Context, orgID uuid.UUID, label string, cycleStart time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return false, m.claimErr
	}
	s, ok := m.usage[orgID]
	if !ok {
		return false, nil
	}
	if !s.CycleStart.Equal(cycleStart) {
		return false, nil
	}
	threshold, ok := domain.ThresholdFromLabel(label)
	if !ok {
		return false, nil
	}
	if s.HasNotified(threshold) {
		return false, nil
	}
	s.NotifiedThresholds = append(s.NotifiedThresholds, threshold)
	return true, nil
}

func (m *memStore) ReleaseThreshold(_ context.Context, orgID uuid.UUID, label string, cycleStart time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.usage[orgID]
	if !ok || !s.CycleStart.Equal(cycleStart) {
		return nil
	}
	threshold, ok := domain.ThresholdFromLabel(label)
	if !ok {
		return nil
	}
	kept := s.NotifiedThresholds[:0]
	for _, t := range s.NotifiedThresholds {
		if t != threshold {
			kept = append(kept, t)
		}
	}
	s.NotifiedThresholds = kept
	return nil
}

func (m *memStore) InsertUsageResetAudit(_ context.Context, orgID, actorID uuid.UUID, previousCurrent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append([]domain.UsageResetAudit{{
		ID:              uuid.New(),
		OrganizationID:  orgID,
		ActorID:         actorID,
		PreviousCurrent: previousCurrent,
		CreatedAt:       time.Now(),
	}}, m.audits...)
	return nil
}

func (m *memStore) ListUsageResetAudits(_ context.Context, orgID uuid.UUID) ([]domain.UsageResetAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.UsageResetAudit
	for _, a := range m.audits {
		if a.OrganizationID == orgID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) ListUsageStates(_ context.Context) ([]domain.UsageState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listStatesErr != nil {
		return nil, m.listStatesErr
	}
	out := make([]domain.UsageState, 0, len(m.usage))
	for _, s := range m.usage {
		out = append(out, *s)
	}
	return out, nil
}

// =============================================================================
// OrganizationStore
// =============================================================================

func (m *memStore) CreateOrganization(_ context.Context, params domain.OrganizationParams) (*domain.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org := &domain.Organization{
		ID:           uuid.New(),
		Name:         params.Name,
		Plan:         params.Plan,
		TrialEndsAt:  params.TrialEndsAt,
		BillingEmail: params.BillingEmail,
		OwnerEmail:   params.OwnerEmail,
		CreatedAt:    time.Now(),
	}
	m.orgs[org.ID] = org
	cp := *org
	return &cp, nil
}

func (m *memStore) GetOrganization(_ context.Context, id uuid.UUID) (*domain.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getOrgErr != nil {
		return nil, m.getOrgErr
	}
	org, ok := m.orgs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *org
	return &cp, nil
}

func (m *memStore) GetOrganizationWithUsage(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	org, err := m.GetOrganization(ctx, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.usage[id]; ok {
		cp := *s
		org.Usage = &cp
	}
	return org, nil
}

func (m *memStore) ListOrganizations(_ context.Context) ([]domain.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Organization, 0, len(m.orgs))
	for _, org := range m.orgs {
		out = append(out, *org)
	}
	return out, nil
}

func (m *memStore) UpdateOrganization(_ context.Context, id uuid.UUID, params domain.OrganizationParams) (*domain.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	org.Name = params.Name
	org.Plan = params.Plan
	org.TrialEndsAt = params.TrialEndsAt
	org.BillingEmail = params.BillingEmail
	org.OwnerEmail = params.OwnerEmail
	org.UpdatedAt = time.Now()
	cp := *org
	return &cp, nil
}

func (m *memStore) DeleteOrganization(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.orgs, id)
	delete(m.usage, id)
	return nil
}

// =============================================================================
// UserStore
// =============================================================================

func (m *memStore) CreateUser(_ context.Context, orgID uuid.UUID, emailAddr, passwordHash, name string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &domain.User{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Email:          emailAddr,
		PasswordHash:   passwordHash,
		Name:           name,
		CreatedAt:      time.Now(),
	}
	m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *memStore) GetUser(_ context.Context, id uuid.UUID) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, emailAddr string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == emailAddr {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) GetUserBySessionTokenHash(_ context.Context, _ string) (*domain.User, error) {
	return nil, sql.ErrNoRows
}

func (m *memStore) CreateSession(_ context.Context, _ uuid.UUID, _ string, _ time.Time) error {
	return nil
}

func (m *memStore) DeleteSessionByTokenHash(_ context.Context, _ string) error {
	return nil
}

func (m *memStore) DeleteExpiredSessions(_ context.Context) (int64, error) {
	return 0, nil
}

type memToken struct {
	userID    uuid.UUID
	purpose   string
	expiresAt time.Time
}

func (m *memStore) CreateUserToken(_ context.Context, userID uuid.UUID, tokenHash, purpose string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = make(map[string]memToken)
	}
	for hash, t := range m.tokens {
		if t.userID == userID && t.purpose == purpose {
			delete(m.tokens, hash)
		}
	}
	m.tokens[tokenHash] = memToken{userID: userID, purpose: purpose, expiresAt: expiresAt}
	return nil
}

func (m *memStore) ConsumeUserToken(_ context.Context, tokenHash, purpose string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenHash]
	if !ok || t.purpose != purpose || !t.expiresAt.After(time.Now()) {
		return uuid.Nil, sql.ErrNoRows
	}
	delete(m.tokens, tokenHash)
	return t.userID, nil
}

func (m *memStore) DeleteExpiredUserTokens(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, t := range m.tokens {
		if !t.expiresAt.After(time.Now()) {
			delete(m.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (m *memStore) MarkEmailVerified(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.EmailVerified = true
	return nil
}

func (m *memStore) UpdateUserPassword(_ context.Context, userID uuid.UUID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	return nil
}

// =============================================================================
// WidgetStore
// =============================================================================

func (m *memStore) addWidget(orgID uuid.UUID, greeting string) *domain.Widget {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &domain.Widget{
		ID:             uuid.New(),
		OrganizationID: orgID,
		PublicKey:      "wk_" + uuid.NewString(),
		Name:           "Support",
		Greeting:       greeting,
		Enabled:        true,
		CreatedAt:      time.Now(),
	}
	m.widgets[w.ID] = w
	return w
}

func (m *memStore) CreateWidget(_ context.Context, orgID uuid.UUID, publicKey string, params domain.WidgetParams) (*domain.Widget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &domain.Widget{
		ID:             uuid.New(),
		OrganizationID: orgID,
		PublicKey:      publicKey,
		Name:           params.Name,
		Greeting:       params.Greeting,
		ThemeColor:     params.ThemeColor,
		Model:          params.Model,
		SystemPrompt:   params.SystemPrompt,
		Enabled:        params.Enabled,
		CreatedAt:      time.Now(),
	}
	m.widgets[w.ID] = w
	cp := *w
	return &cp, nil
}

func (m *memStore) GetWidget(_ context.Context, id uuid.UUID) (*domain.Widget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.widgets[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *w
	return &cp, nil
}

func (m *memStore) GetWidgetByPublicKey(_ context.Context, publicKey string) (*domain.Widget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.widgets {
		if w.PublicKey == publicKey {
			cp := *w
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) ListWidgets(_ context.Context, orgID uuid.UUID) ([]domain.Widget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Widget
	for _, w := range m.widgets {
		if w.OrganizationID == orgID {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (m *memStore) UpdateWidget(_ context.Context, id uuid.UUID, params domain.WidgetParams) (*domain.Widget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.widgets[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	w.Name = params.Name
	w.Greeting = params.Greeting
	w.ThemeColor = params.ThemeColor
	w.Model = params.Model
	w.SystemPrompt = params.SystemPrompt
	w.Enabled = params.Enabled
	w.UpdatedAt = time.Now()
	cp := *w
	return &cp, nil
}

func (m *memStore) UpdateWidgetAvatar(_ context.Context, id uuid.UUID, avatarKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.widgets[id]
	if !ok {
		return sql.ErrNoRows
	}
	w.AvatarKey = avatarKey
	return nil
}

func (m *memStore) DeleteWidget(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.widgets[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.widgets, id)
	return nil
}

// =============================================================================
// ConversationStore
// =============================================================================

func (m *memStore) CreateConversation(_ context.Context, orgID, widgetID uuid.UUID, visitorID string) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &domain.Conversation{
		ID:             uuid.New(),
		OrganizationID: orgID,
		WidgetID:       widgetID,
		VisitorID:      visitorID,
		CreatedAt:      time.Now(),
	}
	m.conversations[c.ID] = c
	cp := *c
	return &cp, nil
}

func (m *memStore) GetConversation(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) CreateMessage(_ context.Context, conversationID uuid.UUID, role domain.MessageRole, content string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[conversationID]; !ok {
		return nil, sql.ErrNoRows
	}
	msg := domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	return &msg, nil
}

func (m *memStore) ListMessages(_ context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Message, len(m.messages[conversationID]))
	copy(out, m.messages[conversationID])
	return out, nil
}

// =============================================================================
// Alert Sender
// =============================================================================

// recordingSender captures dispatched usage alerts.
type recordingSender struct {
	mu      sync.Mutex
	sent    []email.UsageAlertParams
	sendErr error
}

func (r *recordingSender) SendUsageAlertEmail(_ context.Context, params email.UsageAlertParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, params)
	return nil
}

func (r *recordingSender) labels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, p := range r.sent {
		out = append(out, p.Threshold)
	}
	return out
}

var (
	_ UsageStore        = (*memStore)(nil)
	_ OrganizationStore = (*memStore)(nil)
	_ UserStore         = (*memStore)(nil)
	_ WidgetStore       = (*memStore)(nil)
	_ ConversationStore = (*memStore)(nil)
	_ UsageAlertSender  = (*recordingSender)(nil)
)
