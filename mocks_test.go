package authcore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// memAccounts is an in-memory AccountRepository keyed by account ID.
type memAccounts struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{accounts: make(map[string]*Account)}
}

func (m *memAccounts) put(a *Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *a
	m.accounts[a.ID] = &copied
}

func (m *memAccounts) get(id string) *Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil
	}
	copied := *a
	return &copied
}

func (m *memAccounts) FindByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if strings.EqualFold(a.Email, email) {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memAccounts) FindByID(_ context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	copied := *a
	return &copied, nil
}

func (m *memAccounts) Update(_ context.Context, id string, patch AccountPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	if patch.PasswordHash != nil {
		a.PasswordHash = *patch.PasswordHash
	}
	if patch.LoginAttempts != nil {
		a.LoginAttempts = *patch.LoginAttempts
	}
	if patch.LockedUntil != nil {
		until := *patch.LockedUntil
		a.LockedUntil = &until
	}
	if patch.ClearLock {
		a.LockedUntil = nil
	}
	if patch.LastLoginAt != nil {
		at := *patch.LastLoginAt
		a.LastLoginAt = &at
	}
	if patch.ResetToken != nil {
		a.ResetToken = *patch.ResetToken
	}
	if patch.ResetExpiry != nil {
		expiry := *patch.ResetExpiry
		a.ResetExpiry = &expiry
	}
	return nil
}

// memSessions is an in-memory SessionRepository keyed by session ID.
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]*Session)}
}

func (m *memSessions) get(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	copied := *s
	return &copied
}

func (m *memSessions) mutate(sessionID string, fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		fn(s)
	}
}

func (m *memSessions) Insert(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *s
	m.sessions[s.SessionID] = &copied
	return nil
}

func (m *memSessions) FindBySessionID(_ context.Context, sessionID string) (*Session, error) {
	return m.get(sessionID), nil
}

func (m *memSessions) FindActiveByRefresh(_ context.Context, sessionID, refreshHash string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.IsActive || s.RefreshTokenHash != refreshHash {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (m *memSessions) listWhere(match func(*Session) bool) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for _, s := range m.sessions {
		if match(s) {
			copied := *s
			out = append(out, &copied)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

func (m *memSessions) ListActive(_ context.Context, userID, sourceTable string) ([]*Session, error) {
	return m.listWhere(func(s *Session) bool {
		return s.IsActive && s.UserID == userID && s.SourceTable == sourceTable
	}), nil
}

func (m *memSessions) ListActiveByEmail(_ context.Context, email, sourceTable string) ([]*Session, error) {
	return m.listWhere(func(s *Session) bool {
		return s.IsActive && strings.EqualFold(s.UserEmail, email) && s.SourceTable == sourceTable
	}), nil
}

func (m *memSessions) RotateRefresh(_ context.Context, sessionID, refreshHash string, expiresAt, lastActivity time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.IsActive {
		return ErrSessionNotFound
	}
	s.RefreshTokenHash = refreshHash
	s.ExpiresAt = expiresAt
	s.LastActivity = lastActivity
	return nil
}

func (m *memSessions) Touch(_ context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok && s.IsActive {
		s.LastActivity = at
	}
	return nil
}

func (m *memSessions) Revoke(_ context.Context, sessionID, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.IsActive {
		return false, nil
	}
	s.IsActive = false
	revokedAt := at
	s.RevokedAt = &revokedAt
	s.RevokedReason = reason
	return true, nil
}

func (m *memSessions) RevokeAll(_ context.Context, userID, sourceTable, reason string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, s := range m.sessions {
		if !s.IsActive || s.UserID != userID {
			continue
		}
		if sourceTable != "" && s.SourceTable != sourceTable {
			continue
		}
		s.IsActive = false
		revokedAt := at
		s.RevokedAt = &revokedAt
		s.RevokedReason = reason
		count++
	}
	return count, nil
}

func (m *memSessions) RevokeExpired(_ context.Context, sourceTable string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, s := range m.sessions {
		if !s.IsActive || !s.ExpiresAt.Before(now) {
			continue
		}
		if sourceTable != "" && s.SourceTable != sourceTable {
			continue
		}
		s.IsActive = false
		revokedAt := now
		s.RevokedAt = &revokedAt
		s.RevokedReason = ReasonExpired
		count++
	}
	return count, nil
}

func (m *memSessions) CountByTable(_ context.Context) (map[string]SessionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := make(map[string]SessionStats)
	for _, s := range m.sessions {
		st := stats[s.SourceTable]
		st.Total++
		if s.IsActive {
			st.Active++
		} else {
			st.Revoked++
		}
		stats[s.SourceTable] = st
	}
	return stats, nil
}

func (m *memSessions) CountByLocation(_ context.Context, sourceTable string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, s := range m.sessions {
		if !s.IsActive {
			continue
		}
		if sourceTable != "" && s.SourceTable != sourceTable {
			continue
		}
		counts[s.Location]++
	}
	return counts, nil
}

// testConfig returns a valid configuration with cheap argon2
// parameters so tests stay fast.
func testConfig() Config {
	cfg := DevelopmentConfig()
	cfg.Token.AccessSecret = []byte(strings.Repeat("a", 32))
	cfg.Token.RefreshSecret = []byte(strings.Repeat("r", 32))
	cfg.Transport.Secret = "transport-secret"
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.KeyLength = 16
	cfg.Session.EnableGeolocation = false
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

type testFixture struct {
	engine   *Engine
	accounts *memAccounts
	sessions *memSessions
	sender   *ChannelSender
}

const (
	testTable   = "users"
	testTableB  = "vets"
	testEmail   = "alice@example.com"
	testPass    = "correct-horse-battery"
	testUserID  = "user-1"
	testAgentUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

func newTestFixture(t *testing.T, mutators ...func(*Config)) *testFixture {
	t.Helper()

	cfg := testConfig()
	for _, mutate := range mutators {
		mutate(&cfg)
	}

	accounts := newMemAccounts()
	accountsB := newMemAccounts()
	sessions := newMemSessions()
	sender := NewChannelSender(16)

	engine, err := New().
		WithConfig(cfg).
		WithTenant(Tenant{SourceTable: testTable, SessionPrefix: "usr", Accounts: accounts}).
		WithTenant(Tenant{SourceTable: testTableB, SessionPrefix: "vet", Accounts: accountsB}).
		WithSessionRepository(sessions).
		WithNotificationSender(sender).
		Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	t.Cleanup(engine.Close)

	f := &testFixture{
		engine:   engine,
		accounts: accounts,
		sessions: sessions,
		sender:   sender,
	}
	f.seedAccount(t, testUserID, testEmail, testPass)
	return f
}

func (f *testFixture) seedAccount(t *testing.T, id, email, pass string) {
	t.Helper()
	hash, err := f.engine.hasher.Hash(pass)
	if err != nil {
		t.Fatalf("seed hash: %v", err)
	}
	f.accounts.put(&Account{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Role:         "owner",
		IsActive:     true,
		IsVerified:   true,
	})
}

func (f *testFixture) login(t *testing.T) *LoginResult {
	t.Helper()
	result, err := f.engine.Login(context.Background(), testTable, LoginInput{
		Email:     testEmail,
		Password:  testPass,
		UserAgent: testAgentUA,
		IPAddress: "203.0.113.10",
	})
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	return result
}

func (f *testFixture) failLogin(t *testing.T) {
	t.Helper()
	_, err := f.engine.Authenticate(context.Background(), testTable, testEmail, "wrong-password")
	if err == nil {
		t.Fatal("Authenticate() with wrong password succeeded")
	}
}
