package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoginCreatesSession(t *testing.T) {
	f := newTestFixture(t)
	result := f.login(t)

	if !strings.HasPrefix(result.Grant.SessionID, "usr_") {
		t.Fatalf("SessionID = %q, want usr_ prefix", result.Grant.SessionID)
	}
	if result.Grant.Tokens.AccessToken == "" || result.Grant.Tokens.RefreshToken == "" {
		t.Fatal("grant missing tokens")
	}

	session := f.sessions.get(result.Grant.SessionID)
	if session == nil {
		t.Fatal("session row not persisted")
	}
	if !session.IsActive {
		t.Fatal("new session not active")
	}
	if session.UserID != testUserID || session.SourceTable != testTable {
		t.Fatalf("session identity = %q/%q", session.UserID, session.SourceTable)
	}
	if session.DeviceType != "desktop" || session.Browser == "" {
		t.Fatalf("device metadata not parsed: %+v", session)
	}
	if session.RefreshTokenHash == "" || session.RefreshTokenHash == result.Grant.Tokens.RefreshToken {
		t.Fatal("refresh token stored in the clear or not at all")
	}
	if !session.ExpiresAt.Equal(result.Grant.Tokens.RefreshExpiresAt) {
		t.Fatal("session expiry does not track the refresh expiry")
	}
}

func TestSessionQuotaEvictsOldest(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		result := f.login(t)
		ids = append(ids, result.Grant.SessionID)
		// Separate activity timestamps so eviction order is fixed.
		f.sessions.mutate(result.Grant.SessionID, func(s *Session) {
			s.LastActivity = time.Now().Add(time.Duration(i-10) * time.Minute)
		})
	}

	fourth := f.login(t)

	active, err := f.sessions.ListActive(ctx, testUserID, testTable)
	if err != nil {
		t.Fatalf("ListActive() error: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("active sessions = %d, want exactly the quota of 3", len(active))
	}

	oldest := f.sessions.get(ids[0])
	if oldest.IsActive {
		t.Fatal("oldest session survived quota eviction")
	}
	if oldest.RevokedReason != ReasonSessionLimitExceeded {
		t.Fatalf("RevokedReason = %q, want %q", oldest.RevokedReason, ReasonSessionLimitExceeded)
	}
	if !f.sessions.get(fourth.Grant.SessionID).IsActive {
		t.Fatal("incoming session was evicted instead of the oldest")
	}
}

func TestSingleDeviceModeRevokesPeers(t *testing.T) {
	f := newTestFixture(t, func(cfg *Config) {
		cfg.Session.AllowMultipleDevices = false
	})

	first := f.login(t)
	second := f.login(t)

	old := f.sessions.get(first.Grant.SessionID)
	if old.IsActive {
		t.Fatal("previous session survived a single-device login")
	}
	if old.RevokedReason != ReasonNewDeviceLogin {
		t.Fatalf("RevokedReason = %q, want %q", old.RevokedReason, ReasonNewDeviceLogin)
	}
	if !f.sessions.get(second.Grant.SessionID).IsActive {
		t.Fatal("new session inactive")
	}
}

func TestQuotaDisabledWhenZero(t *testing.T) {
	f := newTestFixture(t, func(cfg *Config) {
		cfg.Session.MaxConcurrentSessions = 0
	})

	for i := 0; i < 5; i++ {
		f.login(t)
	}

	active, err := f.sessions.ListActive(context.Background(), testUserID, testTable)
	if err != nil {
		t.Fatalf("ListActive() error: %v", err)
	}
	if len(active) != 5 {
		t.Fatalf("active sessions = %d, want 5 with quota disabled", len(active))
	}
}

func TestRefreshRotationIsSingleUse(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	result := f.login(t)
	oldRefresh := result.Grant.Tokens.RefreshToken

	pair, err := f.engine.RefreshSession(ctx, oldRefresh)
	if err != nil {
		t.Fatalf("RefreshSession() error: %v", err)
	}
	if pair.RefreshToken == oldRefresh {
		t.Fatal("rotation returned the same refresh token")
	}

	// The old token no longer matches the stored hash.
	if _, err := f.engine.RefreshSession(ctx, oldRefresh); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("replay err = %v, want ErrInvalidSession", err)
	}

	// The new one rotates again.
	if _, err := f.engine.RefreshSession(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("second rotation error: %v", err)
	}
}

func TestRefreshGarbageToken(t *testing.T) {
	f := newTestFixture(t)

	if _, err := f.engine.RefreshSession(context.Background(), "not-a-token"); err == nil {
		t.Fatal("RefreshSession() accepted garbage")
	}
}

func TestRefreshExpiredSession(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	result := f.login(t)

	f.sessions.mutate(result.Grant.SessionID, func(s *Session) {
		s.ExpiresAt = time.Now().Add(-time.Minute)
	})

	_, err := f.engine.RefreshSession(ctx, result.Grant.Tokens.RefreshToken)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}

	session := f.sessions.get(result.Grant.SessionID)
	if session.IsActive || session.RevokedReason != ReasonExpired {
		t.Fatalf("expired session state = active:%v reason:%q", session.IsActive, session.RevokedReason)
	}
}

func TestRefreshPicksUpRoleChanges(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	result := f.login(t)

	f.sessions.mutate(result.Grant.SessionID, func(s *Session) {
		s.UserRole = "admin"
	})

	pair, err := f.engine.RefreshSession(ctx, result.Grant.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshSession() error: %v", err)
	}

	claims, err := f.engine.Tokens().VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess() error: %v", err)
	}
	if claims.Role != "admin" {
		t.Fatalf("rotated claims role = %q, want the stored role", claims.Role)
	}
}

func TestValidateSession(t *testing.T) {
	t.Run("live session touches activity", func(t *testing.T) {
		f := newTestFixture(t)
		result := f.login(t)

		stale := time.Now().Add(-5 * time.Minute)
		f.sessions.mutate(result.Grant.SessionID, func(s *Session) {
			s.LastActivity = stale
		})

		live, err := f.engine.ValidateSession(context.Background(), result.Grant.SessionID)
		if err != nil {
			t.Fatalf("ValidateSession() error: %v", err)
		}
		if !live {
			t.Fatal("live session reported invalid")
		}
		if !f.sessions.get(result.Grant.SessionID).LastActivity.After(stale) {
			t.Fatal("lastActivity not touched")
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newTestFixture(t)
		live, err := f.engine.ValidateSession(context.Background(), "usr_missing")
		if err != nil || live {
			t.Fatalf("ValidateSession(unknown) = %v, %v", live, err)
		}
	})

	t.Run("expiry revokes once", func(t *testing.T) {
		f := newTestFixture(t)
		ctx := context.Background()
		result := f.login(t)

		f.sessions.mutate(result.Grant.SessionID, func(s *Session) {
			s.ExpiresAt = time.Now().Add(-time.Minute)
		})

		live, err := f.engine.ValidateSession(ctx, result.Grant.SessionID)
		if err != nil || live {
			t.Fatalf("first validation = %v, %v", live, err)
		}

		session := f.sessions.get(result.Grant.SessionID)
		if session.IsActive || session.RevokedReason != ReasonExpired {
			t.Fatalf("session state = active:%v reason:%q", session.IsActive, session.RevokedReason)
		}
		revokedAt := *session.RevokedAt

		// A second validation must not rewrite the revocation.
		live, err = f.engine.ValidateSession(ctx, result.Grant.SessionID)
		if err != nil || live {
			t.Fatalf("second validation = %v, %v", live, err)
		}
		if !f.sessions.get(result.Grant.SessionID).RevokedAt.Equal(revokedAt) {
			t.Fatal("revocation timestamp rewritten on repeat validation")
		}
	})

	t.Run("inactivity timeout", func(t *testing.T) {
		f := newTestFixture(t)
		result := f.login(t)

		f.sessions.mutate(result.Grant.SessionID, func(s *Session) {
			s.LastActivity = time.Now().Add(-31 * time.Minute)
		})

		live, err := f.engine.ValidateSession(context.Background(), result.Grant.SessionID)
		if err != nil || live {
			t.Fatalf("idle validation = %v, %v", live, err)
		}

		session := f.sessions.get(result.Grant.SessionID)
		if session.RevokedReason != ReasonInactivityTimeout {
			t.Fatalf("RevokedReason = %q, want %q", session.RevokedReason, ReasonInactivityTimeout)
		}
	})

	t.Run("inactivity disabled", func(t *testing.T) {
		f := newTestFixture(t, func(cfg *Config) {
			cfg.Session.InactivityTimeout = 0
		})
		result := f.login(t)

		f.sessions.mutate(result.Grant.SessionID, func(s *Session) {
			s.LastActivity = time.Now().Add(-24 * time.Hour)
		})

		live, err := f.engine.ValidateSession(context.Background(), result.Grant.SessionID)
		if err != nil || !live {
			t.Fatalf("validation = %v, %v, want live", live, err)
		}
	})
}

func TestRevokeSession(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	result := f.login(t)

	if err := f.engine.RevokeSession(ctx, result.Grant.SessionID, ""); err != nil {
		t.Fatalf("RevokeSession() error: %v", err)
	}
	if got := f.sessions.get(result.Grant.SessionID).RevokedReason; got != ReasonLogout {
		t.Fatalf("RevokedReason = %q, want default %q", got, ReasonLogout)
	}

	if err := f.engine.RevokeSession(ctx, result.Grant.SessionID, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second revoke err = %v, want ErrSessionNotFound", err)
	}
}

func TestRevokeAllSessionsScopedByTable(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	f.login(t)
	f.login(t)

	// Same user ID under the second tenant table.
	otherSession := &Session{
		SessionID:    "vet_other",
		UserID:       testUserID,
		SourceTable:  testTableB,
		UserEmail:    testEmail,
		IsActive:     true,
		LastActivity: time.Now(),
		ExpiresAt:    time.Now().Add(time.Hour),
		CreatedAt:    time.Now(),
	}
	if err := f.sessions.Insert(ctx, otherSession); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	count, err := f.engine.RevokeAllSessions(ctx, testUserID, testTable, "")
	if err != nil {
		t.Fatalf("RevokeAllSessions() error: %v", err)
	}
	if count != 2 {
		t.Fatalf("revoked = %d, want 2", count)
	}

	if !f.sessions.get("vet_other").IsActive {
		t.Fatal("scoped revocation crossed into the other source table")
	}
	if got := f.sessions.get("vet_other").RevokedReason; got != "" {
		t.Fatalf("other-table session reason = %q, want untouched", got)
	}

	// Unscoped sweep takes the rest.
	count, err = f.engine.RevokeAllSessions(ctx, testUserID, "", ReasonAdminRevoked)
	if err != nil {
		t.Fatalf("RevokeAllSessions() error: %v", err)
	}
	if count != 1 {
		t.Fatalf("unscoped revoked = %d, want 1", count)
	}
	if got := f.sessions.get("vet_other").RevokedReason; got != ReasonAdminRevoked {
		t.Fatalf("reason = %q, want %q", got, ReasonAdminRevoked)
	}
}

func TestGetSessionsMarksCurrent(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	first := f.login(t)
	f.sessions.mutate(first.Grant.SessionID, func(s *Session) {
		s.LastActivity = time.Now().Add(-time.Minute)
	})
	second := f.login(t)

	infos, err := f.engine.GetSessions(ctx, testUserID, testTable, first.Grant.SessionID)
	if err != nil {
		t.Fatalf("GetSessions() error: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("sessions = %d, want 2", len(infos))
	}
	if infos[0].SessionID != second.Grant.SessionID {
		t.Fatal("sessions not ordered most-recently-active first")
	}
	if infos[0].IsCurrent || !infos[1].IsCurrent {
		t.Fatalf("IsCurrent flags wrong: %+v", infos)
	}
}

func TestFindSessionsByEmail(t *testing.T) {
	f := newTestFixture(t)
	f.login(t)

	infos, err := f.engine.FindSessionsByEmail(context.Background(), "ALICE@example.com", testTable)
	if err != nil {
		t.Fatalf("FindSessionsByEmail() error: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("sessions = %d, want 1", len(infos))
	}
	if infos[0].IsCurrent {
		t.Fatal("administrative listing flagged a session as current")
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	live := f.login(t)
	stale := f.login(t)
	f.sessions.mutate(stale.Grant.SessionID, func(s *Session) {
		s.ExpiresAt = time.Now().Add(-time.Hour)
	})

	count, err := f.engine.CleanupExpiredSessions(ctx, testTable)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions() error: %v", err)
	}
	if count != 1 {
		t.Fatalf("swept = %d, want 1", count)
	}
	if f.sessions.get(stale.Grant.SessionID).IsActive {
		t.Fatal("expired session survived the sweep")
	}
	if !f.sessions.get(live.Grant.SessionID).IsActive {
		t.Fatal("live session swept")
	}
}

func TestSessionStatsByTable(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	result := f.login(t)
	f.login(t)
	if err := f.engine.RevokeSession(ctx, result.Grant.SessionID, ""); err != nil {
		t.Fatalf("RevokeSession() error: %v", err)
	}

	stats, err := f.engine.SessionStatsByTable(ctx)
	if err != nil {
		t.Fatalf("SessionStatsByTable() error: %v", err)
	}
	got := stats[testTable]
	if got.Total != 2 || got.Active != 1 || got.Revoked != 1 {
		t.Fatalf("stats = %+v, want 2/1/1", got)
	}
}

func TestLocationStats(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	first := f.login(t)
	f.login(t)
	revoked := f.login(t)

	f.sessions.mutate(first.Grant.SessionID, func(s *Session) {
		s.Location = "Madrid, Madrid, Spain"
	})
	f.sessions.mutate(revoked.Grant.SessionID, func(s *Session) {
		s.Location = "Lima, Lima, Peru"
	})
	if err := f.engine.RevokeSession(ctx, revoked.Grant.SessionID, ""); err != nil {
		t.Fatalf("RevokeSession() error: %v", err)
	}

	// Same user under the second tenant table, outside the scoped view.
	seed := &Session{
		SessionID:    "vet_location",
		UserID:       testUserID,
		SourceTable:  testTableB,
		UserEmail:    testEmail,
		Location:     "Madrid, Madrid, Spain",
		IsActive:     true,
		LastActivity: time.Now(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	if err := f.sessions.Insert(ctx, seed); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	counts, err := f.engine.LocationStats(ctx, testTable)
	if err != nil {
		t.Fatalf("LocationStats() error: %v", err)
	}
	if counts["Madrid, Madrid, Spain"] != 1 {
		t.Fatalf("Madrid count = %d, want 1", counts["Madrid, Madrid, Spain"])
	}
	if counts["Unknown"] != 1 {
		t.Fatalf("Unknown count = %d, want 1", counts["Unknown"])
	}
	if _, ok := counts["Lima, Lima, Peru"]; ok {
		t.Fatal("revoked session counted in location stats")
	}

	all, err := f.engine.LocationStats(ctx, "")
	if err != nil {
		t.Fatalf("LocationStats() error: %v", err)
	}
	if all["Madrid, Madrid, Spain"] != 2 {
		t.Fatalf("unscoped Madrid count = %d, want 2", all["Madrid, Madrid, Spain"])
	}
}

func TestVerifyAccessToken(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	result := f.login(t)

	claims, err := f.engine.VerifyAccessToken(ctx, result.Grant.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken() error: %v", err)
	}
	if claims.UserID != testUserID || claims.SessionID != result.Grant.SessionID {
		t.Fatalf("claims = %+v", claims)
	}

	if err := f.engine.RevokeSession(ctx, result.Grant.SessionID, ""); err != nil {
		t.Fatalf("RevokeSession() error: %v", err)
	}

	_, err = f.engine.VerifyAccessToken(ctx, result.Grant.Tokens.AccessToken)
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("err = %v, want ErrInvalidSession", err)
	}
	if !IsSessionError(err) {
		t.Fatal("IsSessionError() = false for revoked session")
	}
}
