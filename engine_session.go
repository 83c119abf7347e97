package authcore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/petstack/authcore/token"
)

// Revocation reasons recorded on session rows.
const (
	ReasonLogout               = "logout"
	ReasonLogoutAll            = "logout_all"
	ReasonSessionLimitExceeded = "session_limit_exceeded"
	ReasonNewDeviceLogin       = "new_device_login"
	ReasonExpired              = "expired"
	ReasonInactivityTimeout    = "timeout"
	ReasonPasswordChanged      = "password_changed"
	ReasonAdminRevoked         = "admin_revoked"
)

// CreateSession enforces the concurrency policy, resolves device and
// location metadata, and persists a new active session bound to a
// fresh token pair. Eviction happens strictly before the insert; with
// no per-user lock, concurrent logins may transiently exceed the quota
// by the number of concurrent callers, which is accepted.
func (e *Engine) CreateSession(ctx context.Context, input CreateSessionInput) (*SessionGrant, error) {
	tenant, err := e.tenant(input.SourceTable)
	if err != nil {
		return nil, err
	}

	userAgent := input.UserAgent
	if userAgent == "" {
		userAgent = userAgentFromContext(ctx)
	}
	ip := input.IPAddress
	if ip == "" {
		ip = clientIPFromContext(ctx)
	}

	device := parseUserAgent(userAgent)
	if input.DeviceName != "" {
		device.Name = input.DeviceName
	}

	location := e.resolveLocation(ctx, ip)

	if err := e.enforceSessionPolicy(ctx, input.UserID, input.SourceTable); err != nil {
		return nil, err
	}

	sessionID, err := e.tokens.NewSessionID(tenant.SessionPrefix)
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}

	deviceID := token.DeviceID(userAgent, ip)
	pair, err := e.tokens.Pair(token.Claims{
		UserID:    input.UserID,
		Email:     input.Email,
		Role:      input.Role,
		SessionID: sessionID,
		DeviceID:  deviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("token pair: %w", err)
	}

	now := time.Now()
	session := &Session{
		SessionID:        sessionID,
		UserID:           input.UserID,
		SourceTable:      input.SourceTable,
		UserEmail:        input.Email,
		UserRole:         input.Role,
		RefreshTokenHash: token.HashRefresh(pair.RefreshToken),
		DeviceID:         deviceID,
		DeviceName:       device.Name,
		DeviceType:       device.Type,
		Browser:          device.Browser,
		BrowserVersion:   device.BrowserVersion,
		OS:               device.OS,
		OSVersion:        device.OSVersion,
		IPAddress:        ip,
		Location:         location,
		IsActive:         true,
		LastActivity:     now,
		ExpiresAt:        pair.RefreshExpiresAt,
		CreatedAt:        now,
	}
	if err := e.sessions.Insert(ctx, session); err != nil {
		return nil, fmt.Errorf("session insert: %w", err)
	}
	e.metrics.Inc(MetricSessionCreated)

	return &SessionGrant{
		SessionID: sessionID,
		Tokens: TokenPair{
			AccessToken:      pair.AccessToken,
			RefreshToken:     pair.RefreshToken,
			AccessExpiresAt:  pair.AccessExpiresAt,
			RefreshExpiresAt: pair.RefreshExpiresAt,
		},
	}, nil
}

// enforceSessionPolicy applies the single-device rule or the quota:
// evict oldest-activity-first down to max-1 so the incoming session
// lands exactly at the cap.
func (e *Engine) enforceSessionPolicy(ctx context.Context, userID, sourceTable string) error {
	if !e.config.Session.AllowMultipleDevices {
		count, err := e.sessions.RevokeAll(ctx, userID, sourceTable, ReasonNewDeviceLogin, time.Now())
		if err != nil {
			return fmt.Errorf("single-device eviction: %w", err)
		}
		for i := int64(0); i < count; i++ {
			e.metrics.Inc(MetricSessionEvicted)
		}
		return nil
	}

	max := e.config.Session.MaxConcurrentSessions
	if max <= 0 {
		return nil
	}

	active, err := e.sessions.ListActive(ctx, userID, sourceTable)
	if err != nil {
		return fmt.Errorf("session list: %w", err)
	}
	if len(active) < max {
		return nil
	}

	// active is most-recently-active first; evict from the tail.
	evict := len(active) - max + 1
	now := time.Now()
	for i := 0; i < evict; i++ {
		victim := active[len(active)-1-i]
		if _, err := e.sessions.Revoke(ctx, victim.SessionID, ReasonSessionLimitExceeded, now); err != nil {
			return fmt.Errorf("quota eviction: %w", err)
		}
		e.metrics.Inc(MetricSessionEvicted)
	}

	return nil
}

func (e *Engine) resolveLocation(ctx context.Context, ip string) string {
	if !e.config.Session.EnableGeolocation || e.geo == nil || ip == "" {
		return ""
	}

	location, err := e.geo.Resolve(ctx, ip)
	if err != nil {
		log.Printf("authcore: geolocation for %s unavailable: %v", ip, err)
		return ""
	}
	return location
}

// RefreshSession rotates a refresh token: verify signature, match the
// stored hash against an active row, then overwrite hash and expiry
// before handing the new pair back. The old token matches nothing
// afterwards, making refresh tokens single-use in effect.
func (e *Engine) RefreshSession(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := e.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		return nil, err
	}

	session, err := e.sessions.FindActiveByRefresh(ctx, claims.SessionID, token.HashRefresh(refreshToken))
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	if session == nil {
		e.metrics.Inc(MetricRefreshFailure)
		return nil, ErrInvalidSession
	}

	now := time.Now()
	if session.ExpiresAt.Before(now) {
		if _, err := e.sessions.Revoke(ctx, session.SessionID, ReasonExpired, now); err != nil {
			log.Print("authcore: expiry revocation failed: ", err)
		}
		e.metrics.Inc(MetricSessionExpired)
		e.metrics.Inc(MetricRefreshFailure)
		return nil, ErrSessionExpired
	}

	// Claims come from the session row, not the old token, so role or
	// email updates recorded there take effect on the next rotation.
	pair, err := e.tokens.Pair(token.Claims{
		UserID:    session.UserID,
		Email:     session.UserEmail,
		Role:      session.UserRole,
		SessionID: session.SessionID,
		DeviceID:  session.DeviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("token pair: %w", err)
	}

	if err := e.sessions.RotateRefresh(ctx, session.SessionID, token.HashRefresh(pair.RefreshToken), pair.RefreshExpiresAt, now); err != nil {
		return nil, fmt.Errorf("refresh rotation: %w", err)
	}
	e.metrics.Inc(MetricRefreshSuccess)

	return &TokenPair{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}, nil
}

// RevokeSession marks one session inactive with the given reason.
// A session already inactive or unknown reports ErrSessionNotFound;
// API boundaries may treat that as success-if-already-gone.
func (e *Engine) RevokeSession(ctx context.Context, sessionID, reason string) error {
	if reason == "" {
		reason = ReasonLogout
	}

	revoked, err := e.sessions.Revoke(ctx, sessionID, reason, time.Now())
	if err != nil {
		return fmt.Errorf("session revoke: %w", err)
	}
	if !revoked {
		return ErrSessionNotFound
	}

	e.metrics.Inc(MetricSessionRevoked)
	return nil
}

// RevokeAllSessions bulk-revokes a user's active sessions. sourceTable
// scopes the sweep to one tenant; deployments multiplexing several
// account tables behind one store must always scope, or sessions of a
// same-id user under another table would be swept too. Empty
// sourceTable means all tables.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID, sourceTable, reason string) (int64, error) {
	if reason == "" {
		reason = ReasonLogoutAll
	}

	count, err := e.sessions.RevokeAll(ctx, userID, sourceTable, reason, time.Now())
	if err != nil {
		return 0, fmt.Errorf("bulk revoke: %w", err)
	}

	for i := int64(0); i < count; i++ {
		e.metrics.Inc(MetricSessionRevoked)
	}
	return count, nil
}

// GetSessions lists a user's active sessions most-recently-active
// first, flagging the caller's own session.
func (e *Engine) GetSessions(ctx context.Context, userID, sourceTable, currentSessionID string) ([]SessionInfo, error) {
	active, err := e.sessions.ListActive(ctx, userID, sourceTable)
	if err != nil {
		return nil, fmt.Errorf("session list: %w", err)
	}

	return toSessionInfos(active, currentSessionID), nil
}

// FindSessionsByEmail is the administrative lookup across users: all
// active sessions whose stored login email matches.
func (e *Engine) FindSessionsByEmail(ctx context.Context, email, sourceTable string) ([]SessionInfo, error) {
	active, err := e.sessions.ListActiveByEmail(ctx, normalizeEmail(email), sourceTable)
	if err != nil {
		return nil, fmt.Errorf("session list: %w", err)
	}

	return toSessionInfos(active, ""), nil
}

// ValidateSession is the hot-path liveness check: one row read plus at
// most one conditional write. Expired or idle sessions are revoked on
// first detection and report false from then on; live sessions get
// their lastActivity touched.
func (e *Engine) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}()

	session, err := e.sessions.FindBySessionID(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("session lookup: %w", err)
	}
	if session == nil || !session.IsActive {
		e.metrics.Inc(MetricValidateMiss)
		return false, nil
	}

	now := time.Now()
	if session.ExpiresAt.Before(now) {
		e.revokeStale(ctx, session.SessionID, ReasonExpired, now)
		return false, nil
	}

	idle := e.config.Session.InactivityTimeout
	if idle > 0 && now.Sub(session.LastActivity) > idle {
		e.revokeStale(ctx, session.SessionID, ReasonInactivityTimeout, now)
		return false, nil
	}

	if err := e.sessions.Touch(ctx, session.SessionID, now); err != nil {
		log.Print("authcore: activity touch failed: ", err)
	}

	e.metrics.Inc(MetricValidateHit)
	return true, nil
}

func (e *Engine) revokeStale(ctx context.Context, sessionID, reason string, at time.Time) {
	// Revoke is conditional on isActive, so concurrent validators flip
	// the row exactly once between them.
	if _, err := e.sessions.Revoke(ctx, sessionID, reason, at); err != nil {
		log.Print("authcore: stale-session revocation failed: ", err)
	}
	e.metrics.Inc(MetricSessionExpired)
	e.metrics.Inc(MetricValidateMiss)
}

// CleanupExpiredSessions sweeps active-but-past-expiry rows to
// inactive, optionally scoped to one source table. Returns the number
// of rows flipped.
func (e *Engine) CleanupExpiredSessions(ctx context.Context, sourceTable string) (int64, error) {
	count, err := e.sessions.RevokeExpired(ctx, sourceTable, time.Now())
	if err != nil {
		return 0, fmt.Errorf("expiry sweep: %w", err)
	}

	for i := int64(0); i < count; i++ {
		e.metrics.Inc(MetricSessionExpired)
	}
	return count, nil
}

// SessionStatsByTable reports per-source-table session counts for
// operational dashboards.
func (e *Engine) SessionStatsByTable(ctx context.Context) (map[string]SessionStats, error) {
	stats, err := e.sessions.CountByTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	return stats, nil
}

// LocationStats counts active sessions grouped by their stored
// location, optionally scoped to one source table. Sessions without a
// resolved location count under "Unknown".
func (e *Engine) LocationStats(ctx context.Context, sourceTable string) (map[string]int, error) {
	counts, err := e.sessions.CountByLocation(ctx, sourceTable)
	if err != nil {
		return nil, fmt.Errorf("location stats: %w", err)
	}
	if n, ok := counts[""]; ok {
		delete(counts, "")
		counts["Unknown"] += n
	}
	return counts, nil
}

// VerifyAccessToken checks an access token and confirms its session is
// still live. Middleware calls this once per authenticated request.
func (e *Engine) VerifyAccessToken(ctx context.Context, accessToken string) (*token.Claims, error) {
	claims, err := e.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, err
	}

	live, err := e.ValidateSession(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, ErrInvalidSession
	}

	return claims, nil
}

func toSessionInfos(sessions []*Session, currentSessionID string) []SessionInfo {
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, SessionInfo{
			SessionID:    s.SessionID,
			DeviceName:   s.DeviceName,
			DeviceType:   s.DeviceType,
			Browser:      s.Browser,
			OS:           s.OS,
			IPAddress:    s.IPAddress,
			Location:     s.Location,
			LastActivity: s.LastActivity,
			CreatedAt:    s.CreatedAt,
			IsCurrent:    currentSessionID != "" && s.SessionID == currentSessionID,
		})
	}
	return infos
}

// IsSessionError reports whether err belongs to the session error
// class an API boundary maps to 401.
func IsSessionError(err error) bool {
	return errors.Is(err, ErrInvalidSession) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, token.ErrTokenExpired) ||
		errors.Is(err, token.ErrTokenInvalid)
}
