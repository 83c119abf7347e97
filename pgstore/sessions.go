package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/petstack/authcore"
)

// SessionSchema is the DDL for the shared session table. Applied by
// the deployment's migration tooling, not by this package.
const SessionSchema = `
CREATE TABLE IF NOT EXISTS auth_sessions (
	id               UUID PRIMARY KEY,
	session_id       TEXT NOT NULL UNIQUE,
	user_id          TEXT NOT NULL,
	source_table     TEXT NOT NULL,
	user_email       TEXT NOT NULL,
	user_role        TEXT NOT NULL,
	refresh_hash     TEXT NOT NULL,
	device_id        TEXT,
	device_name      TEXT,
	device_type      TEXT,
	browser          TEXT,
	browser_version  TEXT,
	os               TEXT,
	os_version       TEXT,
	ip_address       TEXT,
	location         TEXT,
	is_active        BOOLEAN NOT NULL DEFAULT TRUE,
	last_activity    TIMESTAMPTZ NOT NULL,
	expires_at       TIMESTAMPTZ NOT NULL,
	revoked_at       TIMESTAMPTZ,
	revoked_reason   TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_auth_sessions_user
	ON auth_sessions (user_id, source_table, is_active, last_activity DESC);
CREATE INDEX IF NOT EXISTS idx_auth_sessions_email
	ON auth_sessions (user_email, source_table) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_auth_sessions_expiry
	ON auth_sessions (expires_at) WHERE is_active;
`

const sessionColumns = `id, session_id, user_id, source_table, user_email, user_role,
	refresh_hash, device_id, device_name, device_type, browser, browser_version,
	os, os_version, ip_address, location, is_active, last_activity, expires_at,
	revoked_at, revoked_reason, created_at`

// Sessions is the authcore.SessionRepository on the shared
// auth_sessions table.
type Sessions struct {
	pool *pgxpool.Pool
}

// NewSessions wraps pool.
func NewSessions(pool *pgxpool.Pool) (*Sessions, error) {
	if pool == nil {
		return nil, errors.New("pgstore: pool required")
	}
	return &Sessions{pool: pool}, nil
}

func (s *Sessions) Insert(ctx context.Context, session *authcore.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO auth_sessions (
			id, session_id, user_id, source_table, user_email, user_role,
			refresh_hash, device_id, device_name, device_type, browser,
			browser_version, os, os_version, ip_address, location,
			is_active, last_activity, expires_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		session.ID, session.SessionID, session.UserID, session.SourceTable,
		session.UserEmail, session.UserRole, session.RefreshTokenHash,
		nullIfEmpty(session.DeviceID), nullIfEmpty(session.DeviceName),
		nullIfEmpty(session.DeviceType), nullIfEmpty(session.Browser),
		nullIfEmpty(session.BrowserVersion), nullIfEmpty(session.OS),
		nullIfEmpty(session.OSVersion), nullIfEmpty(session.IPAddress),
		nullIfEmpty(session.Location), session.IsActive,
		session.LastActivity, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pgstore: insert session: %w", err)
	}
	return nil
}

func (s *Sessions) FindBySessionID(ctx context.Context, sessionID string) (*authcore.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM auth_sessions WHERE session_id = $1`,
		sessionID,
	)
	return scanSession(row)
}

func (s *Sessions) FindActiveByRefresh(ctx context.Context, sessionID, refreshHash string) (*authcore.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM auth_sessions
		 WHERE session_id = $1 AND refresh_hash = $2 AND is_active`,
		sessionID, refreshHash,
	)
	return scanSession(row)
}

func (s *Sessions) ListActive(ctx context.Context, userID, sourceTable string) ([]*authcore.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM auth_sessions
		 WHERE user_id = $1 AND source_table = $2 AND is_active
		 ORDER BY last_activity DESC`,
		userID, sourceTable,
	)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

func (s *Sessions) ListActiveByEmail(ctx context.Context, email, sourceTable string) ([]*authcore.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM auth_sessions
		 WHERE LOWER(user_email) = LOWER($1) AND source_table = $2 AND is_active
		 ORDER BY last_activity DESC`,
		email, sourceTable,
	)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list sessions by email: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

func (s *Sessions) RotateRefresh(ctx context.Context, sessionID, refreshHash string, expiresAt, lastActivity time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE auth_sessions
		 SET refresh_hash = $2, expires_at = $3, last_activity = $4
		 WHERE session_id = $1 AND is_active`,
		sessionID, refreshHash, expiresAt, lastActivity,
	)
	if err != nil {
		return fmt.Errorf("pgstore: rotate refresh: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrSessionNotFound
	}
	return nil
}

func (s *Sessions) Touch(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE auth_sessions SET last_activity = $2 WHERE session_id = $1 AND is_active`,
		sessionID, at,
	)
	if err != nil {
		return fmt.Errorf("pgstore: touch session: %w", err)
	}
	return nil
}

// Revoke flips one active row. The is_active guard makes it
// exactly-once under concurrent callers.
func (s *Sessions) Revoke(ctx context.Context, sessionID, reason string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE auth_sessions
		 SET is_active = FALSE, revoked_at = $2, revoked_reason = $3
		 WHERE session_id = $1 AND is_active`,
		sessionID, at, reason,
	)
	if err != nil {
		return false, fmt.Errorf("pgstore: revoke session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeAll sweeps a user's active rows; empty sourceTable sweeps
// every table.
func (s *Sessions) RevokeAll(ctx context.Context, userID, sourceTable, reason string, at time.Time) (int64, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if sourceTable == "" {
		tag, err = s.pool.Exec(ctx,
			`UPDATE auth_sessions
			 SET is_active = FALSE, revoked_at = $2, revoked_reason = $3
			 WHERE user_id = $1 AND is_active`,
			userID, at, reason,
		)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE auth_sessions
			 SET is_active = FALSE, revoked_at = $3, revoked_reason = $4
			 WHERE user_id = $1 AND source_table = $2 AND is_active`,
			userID, sourceTable, at, reason,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("pgstore: revoke all: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Sessions) RevokeExpired(ctx context.Context, sourceTable string, now time.Time) (int64, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if sourceTable == "" {
		tag, err = s.pool.Exec(ctx,
			`UPDATE auth_sessions
			 SET is_active = FALSE, revoked_at = $1, revoked_reason = 'expired'
			 WHERE is_active AND expires_at < $1`,
			now,
		)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE auth_sessions
			 SET is_active = FALSE, revoked_at = $2, revoked_reason = 'expired'
			 WHERE source_table = $1 AND is_active AND expires_at < $2`,
			sourceTable, now,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("pgstore: revoke expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Sessions) CountByTable(ctx context.Context) (map[string]authcore.SessionStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source_table,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE is_active),
		       COUNT(*) FILTER (WHERE NOT is_active)
		FROM auth_sessions
		GROUP BY source_table`,
	)
	if err != nil {
		return nil, fmt.Errorf("pgstore: session stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]authcore.SessionStats)
	for rows.Next() {
		var (
			table string
			st    authcore.SessionStats
		)
		if err := rows.Scan(&table, &st.Total, &st.Active, &st.Revoked); err != nil {
			return nil, fmt.Errorf("pgstore: scan stats: %w", err)
		}
		stats[table] = st
	}
	return stats, rows.Err()
}

func (s *Sessions) CountByLocation(ctx context.Context, sourceTable string) (map[string]int, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if sourceTable == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT COALESCE(location, ''), COUNT(*)
			FROM auth_sessions
			WHERE is_active
			GROUP BY 1`,
		)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT COALESCE(location, ''), COUNT(*)
			FROM auth_sessions
			WHERE is_active AND source_table = $1
			GROUP BY 1`,
			sourceTable,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: location stats: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			location string
			n        int
		)
		if err := rows.Scan(&location, &n); err != nil {
			return nil, fmt.Errorf("pgstore: scan location stats: %w", err)
		}
		counts[location] = n
	}
	return counts, rows.Err()
}

func scanSession(row pgx.Row) (*authcore.Session, error) {
	var (
		session authcore.Session

		deviceID, deviceName, deviceType       *string
		browser, browserVersion, os, osVersion *string
		ipAddress, location, revokedReason     *string
		revokedAt                              *time.Time
	)

	err := row.Scan(
		&session.ID, &session.SessionID, &session.UserID, &session.SourceTable,
		&session.UserEmail, &session.UserRole, &session.RefreshTokenHash,
		&deviceID, &deviceName, &deviceType, &browser, &browserVersion,
		&os, &osVersion, &ipAddress, &location,
		&session.IsActive, &session.LastActivity, &session.ExpiresAt,
		&revokedAt, &revokedReason, &session.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: scan session: %w", err)
	}

	session.DeviceID = orEmpty(deviceID)
	session.DeviceName = orEmpty(deviceName)
	session.DeviceType = orEmpty(deviceType)
	session.Browser = orEmpty(browser)
	session.BrowserVersion = orEmpty(browserVersion)
	session.OS = orEmpty(os)
	session.OSVersion = orEmpty(osVersion)
	session.IPAddress = orEmpty(ipAddress)
	session.Location = orEmpty(location)
	session.RevokedAt = revokedAt
	session.RevokedReason = orEmpty(revokedReason)
	return &session, nil
}

func collectSessions(rows pgx.Rows) ([]*authcore.Session, error) {
	var sessions []*authcore.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}
