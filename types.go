package authcore

import (
	"context"
	"time"
)

// Account is a user record from one of the tenant account tables.
// Created and deleted externally; this package mutates only the
// credential and lockout fields.
type Account struct {
	ID            string
	Email         string
	PasswordHash  string
	Role          string
	IsActive      bool
	IsVerified    bool
	LoginAttempts int
	LockedUntil   *time.Time
	LastLoginAt   *time.Time
	ResetToken    string
	ResetExpiry   *time.Time
}

// Sanitized returns a copy with the secret fields stripped, the only
// form the Engine ever hands back to callers.
func (a *Account) Sanitized() *Account {
	if a == nil {
		return nil
	}
	copied := *a
	copied.PasswordHash = ""
	copied.ResetToken = ""
	return &copied
}

// AccountPatch is a partial update applied by AccountRepository.Update.
// Nil pointer fields are left untouched; ClearLock nulls lockedUntil.
type AccountPatch struct {
	PasswordHash  *string
	LoginAttempts *int
	LockedUntil   *time.Time
	ClearLock     bool
	LastLoginAt   *time.Time
	ResetToken    *string
	ResetExpiry   *time.Time
}

// Session is one row in the session store. Exactly one row exists per
// issued refresh token, and IsActive=false is permanent.
type Session struct {
	ID               string
	SessionID        string
	UserID           string
	SourceTable      string
	UserEmail        string
	UserRole         string
	RefreshTokenHash string

	DeviceID       string
	DeviceName     string
	DeviceType     string
	Browser        string
	BrowserVersion string
	OS             string
	OSVersion      string
	IPAddress      string
	Location       string

	IsActive      bool
	LastActivity  time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time
	RevokedReason string
	CreatedAt     time.Time
}

// SessionInfo is the caller-facing view of an active session.
type SessionInfo struct {
	SessionID    string    `json:"sessionId"`
	DeviceName   string    `json:"deviceName,omitempty"`
	DeviceType   string    `json:"deviceType,omitempty"`
	Browser      string    `json:"browser,omitempty"`
	OS           string    `json:"os,omitempty"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	Location     string    `json:"location,omitempty"`
	LastActivity time.Time `json:"lastActivity"`
	CreatedAt    time.Time `json:"createdAt"`
	IsCurrent    bool      `json:"isCurrent"`
}

// TokenPair is a freshly minted access/refresh pair with absolute
// expiries. Transient, never persisted.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// CreateSessionInput describes a new login to the session lifecycle
// manager. UserAgent, IPAddress, and DeviceName are best-effort.
type CreateSessionInput struct {
	UserID      string
	Email       string
	Role        string
	SourceTable string
	UserAgent   string
	IPAddress   string
	DeviceName  string
}

// SessionGrant is the result of creating or logging into a session.
type SessionGrant struct {
	SessionID string
	Tokens    TokenPair
}

// LoginInput is the composite login request: authenticate, then create
// a session in one call.
type LoginInput struct {
	Email      string
	Password   string
	UserAgent  string
	IPAddress  string
	DeviceName string
}

// LoginResult bundles the sanitized account with the session grant.
type LoginResult struct {
	Account *Account
	Grant   SessionGrant
}

// LoginStatus is the read-only lockout precheck result.
type LoginStatus struct {
	CanAttempt        bool `json:"canAttempt"`
	LockTimeRemaining int  `json:"lockTimeRemaining,omitempty"`
}

// SecurityStats summarizes one account's security posture.
type SecurityStats struct {
	LoginAttempts  int        `json:"loginAttempts"`
	IsLocked       bool       `json:"isLocked"`
	LockedUntil    *time.Time `json:"lockedUntil,omitempty"`
	LastLoginAt    *time.Time `json:"lastLoginAt,omitempty"`
	HasResetToken  bool       `json:"hasResetToken"`
	ActiveSessions int        `json:"activeSessions"`
}

// SessionStats counts session rows for one source table.
type SessionStats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Revoked int `json:"revoked"`
}

// AccountRepository is the per-tenant account store boundary. Lookups
// return (nil, nil) when no account matches; errors are reserved for
// storage failures. Email matching must be case-insensitive.
type AccountRepository interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	Update(ctx context.Context, id string, patch AccountPatch) error
}

// SessionRepository is the session store boundary. List results are
// ordered most-recently-active first. Lookups return (nil, nil) when
// no row matches.
type SessionRepository interface {
	Insert(ctx context.Context, s *Session) error
	FindBySessionID(ctx context.Context, sessionID string) (*Session, error)
	FindActiveByRefresh(ctx context.Context, sessionID, refreshHash string) (*Session, error)
	ListActive(ctx context.Context, userID, sourceTable string) ([]*Session, error)
	ListActiveByEmail(ctx context.Context, email, sourceTable string) ([]*Session, error)
	RotateRefresh(ctx context.Context, sessionID, refreshHash string, expiresAt, lastActivity time.Time) error
	Touch(ctx context.Context, sessionID string, at time.Time) error
	Revoke(ctx context.Context, sessionID, reason string, at time.Time) (bool, error)
	RevokeAll(ctx context.Context, userID, sourceTable, reason string, at time.Time) (int64, error)
	RevokeExpired(ctx context.Context, sourceTable string, now time.Time) (int64, error)
	CountByTable(ctx context.Context) (map[string]SessionStats, error)
	CountByLocation(ctx context.Context, sourceTable string) (map[string]int, error)
}

// Tenant binds a source table name to its account repository and the
// session-id prefix its tokens carry. Constructed once at startup and
// registered on the Builder; there is no global current-tenant state.
type Tenant struct {
	SourceTable   string
	SessionPrefix string
	Accounts      AccountRepository
}

// Notification is a fire-and-forget message handed to the external
// notification collaborator. Delivery failure never fails the
// operation that produced it.
type Notification struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Language string            `json:"language,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
}

// NotificationSender delivers notifications. Implementations must be
// safe for concurrent use.
type NotificationSender interface {
	Send(ctx context.Context, n Notification) error
}
