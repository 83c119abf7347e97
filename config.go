package authcore

import (
	"errors"
	"time"
)

// Config assembles every tunable of the Engine. Zero values are filled
// by defaultConfig via the Builder; Validate runs at Build time.
type Config struct {
	Token     TokenConfig
	Transport TransportConfig
	Password  PasswordConfig
	Lockout   LockoutConfig
	Session   SessionConfig
	Reset     ResetConfig
	Notify    NotifyConfig
	Metrics   MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig carries signing material and lifetimes for the token
// codec. Access and refresh secrets must differ.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
TRANSPORT CONFIG
====================================
*/

// TransportConfig controls the credential envelope layer.
type TransportConfig struct {
	Secret string
	// PayloadTTL is the replay freshness window: 5 minutes in the
	// production preset, 30 in development.
	PayloadTTL time.Duration
	// RequireEnvelope disables the legacy plaintext passthrough.
	RequireEnvelope bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig carries the argon2id cost parameters.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig drives the failed-login state machine.
type LockoutConfig struct {
	// MaxAttempts is the failure count that trips the lock. The
	// MaxAttempts-th consecutive failure locks immediately.
	MaxAttempts int
	Duration    time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig drives the session lifecycle manager.
type SessionConfig struct {
	// MaxConcurrentSessions caps active sessions per (user, source
	// table). New logins evict the stalest peers rather than fail.
	// Zero disables the quota.
	MaxConcurrentSessions int
	// InactivityTimeout revokes sessions idle longer than this during
	// validation. Zero disables the check.
	InactivityTimeout time.Duration
	// AllowMultipleDevices=false revokes every peer session on each
	// new login.
	AllowMultipleDevices bool
	EnableGeolocation    bool
	// RevokeOnPasswordChange terminates all of a user's sessions after
	// a successful password change.
	RevokeOnPasswordChange bool
}

/*
====================================
RESET CONFIG
====================================
*/

// ResetConfig controls the password reset flow.
type ResetConfig struct {
	TokenTTL                time.Duration
	TemporaryPasswordLength int
	Template                string
	Language                string
}

// NotifyConfig controls the async notification dispatcher.
type NotifyConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics registry.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "authcore",
		},
		Transport: TransportConfig{
			PayloadTTL: 5 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Lockout: LockoutConfig{
			MaxAttempts: 5,
			Duration:    15 * time.Minute,
		},
		Session: SessionConfig{
			MaxConcurrentSessions:  3,
			InactivityTimeout:      30 * time.Minute,
			AllowMultipleDevices:   true,
			EnableGeolocation:      true,
			RevokeOnPasswordChange: true,
		},
		Reset: ResetConfig{
			TokenTTL:                24 * time.Hour,
			TemporaryPasswordLength: 12,
			Template:                "password-reset",
			Language:                "en",
		},
		Notify: NotifyConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// DevelopmentConfig returns the defaults with the relaxed 30-minute
// replay window used while clients are under active development.
func DevelopmentConfig() Config {
	cfg := defaultConfig()
	cfg.Transport.PayloadTTL = 30 * time.Minute
	return cfg
}

// ProductionConfig returns the defaults: 5-minute replay window,
// lockout after 5 failures, quota of 3 concurrent sessions.
func ProductionConfig() Config {
	return defaultConfig()
}

// Validate checks cross-field consistency. Secrets are checked here
// rather than in defaultConfig because they have no safe default.
func (c *Config) Validate() error {
	if len(c.Token.AccessSecret) == 0 {
		return errors.New("Token.AccessSecret must be set")
	}
	if len(c.Token.RefreshSecret) == 0 {
		return errors.New("Token.RefreshSecret must be set")
	}
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token.AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token.RefreshTTL must be > Token.AccessTTL")
	}
	if c.Transport.Secret == "" {
		return errors.New("Transport.Secret must be set")
	}
	if c.Transport.PayloadTTL <= 0 {
		return errors.New("Transport.PayloadTTL must be > 0")
	}
	if c.Lockout.MaxAttempts <= 0 {
		return errors.New("Lockout.MaxAttempts must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout.Duration must be > 0")
	}
	if c.Session.MaxConcurrentSessions < 0 {
		return errors.New("Session.MaxConcurrentSessions must be >= 0")
	}
	if c.Session.InactivityTimeout < 0 {
		return errors.New("Session.InactivityTimeout must be >= 0")
	}
	if c.Reset.TokenTTL <= 0 {
		return errors.New("Reset.TokenTTL must be > 0")
	}
	if c.Reset.TemporaryPasswordLength < 10 {
		return errors.New("Reset.TemporaryPasswordLength must be >= 10")
	}
	if c.Notify.Enabled && c.Notify.BufferSize <= 0 {
		return errors.New("Notify.BufferSize must be > 0 when notifications are enabled")
	}

	return nil
}

func cloneConfig(cfg Config) Config {
	cloned := cfg
	cloned.Token.AccessSecret = cloneBytes(cfg.Token.AccessSecret)
	cloned.Token.RefreshSecret = cloneBytes(cfg.Token.RefreshSecret)
	return cloned
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cloned := make([]byte, len(b))
	copy(cloned, b)
	return cloned
}
