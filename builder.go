package authcore

import (
	"errors"
	"fmt"

	"github.com/petstack/authcore/envelope"
	"github.com/petstack/authcore/geo"
	"github.com/petstack/authcore/password"
	"github.com/petstack/authcore/token"
)

// Builder assembles an Engine. Single-use: Build can run once.
type Builder struct {
	config Config

	tenants  []Tenant
	sessions SessionRepository
	resolver *geo.Resolver
	sender   NotificationSender

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithTenant registers one source table with its account repository
// and session-id prefix. Call once per tenant.
func (b *Builder) WithTenant(t Tenant) *Builder {
	b.tenants = append(b.tenants, t)
	return b
}

// WithSessionRepository sets the shared session store.
func (b *Builder) WithSessionRepository(repo SessionRepository) *Builder {
	b.sessions = repo
	return b
}

// WithGeoResolver sets the optional geolocation resolver. Without one,
// sessions simply carry no location.
func (b *Builder) WithGeoResolver(r *geo.Resolver) *Builder {
	b.resolver = r
	return b
}

// WithNotificationSender sets the external notification collaborator.
func (b *Builder) WithNotificationSender(sender NotificationSender) *Builder {
	b.sender = sender
	return b
}

// WithMetricsEnabled toggles the metrics registry.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wiring and returns the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.sessions == nil {
		return nil, errors.New("session repository required")
	}
	if len(b.tenants) == 0 {
		return nil, errors.New("at least one tenant required")
	}

	tenants := make(map[string]Tenant, len(b.tenants))
	for _, t := range b.tenants {
		if t.SourceTable == "" {
			return nil, errors.New("tenant source table required")
		}
		if t.SessionPrefix == "" {
			return nil, fmt.Errorf("tenant %q: session prefix required", t.SourceTable)
		}
		if t.Accounts == nil {
			return nil, fmt.Errorf("tenant %q: account repository required", t.SourceTable)
		}
		if _, dup := tenants[t.SourceTable]; dup {
			return nil, fmt.Errorf("tenant %q registered twice", t.SourceTable)
		}
		tenants[t.SourceTable] = t
	}

	codec, err := token.NewCodec(token.Config{
		AccessSecret:  cloneBytes(cfg.Token.AccessSecret),
		RefreshSecret: cloneBytes(cfg.Token.RefreshSecret),
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
		Issuer:        cfg.Token.Issuer,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	transport, err := envelope.New(envelope.Config{
		Secret:          cfg.Transport.Secret,
		PayloadTTL:      cfg.Transport.PayloadTTL,
		RequireEnvelope: cfg.Transport.RequireEnvelope,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:    cfg,
		tenants:   tenants,
		sessions:  b.sessions,
		tokens:    codec,
		transport: transport,
		hasher:    hasher,
		geo:       b.resolver,
		notify:    newNotifyDispatcher(cfg.Notify, b.sender),
		metrics:   NewMetrics(cfg.Metrics),
	}

	b.built = true

	return engine, nil
}
