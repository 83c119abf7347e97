package geo

import (
	"context"
	"errors"
	"log"
	"net"
	"strings"
	"time"
)

// ErrUnresolved reports that every configured provider failed or
// returned an empty location for the IP.
var ErrUnresolved = errors.New("location unresolved")

// LocalNetwork is returned for private, loopback, and link-local
// addresses without consulting any provider.
const LocalNetwork = "Local Network"

const (
	defaultCacheTTL        = 24 * time.Hour
	defaultNegativeTTL     = time.Hour
	defaultProviderTimeout = 3 * time.Second

	// Cache value marking a known miss, so repeated lookups of an
	// unresolvable IP do not hammer the providers.
	missMarker = "\x00miss"
)

// Location is one provider's answer.
type Location struct {
	City    string
	Region  string
	Country string
}

// String joins the non-empty parts as "City, Region, Country".
func (l Location) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.City, l.Region, l.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Provider is one geolocation backend in the fallback chain.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, ip string) (Location, error)
}

// Cache stores resolved locations per IP. ok=true with an empty value
// never occurs; misses are encoded internally by the Resolver.
type Cache interface {
	Get(ctx context.Context, ip string) (value string, ok bool, err error)
	Set(ctx context.Context, ip, value string, ttl time.Duration) error
}

// Config assembles a Resolver.
type Config struct {
	// Providers are tried in order; the first non-empty answer wins.
	Providers []Provider
	// Cache is optional; without one every lookup hits the providers.
	Cache Cache
	// CacheTTL bounds positive entries (default 24h), NegativeTTL
	// known-miss entries (default 1h).
	CacheTTL    time.Duration
	NegativeTTL time.Duration
	// ProviderTimeout bounds each provider attempt (default 3s).
	ProviderTimeout time.Duration
}

// Resolver walks the provider chain with per-provider timeouts and a
// shared cache. Safe for concurrent use.
type Resolver struct {
	providers   []Provider
	cache       Cache
	cacheTTL    time.Duration
	negativeTTL time.Duration
	timeout     time.Duration
}

// NewResolver applies defaults and returns a ready Resolver. A
// resolver with no providers is valid and resolves only local ranges.
func NewResolver(cfg Config) *Resolver {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = defaultNegativeTTL
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}

	return &Resolver{
		providers:   cfg.Providers,
		cache:       cfg.Cache,
		cacheTTL:    cfg.CacheTTL,
		negativeTTL: cfg.NegativeTTL,
		timeout:     cfg.ProviderTimeout,
	}
}

// Resolve returns a display location for ip, or ErrUnresolved when no
// provider can answer. Cache errors are logged and treated as misses.
func (r *Resolver) Resolve(ctx context.Context, ip string) (string, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "", ErrUnresolved
	}
	if isLocalAddress(ip) {
		return LocalNetwork, nil
	}

	if r.cache != nil {
		value, ok, err := r.cache.Get(ctx, ip)
		if err != nil {
			log.Print("authcore: geo cache read failed: ", err)
		} else if ok {
			if value == missMarker {
				return "", ErrUnresolved
			}
			return value, nil
		}
	}

	for _, p := range r.providers {
		loc, err := r.lookupOne(ctx, p, ip)
		if err != nil {
			log.Printf("authcore: geo provider %s failed for %s: %v", p.Name(), ip, err)
			continue
		}

		display := loc.String()
		if display == "" {
			continue
		}

		r.cacheSet(ctx, ip, display, r.cacheTTL)
		return display, nil
	}

	r.cacheSet(ctx, ip, missMarker, r.negativeTTL)
	return "", ErrUnresolved
}

func (r *Resolver) lookupOne(ctx context.Context, p Provider, ip string) (Location, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return p.Lookup(lookupCtx, ip)
}

func (r *Resolver) cacheSet(ctx context.Context, ip, value string, ttl time.Duration) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, ip, value, ttl); err != nil {
		log.Print("authcore: geo cache write failed: ", err)
	}
}

func isLocalAddress(ip string) bool {
	if ip == "localhost" {
		return true
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}

	return parsed.IsLoopback() ||
		parsed.IsPrivate() ||
		parsed.IsLinkLocalUnicast() ||
		parsed.IsUnspecified()
}
