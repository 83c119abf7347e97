package authcore

import (
	"fmt"

	"github.com/petstack/authcore/envelope"
	"github.com/petstack/authcore/geo"
	"github.com/petstack/authcore/password"
	"github.com/petstack/authcore/token"
)

// Engine is the session and credential security core: credential
// envelope decryption, the login/lockout state machine, and the
// session lifecycle manager, multiplexed over the registered tenants.
// Construct one via [New] and its Builder; an Engine is immutable
// after Build and safe for concurrent use.
type Engine struct {
	config    Config
	tenants   map[string]Tenant
	sessions  SessionRepository
	tokens    *token.Codec
	transport *envelope.Codec
	hasher    *password.Argon2
	geo       *geo.Resolver
	notify    *notifyDispatcher
	metrics   *Metrics
}

// Close drains the notification dispatcher. Idempotent.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.notify != nil {
		e.notify.Close()
	}
}

// Transport exposes the credential envelope codec so HTTP adapters can
// open envelopes before calling Authenticate or ChangePassword.
func (e *Engine) Transport() *envelope.Codec {
	return e.transport
}

// Tokens exposes the token codec for access-token verification in
// request middleware.
func (e *Engine) Tokens() *token.Codec {
	return e.tokens
}

// MetricsSnapshot copies the current counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// NotificationsDropped reports notifications lost to dispatcher
// backpressure since startup.
func (e *Engine) NotificationsDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.notify.Dropped()
}

func (e *Engine) tenant(sourceTable string) (Tenant, error) {
	t, ok := e.tenants[sourceTable]
	if !ok {
		return Tenant{}, fmt.Errorf("%w: %q", ErrUnknownSourceTable, sourceTable)
	}
	return t, nil
}
