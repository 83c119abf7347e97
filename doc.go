// Package authcore is a multi-tenant session and credential security
// engine: AEAD credential envelope decryption with a replay freshness
// window, a login/lockout state machine, and a session lifecycle
// manager that issues, refreshes, enumerates, limits, and revokes
// paired access/refresh tokens enriched with device and approximate
// location metadata.
//
// Every account-facing call takes an explicit sourceTable parameter
// naming the tenant account store it operates on; tenants are
// registered once on the [Builder] and there is no process-global
// current-tenant state.
//
// # Architecture boundaries
//
// authcore is the public surface: [Engine], [Builder], [Config], the
// repository and notification interfaces, and value types. The
// envelope, token, password, and geo subpackages are reusable on their
// own; pgstore provides the PostgreSQL repositories.
//
// # Concurrency contract
//
// Engine methods are safe from multiple goroutines after
// [Builder.Build]. ValidateSession is the hot path: one session read
// plus at most one conditional write per call. The concurrency quota
// is enforced without a per-user lock, so simultaneous logins may
// transiently exceed it by the number of concurrent callers.
package authcore
