// Package token mints and verifies the credential pair carried by
// authenticated clients: a short-lived HS256 access token and a
// longer-lived refresh token, signed with independent secrets so one
// can never stand in for the other. It also generates the opaque,
// tenant-prefixed session identifiers both tokens are bound to, and a
// soft device fingerprint derived from (user agent, IP).
package token
