// Package geo resolves a public IP address to a best-effort,
// human-readable location string by walking an ordered chain of free
// lookup providers until one answers. Results (including misses) are
// cached per IP; private and loopback addresses short-circuit to
// "Local Network" without any network call. Resolution failures are
// expected and must never fail a login.
package geo
