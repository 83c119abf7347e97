// Package envelope decrypts the authenticated-encryption credential
// envelope clients may wrap their passwords in: AES-256-GCM over a
// JSON payload carrying the secret and a millisecond timestamp. The
// timestamp bounds replay to a configured freshness window; there is
// no nonce ledger, so replay inside the window is possible and
// accepted. Requests without an envelope pass through unchanged so
// one endpoint serves both encrypted and legacy plaintext clients.
package envelope
