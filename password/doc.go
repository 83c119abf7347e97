// Package password implements credential hashing and verification with
// Argon2id defaults, plus generation of the temporary passwords handed
// out by the reset flow.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The [Argon2] hasher supports transparent parameter upgrades: if a
// stored hash was produced with weaker parameters, [Argon2.NeedsUpgrade]
// returns true so the caller can re-hash on the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing, verification, and random generation only.
// Password policy beyond the minimum length (confirmation matching,
// reuse rejection) is enforced by the Engine.
package password
