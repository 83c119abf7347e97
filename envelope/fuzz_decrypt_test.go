package envelope

import (
	"strings"
	"testing"
	"time"
)

// FuzzDecrypt exercises the envelope opener with arbitrary hex triples.
// Goal: no panics; malformed input must come back as an error, never as
// a payload.
func FuzzDecrypt(f *testing.F) {
	codec, err := New(Config{Secret: "fuzz-transport-secret", PayloadTTL: 30 * time.Minute})
	if err != nil {
		f.Fatal(err)
	}

	// Seed with a valid envelope.
	ct, iv, tag, err := codec.Encrypt("hunter2")
	if err != nil {
		f.Fatal(err)
	}
	f.Add(ct, iv, tag)

	// Empty, non-hex, and wrong-length pieces.
	f.Add("", "", "")
	f.Add("zz", iv, tag)
	f.Add(ct, "00", tag)
	f.Add(ct, iv, "00")
	f.Add(ct, strings.Repeat("0", 2*ivSize), strings.Repeat("0", 2*tagSize))

	// Truncated and extended variants of valid material.
	if len(ct) > 4 {
		f.Add(ct[:len(ct)-4], iv, tag)
	}
	f.Add(ct+ct, iv, tag)
	f.Add(tag, iv, ct)

	f.Fuzz(func(t *testing.T, ciphertextHex, ivHex, tagHex string) {
		p, err := codec.Decrypt(ciphertextHex, ivHex, tagHex)
		if err != nil {
			if p != nil {
				t.Fatal("Decrypt returned a payload alongside an error")
			}
			return
		}
		if p == nil {
			t.Fatal("Decrypt returned nil payload without error")
		}
	})
}

// FuzzOpenLogin runs the dual-mode login opener over arbitrary request
// bodies. Plaintext requests pass through unchanged; anything else
// either decrypts or errors without mutating the request.
func FuzzOpenLogin(f *testing.F) {
	codec, err := New(Config{Secret: "fuzz-transport-secret", PayloadTTL: 30 * time.Minute})
	if err != nil {
		f.Fatal(err)
	}

	ct, iv, tag, err := codec.Encrypt("correct-horse")
	if err != nil {
		f.Fatal(err)
	}

	f.Add("a@b.io", "plain-pass", "", "", "")
	f.Add("a@b.io", "", ct, iv, tag)
	f.Add("a@b.io", "", ct, iv, "")
	f.Add("a@b.io", "", "ff", "ff", "ff")

	f.Fuzz(func(t *testing.T, email, password, ciphertext, ivHex, tagHex string) {
		req := &LoginCredentials{
			Email:      email,
			Password:   password,
			Ciphertext: ciphertext,
			IV:         ivHex,
			AuthTag:    tagHex,
		}
		if err := codec.OpenLogin(req); err != nil {
			// Failed opens must leave the request untouched.
			if req.Password != password || req.WasEncrypted {
				t.Fatal("OpenLogin mutated the request on failure")
			}
		}
	})
}
