package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"time"
)

var (
	// ErrInvalidCiphertext reports a malformed IV, a failed tag check,
	// or an undecodable payload. Callers must surface all three the
	// same way so an attacker cannot tell which byte was wrong.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrPayloadExpired reports a payload whose timestamp fell outside
	// the freshness window.
	ErrPayloadExpired = errors.New("credential payload expired")
	// ErrEnvelopeRequired reports a plaintext credential submitted to a
	// deployment that has disabled the plaintext fallback.
	ErrEnvelopeRequired = errors.New("encrypted credential envelope required")
)

const (
	keySize   = 32
	ivSize    = 16
	tagSize   = 16
	clockSkew = time.Minute
)

// Config controls envelope decryption.
type Config struct {
	// Secret is hashed to the fixed AES-256 key length; it does not
	// need to be exactly 32 bytes itself.
	Secret string
	// PayloadTTL is the freshness window. Production deployments run a
	// tighter window than development ones.
	PayloadTTL time.Duration
	// RequireEnvelope disables the plaintext passthrough mode.
	RequireEnvelope bool
}

// Payload is the decrypted envelope content.
type Payload struct {
	Data      string    `json:"data"`
	Timestamp time.Time `json:"-"`
}

type wirePayload struct {
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// LoginCredentials is a login request body as seen by the transport
// layer. When the three envelope fields are present together the
// password travels encrypted; otherwise Password is used as-is.
type LoginCredentials struct {
	Email      string
	Password   string
	Ciphertext string
	IV         string
	AuthTag    string

	// Transport metadata recorded on successful decryption for
	// downstream audit.
	WasEncrypted bool
	SentAt       time.Time
}

// PasswordChange is the paired change-password form: two ciphertexts
// (current and new password) sharing one IV, each with its own tag.
type PasswordChange struct {
	CurrentCiphertext string
	NewCiphertext     string
	IV                string
	CurrentAuthTag    string
	NewAuthTag        string

	CurrentPassword string
	NewPassword     string
	ConfirmPassword string

	WasEncrypted bool
}

// Codec decrypts credential envelopes. Safe for concurrent use.
type Codec struct {
	config Config
	key    []byte
}

// New derives the AEAD key from cfg.Secret and returns a ready Codec.
func New(cfg Config) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, errors.New("transport secret required")
	}
	if cfg.PayloadTTL <= 0 {
		return nil, errors.New("payload TTL must be > 0")
	}

	key := deriveKey(cfg.Secret)
	return &Codec{config: cfg, key: key}, nil
}

// The key is the SHA-256 of the secret padded to the key length, which
// accepts secrets shorter than 32 bytes while matching what existing
// clients derive.
func deriveKey(secret string) []byte {
	padded := []byte(secret)
	for len(padded) < keySize {
		padded = append(padded, 'x')
	}
	sum := sha256.Sum256(padded)
	return sum[:]
}

// Decrypt opens one envelope and enforces the freshness window.
// All decoding and tag failures collapse into ErrInvalidCiphertext.
func (c *Codec) Decrypt(ciphertextHex, ivHex, tagHex string) (*Payload, error) {
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != ivSize {
		return nil, ErrInvalidCiphertext
	}
	ct, err := hex.DecodeString(ciphertextHex)
	if err != nil || len(ct) == 0 {
		return nil, ErrInvalidCiphertext
	}
	tag, err := hex.DecodeString(tagHex)
	if err != nil || len(tag) != tagSize {
		return nil, ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	plain, err := aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	var wire wirePayload
	if err := json.Unmarshal(plain, &wire); err != nil || wire.Timestamp == 0 {
		return nil, ErrInvalidCiphertext
	}

	sent := time.UnixMilli(wire.Timestamp)
	now := time.Now()
	if now.Sub(sent) > c.config.PayloadTTL {
		return nil, ErrPayloadExpired
	}
	if sent.After(now.Add(clockSkew)) {
		return nil, ErrPayloadExpired
	}

	return &Payload{Data: wire.Data, Timestamp: sent}, nil
}

// OpenLogin resolves the dual transport mode for a login request. When
// the envelope fields are all present the password is decrypted in
// place and transport metadata recorded; when absent the plaintext
// password passes through. On any failure req is left untouched.
func (c *Codec) OpenLogin(req *LoginCredentials) error {
	if req == nil {
		return ErrInvalidCiphertext
	}

	if !hasEnvelope(req.Ciphertext, req.IV, req.AuthTag) {
		if c.config.RequireEnvelope {
			return ErrEnvelopeRequired
		}
		return nil
	}

	payload, err := c.Decrypt(req.Ciphertext, req.IV, req.AuthTag)
	if err != nil {
		return err
	}

	req.Password = payload.Data
	req.WasEncrypted = true
	req.SentAt = payload.Timestamp
	return nil
}

// OpenPasswordChange decrypts both halves of a paired change-password
// envelope. A failure on either ciphertext aborts the whole operation
// with nothing mutated.
func (c *Codec) OpenPasswordChange(req *PasswordChange) error {
	if req == nil {
		return ErrInvalidCiphertext
	}

	if !hasEnvelope(req.CurrentCiphertext, req.IV, req.CurrentAuthTag) && req.NewCiphertext == "" {
		if c.config.RequireEnvelope {
			return ErrEnvelopeRequired
		}
		return nil
	}

	current, err := c.Decrypt(req.CurrentCiphertext, req.IV, req.CurrentAuthTag)
	if err != nil {
		return err
	}
	next, err := c.Decrypt(req.NewCiphertext, req.IV, req.NewAuthTag)
	if err != nil {
		return err
	}

	req.CurrentPassword = current.Data
	req.NewPassword = next.Data
	if req.ConfirmPassword == "" {
		req.ConfirmPassword = next.Data
	}
	req.WasEncrypted = true
	return nil
}

// Encrypt produces an envelope for data stamped now. It exists for
// test harnesses and client SDKs; the server side only ever decrypts.
func (c *Codec) Encrypt(data string) (ciphertextHex, ivHex, tagHex string, err error) {
	return c.EncryptAt(data, time.Now())
}

// EncryptAt is Encrypt with an explicit timestamp.
func (c *Codec) EncryptAt(data string, at time.Time) (ciphertextHex, ivHex, tagHex string, err error) {
	iv := make([]byte, ivSize)
	if _, err = io.ReadFull(rand.Reader, iv); err != nil {
		return "", "", "", err
	}
	return c.encryptWithIV(data, at, iv)
}

// EncryptPairAt encrypts two values under a single shared IV, the
// shape the paired change-password form uses. tags[0] authenticates
// the current-password ciphertext and tags[1] the new-password one.
func (c *Codec) EncryptPairAt(current, next string, at time.Time) (currentHex, nextHex, ivHex string, tags [2]string, err error) {
	iv := make([]byte, ivSize)
	if _, err = io.ReadFull(rand.Reader, iv); err != nil {
		return "", "", "", tags, err
	}

	currentHex, ivHex, tags[0], err = c.encryptWithIV(current, at, iv)
	if err != nil {
		return "", "", "", tags, err
	}
	nextHex, _, tags[1], err = c.encryptWithIV(next, at, iv)
	if err != nil {
		return "", "", "", tags, err
	}
	return currentHex, nextHex, ivHex, tags, nil
}

func (c *Codec) encryptWithIV(data string, at time.Time, iv []byte) (ciphertextHex, ivHex, tagHex string, err error) {
	wire, err := json.Marshal(wirePayload{Data: data, Timestamp: at.UnixMilli()})
	if err != nil {
		return "", "", "", err
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", "", "", err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return "", "", "", err
	}

	sealed := aead.Seal(nil, iv, wire, nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(ct), hex.EncodeToString(iv), hex.EncodeToString(tag), nil
}

func hasEnvelope(ciphertext, iv, tag string) bool {
	return ciphertext != "" && iv != "" && tag != ""
}
