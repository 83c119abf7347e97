package token

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired reports a token whose signature verified but whose
	// expiry has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid reports a token that failed signature, structure,
	// or claim validation. No partial claims are ever returned with it.
	ErrTokenInvalid = errors.New("invalid token")
)

const sessionIDEntropy = 16

// Config carries the signing material and lifetimes for a Codec.
//
// AccessSecret and RefreshSecret must differ: separate keys are what
// make an access token unusable against the refresh endpoint and vice
// versa.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

// Claims is the payload carried by both halves of a token pair.
type Claims struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	SessionID string `json:"sessionId"`
	DeviceID  string `json:"deviceId,omitempty"`
	jwt.RegisteredClaims
}

// Pair is a freshly minted access/refresh token pair. Expiries are
// absolute so callers never need to decode a token to learn them.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Codec signs and verifies token pairs. Safe for concurrent use.
type Codec struct {
	config Config
}

// NewCodec validates cfg and returns a ready Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.AccessSecret) < 32 {
		return nil, errors.New("access secret must be >= 32 bytes")
	}
	if len(cfg.RefreshSecret) < 32 {
		return nil, errors.New("refresh secret must be >= 32 bytes")
	}
	if bytes.Equal(cfg.AccessSecret, cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("access TTL must be > 0")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	return &Codec{config: cfg}, nil
}

// NewSessionID returns a new opaque session identifier of the form
// <prefix>_<32 hex chars>. The prefix scopes the identifier to the
// tenant that issued it, so a bare sessionId can be attributed (and
// cheaply sanity-checked) without a lookup.
func (c *Codec) NewSessionID(prefix string) (string, error) {
	if prefix == "" {
		return "", errors.New("session prefix required")
	}

	var raw [sessionIDEntropy]byte
	if _, err := io.ReadFull(rand.Reader, raw[:]); err != nil {
		return "", err
	}

	return prefix + "_" + hex.EncodeToString(raw[:]), nil
}

// Pair mints a bound access/refresh pair carrying cl. Both tokens
// embed the same sessionId; only the lifetimes and signing secrets
// differ.
func (c *Codec) Pair(cl Claims) (*Pair, error) {
	if cl.UserID == "" || cl.SessionID == "" {
		return nil, errors.New("claims require userId and sessionId")
	}

	now := time.Now()
	accessExp := now.Add(c.config.AccessTTL)
	refreshExp := now.Add(c.config.RefreshTTL)

	access, err := c.sign(cl, now, accessExp, c.config.AccessSecret)
	if err != nil {
		return nil, err
	}

	refresh, err := c.sign(cl, now, refreshExp, c.config.RefreshSecret)
	if err != nil {
		return nil, err
	}

	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess checks signature and expiry of an access token and
// returns its claims, or ErrTokenExpired / ErrTokenInvalid.
func (c *Codec) VerifyAccess(tokenStr string) (*Claims, error) {
	return c.verify(tokenStr, c.config.AccessSecret)
}

// VerifyRefresh is the refresh-secret counterpart of VerifyAccess.
func (c *Codec) VerifyRefresh(tokenStr string) (*Claims, error) {
	return c.verify(tokenStr, c.config.RefreshSecret)
}

func (c *Codec) sign(cl Claims, now, exp time.Time, secret []byte) (string, error) {
	cl.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    c.config.Issuer,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(secret)
}

func (c *Codec) verify(tokenStr string, secret []byte) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.SessionID == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// DeviceID derives a stable fingerprint from a user agent and IP.
// It is a soft identifier for display and session grouping, not a
// security boundary.
func DeviceID(userAgent, ip string) string {
	if userAgent == "" || ip == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(userAgent + "|" + ip))
	return hex.EncodeToString(sum[:16])
}

// HashRefresh returns the server-side stored form of a refresh token.
// Session rows never hold the raw token.
func HashRefresh(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return hex.EncodeToString(sum[:])
}
