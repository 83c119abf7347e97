package pgstore

import (
	"fmt"
)

const maxIdentifierLength = 64

// FieldMap translates canonical account column roles to the column
// names one tenant table actually uses. Zero-value fields fall back to
// the canonical names.
type FieldMap struct {
	ID            string
	Email         string
	PasswordHash  string
	Role          string
	IsActive      string
	IsVerified    string
	LoginAttempts string
	LockedUntil   string
	LastLoginAt   string
	ResetToken    string
	ResetExpiry   string
}

func defaultFieldMap() FieldMap {
	return FieldMap{
		ID:            "id",
		Email:         "email",
		PasswordHash:  "password_hash",
		Role:          "role",
		IsActive:      "is_active",
		IsVerified:    "is_verified",
		LoginAttempts: "login_attempts",
		LockedUntil:   "locked_until",
		LastLoginAt:   "last_login_at",
		ResetToken:    "reset_token",
		ResetExpiry:   "reset_expiry",
	}
}

func (m FieldMap) withDefaults() FieldMap {
	def := defaultFieldMap()
	fill := func(v, fallback string) string {
		if v == "" {
			return fallback
		}
		return v
	}

	return FieldMap{
		ID:            fill(m.ID, def.ID),
		Email:         fill(m.Email, def.Email),
		PasswordHash:  fill(m.PasswordHash, def.PasswordHash),
		Role:          fill(m.Role, def.Role),
		IsActive:      fill(m.IsActive, def.IsActive),
		IsVerified:    fill(m.IsVerified, def.IsVerified),
		LoginAttempts: fill(m.LoginAttempts, def.LoginAttempts),
		LockedUntil:   fill(m.LockedUntil, def.LockedUntil),
		LastLoginAt:   fill(m.LastLoginAt, def.LastLoginAt),
		ResetToken:    fill(m.ResetToken, def.ResetToken),
		ResetExpiry:   fill(m.ResetExpiry, def.ResetExpiry),
	}
}

func (m FieldMap) columns() []string {
	return []string{
		m.ID, m.Email, m.PasswordHash, m.Role, m.IsActive, m.IsVerified,
		m.LoginAttempts, m.LockedUntil, m.LastLoginAt, m.ResetToken, m.ResetExpiry,
	}
}

// validateIdentifier rejects anything that could not be a plain SQL
// identifier: empty, too long, leading digit, or any character outside
// [A-Za-z0-9_]. Identifiers are interpolated into statements, so this
// is the injection boundary.
func validateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("empty identifier")
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("identifier %q exceeds %d characters", name, maxIdentifierLength)
	}
	if name[0] >= '0' && name[0] <= '9' {
		return fmt.Errorf("identifier %q starts with a digit", name)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return fmt.Errorf("identifier %q contains invalid character %q", name, c)
		}
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
