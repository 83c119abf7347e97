package authcore

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password, deliberately indistinguishable to prevent user
	// enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDeactivated reports a login against a disabled account.
	// Checked before lock state and always short-circuits.
	ErrAccountDeactivated = errors.New("account deactivated")
	// ErrAccountLocked reports a login against a temporarily locked
	// account. Returned values wrap a LockedError carrying the minutes
	// remaining.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountNotFound is returned by operations addressed to an
	// account id (change password, unlock) when the id does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrValidationFailed is the class matched by ValidationError values.
	ErrValidationFailed = errors.New("validation failed")
	// ErrInvalidSession reports a refresh whose token verified but no
	// longer matches any active session row.
	ErrInvalidSession = errors.New("invalid session")
	// ErrSessionExpired reports a session past its expiry; the row is
	// revoked as a side effect.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionNotFound reports a revocation target that does not
	// exist or is already inactive. API boundaries may treat it as
	// success-if-already-gone.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnknownSourceTable reports an operation addressed to a source
	// table no tenant was registered for.
	ErrUnknownSourceTable = errors.New("unknown source table")
)

// LockedError carries the lockout deadline alongside the
// ErrAccountLocked class. errors.Is(err, ErrAccountLocked) matches it.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, try again in %d minutes", e.Minutes())
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// Minutes returns the remaining lock time rounded up to whole minutes,
// never below 1 while the lock holds.
func (e *LockedError) Minutes() int {
	remaining := time.Until(e.Until)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Minutes()))
}

// ValidationError names the field and rule that failed a field-level
// check. errors.Is(err, ErrValidationFailed) matches it.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Rule)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}
