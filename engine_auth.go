package authcore

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/petstack/authcore/password"
)

// Authenticate verifies credentials against the sourceTable's account
// store and drives the lockout state machine. On success it returns
// the account with secret fields stripped. Failures collapse into
// ErrInvalidCredentials except deactivation and an active lock, which
// are reported as themselves; the lock is checked before the password
// so a correct credential never bypasses it.
func (e *Engine) Authenticate(ctx context.Context, sourceTable, email, pass string) (*Account, error) {
	tenant, err := e.tenant(sourceTable)
	if err != nil {
		return nil, err
	}

	account, err := tenant.Accounts.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("account lookup: %w", err)
	}
	if account == nil {
		e.metrics.Inc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	if !account.IsActive {
		e.metrics.Inc(MetricLoginFailure)
		return nil, ErrAccountDeactivated
	}

	if account.LockedUntil != nil && account.LockedUntil.After(time.Now()) {
		e.metrics.Inc(MetricLoginFailure)
		return nil, &LockedError{Until: *account.LockedUntil}
	}

	ok, err := e.hasher.Verify(pass, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("password verify: %w", err)
	}
	if !ok {
		e.recordFailedAttempt(ctx, tenant, account)
		e.metrics.Inc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	e.recordSuccessfulLogin(ctx, tenant, account, pass)
	e.metrics.Inc(MetricLoginSuccess)

	return account.Sanitized(), nil
}

// recordFailedAttempt increments the counter and trips the lock when
// the threshold is reached. Persistence failures are logged, never
// surfaced: the caller still reports invalid credentials.
func (e *Engine) recordFailedAttempt(ctx context.Context, tenant Tenant, account *Account) {
	attempts := account.LoginAttempts + 1
	patch := AccountPatch{LoginAttempts: &attempts}

	if attempts >= e.config.Lockout.MaxAttempts {
		until := time.Now().Add(e.config.Lockout.Duration)
		patch.LockedUntil = &until
		e.metrics.Inc(MetricAccountLocked)
	}

	if err := tenant.Accounts.Update(ctx, account.ID, patch); err != nil {
		log.Print("authcore: failed-attempt update failed: ", err)
	}
}

// recordSuccessfulLogin resets the lockout state and stamps
// lastLoginAt. When configured it also transparently re-hashes the
// password under current parameters.
func (e *Engine) recordSuccessfulLogin(ctx context.Context, tenant Tenant, account *Account, pass string) {
	zero := 0
	now := time.Now()
	patch := AccountPatch{
		LoginAttempts: &zero,
		ClearLock:     true,
		LastLoginAt:   &now,
	}

	if e.config.Password.UpgradeOnLogin {
		if upgrade, err := e.hasher.NeedsUpgrade(account.PasswordHash); err == nil && upgrade {
			if rehashed, err := e.hasher.Hash(pass); err == nil {
				patch.PasswordHash = &rehashed
			}
		}
	}

	if err := tenant.Accounts.Update(ctx, account.ID, patch); err != nil {
		log.Print("authcore: login-reset update failed: ", err)
	}

	account.LoginAttempts = 0
	account.LockedUntil = nil
	account.LastLoginAt = &now
}

// CanAttemptLogin is the read-only lockout precheck. It reflects the
// same lock state Authenticate enforces but never mutates counters,
// and reports unknown or deactivated accounts as unable to attempt
// without distinguishing them.
func (e *Engine) CanAttemptLogin(ctx context.Context, sourceTable, email string) (LoginStatus, error) {
	tenant, err := e.tenant(sourceTable)
	if err != nil {
		return LoginStatus{}, err
	}

	account, err := tenant.Accounts.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return LoginStatus{}, fmt.Errorf("account lookup: %w", err)
	}
	if account == nil || !account.IsActive {
		return LoginStatus{CanAttempt: false}, nil
	}

	if account.LockedUntil != nil && account.LockedUntil.After(time.Now()) {
		locked := &LockedError{Until: *account.LockedUntil}
		return LoginStatus{CanAttempt: false, LockTimeRemaining: locked.Minutes()}, nil
	}

	return LoginStatus{CanAttempt: true}, nil
}

// Login is the composite operation behind the login endpoint:
// Authenticate, then CreateSession under the same sourceTable.
func (e *Engine) Login(ctx context.Context, sourceTable string, input LoginInput) (*LoginResult, error) {
	account, err := e.Authenticate(ctx, sourceTable, input.Email, input.Password)
	if err != nil {
		return nil, err
	}

	grant, err := e.CreateSession(ctx, CreateSessionInput{
		UserID:      account.ID,
		Email:       account.Email,
		Role:        account.Role,
		SourceTable: sourceTable,
		UserAgent:   input.UserAgent,
		IPAddress:   input.IPAddress,
		DeviceName:  input.DeviceName,
	})
	if err != nil {
		return nil, err
	}

	return &LoginResult{Account: account, Grant: *grant}, nil
}

// ChangePassword verifies the current password and every field rule,
// then persists the new hash. Rule failures come back as
// ValidationError naming the field and rule. When configured, all of
// the user's sessions are revoked afterwards.
func (e *Engine) ChangePassword(ctx context.Context, sourceTable, userID, current, next, confirm string) error {
	tenant, err := e.tenant(sourceTable)
	if err != nil {
		return err
	}

	if next != confirm {
		return &ValidationError{Field: "confirmPassword", Rule: "must match new password"}
	}

	account, err := tenant.Accounts.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("account lookup: %w", err)
	}
	if account == nil {
		return ErrAccountNotFound
	}

	ok, err := e.hasher.Verify(current, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("password verify: %w", err)
	}
	if !ok {
		return &ValidationError{Field: "currentPassword", Rule: "is incorrect"}
	}

	if next == current {
		return &ValidationError{Field: "newPassword", Rule: "must differ from current password"}
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return &ValidationError{Field: "newPassword", Rule: "does not meet password policy"}
	}

	if err := tenant.Accounts.Update(ctx, userID, AccountPatch{PasswordHash: &hash}); err != nil {
		return fmt.Errorf("password update: %w", err)
	}
	e.metrics.Inc(MetricPasswordChanged)

	if e.config.Session.RevokeOnPasswordChange {
		if _, err := e.RevokeAllSessions(ctx, userID, sourceTable, ReasonPasswordChanged); err != nil {
			log.Print("authcore: post-change session revocation failed: ", err)
		}
	}

	return nil
}

// ResetPassword issues a temporary password and reset token for the
// account, clears any lock, and hands the notification off to the
// dispatcher. It reports success whether or not the email exists, and
// notification failure never propagates.
func (e *Engine) ResetPassword(ctx context.Context, sourceTable, email, language string) error {
	tenant, err := e.tenant(sourceTable)
	if err != nil {
		return err
	}

	email = normalizeEmail(email)
	account, err := tenant.Accounts.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("account lookup: %w", err)
	}
	if account == nil {
		// Generic success: reveal nothing about which emails exist.
		return nil
	}

	temporary, err := password.GenerateTemporary(e.config.Reset.TemporaryPasswordLength)
	if err != nil {
		return fmt.Errorf("temporary password: %w", err)
	}
	hash, err := e.hasher.Hash(temporary)
	if err != nil {
		return fmt.Errorf("temporary password hash: %w", err)
	}
	resetToken, err := password.GenerateResetToken()
	if err != nil {
		return fmt.Errorf("reset token: %w", err)
	}

	zero := 0
	expiry := time.Now().Add(e.config.Reset.TokenTTL)
	patch := AccountPatch{
		PasswordHash:  &hash,
		LoginAttempts: &zero,
		ClearLock:     true,
		ResetToken:    &resetToken,
		ResetExpiry:   &expiry,
	}
	if err := tenant.Accounts.Update(ctx, account.ID, patch); err != nil {
		return fmt.Errorf("reset update: %w", err)
	}
	e.metrics.Inc(MetricPasswordReset)

	if language == "" {
		language = e.config.Reset.Language
	}
	e.notify.Dispatch(ctx, Notification{
		To:       account.Email,
		Template: e.config.Reset.Template,
		Language: language,
		Data: map[string]string{
			"temporaryPassword": temporary,
			"resetToken":        resetToken,
			"resetExpiry":       expiry.Format(time.RFC3339),
		},
	})

	return nil
}

// UnlockAccount is the administrative unlock: counters to zero, lock
// cleared.
func (e *Engine) UnlockAccount(ctx context.Context, sourceTable, userID string) error {
	tenant, err := e.tenant(sourceTable)
	if err != nil {
		return err
	}

	account, err := tenant.Accounts.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("account lookup: %w", err)
	}
	if account == nil {
		return ErrAccountNotFound
	}

	zero := 0
	return tenant.Accounts.Update(ctx, userID, AccountPatch{
		LoginAttempts: &zero,
		ClearLock:     true,
	})
}

// SecurityStats reports one account's lockout state and active
// session count.
func (e *Engine) SecurityStats(ctx context.Context, sourceTable, userID string) (*SecurityStats, error) {
	tenant, err := e.tenant(sourceTable)
	if err != nil {
		return nil, err
	}

	account, err := tenant.Accounts.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("account lookup: %w", err)
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	active, err := e.sessions.ListActive(ctx, userID, sourceTable)
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}

	stats := &SecurityStats{
		LoginAttempts:  account.LoginAttempts,
		LastLoginAt:    account.LastLoginAt,
		HasResetToken:  account.ResetToken != "",
		ActiveSessions: len(active),
	}
	if account.LockedUntil != nil && account.LockedUntil.After(time.Now()) {
		stats.IsLocked = true
		stats.LockedUntil = account.LockedUntil
	}

	return stats, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
