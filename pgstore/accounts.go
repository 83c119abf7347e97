package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/petstack/authcore"
)

// Accounts is the authcore.AccountRepository for one tenant table.
type Accounts struct {
	pool   *pgxpool.Pool
	table  string
	fields FieldMap
}

// NewAccounts wraps one account table. The table name and every mapped
// column name must pass the identifier check.
func NewAccounts(pool *pgxpool.Pool, table string, fields FieldMap) (*Accounts, error) {
	if pool == nil {
		return nil, errors.New("pgstore: pool required")
	}
	if err := validateIdentifier(table); err != nil {
		return nil, fmt.Errorf("pgstore: table: %w", err)
	}

	fields = fields.withDefaults()
	for _, column := range fields.columns() {
		if err := validateIdentifier(column); err != nil {
			return nil, fmt.Errorf("pgstore: column: %w", err)
		}
	}

	return &Accounts{pool: pool, table: table, fields: fields}, nil
}

func (a *Accounts) selectClause() string {
	f := a.fields
	return fmt.Sprintf(
		"SELECT %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s FROM %s",
		f.ID, f.Email, f.PasswordHash, f.Role, f.IsActive, f.IsVerified,
		f.LoginAttempts, f.LockedUntil, f.LastLoginAt, f.ResetToken, f.ResetExpiry,
		a.table,
	)
}

func (a *Accounts) scanAccount(row pgx.Row) (*authcore.Account, error) {
	var (
		account     authcore.Account
		lockedUntil *time.Time
		lastLoginAt *time.Time
		resetToken  *string
		resetExpiry *time.Time
	)

	err := row.Scan(
		&account.ID, &account.Email, &account.PasswordHash, &account.Role,
		&account.IsActive, &account.IsVerified, &account.LoginAttempts,
		&lockedUntil, &lastLoginAt, &resetToken, &resetExpiry,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: scan account: %w", err)
	}

	account.LockedUntil = lockedUntil
	account.LastLoginAt = lastLoginAt
	account.ResetToken = orEmpty(resetToken)
	account.ResetExpiry = resetExpiry
	return &account, nil
}

// FindByEmail matches case-insensitively and returns (nil, nil) when
// no row exists.
func (a *Accounts) FindByEmail(ctx context.Context, email string) (*authcore.Account, error) {
	query := fmt.Sprintf("%s WHERE LOWER(%s) = LOWER($1)", a.selectClause(), a.fields.Email)
	return a.scanAccount(a.pool.QueryRow(ctx, query, email))
}

// FindByID returns (nil, nil) when no row exists.
func (a *Accounts) FindByID(ctx context.Context, id string) (*authcore.Account, error) {
	query := fmt.Sprintf("%s WHERE %s = $1", a.selectClause(), a.fields.ID)
	return a.scanAccount(a.pool.QueryRow(ctx, query, id))
}

// Update applies the non-nil patch fields in one statement. An empty
// patch is a no-op.
func (a *Accounts) Update(ctx context.Context, id string, patch authcore.AccountPatch) error {
	f := a.fields
	sets := make([]string, 0, 7)
	args := make([]any, 0, 8)

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.PasswordHash != nil {
		add(f.PasswordHash, *patch.PasswordHash)
	}
	if patch.LoginAttempts != nil {
		add(f.LoginAttempts, *patch.LoginAttempts)
	}
	if patch.ClearLock {
		sets = append(sets, fmt.Sprintf("%s = NULL", f.LockedUntil))
	} else if patch.LockedUntil != nil {
		add(f.LockedUntil, *patch.LockedUntil)
	}
	if patch.LastLoginAt != nil {
		add(f.LastLoginAt, *patch.LastLoginAt)
	}
	if patch.ResetToken != nil {
		add(f.ResetToken, nullIfEmpty(*patch.ResetToken))
	}
	if patch.ResetExpiry != nil {
		add(f.ResetExpiry, *patch.ResetExpiry)
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = $%d",
		a.table, strings.Join(sets, ", "), f.ID, len(args),
	)

	tag, err := a.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("pgstore: update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}
