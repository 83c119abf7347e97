// Package pgstore implements the account and session repositories on
// PostgreSQL via pgx. Account repositories are per tenant: each wraps
// one account table, with a per-tenant field map translating canonical
// column roles (email, password hash, lockout fields) to that table's
// actual column names. Table and column names pass a strict identifier
// check before they are ever interpolated into SQL.
package pgstore
