// Package db provides PostgreSQL access for the KiraKira API.
//
// Every query runs inside a Handle: a transaction opened at one of three
// privilege levels. Scoped and anonymous handles run on the authenticator pool
// with a row-level-security role installed for the transaction; admin handles
// run on the service pool and bypass row-level security.
package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirakira-garden/kirakira-api/internal/auth"
)

// Common errors.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("already exists")
	ErrAdminUnavailable = errors.New("admin database credential is not configured")
	ErrNoSubject        = errors.New("identity has no user to scope to")
)

//go:embed schema.sql
var schema string

// Database roles installed by scoped and anonymous handles.
const (
	roleAuthenticated = "authenticated"
	roleAnon          = "anon"
)

// Level is the privilege level a Handle was opened at.
type Level string

const (
	LevelScoped    Level = "scoped"
	LevelAnonymous Level = "anonymous"
	LevelAdmin     Level = "admin"
)

// Querier is the query surface shared by pools, transactions and handles.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Handle is a database capability bound to exactly one privilege level.
// Callers must Release every handle; Commit makes its writes durable.
type Handle interface {
	Querier
	Level() Level
	Commit(ctx context.Context) error
	Release(ctx context.Context)
}

// DB holds the authenticator pool and the optional service pool.
type DB struct {
	pool  *pgxpool.Pool
	admin *pgxpool.Pool
}

// New connects the authenticator pool and, when adminURL is not empty, the
// service pool.
func New(ctx context.Context, databaseURL, adminURL string) (*DB, error) {
	pool, err := connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	db := &DB{pool: pool}
	if adminURL != "" {
		admin, err := connect(ctx, adminURL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("admin pool: %w", err)
		}
		db.admin = admin
	}
	return db, nil
}

func connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// Close closes both pools.
func (db *DB) Close() {
	db.pool.Close()
	if db.admin != nil {
		db.admin.Close()
	}
}

// HasAdmin reports whether a service credential is configured.
func (db *DB) HasAdmin() bool {
	return db.admin != nil
}

// Scoped opens a transaction restricted by row-level security to id.
func (db *DB) Scoped(ctx context.Context, id auth.Identity) (Handle, error) {
	if id.UserID <= 0 || id.IsService() {
		return nil, ErrNoSubject
	}
	claims, err := json.Marshal(map[string]any{
		"sub":      id.Subject(),
		"role":     roleAuthenticated,
		"username": id.Username,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding claims: %w", err)
	}
	return begin(ctx, db.pool, LevelScoped, roleAuthenticated, string(claims))
}

// Anonymous opens a transaction under the anon role, which can only read
// public tables.
func (db *DB) Anonymous(ctx context.Context) (Handle, error) {
	return begin(ctx, db.pool, LevelAnonymous, roleAnon, `{"role":"anon"}`)
}

// Admin opens a transaction on the service pool. Row-level security does not
// apply to it.
func (db *DB) Admin(ctx context.Context) (Handle, error) {
	if db.admin == nil {
		return nil, ErrAdminUnavailable
	}
	tx, err := db.admin.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning admin transaction: %w", err)
	}
	return &txHandle{tx: tx, level: LevelAdmin}, nil
}

// Migrate applies the embedded schema. It needs the service credential.
func (db *DB) Migrate(ctx context.Context) error {
	if db.admin == nil {
		return ErrAdminUnavailable
	}
	if _, err := db.admin.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Ping checks both pools.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	if db.admin != nil {
		if err := db.admin.Ping(ctx); err != nil {
			return fmt.Errorf("pinging admin database: %w", err)
		}
	}
	return nil
}

func begin(ctx context.Context, pool *pgxpool.Pool, level Level, role, claims string) (Handle, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning %s transaction: %w", level, err)
	}

	// Both settings are transaction-local and vanish on commit or rollback.
	_, err = tx.Exec(ctx,
		`SELECT set_config('role', $1, true), set_config('request.jwt.claims', $2, true)`,
		role, claims,
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("installing %s role: %w", level, err)
	}
	return &txHandle{tx: tx, level: level}, nil
}

// txHandle exposes only the query surface of a transaction, so a handle can
// not be used to reach the underlying connection and change its role.
type txHandle struct {
	tx    pgx.Tx
	level Level
}

func (h *txHandle) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return h.tx.Exec(ctx, sql, args...)
}

func (h *txHandle) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return h.tx.Query(ctx, sql, args...)
}

func (h *txHandle) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return h.tx.QueryRow(ctx, sql, args...)
}

func (h *txHandle) Level() Level {
	return h.level
}

func (h *txHandle) Commit(ctx context.Context) error {
	if err := h.tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Release rolls back anything not committed. It is safe after Commit.
func (h *txHandle) Release(ctx context.Context) {
	_ = h.tx.Rollback(ctx)
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isForeignKeyViolation reports whether err is a Postgres foreign_key_violation.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
