package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Harness owns a migrated Postgres for integration tests: a container when
// Docker is available, or the database named by dsn.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	teardown  func(context.Context) error
	dsn       string
}

// NewHarness starts (or reuses, when dsn is non-empty) a database and applies
// the schema. A reused database gets an isolated schema.
func NewHarness(ctx context.Context, dsn string) (*Harness, error) {
	container, resolved, err := StartPostgres16(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}
	shared := container.C == nil
	pool, teardown, err := ApplyMigrations(ctx, resolved, shared)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Harness{container: container, pool: pool, teardown: teardown, dsn: resolved}, nil
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections (e.g., chaos).
func (h *Harness) DSN() string {
	return h.dsn
}

// Close tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.teardown != nil {
		_ = h.teardown(ctx)
	}
	_ = h.container.Terminate(ctx)
}

// Reset truncates mutable tables and zeroes custody, leaving params and the
// registry in place.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"dispute_votes",
		"disputes",
		"ledger_credits",
		"balances",
		"jobs",
		"client_nonces",
		"escrow_events",
		"outbox",
		"api_credentials",
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}
	if _, err := tx.Exec(ctx, "UPDATE custody SET total = 0"); err != nil {
		return fmt.Errorf("reset custody: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	return nil
}
