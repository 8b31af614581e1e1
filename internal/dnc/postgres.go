package dnc

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable Do-Not-Call registry backed by a dnc_entries
// table. All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the PostgreSQL database at dsn, verifies the
// connection, and ensures the dnc_entries table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("dnc store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("dnc store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dnc store: ping: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dnc store: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// migrate creates the dnc_entries table if it does not exist.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const q = `
		CREATE TABLE IF NOT EXISTS dnc_entries (
		    number     TEXT        PRIMARY KEY,
		    reason     TEXT        NOT NULL DEFAULT '',
		    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	_, err := pool.Exec(ctx, q)
	return err
}

// Add implements [Store]. Re-adding a listed number keeps the original entry.
func (p *PostgresStore) Add(ctx context.Context, number, reason string) error {
	key := Normalize(number)
	if key == "" {
		return nil
	}
	const q = `
		INSERT INTO dnc_entries (number, reason)
		VALUES ($1, $2)
		ON CONFLICT (number) DO NOTHING`
	if _, err := p.pool.Exec(ctx, q, key, reason); err != nil {
		return fmt.Errorf("dnc store: add: %w", err)
	}
	return nil
}

// Contains implements [Store].
func (p *PostgresStore) Contains(ctx context.Context, number string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM dnc_entries WHERE number = $1)`
	var listed bool
	if err := p.pool.QueryRow(ctx, q, Normalize(number)).Scan(&listed); err != nil {
		return false, fmt.Errorf("dnc store: contains: %w", err)
	}
	return listed, nil
}

// Close implements [Store]. It releases the connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
