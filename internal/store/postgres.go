package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend persists the blob as one bytea row keyed by storage key.
// The table is created on open if it does not exist.
type PostgresBackend struct {
	pool *pgxpool.Pool
	key  string
}

// NewPostgresBackend connects to postgres with the given DSN and ensures the
// blob table exists. Close the backend when done.
func NewPostgresBackend(ctx context.Context, dsn, key string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	const ddl = `
		CREATE TABLE IF NOT EXISTS entity_blobs (
			storage_key TEXT PRIMARY KEY,
			data        BYTEA NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure entity_blobs table: %w", err)
	}
	return &PostgresBackend{pool: pool, key: key}, nil
}

// Load implements Backend.
func (p *PostgresBackend) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		`SELECT data FROM entity_blobs WHERE storage_key = $1`, p.key,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select store blob: %w", err)
	}
	return data, nil
}

// Save implements Backend.
func (p *PostgresBackend) Save(ctx context.Context, data []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO entity_blobs (storage_key, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (storage_key)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		p.key, data,
	)
	if err != nil {
		return fmt.Errorf("upsert store blob: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *PostgresBackend) Close() {
	p.pool.Close()
}
