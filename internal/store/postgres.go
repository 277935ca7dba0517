package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/postgres"
)

// PostgresStore keeps objects in a table:
//
//	CREATE TABLE search_shards (
//	    name       TEXT PRIMARY KEY,
//	    payload    BYTEA NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type PostgresStore struct {
	db    *postgres.Client
	table string
}

// NewPostgresStore creates the table if it does not exist.
func NewPostgresStore(ctx context.Context, db *postgres.Client, table string) (*PostgresStore, error) {
	if err := postgres.CheckTableName(table); err != nil {
		return nil, err
	}
	_, err := db.DB.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		name       TEXT PRIMARY KEY,
		payload    BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, table))
	if err != nil {
		return nil, fmt.Errorf("creating table %s: %w", table, err)
	}
	return &PostgresStore{db: db, table: table}, nil
}

func (s *PostgresStore) Get(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.db.DB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT payload FROM %s WHERE name = $1`, s.table), name,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("postgres object %s: %w", name, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying object %s: %w", name, err)
	}
	return data, nil
}

func (s *PostgresStore) Put(ctx context.Context, name string, data []byte) error {
	return s.PutAll(ctx, map[string][]byte{name: data})
}

// PutAll upserts every object in one transaction.
func (s *PostgresStore) PutAll(ctx context.Context, objects map[string][]byte) error {
	query := fmt.Sprintf(`INSERT INTO %s (name, payload, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`, s.table)
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		for name, data := range objects {
			if _, err := tx.ExecContext(ctx, query, name, data); err != nil {
				return fmt.Errorf("upserting object %s: %w", name, err)
			}
		}
		return nil
	})
}

// Ping reports whether the backing database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
