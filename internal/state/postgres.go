package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps client state in the client_state table
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and ensures the table exists
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS client_state (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create client_state table: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT key FROM client_state ORDER BY key`)
	if err != nil {
		return nil, err
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("read state keys: %w", err)
	}
	return keys, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM client_state WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO client_state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM client_state WHERE key = $1`, key)
	return err
}

func (s *PostgresStore) Close() {
	if s.db != nil {
		s.db.Close()
	}
}
