package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements the directory over a single key/record table.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgresStore connects to Postgres at databaseURL and ensures the
// directory table exists.
func OpenPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS directory_records (
			key TEXT PRIMARY KEY,
			record BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	const query = `SELECT record FROM directory_records WHERE key = $1`
	var record []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get record: %w", err)
	}
	return record, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, record []byte) error {
	const upsert = `
		INSERT INTO directory_records (key, record)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET record = EXCLUDED.record, updated_at = now()
	`
	if _, err := s.db.ExecContext(ctx, upsert, key, record); err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ContainsKey(ctx context.Context, key string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM directory_records WHERE key = $1)`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("check key: %w", err)
	}
	return exists, nil
}

// Update applies fn under a row lock so concurrent updates of the same key
// serialize instead of losing writes.
func (s *PostgresStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `SELECT record FROM directory_records WHERE key = $1 FOR UPDATE`
	var current []byte
	found := true
	err = tx.QueryRowContext(ctx, query, key).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		current, found = nil, false
	} else if err != nil {
		return fmt.Errorf("get record: %w", err)
	}

	next, err := fn(current, found)
	if err != nil {
		return err
	}

	const upsert = `
		INSERT INTO directory_records (key, record)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET record = EXCLUDED.record, updated_at = now()
	`
	if _, err := tx.ExecContext(ctx, upsert, key, next); err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
