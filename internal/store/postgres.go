// Package store provides storage backends for VoiceGuide.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/projectech/VoiceGuide/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetValue failed", "error", err, "key", key)
		return "", false, fmt.Errorf("failed to read preference %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) SetValues(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for k, v := range values {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO preferences (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, k, v)
		if err != nil {
			slog.Error("PostgresStore SetValues failed", "error", err, "key", k)
			return fmt.Errorf("failed to write preference %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit preferences: %w", err)
	}
	slog.Debug("PostgresStore SetValues succeeded", "count", len(values))
	return nil
}

func (s *PostgresStore) DeleteValues(ctx context.Context, keys ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM preferences WHERE key = $1`, k); err != nil {
			slog.Error("PostgresStore DeleteValues failed", "error", err, "key", k)
			return fmt.Errorf("failed to delete preference %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) PutContact(ctx context.Context, c models.Contact) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (name, number) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET number = EXCLUDED.number`, c.Name, c.Number)
	if err != nil {
		slog.Error("PostgresStore PutContact failed", "error", err, "name", c.Name)
		return fmt.Errorf("failed to save contact %s: %w", c.Name, err)
	}
	slog.Debug("PostgresStore PutContact succeeded", "name", c.Name)
	return nil
}

func (s *PostgresStore) FindContact(ctx context.Context, name string) (models.Contact, bool, error) {
	var c models.Contact
	err := s.db.QueryRowContext(ctx,
		`SELECT name, number FROM contacts WHERE name ILIKE $1 ORDER BY id LIMIT 1`,
		containsPattern(name)).Scan(&c.Name, &c.Number)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore FindContact not found", "name", name)
		return models.Contact{}, false, nil
	}
	if err != nil {
		slog.Error("PostgresStore FindContact failed", "error", err, "name", name)
		return models.Contact{}, false, fmt.Errorf("failed to look up contact %s: %w", name, err)
	}
	return c, true, nil
}

func (s *PostgresStore) ListContacts(ctx context.Context, query string) ([]models.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, number FROM contacts WHERE name ILIKE $1 ORDER BY id`,
		containsPattern(query))
	if err != nil {
		slog.Error("PostgresStore ListContacts query failed", "error", err)
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	return scanContacts(rows)
}

func (s *PostgresStore) AppendTranscript(ctx context.Context, e models.TranscriptEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (session_id, flow, speaker, text, time) VALUES ($1, $2, $3, $4, $5)`,
		e.SessionID, e.Flow, e.Speaker, e.Text, e.Time.UnixNano())
	if err != nil {
		slog.Error("PostgresStore AppendTranscript failed", "error", err, "session", e.SessionID)
		return fmt.Errorf("failed to append transcript for %s: %w", e.SessionID, err)
	}
	return nil
}

func (s *PostgresStore) GetTranscript(ctx context.Context, sessionID string) ([]models.TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, flow, speaker, text, time FROM transcripts WHERE session_id = $1 ORDER BY id`,
		sessionID)
	if err != nil {
		slog.Error("PostgresStore GetTranscript query failed", "error", err, "session", sessionID)
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	return scanTranscript(rows)
}

func (s *PostgresStore) AddReceipt(ctx context.Context, r models.Receipt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO receipts (session_id, action, recipient, status, detail, time) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.SessionID, r.Action, r.To, r.Status, nilIfEmpty(r.Detail), r.Time)
	if err != nil {
		slog.Error("PostgresStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug("PostgresStore AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

func (s *PostgresStore) GetReceipts(ctx context.Context) ([]models.Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, action, recipient, status, detail, time FROM receipts ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	receipts, err := scanReceipts(rows)
	if err != nil {
		return nil, err
	}
	slog.Debug("PostgresStore GetReceipts succeeded", "count", len(receipts))
	return receipts, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	} else {
		slog.Debug("PostgreSQL database connection closed successfully")
	}
	return err
}
