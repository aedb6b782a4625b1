// Package store provides storage backends for VoiceGuide.
//
// This file implements an SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	"github.com/projectech/VoiceGuide/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetValue failed", "error", err, "key", key)
		return "", false, fmt.Errorf("failed to read preference %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetValues(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for k, v := range values {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO preferences (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v)
		if err != nil {
			slog.Error("SQLiteStore SetValues failed", "error", err, "key", k)
			return fmt.Errorf("failed to write preference %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit preferences: %w", err)
	}
	slog.Debug("SQLiteStore SetValues succeeded", "count", len(values))
	return nil
}

func (s *SQLiteStore) DeleteValues(ctx context.Context, keys ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, k); err != nil {
			slog.Error("SQLiteStore DeleteValues failed", "error", err, "key", k)
			return fmt.Errorf("failed to delete preference %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) PutContact(ctx context.Context, c models.Contact) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (name, number) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET number = excluded.number`, c.Name, c.Number)
	if err != nil {
		slog.Error("SQLiteStore PutContact failed", "error", err, "name", c.Name)
		return fmt.Errorf("failed to save contact %s: %w", c.Name, err)
	}
	slog.Debug("SQLiteStore PutContact succeeded", "name", c.Name)
	return nil
}

func (s *SQLiteStore) FindContact(ctx context.Context, name string) (models.Contact, bool, error) {
	var c models.Contact
	err := s.db.QueryRowContext(ctx,
		`SELECT name, number FROM contacts WHERE name LIKE ? ESCAPE '\' ORDER BY id LIMIT 1`,
		containsPattern(name)).Scan(&c.Name, &c.Number)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore FindContact not found", "name", name)
		return models.Contact{}, false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore FindContact failed", "error", err, "name", name)
		return models.Contact{}, false, fmt.Errorf("failed to look up contact %s: %w", name, err)
	}
	return c, true, nil
}

func (s *SQLiteStore) ListContacts(ctx context.Context, query string) ([]models.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, number FROM contacts WHERE name LIKE ? ESCAPE '\' ORDER BY id`,
		containsPattern(query))
	if err != nil {
		slog.Error("SQLiteStore ListContacts query failed", "error", err)
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	return scanContacts(rows)
}

func (s *SQLiteStore) AppendTranscript(ctx context.Context, e models.TranscriptEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (session_id, flow, speaker, text, time) VALUES (?, ?, ?, ?, ?)`,
		e.SessionID, e.Flow, e.Speaker, e.Text, e.Time.UnixNano())
	if err != nil {
		slog.Error("SQLiteStore AppendTranscript failed", "error", err, "session", e.SessionID)
		return fmt.Errorf("failed to append transcript for %s: %w", e.SessionID, err)
	}
	return nil
}

func (s *SQLiteStore) GetTranscript(ctx context.Context, sessionID string) ([]models.TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, flow, speaker, text, time FROM transcripts WHERE session_id = ? ORDER BY id`,
		sessionID)
	if err != nil {
		slog.Error("SQLiteStore GetTranscript query failed", "error", err, "session", sessionID)
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	return scanTranscript(rows)
}

func (s *SQLiteStore) AddReceipt(ctx context.Context, r models.Receipt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO receipts (session_id, action, recipient, status, detail, time) VALUES (?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.Action, r.To, r.Status, nilIfEmpty(r.Detail), r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug("SQLiteStore AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

func (s *SQLiteStore) GetReceipts(ctx context.Context) ([]models.Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, action, recipient, status, detail, time FROM receipts ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	receipts, err := scanReceipts(rows)
	if err != nil {
		return nil, err
	}
	slog.Debug("SQLiteStore GetReceipts succeeded", "count", len(receipts))
	return receipts, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
