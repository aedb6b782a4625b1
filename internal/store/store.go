// Package store provides storage backends for VoiceGuide.
//
// A store keeps the durable key-value preferences (where saved destinations
// live), the contact directory, conversation transcripts and dispatch
// receipts. Backends exist for memory, SQLite and PostgreSQL.
package store

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/projectech/VoiceGuide/internal/models"
)

// Store is the persistence interface shared by all backends.
type Store interface {
	// GetValue returns the value stored under key.
	GetValue(ctx context.Context, key string) (string, bool, error)
	// SetValues writes all pairs in one transaction.
	SetValues(ctx context.Context, values map[string]string) error
	// DeleteValues removes the given keys; missing keys are ignored.
	DeleteValues(ctx context.Context, keys ...string) error

	// PutContact adds a contact or replaces the number of an existing one.
	PutContact(ctx context.Context, c models.Contact) error
	// FindContact returns the first contact, in insertion order, whose name
	// contains name case-insensitively.
	FindContact(ctx context.Context, name string) (models.Contact, bool, error)
	// ListContacts returns contacts matching query like FindContact does, or
	// all contacts when query is empty.
	ListContacts(ctx context.Context, query string) ([]models.Contact, error)

	AppendTranscript(ctx context.Context, entry models.TranscriptEntry) error
	GetTranscript(ctx context.Context, sessionID string) ([]models.TranscriptEntry, error)

	AddReceipt(ctx context.Context, r models.Receipt) error
	GetReceipts(ctx context.Context) ([]models.Receipt, error)

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open returns the backend matching the configured DSN. Without a DSN the
// in-memory store is used.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("store.Open: no DSN provided, using in-memory store")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}

// InMemoryStore is a simple in-memory store, used in tests and when no
// database is configured.
type InMemoryStore struct {
	mu          sync.RWMutex
	values      map[string]string
	contacts    []models.Contact
	transcripts []models.TranscriptEntry
	receipts    []models.Receipt
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{values: make(map[string]string)}
}

func (s *InMemoryStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *InMemoryStore) SetValues(ctx context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.values[k] = v
	}
	return nil
}

func (s *InMemoryStore) DeleteValues(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

// Keys returns all stored keys in sorted order.
func (s *InMemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *InMemoryStore) PutContact(ctx context.Context, c models.Contact) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.contacts {
		if s.contacts[i].Name == c.Name {
			s.contacts[i].Number = c.Number
			return nil
		}
	}
	s.contacts = append(s.contacts, c)
	return nil
}

func (s *InMemoryStore) FindContact(ctx context.Context, name string) (models.Contact, bool, error) {
	matches, _ := s.ListContacts(ctx, name)
	if len(matches) == 0 {
		return models.Contact{}, false, nil
	}
	return matches[0], true, nil
}

func (s *InMemoryStore) ListContacts(ctx context.Context, query string) ([]models.Contact, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Contact
	for _, c := range s.contacts {
		if strings.Contains(strings.ToLower(c.Name), needle) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AppendTranscript(ctx context.Context, entry models.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, entry)
	return nil
}

func (s *InMemoryStore) GetTranscript(ctx context.Context, sessionID string) ([]models.TranscriptEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TranscriptEntry
	for _, e := range s.transcripts {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AddReceipt(ctx context.Context, r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryStore) GetReceipts(ctx context.Context) ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Receipt(nil), s.receipts...), nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

// TranscriptSink records conversation transcripts in a Store.
type TranscriptSink struct {
	Store Store
}

// Append stores entry. It keeps working after the conversation's context is
// cancelled so the final lines are not lost.
func (t TranscriptSink) Append(ctx context.Context, entry models.TranscriptEntry) error {
	return t.Store.AppendTranscript(context.WithoutCancel(ctx), entry)
}
