// Package session persists per-provider probe state: the cached payment
// credential, the last observed wallet balance, and a monotonic usage count.
//
// DESIGN: One row per provider base URL. Rows are only ever inserted or
// updated, never deleted. Callers that read-modify-write provider state must
// hold the provider's lock (Lock) so concurrent cycles for the same provider
// serialize; different providers never contend.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Session is the persisted state for one provider, keyed by its base URL.
type Session struct {
	ProviderURL string
	Token       string // cached payment credential, empty when none issued yet
	UsageCount  int64
	Balance     int64 // last observed balance, minor units
	HasBalance  bool  // false until the first successful reconciliation
	UpdatedAt   time.Time
}

// Store is a SQLite-backed session store.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open opens (creating if needed) the session store at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("session store path cannot be empty")
	}

	// WAL with a busy timeout; the store is single-writer.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing session schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS provider_sessions (
			provider_url TEXT PRIMARY KEY,
			token        TEXT NOT NULL DEFAULT '',
			usage_count  INTEGER NOT NULL DEFAULT 0,
			balance      INTEGER,
			updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	return err
}

// Lock acquires the per-provider mutex and returns its release func.
func (s *Store) Lock(providerURL string) func() {
	s.mu.Lock()
	m, ok := s.locks[providerURL]
	if !ok {
		m = &sync.Mutex{}
		s.locks[providerURL] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Get returns the session for a provider. The second return value is false
// when the provider has never been seen.
func (s *Store) Get(ctx context.Context, providerURL string) (Session, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, usage_count, balance, updated_at
		FROM provider_sessions WHERE provider_url = ?`, providerURL)

	sess := Session{ProviderURL: providerURL}
	var balance sql.NullInt64
	err := row.Scan(&sess.Token, &sess.UsageCount, &balance, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("loading session for %s: %w", providerURL, err)
	}

	if balance.Valid {
		sess.Balance = balance.Int64
		sess.HasBalance = true
	}
	return sess, true, nil
}

// SaveToken stores a freshly issued payment credential for a provider,
// creating the session row if the provider is new. The balance stays
// untouched so reconciliation state survives credential refreshes.
func (s *Store) SaveToken(ctx context.Context, providerURL, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_sessions (provider_url, token, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(provider_url) DO UPDATE SET
			token = excluded.token,
			updated_at = CURRENT_TIMESTAMP`, providerURL, token)
	if err != nil {
		return fmt.Errorf("saving token for %s: %w", providerURL, err)
	}
	return nil
}

// RecordUsage persists a newly observed balance and increments the usage
// counter in one statement. This is the only mutation reconciliation makes.
func (s *Store) RecordUsage(ctx context.Context, providerURL string, balance int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_sessions (provider_url, usage_count, balance, updated_at)
		VALUES (?, 1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(provider_url) DO UPDATE SET
			usage_count = usage_count + 1,
			balance = excluded.balance,
			updated_at = CURRENT_TIMESTAMP`, providerURL, balance)
	if err != nil {
		return fmt.Errorf("recording usage for %s: %w", providerURL, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
