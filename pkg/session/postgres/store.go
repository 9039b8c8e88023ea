// Package postgres provides PostgreSQL storage for trusted sessions, with a
// write-through in-memory cache backing the per-request verification path.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/sunpeak/gatekey/pkg/session"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store implements session.Store using PostgreSQL. Every mutation writes
// through to the cache after the row commit, so IsValid never needs a
// storage read and a cache miss reliably means "no such trusted session".
type Store struct {
	db    *sql.DB
	ttl   time.Duration
	cache *session.Cache

	cancel context.CancelFunc
	done   chan struct{}
}

// Config configures the PostgreSQL session store.
type Config struct {
	TTL time.Duration
}

// New creates a new PostgreSQL session store with an empty cache.
// Call LoadCache before serving verification traffic.
func New(db *sql.DB, cfg Config) *Store {
	return &Store{
		db:    db,
		ttl:   cfg.TTL,
		cache: session.NewCache(),
	}
}

// LoadCache rebuilds the cache from persisted rows, omitting rows whose
// expiry has already passed. Run once at startup.
func (s *Store) LoadCache(ctx context.Context) error {
	query := `
		SELECT session_id, expires_at
		FROM sessions
		WHERE expires_at > NOW()
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("loading sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	count := 0
	for rows.Next() {
		var id string
		var expiresAt time.Time
		if err := rows.Scan(&id, &expiresAt); err != nil {
			return fmt.Errorf("scanning session row: %w", err)
		}
		s.cache.Put(id, expiresAt)
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating session rows: %w", err)
	}

	slog.Info("session cache loaded", "sessions", count)
	return nil
}

// Save upserts the session and writes it through to the cache.
func (s *Store) Save(ctx context.Context, id string) (time.Time, error) {
	expiresAt := time.Now().Add(s.ttl)

	query := `
		INSERT INTO sessions (session_id, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (session_id) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`
	if _, err := s.db.ExecContext(ctx, query, id, expiresAt); err != nil {
		return time.Time{}, fmt.Errorf("saving session: %w", err)
	}

	s.cache.Put(id, expiresAt)
	return expiresAt, nil
}

// Remove deletes a session and evicts it from the cache. Unknown ids are a
// no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	query := `DELETE FROM sessions WHERE session_id = $1`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("removing session: %w", err)
	}

	s.cache.Evict(id)
	return nil
}

// IsValid reports whether the session exists and has not expired. Reads the
// cache only; no fallback to persistent storage.
func (s *Store) IsValid(id string) bool {
	return s.cache.IsValid(id)
}

// List returns all non-expired sessions, newest expiry first.
func (s *Store) List(ctx context.Context) ([]*session.Session, error) {
	query, args, err := psq.Select("session_id", "expires_at").
		From("sessions").
		Where(sq.Gt{"expires_at": time.Now()}).
		OrderBy("expires_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*session.Session
	for rows.Next() {
		var sess session.Session
		if err := rows.Scan(&sess.ID, &sess.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// Cleanup removes expired sessions from storage and drops expired cache
// entries. Safe to run concurrently with all other operations.
func (s *Store) Cleanup(ctx context.Context) error {
	query, args, err := psq.Delete("sessions").
		Where(sq.LtOrEq{"expires_at": time.Now()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building cleanup query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("cleaning up sessions: %w", err)
	}

	s.cache.PruneExpired()
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically removes
// expired sessions. The goroutine is stopped when Close is called.
func (s *Store) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Cleanup(ctx); err != nil {
					slog.Warn("session cleanup failed", "error", err)
				}
			}
		}
	}()
}

// Close stops the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// Verify interface compliance.
var _ session.Store = (*Store)(nil)
