// Package postgres provides PostgreSQL storage for second-factor challenges.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/sunpeak/gatekey/pkg/challenge"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store implements challenge.Store using PostgreSQL. The counter column is a
// BIGSERIAL; postgres sequences never hand out a value twice, so counters
// stay unique and monotonic even after rows are deleted.
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	cancel context.CancelFunc
	done   chan struct{}
}

// Config configures the PostgreSQL challenge store.
type Config struct {
	TTL time.Duration
}

// New creates a new PostgreSQL challenge store.
func New(db *sql.DB, cfg Config) *Store {
	return &Store{
		db:  db,
		ttl: cfg.TTL,
	}
}

// Issue persists a new challenge and returns it with the store-assigned counter.
func (s *Store) Issue(ctx context.Context, providerToken string) (*challenge.Challenge, error) {
	nonce, err := challenge.NewNonce()
	if err != nil {
		return nil, err
	}

	ch := &challenge.Challenge{
		Nonce:         nonce,
		ProviderToken: providerToken,
		ExpiresAt:     time.Now().Add(s.ttl),
	}

	query := `
		INSERT INTO challenges (nonce, provider_token, expires_at)
		VALUES ($1, $2, $3)
		RETURNING counter
	`
	err = s.db.QueryRowContext(ctx, query, ch.Nonce, ch.ProviderToken, ch.ExpiresAt).Scan(&ch.Counter)
	if err != nil {
		return nil, fmt.Errorf("inserting challenge: %w", err)
	}
	return ch, nil
}

// Redeem deletes the matching unexpired challenge and returns its provider
// token. The single DELETE ... RETURNING statement is atomic, so concurrent
// redeemers of the same (counter, nonce) pair see exactly one success.
func (s *Store) Redeem(ctx context.Context, counter int64, nonce string) (string, bool, error) {
	query := `
		DELETE FROM challenges
		WHERE counter = $1 AND nonce = $2 AND expires_at > NOW()
		RETURNING provider_token
	`
	var providerToken string
	err := s.db.QueryRowContext(ctx, query, counter, nonce).Scan(&providerToken)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redeeming challenge: %w", err)
	}
	return providerToken, true, nil
}

// PurgeExpired removes expired challenges.
func (s *Store) PurgeExpired(ctx context.Context) error {
	query, args, err := psq.Delete("challenges").
		Where(sq.LtOrEq{"expires_at": time.Now()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building purge query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("purging challenges: %w", err)
	}
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically removes
// expired challenges. The goroutine is stopped when Close is called.
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
				if err := s.PurgeExpired(ctx); err != nil {
					slog.Warn("challenge cleanup failed", "error", err)
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
var _ challenge.Store = (*Store)(nil)
