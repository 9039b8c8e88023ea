package session

import (
	"context"
	"time"
)

// MemoryStore implements Store using only the in-memory cache. Intended for
// development mode and tests; sessions do not survive a restart.
type MemoryStore struct {
	cache *Cache
	ttl   time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: NewCache(),
		ttl:   ttl,
	}
}

// Save records the session with an expiry of now plus the store TTL.
func (s *MemoryStore) Save(_ context.Context, id string) (time.Time, error) {
	expiresAt := time.Now().Add(s.ttl)
	s.cache.Put(id, expiresAt)
	return expiresAt, nil
}

// Remove deletes a session. Unknown ids are a no-op.
func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.cache.Evict(id)
	return nil
}

// IsValid reports whether the session exists and has not expired.
func (s *MemoryStore) IsValid(id string) bool {
	return s.cache.IsValid(id)
}

// List returns all non-expired sessions.
func (s *MemoryStore) List(_ context.Context) ([]*Session, error) {
	s.cache.mu.RLock()
	defer s.cache.mu.RUnlock()

	now := time.Now()
	result := make([]*Session, 0, len(s.cache.entries))
	for id, expiresAt := range s.cache.entries {
		if now.Before(expiresAt) {
			result = append(result, &Session{ID: id, ExpiresAt: expiresAt})
		}
	}
	return result, nil
}

// Cleanup removes expired sessions.
func (s *MemoryStore) Cleanup(_ context.Context) error {
	s.cache.PruneExpired()
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically removes
// expired sessions. The goroutine is stopped when Close is called.
func (s *MemoryStore) StartCleanupRoutine(interval time.Duration) {
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
				_ = s.Cleanup(ctx)
			}
		}
	}()
}

// Close stops the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (s *MemoryStore) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
