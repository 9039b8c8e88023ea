package challenge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore implements Store using an in-memory map. Counters come from an
// atomic sequence, so they stay unique and monotonic even after deletion.
// Intended for development mode and tests.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[int64]*Challenge
	counter    atomic.Int64
	ttl        time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMemoryStore creates a new in-memory challenge store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		challenges: make(map[int64]*Challenge),
		ttl:        ttl,
	}
}

// Issue persists a new challenge with a store-assigned counter.
func (s *MemoryStore) Issue(_ context.Context, providerToken string) (*Challenge, error) {
	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}

	ch := &Challenge{
		Counter:       s.counter.Add(1),
		Nonce:         nonce,
		ProviderToken: providerToken,
		ExpiresAt:     time.Now().Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[ch.Counter] = ch
	return ch, nil
}

// Redeem consumes the matching challenge, if any. The single mutex makes the
// lookup-and-delete atomic: one of two racing callers wins, the other sees
// the challenge gone.
func (s *MemoryStore) Redeem(_ context.Context, counter int64, nonce string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[counter]
	if !ok || ch.Nonce != nonce || !time.Now().Before(ch.ExpiresAt) {
		return "", false, nil
	}
	delete(s.challenges, counter)
	return ch.ProviderToken, true, nil
}

// PurgeExpired removes expired challenges.
func (s *MemoryStore) PurgeExpired(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for counter, ch := range s.challenges {
		if !now.Before(ch.ExpiresAt) {
			delete(s.challenges, counter)
		}
	}
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically removes
// expired challenges. The goroutine is stopped when Close is called.
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
				_ = s.PurgeExpired(ctx)
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
