// Package challenge manages outstanding second-factor challenges. A
// challenge binds a store-assigned counter and a random confirmation nonce
// to a not-yet-trusted provider session; it is consumed exactly once, either
// by a successful redeem or by expiry cleanup.
package challenge

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"
)

// NonceLength is the number of characters in a challenge nonce.
const NonceLength = 16

// Challenge represents an outstanding second-factor attempt.
type Challenge struct {
	// Counter is unique and monotonically increasing; it is never reused,
	// even after the challenge is deleted. It doubles as the HOTP counter.
	Counter int64

	// Nonce is the confirmation token the client must echo back alongside
	// the counter.
	Nonce string

	// ProviderToken is the session token returned by the identity provider
	// on primary authentication. Not trusted until the challenge is redeemed.
	ProviderToken string

	// ExpiresAt is when the challenge stops being redeemable.
	ExpiresAt time.Time
}

// Store defines the interface for challenge persistence.
type Store interface {
	// Issue persists a new challenge with a fresh nonce, a computed expiry
	// and a store-assigned counter.
	Issue(ctx context.Context, providerToken string) (*Challenge, error)

	// Redeem atomically looks up the challenge matching counter and nonce
	// with an expiry in the future. If found it is deleted and its provider
	// token returned with ok=true; otherwise ok=false and nothing changes.
	// Two callers racing on the same pair observe exactly one success.
	Redeem(ctx context.Context, counter int64, nonce string) (providerToken string, ok bool, err error)

	// PurgeExpired deletes all expired challenges. Never required for
	// correctness (Redeem filters by expiry) but bounds storage growth.
	PurgeExpired(ctx context.Context) error

	// Close stops background routines and releases resources.
	Close() error
}

// nonceAlphabet is the character set for nonces: case-sensitive alphanumerics.
const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewNonce generates a random confirmation nonce from a cryptographically
// secure source.
func NewNonce() (string, error) {
	buf := make([]byte, NonceLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	for i, b := range buf {
		buf[i] = nonceAlphabet[int(b)%len(nonceAlphabet)]
	}
	return string(buf), nil
}
