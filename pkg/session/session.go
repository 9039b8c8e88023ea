// Package session manages trusted sessions. It defines the Store interface
// for session persistence and the read-path cache that makes per-request
// verification cheap enough for a reverse proxy subrequest.
package session

import (
	"context"
	"time"
)

// Session represents a confirmed, trusted credential.
type Session struct {
	// ID is the opaque session token the client presents on every request.
	ID string

	// ExpiresAt is when the session stops verifying.
	ExpiresAt time.Time
}

// Store defines the interface for session persistence.
type Store interface {
	// Save persists the session and returns its computed expiry. Re-saving
	// the same id overwrites, never duplicates.
	Save(ctx context.Context, id string) (time.Time, error)

	// Remove deletes a session. Removing an id that does not exist is a
	// no-op, not an error.
	Remove(ctx context.Context, id string) error

	// IsValid reports whether the session exists and has not expired. This
	// is the hot path invoked on every proxied request; it never falls back
	// to persistent storage.
	IsValid(id string) bool

	// List returns all non-expired sessions.
	List(ctx context.Context) ([]*Session, error)

	// Cleanup removes expired sessions.
	Cleanup(ctx context.Context) error

	// Close stops background routines and releases resources.
	Close() error
}
