// Package identity verifies primary credentials against the external
// identity provider. The provider is trusted for the first factor only; the
// session token it returns stays untrusted until the second factor is
// confirmed.
package identity

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrLoginFailed is returned for every unsuccessful login outcome: bad
// credentials, unreachable provider, or a malformed response. Callers must
// not be able to tell these apart.
var ErrLoginFailed = errors.New("identity: login failed")

// Result holds the outcome of a successful primary-credential check.
type Result struct {
	// UID is the provider's numeric user id.
	UID int64

	// Name is the user's display name, when the provider reports one.
	Name string

	// SessionToken is the provider session identifier. It must not be
	// trusted until the second factor has been confirmed.
	SessionToken string

	// Raw is the provider's result payload, for provider-compatible
	// endpoints that pass it through.
	Raw json.RawMessage
}

// Provider checks primary credentials. Implementations must honor the
// context deadline; calls are bounded by the configured timeout.
type Provider interface {
	CheckLogin(ctx context.Context, username, password string) (*Result, error)
}
