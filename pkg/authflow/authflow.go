// Package authflow drives the two-factor authentication state machine:
// ANONYMOUS -> PENDING_SECOND_FACTOR -> AUTHENTICATED. It composes the code
// generator, challenge store, session store and the external collaborators
// (identity provider, notifier), and folds every user-facing failure into a
// single generic signal so the service cannot be used as an authentication
// oracle.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sunpeak/gatekey/pkg/challenge"
	"github.com/sunpeak/gatekey/pkg/hotp"
	"github.com/sunpeak/gatekey/pkg/identity"
	"github.com/sunpeak/gatekey/pkg/notify"
	"github.com/sunpeak/gatekey/pkg/session"
)

var (
	// ErrAuthenticationFailed is the uniform signal for credential,
	// delivery and challenge failures. Callers must not learn which stage
	// failed.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrUnavailable marks storage failures. Surfaced to operators via the
	// log and to callers as a service-unavailable outcome.
	ErrUnavailable = errors.New("authentication service unavailable")
)

// Pending holds the values the client must echo back with the one-time
// code. Neither is secret: redemption also requires the code, which is
// never stored client-side.
type Pending struct {
	Counter int64
	Nonce   string
}

// ConfirmRequest carries a second-factor submission. Username and Password
// are optional; when present, identity is re-confirmed with the provider so
// the promoted session token is fresh relative to the provider's own
// session semantics.
type ConfirmRequest struct {
	Counter  int64
	Nonce    string
	Code     string
	Username string
	Password string
}

// Service is the authentication orchestrator.
type Service struct {
	provider   identity.Provider
	notifier   notify.Notifier
	challenges challenge.Store
	sessions   session.Store
	generator  *hotp.Generator

	// adminUser's codes are delivered to adminRecipient instead of the
	// login itself.
	adminUser      string
	adminRecipient string
}

// Option modifies the Service.
type Option func(*Service)

// WithAdminRecipient redirects codes for the given provider login to a
// fixed recipient address.
func WithAdminRecipient(user, recipient string) Option {
	return func(s *Service) {
		s.adminUser = user
		s.adminRecipient = recipient
	}
}

// New creates the orchestrator with its required collaborators.
func New(
	provider identity.Provider,
	notifier notify.Notifier,
	challenges challenge.Store,
	sessions session.Store,
	generator *hotp.Generator,
	options ...Option,
) (*Service, error) {
	if provider == nil {
		return nil, errors.New("identity provider is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if challenges == nil {
		return nil, errors.New("challenge store is required")
	}
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if generator == nil {
		return nil, errors.New("code generator is required")
	}

	s := &Service{
		provider:   provider,
		notifier:   notifier,
		challenges: challenges,
		sessions:   sessions,
		generator:  generator,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Login performs the primary-credential transition. On success a challenge
// is issued and its code dispatched; the caller receives the counter and
// nonce to echo back. Every provider or delivery failure returns
// ErrAuthenticationFailed with no further detail.
func (s *Service) Login(ctx context.Context, username, password string) (*Pending, error) {
	res, err := s.provider.CheckLogin(ctx, username, password)
	if err != nil {
		slog.Info("primary authentication failed", "username", username)
		return nil, ErrAuthenticationFailed
	}

	ch, err := s.challenges.Issue(ctx, res.SessionToken)
	if err != nil {
		slog.Error("issuing challenge failed", "error", err)
		return nil, fmt.Errorf("%w: issuing challenge: %v", ErrUnavailable, err)
	}

	code, err := s.generator.Generate(ch.Counter)
	if err != nil {
		slog.Error("generating code failed", "error", err)
		return nil, fmt.Errorf("%w: generating code: %v", ErrUnavailable, err)
	}

	if err := s.notifier.Deliver(ctx, s.recipient(username), code); err != nil {
		// The challenge is left to expire naturally; its code was never
		// delivered, so it is harmless.
		slog.Error("code delivery failed", "username", username, "error", err)
		return nil, ErrAuthenticationFailed
	}

	return &Pending{Counter: ch.Counter, Nonce: ch.Nonce}, nil
}

// Confirm performs the second-factor transition. The code must verify
// against the counter AND the (counter, nonce) challenge must redeem; a
// failure of either returns the generic signal. On success the session is
// saved and its token returned.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*session.Session, error) {
	if !s.generator.Verify(req.Counter, req.Code) {
		slog.Info("second factor failed", "counter", req.Counter)
		return nil, ErrAuthenticationFailed
	}

	token, ok, err := s.challenges.Redeem(ctx, req.Counter, req.Nonce)
	if err != nil {
		slog.Error("redeeming challenge failed", "error", err)
		return nil, fmt.Errorf("%w: redeeming challenge: %v", ErrUnavailable, err)
	}
	if !ok {
		slog.Info("second factor failed", "counter", req.Counter)
		return nil, ErrAuthenticationFailed
	}

	// Re-confirm identity when credentials accompany the submission, so
	// the promoted token is fresh; otherwise promote the token bound at
	// challenge time.
	if req.Username != "" && req.Password != "" {
		res, err := s.provider.CheckLogin(ctx, req.Username, req.Password)
		if err != nil {
			slog.Info("re-confirmation failed", "username", req.Username)
			return nil, ErrAuthenticationFailed
		}
		token = res.SessionToken
	}
	if token == "" {
		token = uuid.NewString()
	}

	expiresAt, err := s.sessions.Save(ctx, token)
	if err != nil {
		slog.Error("saving session failed", "error", err)
		return nil, fmt.Errorf("%w: saving session: %v", ErrUnavailable, err)
	}

	slog.Info("session established", "expires_at", expiresAt.Format(time.RFC3339))
	return &session.Session{ID: token, ExpiresAt: expiresAt}, nil
}

// Logout invalidates the session unconditionally. Logging out a token that
// does not exist is a no-op, not an error.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.Remove(ctx, sessionID); err != nil {
		slog.Error("removing session failed", "error", err)
		return fmt.Errorf("%w: removing session: %v", ErrUnavailable, err)
	}
	return nil
}

// Verify answers the per-request session check. Cache-only; cheap enough
// to run on every proxied request.
func (s *Service) Verify(sessionID string) bool {
	return sessionID != "" && s.sessions.IsValid(sessionID)
}

// recipient maps the admin login to its configured delivery address.
func (s *Service) recipient(username string) string {
	if s.adminUser != "" && username == s.adminUser && s.adminRecipient != "" {
		return s.adminRecipient
	}
	return username
}
