// Package server assembles the gatekey HTTP surface: the two-phase login
// API, the nginx auth_request verification endpoint, logout, the
// provider-compatible JSON-RPC endpoint and the optional admin API.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/sunpeak/gatekey/pkg/admin"
	"github.com/sunpeak/gatekey/pkg/authflow"
	"github.com/sunpeak/gatekey/pkg/challenge"
	challengepg "github.com/sunpeak/gatekey/pkg/challenge/postgres"
	"github.com/sunpeak/gatekey/pkg/config"
	"github.com/sunpeak/gatekey/pkg/database/migrate"
	"github.com/sunpeak/gatekey/pkg/health"
	"github.com/sunpeak/gatekey/pkg/hotp"
	"github.com/sunpeak/gatekey/pkg/identity"
	"github.com/sunpeak/gatekey/pkg/notify"
	"github.com/sunpeak/gatekey/pkg/session"
	sessionpg "github.com/sunpeak/gatekey/pkg/session/postgres"
)

// Version is set at build time.
var Version = "dev"

// Server is the assembled gatekey service.
type Server struct {
	cfg        *config.Config
	flow       *authflow.Service
	sessions   session.Store
	challenges challenge.Store
	db         *sql.DB
	probe      *health.Probe
	mux        *http.ServeMux
	httpServer *http.Server
}

// options holds test-injectable collaborators.
type options struct {
	provider identity.Provider
	notifier notify.Notifier
}

// Option overrides a default collaborator.
type Option func(*options)

// WithProvider substitutes the identity provider client.
func WithProvider(p identity.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithNotifier substitutes the code notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// New builds the server from configuration: storage (with migrations and
// cleanup routines), the provider client, the notifier and the
// authentication orchestrator.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		cfg:   cfg,
		probe: health.NewProbe(Version),
		mux:   http.NewServeMux(),
	}
	if err := s.buildStores(); err != nil {
		return nil, err
	}

	provider := o.provider
	if provider == nil {
		provider = identity.NewClient(identity.ClientConfig{
			URL:      cfg.Provider.URL,
			Database: cfg.Provider.Database,
			Timeout:  cfg.Provider.Timeout,
		})
	}

	notifier := o.notifier
	if notifier == nil {
		notifier = buildNotifier(cfg)
	}

	var flowOpts []authflow.Option
	if cfg.Notify.SMTP.AdminRecipient != "" {
		flowOpts = append(flowOpts, authflow.WithAdminRecipient(
			cfg.Notify.SMTP.AdminUser, cfg.Notify.SMTP.AdminRecipient))
	}
	flow, err := authflow.New(
		provider, notifier, s.challenges, s.sessions,
		hotp.New(cfg.HOTP.Secret, cfg.HOTP.Window), flowOpts...)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating auth service: %w", err)
	}
	s.flow = flow

	s.registerRoutes()
	s.probe.Set(health.Ready)
	return s, nil
}

// buildStores creates the challenge and session stores for the configured
// backend. For postgres this runs migrations, loads the session cache,
// purges stale rows and starts the cleanup routines.
func (s *Server) buildStores() error {
	switch s.cfg.Storage.Backend {
	case "memory":
		challenges := challenge.NewMemoryStore(s.cfg.Challenge.TTL)
		challenges.StartCleanupRoutine(s.cfg.Cleanup.Interval)
		sessions := session.NewMemoryStore(s.cfg.Session.TTL)
		sessions.StartCleanupRoutine(s.cfg.Cleanup.Interval)
		s.challenges = challenges
		s.sessions = sessions
		return nil

	case "postgres":
		db, err := sql.Open("postgres", s.cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(s.cfg.Storage.MaxOpenConns)
		s.db = db

		if err := migrate.Run(db); err != nil {
			_ = db.Close()
			return err
		}

		challenges := challengepg.New(db, challengepg.Config{TTL: s.cfg.Challenge.TTL})
		sessions := sessionpg.New(db, sessionpg.Config{TTL: s.cfg.Session.TTL})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sessions.LoadCache(ctx); err != nil {
			_ = db.Close()
			return err
		}
		if err := challenges.PurgeExpired(ctx); err != nil {
			slog.Warn("startup challenge purge failed", "error", err)
		}
		if err := sessions.Cleanup(ctx); err != nil {
			slog.Warn("startup session cleanup failed", "error", err)
		}

		challenges.StartCleanupRoutine(s.cfg.Cleanup.Interval)
		sessions.StartCleanupRoutine(s.cfg.Cleanup.Interval)
		s.challenges = challenges
		s.sessions = sessions
		return nil

	default:
		return fmt.Errorf("unknown storage backend %q", s.cfg.Storage.Backend)
	}
}

// buildNotifier selects the delivery channel from configuration.
func buildNotifier(cfg *config.Config) notify.Notifier {
	if cfg.Notify.Mode == "log" {
		slog.Warn("code delivery disabled, codes go to the log")
		return notify.LogNotifier{}
	}
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.Notify.SMTP.Host,
		Port:     cfg.Notify.SMTP.Port,
		SSL:      cfg.Notify.SMTP.SSL,
		From:     cfg.Notify.SMTP.From,
		Username: cfg.Notify.SMTP.Username,
		Password: cfg.Notify.SMTP.Password,
	}, cfg.Notify.Branding, cfg.Notify.Retries)
}

// registerRoutes wires the HTTP surface.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/v1/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/v1/verify", s.handleVerify)
	s.mux.HandleFunc("GET /auth", s.handleAuth)
	s.mux.HandleFunc("GET /logout", s.handleLogout)
	s.mux.HandleFunc("POST /logout", s.handleLogout)
	s.mux.HandleFunc("POST /web/session/authenticate", s.handleAuthenticate)
	s.mux.HandleFunc("GET /healthz", s.probe.Liveness)
	s.mux.HandleFunc("GET /readyz", s.probe.Readiness)

	if s.cfg.Admin.Enabled {
		keys := make([]admin.Key, 0, len(s.cfg.Admin.Keys))
		for _, k := range s.cfg.Admin.Keys {
			keys = append(keys, admin.Key{Hash: k.Hash, Name: k.Name, Roles: k.Roles})
		}
		auth := admin.NewAPIKeyAuthenticator(keys)
		handler := admin.NewHandler(s.sessions, s.challenges, admin.RequireAdmin(auth))
		s.mux.Handle("/api/v1/admin/", handler)
	}
}

// Handler returns the HTTP handler with request logging applied.
func (s *Server) Handler() http.Handler {
	return requestLogger(s.mux)
}

// Run serves HTTP until the context is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gatekey listening", "address", s.cfg.Server.Address, "version", Version)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.probe.Set(health.Draining)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close stops cleanup routines and releases storage resources.
func (s *Server) Close() error {
	var errs []error
	if s.challenges != nil {
		errs = append(errs, s.challenges.Close())
	}
	if s.sessions != nil {
		errs = append(errs, s.sessions.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}
