package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

const (
	authenticatePath = "/web/session/authenticate"
	rpcPath          = "/jsonrpc"

	// sessionCookieName is the cookie the provider sets on successful login.
	sessionCookieName = "session_id"

	defaultTimeout = 20 * time.Second
)

// ClientConfig configures the JSON-RPC identity provider client.
type ClientConfig struct {
	// URL is the provider base URL, e.g. "http://localhost:8069".
	URL string

	// Database is the provider database to authenticate against.
	Database string

	// Timeout bounds every provider call.
	Timeout time.Duration
}

// Client talks JSON-RPC 2.0 to the identity provider.
type Client struct {
	httpClient *http.Client
	url        string
	database   string
}

// NewClient creates a provider client with a bounded request timeout.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		url:        strings.TrimSuffix(cfg.URL, "/"),
		database:   cfg.Database,
	}
}

// rpcRequest is the JSON-RPC 2.0 envelope the provider expects.
type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

// loginParams carries primary credentials.
type loginParams struct {
	DB       string `json:"db"`
	Login    string `json:"login"`
	Password string `json:"password"`
}

// serviceParams addresses a provider service method, used for the
// connectivity probe.
type serviceParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

// rpcResponse is the JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// rpcError is the provider's error payload. Its contents are logged for
// operators but never surfaced to callers.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// loginResult is the subset of the provider's result payload this client
// inspects. A missing or zero uid means the login did not succeed.
type loginResult struct {
	UID  int64  `json:"uid"`
	Name string `json:"name"`
}

// CheckLogin verifies primary credentials against the provider. All failure
// modes fold into ErrLoginFailed.
func (c *Client) CheckLogin(ctx context.Context, username, password string) (*Result, error) {
	resp, body, err := c.call(ctx, c.url+authenticatePath, loginParams{
		DB:       c.database,
		Login:    username,
		Password: password,
	})
	if err != nil {
		slog.Error("identity provider unreachable", "error", err)
		return nil, ErrLoginFailed
	}

	var token string
	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookieName {
			token = cookie.Value
			break
		}
	}
	if token == "" {
		slog.Info("authentication failed: session cookie not found")
		return nil, ErrLoginFailed
	}

	if body.Error != nil {
		slog.Info("authentication failed", "provider_code", body.Error.Code)
		return nil, ErrLoginFailed
	}
	if body.Result == nil {
		slog.Info("authentication failed: no result in response")
		return nil, ErrLoginFailed
	}

	var lr loginResult
	if err := json.Unmarshal(body.Result, &lr); err != nil || lr.UID == 0 {
		slog.Info("authentication failed: no uid in response")
		return nil, ErrLoginFailed
	}

	return &Result{
		UID:          lr.UID,
		Name:         lr.Name,
		SessionToken: token,
		Raw:          body.Result,
	}, nil
}

// Ping probes provider connectivity with a version call. Intended as a
// startup check; a failure is reported, not fatal.
func (c *Client) Ping(ctx context.Context) error {
	_, _, err := c.call(ctx, c.url+rpcPath, serviceParams{
		Service: "common",
		Method:  "version",
		Args:    []any{},
	})
	if err != nil {
		return fmt.Errorf("pinging identity provider: %w", err)
	}
	return nil
}

// call posts a JSON-RPC request and decodes the response envelope.
func (c *Client) call(ctx context.Context, url string, params any) (*http.Response, *rpcResponse, error) {
	payload, err := json.Marshal(rpcRequest{
		Jsonrpc: "2.0",
		Method:  "call",
		Params:  params,
		ID:      rand.Int64N(1_000_000_000),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("calling provider: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, nil, fmt.Errorf("decoding response: %w", err)
	}
	return resp, &body, nil
}

// Verify interface compliance.
var _ Provider = (*Client)(nil)
