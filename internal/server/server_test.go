package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunpeak/gatekey/pkg/config"
	"github.com/sunpeak/gatekey/pkg/hotp"
	"github.com/sunpeak/gatekey/pkg/identity"
)

const testSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

// fakeProvider accepts a single username/password pair.
type fakeProvider struct {
	username string
	password string
	token    string
}

func (f *fakeProvider) CheckLogin(_ context.Context, username, password string) (*identity.Result, error) {
	if username == f.username && password == f.password {
		return &identity.Result{UID: 7, SessionToken: f.token}, nil
	}
	return nil, identity.ErrLoginFailed
}

// captureNotifier records the last delivered code.
type captureNotifier struct {
	code string
}

func (c *captureNotifier) Deliver(_ context.Context, _, code string) error {
	c.code = code
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Address: ":0"},
		Storage:   config.StorageConfig{Backend: "memory"},
		HOTP:      config.HOTPConfig{Secret: testSecret},
		Challenge: config.ChallengeConfig{TTL: 15 * time.Minute},
		Session:   config.SessionConfig{TTL: 16 * time.Hour, CookieName: "session_id"},
		Provider:  config.ProviderConfig{URL: "http://localhost:8069", Database: "test", Timeout: time.Second},
		Notify:    config.NotifyConfig{Mode: "log"},
		Cleanup:   config.CleanupConfig{Interval: time.Minute},
	}
}

func newTestServer(t *testing.T) (*Server, *captureNotifier) {
	t.Helper()

	notifier := &captureNotifier{}
	srv, err := New(testConfig(),
		WithProvider(&fakeProvider{username: "ada@example.com", password: "correct", token: "prov-token"}),
		WithNotifier(notifier),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv, notifier
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

// login drives the first phase and returns the challenge values.
func login(t *testing.T, srv *Server) (counter int64, nonce string) {
	t.Helper()

	w := postJSON(t, srv.Handler(), "/api/v1/login", map[string]string{
		"username": "ada@example.com",
		"password": "correct",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		HOTPCounter int64  `json:"hotp_counter"`
		HOTPCSRF    string `json:"hotp_csrf"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.HOTPCounter, resp.HOTPCSRF
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.HOTP.Secret = "too-short"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	srv, notifier := newTestServer(t)

	counter, nonce := login(t, srv)
	assert.Equal(t, int64(1), counter)
	assert.Len(t, nonce, 16)
	assert.NotEmpty(t, notifier.code)
}

func TestLogin_BadCredentials(t *testing.T) {
	srv, _ := newTestServer(t)

	w := postJSON(t, srv.Handler(), "/api/v1/login", map[string]string{
		"username": "ada@example.com",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "authentication failed")
}

func TestLogin_MalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/login", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerify_FullFlow(t *testing.T) {
	srv, notifier := newTestServer(t)

	counter, nonce := login(t, srv)
	w := postJSON(t, srv.Handler(), "/api/v1/verify", map[string]any{
		"hotp_counter": counter,
		"hotp_csrf":    nonce,
		"hotp_code":    notifier.code,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SessionID string    `json:"session_id"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "prov-token", resp.SessionID)
	assert.True(t, resp.ExpiresAt.After(time.Now()))

	// The session cookie is set and accepted by the subrequest endpoint.
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "session_id", cookies[0].Name)
	assert.Equal(t, "prov-token", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	r := httptest.NewRequest(http.MethodGet, "/auth", nil)
	r.AddCookie(cookies[0])
	aw := httptest.NewRecorder()
	srv.Handler().ServeHTTP(aw, r)
	assert.Equal(t, http.StatusOK, aw.Code)
}

func TestVerify_WrongCode(t *testing.T) {
	srv, _ := newTestServer(t)

	counter, nonce := login(t, srv)
	w := postJSON(t, srv.Handler(), "/api/v1/verify", map[string]any{
		"hotp_counter": counter,
		"hotp_csrf":    nonce,
		"hotp_code":    "000000",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVerify_WrongNonce(t *testing.T) {
	srv, notifier := newTestServer(t)

	counter, _ := login(t, srv)
	w := postJSON(t, srv.Handler(), "/api/v1/verify", map[string]any{
		"hotp_counter": counter,
		"hotp_csrf":    "aaaaaaaaaaaaaaaa",
		"hotp_code":    notifier.code,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVerify_RedirectHandoff(t *testing.T) {
	srv, notifier := newTestServer(t)

	counter, nonce := login(t, srv)
	w := postJSON(t, srv.Handler(), "/api/v1/verify", map[string]any{
		"hotp_counter": counter,
		"hotp_csrf":    nonce,
		"hotp_code":    notifier.code,
		"redirect":     "https://erp.example.com",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Redirect string `json:"redirect"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://erp.example.com/auth/prov-token", resp.Redirect)
}

func TestAuth_NoSession(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_SessionHeader(t *testing.T) {
	srv, notifier := newTestServer(t)

	counter, nonce := login(t, srv)
	w := postJSON(t, srv.Handler(), "/api/v1/verify", map[string]any{
		"hotp_counter": counter,
		"hotp_csrf":    nonce,
		"hotp_code":    notifier.code,
	})
	require.Equal(t, http.StatusOK, w.Code)

	r := httptest.NewRequest(http.MethodGet, "/auth", nil)
	r.Header.Set("X-Session-Id", "prov-token")
	aw := httptest.NewRecorder()
	srv.Handler().ServeHTTP(aw, r)
	assert.Equal(t, http.StatusOK, aw.Code)
}

func TestLogout(t *testing.T) {
	srv, notifier := newTestServer(t)

	counter, nonce := login(t, srv)
	w := postJSON(t, srv.Handler(), "/api/v1/verify", map[string]any{
		"hotp_counter": counter,
		"hotp_csrf":    nonce,
		"hotp_code":    notifier.code,
	})
	require.Equal(t, http.StatusOK, w.Code)
	cookie := w.Result().Cookies()[0]

	r := httptest.NewRequest(http.MethodGet, "/logout", nil)
	r.AddCookie(cookie)
	lw := httptest.NewRecorder()
	srv.Handler().ServeHTTP(lw, r)
	assert.Equal(t, http.StatusNoContent, lw.Code)

	// The cookie is cleared and the session no longer verifies.
	cleared := lw.Result().Cookies()
	require.NotEmpty(t, cleared)
	assert.Empty(t, cleared[0].Value)
	assert.Negative(t, cleared[0].MaxAge)

	r = httptest.NewRequest(http.MethodGet, "/auth", nil)
	r.AddCookie(cookie)
	aw := httptest.NewRecorder()
	srv.Handler().ServeHTTP(aw, r)
	assert.Equal(t, http.StatusUnauthorized, aw.Code)
}

func TestLogout_WithoutSession(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/logout", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestLogout_Redirect(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/logout?redirect=/login", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
}

func TestAuthenticate_TwoPhases(t *testing.T) {
	srv, notifier := newTestServer(t)

	// Phase one: credentials only, challenge values in the result.
	w := postJSON(t, srv.Handler(), "/web/session/authenticate", map[string]any{
		"jsonrpc": "2.0",
		"method":  "call",
		"id":      1,
		"params": map[string]any{
			"login":    "ada@example.com",
			"password": "correct",
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var phase1 struct {
		Result struct {
			HOTPCounter int64  `json:"hotp_counter"`
			HOTPCSRF    string `json:"hotp_csrf"`
		} `json:"result"`
		Error *struct{} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &phase1))
	require.Nil(t, phase1.Error)
	assert.Equal(t, int64(1), phase1.Result.HOTPCounter)

	// Phase two: code included, session established.
	w = postJSON(t, srv.Handler(), "/web/session/authenticate", map[string]any{
		"jsonrpc": "2.0",
		"method":  "call",
		"id":      2,
		"params": map[string]any{
			"login":        "ada@example.com",
			"password":     "correct",
			"hotp_code":    notifier.code,
			"hotp_counter": phase1.Result.HOTPCounter,
			"hotp_csrf":    phase1.Result.HOTPCSRF,
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var phase2 struct {
		Result struct {
			SessionID string `json:"session_id"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &phase2))
	assert.Equal(t, "prov-token", phase2.Result.SessionID)
	require.NotEmpty(t, w.Result().Cookies())
}

func TestAuthenticate_BadCredentials(t *testing.T) {
	srv, _ := newTestServer(t)

	w := postJSON(t, srv.Handler(), "/web/session/authenticate", map[string]any{
		"jsonrpc": "2.0",
		"method":  "call",
		"id":      1,
		"params": map[string]any{
			"login":    "ada@example.com",
			"password": "wrong",
		},
	})
	require.Equal(t, http.StatusOK, w.Code, "JSON-RPC errors ride on 200")

	var resp struct {
		Error *rpcReplyError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpcCodeAuthFailed, resp.Error.Code)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestReadyz(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ready")
}

func TestAdminRoutes_DisabledByDefault(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChallengeSingleUseAcrossSurface(t *testing.T) {
	srv, notifier := newTestServer(t)

	counter, nonce := login(t, srv)
	body := map[string]any{
		"hotp_counter": counter,
		"hotp_csrf":    nonce,
		"hotp_code":    notifier.code,
	}

	w := postJSON(t, srv.Handler(), "/api/v1/verify", body)
	require.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, srv.Handler(), "/api/v1/verify", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "a challenge redeems at most once")
}

func TestCodeMatchesGenerator(t *testing.T) {
	srv, notifier := newTestServer(t)

	counter, _ := login(t, srv)
	want, err := hotp.New(testSecret, 0).Generate(counter)
	require.NoError(t, err)
	assert.Equal(t, want, notifier.code)
}
