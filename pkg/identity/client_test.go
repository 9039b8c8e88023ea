package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return NewClient(ClientConfig{
		URL:      url,
		Database: "testdb",
		Timeout:  2 * time.Second,
	})
}

func TestCheckLogin_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, authenticatePath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "prov-token-1"})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":{"uid":7,"name":"Ada"}}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).CheckLogin(context.Background(), "ada@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.UID)
	assert.Equal(t, "Ada", res.Name)
	assert.Equal(t, "prov-token-1", res.SessionToken)
	assert.NotEmpty(t, res.Raw)
}

func TestCheckLogin_BadCredentials(t *testing.T) {
	// Odoo-style rejection: a session cookie is set but the result has no uid.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "anon"})
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":{"uid":false}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CheckLogin(context.Background(), "ada@example.com", "wrong")
	assert.ErrorIs(t, err, ErrLoginFailed)
}

func TestCheckLogin_ErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "anon"})
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":200,"message":"Odoo Server Error"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CheckLogin(context.Background(), "ada@example.com", "pw")
	assert.ErrorIs(t, err, ErrLoginFailed)
}

func TestCheckLogin_NoSessionCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":{"uid":7}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CheckLogin(context.Background(), "ada@example.com", "pw")
	assert.ErrorIs(t, err, ErrLoginFailed)
}

func TestCheckLogin_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := newTestClient(srv.URL).CheckLogin(context.Background(), "ada@example.com", "pw")
	assert.ErrorIs(t, err, ErrLoginFailed)
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, rpcPath, r.URL.Path)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":{"server_version":"16.0"}}`))
	}))
	defer srv.Close()

	assert.NoError(t, newTestClient(srv.URL).Ping(context.Background()))
}

func TestPing_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	srv.Close()

	assert.Error(t, newTestClient(srv.URL).Ping(context.Background()))
}
