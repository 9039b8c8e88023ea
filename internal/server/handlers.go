package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sunpeak/gatekey/pkg/authflow"
	"github.com/sunpeak/gatekey/pkg/redirect"
	"github.com/sunpeak/gatekey/pkg/session"
)

// sessionIDHeader lets subrequests carry the session without a cookie.
const sessionIDHeader = "X-Session-Id"

// loginRequest is the body of POST /api/v1/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse returns the challenge values the client echoes back on
// verification.
type loginResponse struct {
	HOTPCounter int64  `json:"hotp_counter"`
	HOTPCSRF    string `json:"hotp_csrf"`
}

// verifyRequest is the body of POST /api/v1/verify. Username and password
// are optional; when present identity is re-confirmed with the provider.
type verifyRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	HOTPCounter int64  `json:"hotp_counter"`
	HOTPCSRF    string `json:"hotp_csrf"`
	HOTPCode    string `json:"hotp_code"`
	Redirect    string `json:"redirect"`
}

// verifyResponse returns the established session.
type verifyResponse struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Redirect  string    `json:"redirect,omitempty"`
}

// handleLogin performs the primary-credential phase. On success a one-time
// code is dispatched and the challenge values returned; all failures are
// reported as a generic 401 or, for storage trouble, 503.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pending, err := s.flow.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		HOTPCounter: pending.Counter,
		HOTPCSRF:    pending.Nonce,
	})
}

// handleVerify performs the second-factor phase. On success the session
// cookie is set; a redirect base in the request yields a handoff URL in the
// response.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.flow.Confirm(r.Context(), authflow.ConfirmRequest{
		Counter:  req.HOTPCounter,
		Nonce:    req.HOTPCSRF,
		Code:     req.HOTPCode,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}

	s.setSessionCookie(w, sess)

	resp := verifyResponse{SessionID: sess.ID, ExpiresAt: sess.ExpiresAt}
	if req.Redirect != "" {
		url, err := redirect.HandoffURL(req.Redirect, sess.ID)
		if err != nil {
			slog.Warn("building handoff url failed", "error", err)
		} else {
			resp.Redirect = url
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAuth answers the reverse proxy's auth_request subrequest: 200 when
// the presented session is trusted, 401 otherwise. The body is empty either
// way.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if s.flow.Verify(s.sessionID(r)) {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusUnauthorized)
}

// handleLogout invalidates the presented session, clears the cookie and
// optionally redirects. Always succeeds for unknown or absent sessions.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.flow.Logout(r.Context(), s.sessionID(r)); err != nil {
		writeFlowError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	if target := r.URL.Query().Get("redirect"); target != "" {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// rpcEnvelope is the JSON-RPC 2.0 request shape of the provider-compatible
// endpoint.
type rpcEnvelope struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  authParams      `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// authParams carries credentials plus, on the second call, the challenge
// echo and the one-time code.
type authParams struct {
	Login       string `json:"login"`
	Password    string `json:"password"`
	HOTPCode    string `json:"hotp_code"`
	HOTPCounter int64  `json:"hotp_counter"`
	HOTPCSRF    string `json:"hotp_csrf"`
}

// rpcReply is the JSON-RPC 2.0 response envelope.
type rpcReply struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcReplyError  `json:"error,omitempty"`
}

// rpcReplyError is the JSON-RPC error payload.
type rpcReplyError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC application error codes on the compat endpoint.
const (
	rpcCodeAuthFailed  = 100
	rpcCodeUnavailable = 503
)

// handleAuthenticate is the provider-compatible JSON-RPC endpoint. Without a
// one-time code it behaves like login (the result carries the challenge
// values); with one it behaves like verify and sets the session cookie.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var env rpcEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if env.Params.HOTPCode == "" {
		pending, err := s.flow.Login(r.Context(), env.Params.Login, env.Params.Password)
		if err != nil {
			writeRPCError(w, env.ID, err)
			return
		}
		writeJSON(w, http.StatusOK, rpcReply{
			Jsonrpc: "2.0",
			ID:      env.ID,
			Result: loginResponse{
				HOTPCounter: pending.Counter,
				HOTPCSRF:    pending.Nonce,
			},
		})
		return
	}

	sess, err := s.flow.Confirm(r.Context(), authflow.ConfirmRequest{
		Counter:  env.Params.HOTPCounter,
		Nonce:    env.Params.HOTPCSRF,
		Code:     env.Params.HOTPCode,
		Username: env.Params.Login,
		Password: env.Params.Password,
	})
	if err != nil {
		writeRPCError(w, env.ID, err)
		return
	}

	s.setSessionCookie(w, sess)
	writeJSON(w, http.StatusOK, rpcReply{
		Jsonrpc: "2.0",
		ID:      env.ID,
		Result:  verifyResponse{SessionID: sess.ID, ExpiresAt: sess.ExpiresAt},
	})
}

// sessionID extracts the session from the cookie or, for cookie-less
// subrequests, the X-Session-Id header.
func (s *Server) sessionID(r *http.Request) string {
	if cookie, err := r.Cookie(s.cfg.Session.CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.Header.Get(sessionIDHeader)
}

// setSessionCookie sets the trusted session cookie.
func (s *Server) setSessionCookie(w http.ResponseWriter, sess *session.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Session.CookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeFlowError maps orchestrator errors to HTTP statuses. Authentication
// failures stay generic.
func writeFlowError(w http.ResponseWriter, err error) {
	if errors.Is(err, authflow.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	writeError(w, http.StatusUnauthorized, "authentication failed")
}

// writeRPCError maps orchestrator errors to JSON-RPC error payloads.
func writeRPCError(w http.ResponseWriter, id json.RawMessage, err error) {
	code := rpcCodeAuthFailed
	msg := "authentication failed"
	if errors.Is(err, authflow.ErrUnavailable) {
		code = rpcCodeUnavailable
		msg = "service unavailable"
	}
	writeJSON(w, http.StatusOK, rpcReply{
		Jsonrpc: "2.0",
		ID:      id,
		Error:   &rpcReplyError{Code: code, Message: msg},
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
