// Package admin provides REST API endpoints for administrative operations:
// inspecting and revoking trusted sessions, purging expired state and
// reading service statistics.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sunpeak/gatekey/pkg/challenge"
	"github.com/sunpeak/gatekey/pkg/session"
)

const pathParamID = "id"

// Handler provides admin REST API endpoints.
type Handler struct {
	mux        *http.ServeMux
	sessions   session.Store
	challenges challenge.Store
	startedAt  time.Time
	authMiddle func(http.Handler) http.Handler
}

// NewHandler creates a new admin API handler.
func NewHandler(sessions session.Store, challenges challenge.Store, authMiddle func(http.Handler) http.Handler) *Handler {
	h := &Handler{
		mux:        http.NewServeMux(),
		sessions:   sessions,
		challenges: challenges,
		startedAt:  time.Now(),
		authMiddle: authMiddle,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.authMiddle != nil {
		h.authMiddle(h.mux).ServeHTTP(w, r)
		return
	}
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all admin API routes.
func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /api/v1/admin/sessions", h.ListSessions)
	h.mux.HandleFunc("DELETE /api/v1/admin/sessions/{id}", h.RevokeSession)
	h.mux.HandleFunc("POST /api/v1/admin/purge", h.Purge)
	h.mux.HandleFunc("GET /api/v1/admin/stats", h.Stats)
}

// sessionInfo is a listed session. The token itself is not exposed; the
// truncated form is enough to correlate with a client-side cookie.
type sessionInfo struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// sessionListResponse wraps the session listing.
type sessionListResponse struct {
	Data  []sessionInfo `json:"data"`
	Total int           `json:"total"`
}

// truncateID shortens a session token for display.
func truncateID(id string) string {
	const visible = 8
	if len(id) <= visible {
		return id
	}
	return id[:visible] + "..."
}

// ListSessions handles GET /api/v1/admin/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data := make([]sessionInfo, 0, len(sessions))
	for _, s := range sessions {
		data = append(data, sessionInfo{ID: truncateID(s.ID), ExpiresAt: s.ExpiresAt})
	}
	writeJSON(w, http.StatusOK, sessionListResponse{Data: data, Total: len(data)})
}

// RevokeSession handles DELETE /api/v1/admin/sessions/{id}. The full token
// must be supplied; revoking an unknown token still returns 204 because the
// outcome is the same.
func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue(pathParamID)
	if err := h.sessions.Remove(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusResponse reports the outcome of a maintenance action.
type statusResponse struct {
	Status string `json:"status"`
}

// Purge handles POST /api/v1/admin/purge. It removes expired challenges and
// sessions immediately instead of waiting for the next cleanup tick.
func (h *Handler) Purge(w http.ResponseWriter, r *http.Request) {
	if err := h.challenges.PurgeExpired(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.sessions.Cleanup(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "purged"})
}

// statsResponse reports service statistics.
type statsResponse struct {
	ActiveSessions int       `json:"active_sessions"`
	StartedAt      time.Time `json:"started_at"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
}

// Stats handles GET /api/v1/admin/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		ActiveSessions: len(sessions),
		StartedAt:      h.startedAt,
		UptimeSeconds:  int64(time.Since(h.startedAt).Seconds()),
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
