package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbe_StatesAndTransitions(t *testing.T) {
	p := NewProbe("test")

	assert.Equal(t, Starting, p.Current())
	p.Set(Ready)
	assert.Equal(t, Ready, p.Current())
	p.Set(Draining)
	assert.Equal(t, Draining, p.Current())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "starting", Starting.String())
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "draining", Draining.String())
}

func TestProbe_Liveness(t *testing.T) {
	p := NewProbe("1.2.3")

	w := httptest.NewRecorder()
	p.Liveness(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
	assert.Contains(t, w.Body.String(), "1.2.3")
}

func TestProbe_Readiness(t *testing.T) {
	p := NewProbe("test")

	w := httptest.NewRecorder()
	p.Readiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "starting")

	p.Set(Ready)
	w = httptest.NewRecorder()
	p.Readiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	p.Set(Draining)
	w = httptest.NewRecorder()
	p.Readiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "draining")
}
