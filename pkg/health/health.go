// Package health tracks server lifecycle state for probe endpoints. The
// server is Starting until storage is wired and the session cache loaded,
// Ready while serving, and Draining during graceful shutdown.
package health

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// State is a lifecycle phase.
type State int32

// Lifecycle phases.
const (
	Starting State = iota
	Ready
	Draining
)

// String returns the phase name for probe responses.
func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Draining:
		return "draining"
	default:
		return "starting"
	}
}

// Probe tracks the current lifecycle state. Safe for concurrent use.
type Probe struct {
	state   atomic.Int32
	version string
}

// NewProbe creates a Probe in the Starting state.
func NewProbe(version string) *Probe {
	return &Probe{version: version}
}

// Set transitions to the given state.
func (p *Probe) Set(s State) {
	p.state.Store(int32(s))
}

// Current returns the current state.
func (p *Probe) Current() State {
	return State(p.state.Load())
}

// probeResponse is the JSON body of the probe endpoints.
type probeResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// Liveness always responds 200: the process is up. Route as /healthz.
func (p *Probe) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, http.StatusOK, probeResponse{Status: "ok", Version: p.version})
}

// Readiness responds 200 only in the Ready state, 503 while starting or
// draining, so the reverse proxy stops routing before shutdown completes.
// Route as /readyz.
func (p *Probe) Readiness(w http.ResponseWriter, _ *http.Request) {
	state := p.Current()
	status := http.StatusOK
	if state != Ready {
		status = http.StatusServiceUnavailable
	}
	writeProbe(w, status, probeResponse{Status: state.String()})
}

func writeProbe(w http.ResponseWriter, status int, v probeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
