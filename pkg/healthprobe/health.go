// Package healthprobe backs the /health and /ready endpoints. Liveness
// is unconditional; readiness flips on once the trading loops are
// started and flips off at the start of shutdown so traffic drains
// before the loops stop.
package healthprobe

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthChecker tracks process readiness for the HTTP probes.
type HealthChecker struct {
	started time.Time
	ready   atomic.Bool
}

// New creates a checker that reports not-ready until SetReady(true).
func New() *HealthChecker {
	return &HealthChecker{started: time.Now()}
}

// SetReady flips the readiness gate.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

type probeStatus struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Reason        string  `json:"reason,omitempty"`
}

func (h *HealthChecker) write(w http.ResponseWriter, code int, s probeStatus) {
	s.UptimeSeconds = time.Since(h.started).Seconds()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(s)
}

// Health is the liveness probe: the process is up, so it always passes.
func (h *HealthChecker) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.write(w, http.StatusOK, probeStatus{Status: "healthy"})
	}
}

// Ready is the readiness probe: 503 until the loops are running, and
// again once shutdown begins.
func (h *HealthChecker) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.ready.Load() {
			h.write(w, http.StatusServiceUnavailable, probeStatus{
				Status: "not_ready",
				Reason: "loops not started",
			})
			return
		}
		h.write(w, http.StatusOK, probeStatus{Status: "ready"})
	}
}
