// Package health provides the call engine's liveness and readiness probes.
//
// Two endpoints are exposed:
//
//   - /healthz — liveness; returns 200 with process uptime as long as the
//     engine can serve HTTP.
//   - /readyz  — readiness; returns 200 only when every registered [Checker]
//     (providers, telephony credentials, DNC store, TTS breaker) passes.
//
// Readiness failure takes the instance out of the dial rotation without
// killing the calls it is already carrying, so checks report dependency
// health, never per-session state.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check. Load balancers typically
// probe every few seconds; a dependency that cannot answer in 2s is treated
// as down rather than allowed to stall the probe.
const checkTimeout = 2 * time.Second

// Checker is a named dependency check. Check returns nil when the dependency
// can support new calls and an error describing the problem otherwise.
type Checker struct {
	// Name labels the check in the JSON response (e.g. "telephony", "dnc").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// checkResult is one dependency's entry in the readiness response.
type checkResult struct {
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
}

// liveResult is the /healthz response body.
type liveResult struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// readyResult is the /readyz response body.
type readyResult struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	started  time.Time
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request, sequentially in the order provided.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c, started: time.Now()}
}

// Healthz is the liveness probe. A process that can serve HTTP is alive; the
// response carries the uptime so an operator can spot crash loops from probe
// logs alone.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, liveResult{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz is the readiness probe. It returns 200 only when every registered
// [Checker] passes, and reports per-dependency latency so a slow-but-passing
// vendor shows up before it starts failing.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]checkResult, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		start := time.Now()
		err := c.Check(ctx)
		latency := time.Since(start)
		cancel()

		cr := checkResult{
			Status:    "ok",
			LatencyMs: float64(latency.Microseconds()) / 1000,
		}
		if err != nil {
			cr.Status = "fail"
			cr.Error = err.Error()
			allOK = false
		}
		checks[c.Name] = cr
	}

	res := readyResult{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
