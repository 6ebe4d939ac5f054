// Package health serves the client's local diagnostics endpoint.
//
// The endpoint is meant for desktop troubleshooting and scrape targets, not
// for the user: /healthz says the process is alive, /readyz says whether the
// conversation backend is reachable, and /metrics exposes the Prometheus
// registry.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snehlabs/flowcall/internal/observe"
)

// checkTimeout bounds a single readiness probe.
const checkTimeout = 5 * time.Second

// Pinger is the slice of the backend client the readiness probe needs.
type Pinger interface {
	Health(ctx context.Context) error
}

// Checker is a named diagnostics check. Check returns nil when the
// dependency is healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Backend returns a checker that pings the conversation service's /health
// endpoint.
func Backend(p Pinger) Checker {
	return Checker{
		Name:  "backend",
		Check: p.Health,
	}
}

// diagnostics is the JSON body of /healthz and /readyz responses.
type diagnostics struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler evaluates diagnostics checks. The checker list is fixed at
// construction time; Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a Handler that runs the given checkers, in order, on every
// /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200: a process that can serve HTTP is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, diagnostics{Status: "ok"})
}

// Readyz answers 200 only when every checker passes. Each check runs under
// a deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := diagnostics{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Routes returns the full diagnostics handler: /healthz, /readyz, and the
// Prometheus /metrics endpoint, all behind the request-logging middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(observe.DefaultMetrics())(mux)
}

// writeJSON encodes v with the given status code. On encoding failure it
// falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
