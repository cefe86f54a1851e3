// Package health provides the client's local debug HTTP surface.
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; 200 only when all registered [Checker]
//     functions pass (typically: the server connection is up).
//   - /statusz — a JSON dump of the current session snapshot.
//
// Probe responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map with the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy and an error describing the failure otherwise.
type Checker struct {
	// Name labels the check in the JSON response (e.g. "connection").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// StatusFunc supplies the value rendered by /statusz. It must be safe for
// concurrent use.
type StatusFunc func() any

type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the debug endpoints. Safe for concurrent use; the checker
// list is fixed at construction time.
type Handler struct {
	status   StatusFunc
	checkers []Checker
}

// New creates a [Handler]. status may be nil, in which case /statusz returns
// an empty object. Checkers run sequentially in the order given.
func New(status StatusFunc, checkers ...Checker) *Handler {
	return &Handler{
		status:   status,
		checkers: append([]Checker(nil), checkers...),
	}
}

// Healthz always returns 200 OK: a process that can serve HTTP is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeResponse{Status: "ok"})
}

// Readyz returns 200 only when every registered [Checker] passes.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	ok := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			ok = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := probeResponse{Status: "ok", Checks: checks}
	code := http.StatusOK
	if !ok {
		res.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

// Statusz renders the current session snapshot.
func (h *Handler) Statusz(w http.ResponseWriter, _ *http.Request) {
	if h.status == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

// Register adds the debug routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /statusz", h.Statusz)
}

// writeJSON encodes v with the given status code, falling back to a
// plain-text 500 on encoding failure.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
