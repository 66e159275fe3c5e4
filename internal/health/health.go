// Package health reports whether the daemon can currently record meetings.
//
// Two probes are served:
//
//   - /healthz answers 200 whenever the process can serve HTTP at all.
//   - /readyz runs every registered [Checker] against its dependency (the
//     history store, the session-state store, the browser attachment) and
//     answers 200 only when all of them pass.
//
// A readiness failure means new recordings would fail; an in-flight
// recording keeps running regardless, so orchestrators should treat /readyz
// as a routing signal, not a restart signal.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds each individual dependency probe. A wedged dependency
// must not hold the readiness response past this.
const probeTimeout = 5 * time.Second

// Checker probes one dependency the daemon needs before it can accept a new
// recording. Check returns nil when the dependency is usable.
type Checker struct {
	// Name keys the probe outcome in the /readyz response body.
	Name string

	// Check must honour ctx cancellation.
	Check func(ctx context.Context) error
}

// result is the body of both probe responses: "status" is "ok" or "fail",
// "checks" maps each checker name to "ok" or "fail: <reason>".
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the liveness and readiness probes.
type Handler struct {
	checkers []Checker
}

// New builds a Handler over the given checkers. Probes run concurrently on
// each /readyz request, so a slow store does not serialise behind a slow
// browser.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts the probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always answers 200. Liveness is "the process serves HTTP".
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers concurrently and answers 503 if any fail. Each
// probe gets its own [probeTimeout] deadline derived from the request
// context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	outcomes := make([]string, len(h.checkers))

	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()
			if err := c.Check(ctx); err != nil {
				outcomes[i] = "fail: " + err.Error()
				return err
			}
			outcomes[i] = "ok"
			return nil
		})
	}
	failed := g.Wait() != nil

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	for i, c := range h.checkers {
		res.Checks[c.Name] = outcomes[i]
	}

	status := http.StatusOK
	if failed {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	respond(w, status, res)
}

func respond(w http.ResponseWriter, status int, res result) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
