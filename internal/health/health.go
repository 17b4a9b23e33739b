// Package health serves the liveness and readiness probes of talkbackd.
//
//   - /healthz answers 200 while the process can serve HTTP. The client's
//     doctor command uses it to test the configured endpoint.
//   - /readyz answers 200 only when every registered [Checker] passes, e.g.
//     when no provider circuit breaker is open.
//
// Responses are JSON objects with a "status" field ("ok" or "fail"), the
// server version when known, and a "checks" map with one entry per checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is usable.
type Checker struct {
	// Name labels the check in the JSON response (e.g. "stt", "llm").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Response is the JSON body of both probes. Clients decode it to show the
// server version.
type Response struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	version  string
	checkers []Checker
}

// New creates a [Handler] reporting version and evaluating checkers on each
// /readyz request.
func New(version string, checkers ...Checker) *Handler {
	return &Handler{
		version:  version,
		checkers: append([]Checker(nil), checkers...),
	}
}

// Healthz is the liveness probe and always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Response{Status: "ok", Version: h.version})
}

// Readyz runs all checkers concurrently, each with a [checkTimeout] deadline
// derived from the request context, and returns 503 if any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)
	for _, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := c.Check(ctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
				return
			}
			checks[c.Name] = "ok"
		})
	}
	wg.Wait()

	res := Response{Status: "ok", Version: h.version, Checks: checks}
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
	_ = json.NewEncoder(w).Encode(v)
}
