// Package health provides the HTTP liveness and readiness handlers of the
// dictation server.
//
//   - /healthz always returns 200 while the process can serve HTTP.
//   - /readyz returns 200 only when every registered [Checker] passes and
//     the server is not draining.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// errDraining is reported under the "server" check once shutdown started.
var errDraining = errors.New("draining")

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable.
type Checker struct {
	// Name is the key of this check in the JSON response (e.g. "store",
	// "stt").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Pinger is implemented by dependencies that can be probed cheaply, such as
// a connection pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck returns a [Checker] that calls p.Ping.
func PingCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// NotNil returns a [Checker] that fails when v is nil. It is used for
// providers that are required but have no cheap remote probe.
func NotNil(name string, v any) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if v == nil {
			return errors.New("not configured")
		}
		return nil
	}}
}

// Healther is implemented by provider chains that track whether any of
// their backends currently accepts calls.
type Healther interface {
	Healthy() bool
}

// ProviderCheck returns a [Checker] for a required provider. It fails when
// p is nil or when p is a [Healther] reporting every backend unavailable.
func ProviderCheck(name string, p any) Checker {
	h, ok := p.(Healther)
	if !ok {
		return NotNil(name, p)
	}
	return Checker{Name: name, Check: func(context.Context) error {
		if !h.Healthy() {
			return errors.New("all backends unavailable")
		}
		return nil
	}}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New creates a [Handler] that evaluates checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// SetDraining marks the server as shutting down. While draining, /readyz
// fails so load balancers stop routing new dictation connections.
func (h *Handler) SetDraining(v bool) {
	h.draining.Store(v)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers concurrently, each with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))

	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
		}()
	}
	wg.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers)+1)}
	status := http.StatusOK
	fail := func(name string, err error) {
		res.Checks[name] = "fail: " + err.Error()
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	for i, c := range h.checkers {
		if errs[i] != nil {
			fail(c.Name, errs[i])
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	if h.draining.Load() {
		fail("server", errDraining)
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
