// Package health serves the roverlink status server.
//
//   - /healthz: liveness; 200 while the process can serve HTTP.
//   - /readyz: readiness; 200 only when every [Checker] passes.
//   - /telemetry and /telemetry/ws: the latest sensor reading.
//   - /providers: the STT, LLM and TTS chains and their breaker states.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 2 * time.Second

// Checker is one named readiness check. Check returns nil when the dependency
// is usable and must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Report is the JSON body of /healthz and /readyz.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one [Checker].
type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

const (
	statusOK   = "ok"
	statusFail = "fail"
)

// Handler serves the liveness and readiness probes.
type Handler struct {
	checkers []Checker
}

// New returns a handler that runs checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register adds /healthz and /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: statusOK})
}

// Readyz runs every checker concurrently, each under its own timeout, and
// answers 503 if any of them failed.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Run(r.Context())
	code := http.StatusOK
	if rep.Status != statusOK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// Run evaluates every checker and returns the combined report.
func (h *Handler) Run(ctx context.Context) Report {
	results := make([]CheckResult, len(h.checkers))

	// Checks never fail the group; a failure is part of the report.
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			results[i] = run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: statusOK, Checks: make(map[string]CheckResult, len(results))}
	for i, res := range results {
		rep.Checks[h.checkers[i].Name] = res
		if res.Status != statusOK {
			rep.Status = statusFail
		}
	}
	return rep
}

func run(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	res := CheckResult{Status: statusOK, LatencyMS: time.Since(start).Milliseconds()}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		res.Status = statusFail
		res.Error = err.Error()
	}
	return res
}

// SerialChecker fails while the serial link has no open port.
func SerialChecker(connected func() bool) Checker {
	return Checker{
		Name: "serial",
		Check: func(context.Context) error {
			if !connected() {
				return errors.New("serial link not connected")
			}
			return nil
		},
	}
}

// TelemetryChecker fails while the latest telemetry reading is missing or
// older than timeout(). timeout is read on every check so live threshold
// changes apply.
func TelemetryChecker(store Snapshotter, timeout func() time.Duration) Checker {
	return Checker{
		Name: "telemetry",
		Check: func(context.Context) error {
			snap := store.Snapshot()
			if !snap.Known() {
				return errors.New("no telemetry received")
			}
			if limit := timeout(); !snap.Fresh(limit) {
				return fmt.Errorf("telemetry is %s old (limit %s)", snap.Age.Round(time.Millisecond), limit)
			}
			return nil
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
