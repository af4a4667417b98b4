package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/roverlink/internal/health"
	"github.com/MrWong99/roverlink/internal/observe"
)

const (
	statusReadHeaderTimeout = 5 * time.Second
	statusShutdownTimeout   = 5 * time.Second
)

// StatusHandler returns the status server routes for this topology: health
// probes always, telemetry and the serial/telemetry readiness checks when the
// process owns the robot, provider chains when it has any, and /metrics when
// a handler was supplied.
func (a *App) StatusHandler() http.Handler {
	mux := http.NewServeMux()

	var checkers []health.Checker
	if len(a.providers.stages) > 0 {
		for _, s := range a.providers.stages {
			checkers = append(checkers, health.ProviderChecker(s))
		}
		health.NewProviders(a.providers.stages...).Register(mux)
	}
	if a.topology.ownsRobot() {
		freshness := func() time.Duration { return a.interlock.Thresholds().FreshnessTimeout }
		checkers = append(checkers,
			health.SerialChecker(a.link.Connected),
			health.TelemetryChecker(a.store, freshness),
		)
		health.NewTelemetry(a.store, freshness).Register(mux)
	}
	health.New(checkers...).Register(mux)

	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	return observe.Middleware(a.metrics)(mux)
}

// serveStatus runs the status server until ctx is cancelled.
func (a *App) serveStatus(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: status server listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	srv := &http.Server{
		Handler:           a.StatusHandler(),
		ReadHeaderTimeout: statusReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("status server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("app: status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("status server shutdown error", "err", err)
	}
	return nil
}
