package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/roverlink/internal/telemetry"
)

// DefaultPushInterval is how often /telemetry/ws pushes a snapshot.
const DefaultPushInterval = 500 * time.Millisecond

// writeTimeout bounds a single websocket write to a slow client.
const writeTimeout = 2 * time.Second

// Snapshotter is the read side of the telemetry store.
type Snapshotter interface {
	Snapshot() telemetry.Snapshot
}

// TelemetrySnapshot is the JSON view of one telemetry snapshot.
type TelemetrySnapshot struct {
	// Channels holds the numeric sensor values. Empty when no reading is held.
	Channels map[string]float64 `json:"channels"`

	// Labels holds non-numeric fields reported by the board.
	Labels map[string]string `json:"labels,omitempty"`

	// AgeMS is the reading's age in milliseconds, or null when no reading
	// is held.
	AgeMS *int64 `json:"age_ms"`

	// Fresh reports whether the reading is recent enough for the interlock.
	Fresh bool `json:"fresh"`
}

// Telemetry serves /telemetry and /telemetry/ws.
type Telemetry struct {
	store    Snapshotter
	timeout  func() time.Duration
	interval time.Duration
}

// TelemetryOption configures a [Telemetry] handler.
type TelemetryOption func(*Telemetry)

// WithPushInterval sets the websocket push period.
func WithPushInterval(d time.Duration) TelemetryOption {
	return func(t *Telemetry) {
		if d > 0 {
			t.interval = d
		}
	}
}

// NewTelemetry returns a handler reporting store. timeout returns the
// freshness limit; it is called per snapshot so live threshold changes apply.
func NewTelemetry(store Snapshotter, timeout func() time.Duration, opts ...TelemetryOption) *Telemetry {
	t := &Telemetry{store: store, timeout: timeout, interval: DefaultPushInterval}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Snapshot converts the current store state to its JSON view.
func (t *Telemetry) Snapshot() TelemetrySnapshot {
	snap := t.store.Snapshot()
	out := TelemetrySnapshot{
		Channels: snap.Reading.Values,
		Labels:   snap.Reading.Labels,
		Fresh:    snap.Fresh(t.timeout()),
	}
	if out.Channels == nil {
		out.Channels = map[string]float64{}
	}
	if snap.Known() {
		ms := snap.Age.Milliseconds()
		out.AgeMS = &ms
	}
	return out
}

// ServeSnapshot writes the current snapshot as JSON.
func (t *Telemetry) ServeSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, t.Snapshot())
}

// ServeWebsocket upgrades the request and pushes a snapshot immediately and
// then every push interval until the client goes away.
func (t *Telemetry) ServeWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("health: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// The feed is one-way; CloseRead handles control frames and cancels ctx
	// when the client closes.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		if err := t.push(ctx, conn); err != nil {
			if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
				slog.Debug("health: telemetry push failed", "err", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
		}
	}
}

func (t *Telemetry) push(ctx context.Context, conn *websocket.Conn) error {
	data, err := json.Marshal(t.Snapshot())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// Register adds the /telemetry and /telemetry/ws routes to mux.
func (t *Telemetry) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /telemetry", t.ServeSnapshot)
	mux.HandleFunc("GET /telemetry/ws", t.ServeWebsocket)
}
