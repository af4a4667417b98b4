package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/roverlink/internal/telemetry"
)

func fixedStore(now *time.Time) *telemetry.Store {
	return telemetry.NewStore(telemetry.WithClock(func() time.Time { return *now }))
}

func TestTelemetry_SnapshotBeforeReading(t *testing.T) {
	now := time.Unix(1000, 0)
	tel := NewTelemetry(fixedStore(&now), func() time.Duration { return 2 * time.Second })

	snap := tel.Snapshot()
	if snap.AgeMS != nil {
		t.Errorf("AgeMS = %d, want nil", *snap.AgeMS)
	}
	if snap.Fresh {
		t.Error("Fresh = true before any reading")
	}
	if snap.Channels == nil {
		t.Error("Channels must be an empty map, not nil")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"age_ms":null`) {
		t.Errorf("json = %s, want age_ms null", data)
	}
}

func TestTelemetry_SnapshotFreshness(t *testing.T) {
	now := time.Unix(1000, 0)
	store := fixedStore(&now)
	tel := NewTelemetry(store, func() time.Duration { return 2 * time.Second })

	store.Update(telemetry.Reading{
		Values: map[string]float64{"F": 42, "L": 80, "R": 75},
		Labels: map[string]string{"MODE": "manual"},
	})
	now = now.Add(1500 * time.Millisecond)

	snap := tel.Snapshot()
	if snap.AgeMS == nil || *snap.AgeMS != 1500 {
		t.Fatalf("AgeMS = %v, want 1500", snap.AgeMS)
	}
	if !snap.Fresh {
		t.Error("Fresh = false within the timeout")
	}
	if snap.Channels["F"] != 42 || snap.Labels["MODE"] != "manual" {
		t.Errorf("snapshot = %+v", snap)
	}

	now = now.Add(time.Second)
	if tel.Snapshot().Fresh {
		t.Error("Fresh = true past the timeout")
	}
}

func TestTelemetry_ServeSnapshot(t *testing.T) {
	now := time.Unix(1000, 0)
	store := fixedStore(&now)
	store.Update(telemetry.Reading{Values: map[string]float64{"F": 12.5}})

	mux := http.NewServeMux()
	NewTelemetry(store, func() time.Duration { return time.Second }).Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/telemetry", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got TelemetrySnapshot
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Channels["F"] != 12.5 || !got.Fresh || got.AgeMS == nil || *got.AgeMS != 0 {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestTelemetry_Websocket(t *testing.T) {
	now := time.Unix(1000, 0)
	store := fixedStore(&now)
	store.Update(telemetry.Reading{Values: map[string]float64{"F": 30}})

	mux := http.NewServeMux()
	NewTelemetry(store, func() time.Duration { return time.Second },
		WithPushInterval(10*time.Millisecond)).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/telemetry/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	for i := range 2 {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if typ != websocket.MessageText {
			t.Errorf("message type = %v, want text", typ)
		}
		var got TelemetrySnapshot
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %d: %v", i, err)
		}
		if got.Channels["F"] != 30 {
			t.Errorf("push %d channels = %v", i, got.Channels)
		}
	}
}
