package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// statusMux mimics the status server: a probe, a data route and a failing
// route.
func statusMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /telemetry", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"fresh":true}`))
	})
	mux.HandleFunc("GET /broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return mux
}

func middlewareSetup(t *testing.T) (http.Handler, *testMeter, *tracetest.InMemoryExporter) {
	t.Helper()
	p := newTestMeter(t)
	exp := installTracer(t)
	return Middleware(p.Metrics)(statusMux()), p, exp
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// requestRoutes counts the recorded requests per route attribute.
func requestRoutes(p *testMeter) map[string]uint64 {
	p.t.Helper()
	hist, ok := p.metric("roverlink.http.request.duration").Data.(metricdata.Histogram[float64])
	if !ok {
		p.t.Fatal("request duration is not a histogram")
	}
	got := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		r, _ := dp.Attributes.Value(attribute.Key("route"))
		got[r.AsString()] += dp.Count
	}
	return got
}

func TestMiddleware_RoutesLabelPattern(t *testing.T) {
	h, p, _ := middlewareSetup(t)

	serve(h, httptest.NewRequest("GET", "/healthz", nil))
	serve(h, httptest.NewRequest("GET", "/telemetry", nil))
	serve(h, httptest.NewRequest("GET", "/telemetry", nil))
	serve(h, httptest.NewRequest("GET", "/no/such/page", nil))
	serve(h, httptest.NewRequest("GET", "/another/unknown", nil))

	got := requestRoutes(p)
	want := map[string]uint64{"/healthz": 1, "/telemetry": 2, "unmatched": 2}
	for route, n := range want {
		if got[route] != n {
			t.Errorf("route %q count = %d, want %d (all: %v)", route, got[route], n, got)
		}
	}
}

func TestMiddleware_ProbesAreNotTraced(t *testing.T) {
	h, _, exp := middlewareSetup(t)

	rec := serve(h, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Header().Get("X-Trace-ID") != "" {
		t.Error("probe response carries a trace id")
	}
	if n := len(exp.GetSpans()); n != 0 {
		t.Errorf("probe recorded %d spans", n)
	}
}

func TestMiddleware_TracesDataRoutes(t *testing.T) {
	h, _, exp := middlewareSetup(t)

	rec := serve(h, httptest.NewRequest("GET", "/broken", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "status /broken" {
		t.Errorf("span name = %q", s.Name)
	}
	if got := rec.Header().Get("X-Trace-ID"); got != s.SpanContext.TraceID().String() {
		t.Errorf("X-Trace-ID = %q, want span trace id", got)
	}
	var status int64
	var route string
	for _, kv := range s.Attributes {
		switch kv.Key {
		case "http.response.status_code":
			status = kv.Value.AsInt64()
		case "http.route":
			route = kv.Value.AsString()
		}
	}
	if status != http.StatusServiceUnavailable || route != "/broken" {
		t.Errorf("span status=%d route=%q", status, route)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	h, _, _ := middlewareSetup(t)

	req := httptest.NewRequest("GET", "/telemetry", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := serve(h, req)

	if got := rec.Header().Get("X-Trace-ID"); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("X-Trace-ID = %q, want the incoming trace id", got)
	}
}

func TestMiddleware_ExposesUnderlyingWriter(t *testing.T) {
	var flushErr error
	handler := Middleware(newTestMeter(t).Metrics)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		flushErr = http.NewResponseController(w).Flush()
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/telemetry", nil))

	if flushErr != nil {
		t.Errorf("Flush through middleware: %v", flushErr)
	}
	if !rec.Flushed {
		t.Error("underlying recorder was not flushed")
	}
}
