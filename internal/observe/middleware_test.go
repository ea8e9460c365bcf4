package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates both metrics and tracing infrastructure for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

// serviceMux mimics the routes the app mounts behind the middleware.
func serviceMux(t *testing.T) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept through middleware: %v", err)
			return
		}
		conn.Close(websocket.StatusNormalClosure, "done")
	})
	mux.HandleFunc("GET /v1/sessions", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"active_workers":0,"streams":null}`)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func spanStatus(attrs []attribute.KeyValue) (int64, bool) {
	for _, a := range attrs {
		if string(a.Key) == "http.response.status_code" {
			return a.Value.AsInt64(), true
		}
	}
	return 0, false
}

func TestMiddleware_SessionsCorrelationID(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	tests := []struct {
		name        string
		traceparent string
		wantCID     string
	}{
		{name: "new trace"},
		{
			name:        "incoming traceparent",
			traceparent: "00-" + traceID + "-00f067aa0ba902b7-01",
			wantCID:     traceID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := testSetup(t)
			handler := Middleware(m, slog.New(slog.NewTextHandler(io.Discard, nil)))(serviceMux(t))

			req := httptest.NewRequest("GET", "/v1/sessions", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			cid := rec.Header().Get("X-Correlation-ID")
			if len(cid) != 32 {
				t.Fatalf("X-Correlation-ID = %q, want a 32 char trace id", cid)
			}
			if tt.wantCID != "" && cid != tt.wantCID {
				t.Errorf("X-Correlation-ID = %q, want %q", cid, tt.wantCID)
			}
			if !strings.Contains(rec.Body.String(), "active_workers") {
				t.Errorf("body = %q, handler output lost", rec.Body.String())
			}
		})
	}
}

func TestMiddleware_ReadyzStatusAndDuration(t *testing.T) {
	m, reader, exp := testSetup(t)
	handler := Middleware(m, slog.New(slog.NewTextHandler(io.Discard, nil)))(serviceMux(t))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP GET /readyz" {
		t.Fatalf("spans = %v, want one HTTP GET /readyz span", spans)
	}
	if code, ok := spanStatus(spans[0].Attributes); !ok || code != http.StatusServiceUnavailable {
		t.Errorf("span status code = %d (found %v), want 503", code, ok)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "callscribe.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("duration data = %#v, want one histogram point", met.Data)
	}
	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	if v, _ := dp.Attributes.Value(attribute.Key("path")); v.AsString() != "/readyz" {
		t.Errorf("path attribute = %q, want /readyz", v.AsString())
	}
	if v, _ := dp.Attributes.Value(attribute.Key("method")); v.AsString() != "GET" {
		t.Errorf("method attribute = %q, want GET", v.AsString())
	}
}

func TestMiddleware_HealthAndMetricsLogAtDebug(t *testing.T) {
	tests := []struct {
		path      string
		wantLevel string
	}{
		{path: "/healthz", wantLevel: "DEBUG"},
		{path: "/readyz", wantLevel: "DEBUG"},
		{path: "/metrics", wantLevel: "DEBUG"},
		{path: "/v1/sessions", wantLevel: "INFO"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			m, _, _ := testSetup(t)
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			handler := Middleware(m, logger)(serviceMux(t))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", tt.path, nil))

			var entry struct {
				Level string `json:"level"`
				Msg   string `json:"msg"`
				Path  string `json:"path"`
			}
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("decode log %q: %v", buf.String(), err)
			}
			if entry.Msg != "request completed" || entry.Path != tt.path {
				t.Errorf("log entry = %+v", entry)
			}
			if entry.Level != tt.wantLevel {
				t.Errorf("level = %s, want %s", entry.Level, tt.wantLevel)
			}
		})
	}
}

func TestMiddleware_StreamUpgrade(t *testing.T) {
	m, _, exp := testSetup(t)
	srv := httptest.NewServer(Middleware(m, slog.New(slog.NewTextHandler(io.Discard, nil)))(serviceMux(t)))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/stream", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("read err = %v, want normal closure", err)
	}

	// The span ends once the handler has returned.
	deadline := time.Now().Add(3 * time.Second)
	for len(exp.GetSpans()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no span recorded for the stream request")
		}
		time.Sleep(5 * time.Millisecond)
	}
	span := exp.GetSpans()[0]
	if span.Name != "HTTP GET /v1/stream" {
		t.Errorf("span name = %q", span.Name)
	}
	if code, _ := spanStatus(span.Attributes); code != http.StatusSwitchingProtocols {
		t.Errorf("span status code = %d, want 101", code)
	}
}
