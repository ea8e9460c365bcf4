package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/callscribe/internal/app"
	"github.com/MrWong99/callscribe/internal/config"
	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/internal/resilience"
	sttmock "github.com/MrWong99/callscribe/pkg/provider/stt/mock"
	vadmock "github.com/MrWong99/callscribe/pkg/provider/vad/mock"
)

// testConfig returns a defaulted config writing temp files under t.TempDir().
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Pipeline: config.PipelineConfig{
			TempDir: t.TempDir(),
		},
		Transcription: config.TranscriptionConfig{
			APIURL: "http://127.0.0.1:9/transcribe",
			APIKey: "test",
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testProviders() (*app.Providers, *vadmock.Engine) {
	eng := &vadmock.Engine{Session: &vadmock.Session{}}
	return &app.Providers{
		STT: &sttmock.Submitter{Default: []byte(`{"text":"ok"}`)},
		VAD: eng,
	}, eng
}

func newTestApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]app.Option{
		app.WithMetrics(m),
		app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode, body
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	if _, err := app.New(context.Background(), cfg, &app.Providers{VAD: &vadmock.Engine{}}); err == nil {
		t.Error("missing STT: expected error")
	}
	if _, err := app.New(context.Background(), cfg, &app.Providers{STT: &sttmock.Submitter{}}); err == nil {
		t.Error("missing VAD: expected error")
	}
}

func TestApp_HealthAndReadiness(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	providers, _ := testProviders()
	providers.STT = resilience.Guard(providers.STT, resilience.Config{Name: "test", MaxFailures: 1, ResetTimeout: time.Hour})
	a := newTestApp(t, cfg, providers)

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	if code, _ := getJSON(t, srv.URL+"/healthz"); code != http.StatusOK {
		t.Errorf("/healthz = %d", code)
	}
	code, body := getJSON(t, srv.URL+"/readyz")
	if code != http.StatusOK {
		t.Fatalf("/readyz = %d, body %v", code, body)
	}
	checks, _ := body["checks"].(map[string]any)
	for _, name := range []string{"process", "temp_dir", "transcription"} {
		if checks[name] != "ok" {
			t.Errorf("check %s = %v", name, checks[name])
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Process().Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if code, _ := getJSON(t, srv.URL+"/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("/readyz after shutdown = %d, want 503", code)
	}
}

func TestApp_MetricsRoute(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "callscribe_up 1\n")
	})

	tests := []struct {
		name    string
		enabled bool
		want    int
	}{
		{name: "enabled", enabled: true, want: http.StatusOK},
		{name: "disabled", enabled: false, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t)
			cfg.Telemetry.Metrics = tt.enabled
			providers, _ := testProviders()
			a := newTestApp(t, cfg, providers, app.WithMetricsHandler(metrics))

			rec := httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestApp_ApplyConfigUpdatesVAD(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	providers, eng := testProviders()
	a := newTestApp(t, cfg, providers)

	next := *cfg
	next.VAD = config.VADConfig{SilenceMs: 900, VoiceMs: 120, Threshold: 250}
	a.ApplyConfig(cfg, &next, config.Diff(cfg, &next))

	s, err := a.Process().Open("L16", 8000)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got := eng.Calls()[0].Cfg
	if got.SilenceMs != 900 || got.VoiceMs != 120 || got.Threshold != 250 {
		t.Errorf("vad config = %+v", got)
	}
}

func TestProcessConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Pipeline.SentenceThresholdSec = 2
	cfg.Transcription.LogHTTPErrors = true

	pc := app.ProcessConfig(cfg)
	if pc.SentenceMaxSec != config.MinSentenceMaxSec {
		t.Errorf("SentenceMaxSec = %d", pc.SentenceMaxSec)
	}
	if pc.SentenceThreshold != 2*time.Second {
		t.Errorf("SentenceThreshold = %v", pc.SentenceThreshold)
	}
	if pc.TempDir != cfg.Pipeline.TempDir || pc.Model != config.DefaultModel || !pc.LogHTTPErrors {
		t.Errorf("process config = %+v", pc)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	providers, _ := testProviders()
	a := newTestApp(t, cfg, providers)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
	}()

	// Give Run a moment to start listening.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if !a.Process().ShuttingDown() {
		t.Error("process still accepting sessions after Shutdown")
	}
}
