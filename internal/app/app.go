// Package app wires the callscribe subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the pipeline, the
// stream endpoint and the HTTP mux, Run serves until the context is done, and
// Shutdown tears everything down in order.
//
// For testing, pass mock providers and use [App.Handler] with httptest
// instead of Run.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/callscribe/internal/asr"
	"github.com/MrWong99/callscribe/internal/config"
	"github.com/MrWong99/callscribe/internal/health"
	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/internal/resilience"
	"github.com/MrWong99/callscribe/internal/server"
	"github.com/MrWong99/callscribe/pkg/audio/codec"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
	"github.com/MrWong99/callscribe/pkg/provider/vad"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers.
const readHeaderTimeout = 10 * time.Second

// Providers holds the backends the pipeline runs on. Populated by main.go
// from the config.
type Providers struct {
	STT     stt.Submitter
	VAD     vad.Engine
	Encoder codec.Encoder
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	logger    *slog.Logger

	metrics        *observe.Metrics
	metricsHandler http.Handler

	proc    *asr.Process
	streams *server.Server
	handler http.Handler
	httpSrv *http.Server

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New.
type Option func(*App)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics when telemetry.metrics is enabled.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithCloser registers fn to run at the end of Shutdown.
func WithCloser(fn func(context.Context) error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil {
		return nil, errors.New("app: transcription backend is required")
	}
	if providers.VAD == nil {
		return nil, errors.New("app: vad engine is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	procOpts := []asr.Option{asr.WithLogger(a.logger), asr.WithMetrics(a.metrics)}
	if providers.Encoder != nil {
		procOpts = append(procOpts, asr.WithEncoder(providers.Encoder))
	}
	proc, err := asr.NewProcess(ProcessConfig(cfg), providers.STT, providers.VAD, procOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.proc = proc
	a.streams = server.New(proc, server.Config{}, server.WithLogger(a.logger))

	mux := http.NewServeMux()
	a.streams.Register(mux)
	health.New(a.readinessChecks()...).Register(mux)
	if cfg.Telemetry.Metrics && a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	a.handler = observe.Middleware(a.metrics, a.logger)(mux)

	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	return a, nil
}

// ProcessConfig maps the file configuration onto the pipeline settings.
func ProcessConfig(cfg *config.Config) asr.Config {
	return asr.Config{
		SentenceMaxSec:    cfg.Pipeline.SentenceMaxSec,
		SentenceThreshold: time.Duration(cfg.Pipeline.SentenceThresholdSec) * time.Second,
		QueueSize:         cfg.Pipeline.QueueSize,
		StoreFrames:       cfg.Pipeline.StoreFrames,
		RecoveryFrames:    cfg.Pipeline.RecoveryFrames,
		PollInterval:      cfg.Pipeline.PollInterval,
		TempDir:           cfg.Pipeline.TempDir,
		Model:             cfg.Transcription.Model,
		SubmitTimeout:     cfg.Transcription.RequestTimeout,
		LogHTTPErrors:     cfg.Transcription.LogHTTPErrors,
		VAD: vad.Config{
			SilenceMs: cfg.VAD.SilenceMs,
			VoiceMs:   cfg.VAD.VoiceMs,
			Threshold: cfg.VAD.Threshold,
			Debug:     cfg.VAD.Debug,
		},
	}
}

// readinessChecks lists the /readyz probes.
func (a *App) readinessChecks() []health.Checker {
	checks := []health.Checker{
		{
			Name: "process",
			Check: func(context.Context) error {
				if a.proc.ShuttingDown() {
					return asr.ErrShuttingDown
				}
				return nil
			},
		},
		health.DirWritable("temp_dir", a.proc.TempDir()),
	}
	if g, ok := a.providers.STT.(interface{ Breaker() *resilience.Breaker }); ok {
		checks = append(checks, health.Checker{
			Name: "transcription",
			Check: func(context.Context) error {
				if st := g.Breaker().State(); st == resilience.StateOpen {
					return resilience.ErrCircuitOpen
				}
				return nil
			},
		})
	}
	return checks
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Process returns the pipeline.
func (a *App) Process() *asr.Process { return a.proc }

// Streams returns the stream endpoint.
func (a *App) Streams() *server.Server { return a.streams }

// Run serves HTTP and blocks until ctx is cancelled or the listener fails.
// When ctx is done, Run returns context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.httpSrv.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		if tls := a.cfg.Server.TLS; tls != nil {
			errCh <- a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.httpSrv.Serve(ln)
	}()

	a.logger.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ApplyConfig applies the hot-reloadable parts of a config change. It is
// meant as the tail of a [config.ChangeFunc].
func (a *App) ApplyConfig(_, _ *config.Config, d config.ConfigDiff) {
	if d.VADChanged {
		v := d.NewVAD
		a.proc.UpdateVAD(v.SilenceMs, v.VoiceMs, v.Threshold, v.Debug)
	}
}

// Shutdown stops accepting connections, ends every stream, waits for the
// session workers and runs the registered closers. Only the first call has
// any effect.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		// Hijacked stream connections are not tracked by the HTTP server;
		// they end when the pipeline shuts down.
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
		}
		if err := a.proc.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		for _, fn := range a.closers {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}
