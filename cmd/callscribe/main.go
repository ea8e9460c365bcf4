// Command callscribe is the main entry point for the callscribe transcription
// server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callscribe/internal/app"
	"github.com/MrWong99/callscribe/internal/config"
	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/internal/resilience"
	"github.com/MrWong99/callscribe/pkg/audio/codec"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
	"github.com/MrWong99/callscribe/pkg/provider/stt/httpform"
	oaistt "github.com/MrWong99/callscribe/pkg/provider/stt/openai"
	"github.com/MrWong99/callscribe/pkg/provider/vad/energy"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// shutdownTimeout bounds the graceful shutdown after a signal.
const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "callscribe",
		Short: "VAD-segmented speech transcription",
		Long: `callscribe accepts raw PCM audio streams, cuts them into utterances with a
voice activity detector and transcribes each utterance with an
OpenAI-compatible speech-to-text service.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(newServeCmd(), newTranscribeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "callscribe %s\n", version)
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve transcription streams over WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			return runServe(cmd.Context(), path)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Configuration and logger ──────────────────────────────────────────────
	var (
		level       slog.LevelVar
		application *app.App
	)
	watcher, err := config.NewWatcher(configPath, func(old, newCfg *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
		}
		application.ApplyConfig(old, newCfg, d)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", configPath)
		}
		return err
	}
	cfg := watcher.Current()

	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := newLogger(os.Stderr, cfg.Server.LogFormat, &level)
	slog.SetDefault(logger)

	slog.Info("callscribe starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"backend", cfg.Transcription.Backend,
		"encoding", cfg.Pipeline.Encoding,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelProviders, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := observe.NewMetrics(otelProviders.MeterProvider)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// ── Providers and application ─────────────────────────────────────────────
	providers, err := buildProviders(cfg, logger)
	if err != nil {
		return err
	}
	application, err = app.New(ctx, cfg, providers,
		app.WithLogger(logger),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(otelProviders.MetricsHandler),
		app.WithCloser(otelProviders.Shutdown),
	)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return errors.Join(runErr, err)
	}
	slog.Info("goodbye")
	return runErr
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders instantiates the encoder, the guarded transcription backend
// and the VAD engine selected by cfg.
func buildProviders(cfg *config.Config, logger *slog.Logger) (*app.Providers, error) {
	enc, err := codec.ForName(cfg.Pipeline.Encoding)
	if err != nil {
		return nil, err
	}
	sub, err := buildSubmitter(cfg.Transcription)
	if err != nil {
		return nil, fmt.Errorf("build %s backend: %w", cfg.Transcription.Backend, err)
	}
	if cfg.Transcription.Backend == config.BackendOpenAI {
		logger.Warn("openai backend does not forward caller_id_number, destination_number or meta_* session params; use backend http to send them")
	}
	guarded := resilience.Guard(sub, resilience.Config{
		Name:         "transcription",
		MaxFailures:  cfg.Transcription.Breaker.MaxFailures,
		ResetTimeout: cfg.Transcription.Breaker.ResetTimeout,
	})
	return &app.Providers{
		STT:     guarded,
		VAD:     energy.New(energy.WithLogger(logger)),
		Encoder: enc,
	}, nil
}

func buildSubmitter(t config.TranscriptionConfig) (stt.Submitter, error) {
	hc, err := stt.NewHTTPClient(stt.ClientConfig{
		UserAgent:        t.UserAgent,
		Proxy:            t.Proxy,
		ProxyCredentials: t.ProxyCredentials,
		ConnectTimeout:   t.ConnectTimeout,
		RequestTimeout:   t.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}
	switch t.Backend {
	case config.BackendOpenAI:
		opts := []oaistt.Option{oaistt.WithModel(t.Model), oaistt.WithHTTPClient(hc)}
		if t.APIURL != "" {
			opts = append(opts, oaistt.WithBaseURL(t.APIURL))
		}
		return oaistt.New(t.APIKey, opts...)
	default:
		return httpform.New(t.APIURL, t.APIKey, httpform.WithHTTPClient(hc))
	}
}

// ── Logger ────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
