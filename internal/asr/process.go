// Package asr implements the VAD-driven segmentation and transcription
// pipeline behind every callscribe session.
//
// A [Process] owns the process-wide state: configuration, the transcription
// [stt.Submitter], the [vad.Engine], the temp-file encoder and the count of
// running workers. Each [Session] opened from it owns a VAD gate, a pre-roll
// ring, an inbound audio queue and an outbound text queue, and runs exactly one
// background worker that assembles utterances and submits them.
//
// Data flow:
//
//	Feed(frame) → gate → {pre-roll ring | audio queue} → worker → assembler
//	  → temp file → Submitter → parsed text → text queue → GetResult()
//
// Feed, CheckResults and GetResult never block. Only the worker performs the
// network round trip.
package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/pkg/audio/codec"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
	"github.com/MrWong99/callscribe/pkg/provider/vad"
)

// Sentinel errors returned by [Process] and [Session].
var (
	ErrUnsupportedCodec = errors.New("asr: unsupported codec")
	ErrInvalidRate      = errors.New("asr: invalid sample rate")
	ErrShuttingDown     = errors.New("asr: process is shutting down")
	ErrSessionClosed    = errors.New("asr: session closed")
	ErrEmptyFrame       = errors.New("asr: empty frame")
	ErrFrameTooLong     = errors.New("asr: frame longer than session frame length")
)

// CodecL16 is the only accepted codec: raw 16-bit little-endian PCM.
const CodecL16 = "L16"

// Config holds the process-wide pipeline settings. It is read-only once the
// [Process] is constructed, apart from VAD tuning which [Process.UpdateVAD]
// may replace for future sessions.
type Config struct {
	// SentenceMaxSec bounds one utterance; the assembly buffer holds
	// sampleRate × SentenceMaxSec bytes.
	SentenceMaxSec int

	// SentenceThreshold is the silence delay between the VAD reporting
	// StopTalking and the flush.
	SentenceThreshold time.Duration

	QueueSize      int
	StoreFrames    int
	RecoveryFrames int

	// PollInterval is the worker tick.
	PollInterval time.Duration

	// TempDir receives encoded utterances while they are submitted.
	TempDir string

	// Model is the default transcription model; sessions may override it.
	Model string

	// SubmitTimeout bounds one submission. Zero leaves it to the
	// submitter's HTTP client.
	SubmitTimeout time.Duration

	// LogHTTPErrors logs the body of non-200 responses.
	LogHTTPErrors bool

	// VAD carries detector tuning. SampleRate and Channels are filled per
	// session.
	VAD vad.Config
}

func (c Config) withDefaults() Config {
	if c.SentenceMaxSec <= 0 {
		c.SentenceMaxSec = 35
	}
	if c.SentenceThreshold <= 0 {
		c.SentenceThreshold = time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.StoreFrames <= 0 {
		c.StoreFrames = 64
	}
	if c.RecoveryFrames <= 0 {
		c.RecoveryFrames = 15
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Millisecond
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	return c
}

// Option is a functional option for [NewProcess].
type Option func(*Process)

// WithLogger sets the base logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Process) { p.logger = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Process) { p.metrics = m }
}

// WithEncoder sets the temp-file encoder. Defaults to WAV.
func WithEncoder(e codec.Encoder) Option {
	return func(p *Process) { p.encoder = e }
}

// WithEventSink sets the sink for VAD onset events. Sessions can override it
// with [WithSessionEvents].
func WithEventSink(s EventSink) Option {
	return func(p *Process) { p.events = s }
}

// Process is the process-wide pipeline state shared by all sessions. It is
// constructed once at startup and passed by reference to every [Session].
//
// All methods are safe for concurrent use.
type Process struct {
	cfg       Config
	submitter stt.Submitter
	engine    vad.Engine
	encoder   codec.Encoder
	events    EventSink
	metrics   *observe.Metrics
	logger    *slog.Logger

	vadCfg atomic.Pointer[vad.Config]

	// ctx is the root every session context derives from; cancel is the
	// shutdown flag.
	ctx    context.Context
	cancel context.CancelFunc

	// mu orders Open against Shutdown so no worker is registered after
	// the drain wait has started.
	mu       sync.Mutex
	shutdown bool
	workers  sync.WaitGroup
	active   atomic.Int64
}

// NewProcess validates cfg, creates the temp directory and returns a ready
// Process. sub and engine are required.
func NewProcess(cfg Config, sub stt.Submitter, engine vad.Engine, opts ...Option) (*Process, error) {
	if sub == nil {
		return nil, errors.New("asr: submitter is required")
	}
	if engine == nil {
		return nil, errors.New("asr: vad engine is required")
	}
	cfg = cfg.withDefaults()
	if cfg.RecoveryFrames > cfg.StoreFrames {
		return nil, fmt.Errorf("asr: recovery frames (%d) exceed stored frames (%d)", cfg.RecoveryFrames, cfg.StoreFrames)
	}
	if err := os.MkdirAll(cfg.TempDir, 0o750); err != nil {
		return nil, fmt.Errorf("asr: create temp dir: %w", err)
	}

	p := &Process{
		cfg:       cfg,
		submitter: sub,
		engine:    engine,
		encoder:   codec.WAV{},
		events:    nopSink{},
	}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if p.events == nil {
		p.events = nopSink{}
	}
	v := cfg.VAD
	p.vadCfg.Store(&v)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p, nil
}

// Open starts a new session for the given codec and sample rate. Only
// [CodecL16] (case-insensitive) is accepted. The session's worker is running
// when Open returns.
func (p *Process) Open(codecName string, sampleRate int, opts ...SessionOption) (*Session, error) {
	if !strings.EqualFold(codecName, CodecL16) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, codecName)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRate, sampleRate)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return nil, ErrShuttingDown
	}

	s, err := newSession(p, sampleRate, opts...)
	if err != nil {
		return nil, err
	}

	p.workers.Add(1)
	p.active.Add(1)
	p.metrics.ActiveWorkers.Add(p.ctx, 1)
	p.metrics.ActiveSessions.Add(p.ctx, 1)
	go s.worker.run()

	s.logger.Info("session opened", "sample_rate", sampleRate, "channels", s.channels)
	return s, nil
}

// workerExited is called exactly once by each worker on its way out.
func (p *Process) workerExited() {
	p.active.Add(-1)
	p.metrics.ActiveWorkers.Add(context.Background(), -1)
	p.workers.Done()
}

// Shutdown sets the process-wide shutdown flag, cancelling every session's
// worker, and waits until all workers have exited or ctx is done. Sessions
// must still be closed by their owners to release their buffers.
func (p *Process) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()
	p.cancel()

	p.logger.Info("waiting for transcription workers", "active", p.active.Load())
	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("asr: shutdown with %d workers still running: %w", p.active.Load(), ctx.Err())
	}
}

// ActiveWorkers returns the number of running session workers.
func (p *Process) ActiveWorkers() int { return int(p.active.Load()) }

// ShuttingDown reports whether [Process.Shutdown] has been called.
func (p *Process) ShuttingDown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown
}

// TempDir returns the directory encoded utterances are written to.
func (p *Process) TempDir() string { return p.cfg.TempDir }

// UpdateVAD replaces the detector tuning used by sessions opened from now on.
// Open sessions keep their detector.
func (p *Process) UpdateVAD(silenceMs, voiceMs int, threshold float64, debug bool) {
	v := *p.vadCfg.Load()
	v.SilenceMs = silenceMs
	v.VoiceMs = voiceMs
	v.Threshold = threshold
	v.Debug = debug
	p.vadCfg.Store(&v)
	p.logger.Info("vad settings updated for new sessions",
		"silence_ms", silenceMs, "voice_ms", voiceMs, "threshold", threshold)
}
