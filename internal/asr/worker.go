package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/internal/resilience"
	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
	"github.com/MrWong99/callscribe/pkg/provider/vad"
)

// WorkerState is the lifecycle stage of a session worker.
type WorkerState int32

const (
	WorkerStarting WorkerState = iota
	WorkerRunning
	WorkerDraining
	WorkerExited
)

// String returns the lower-case name of the state.
func (w WorkerState) String() string {
	switch w {
	case WorkerStarting:
		return "starting"
	case WorkerRunning:
		return "running"
	case WorkerDraining:
		return "draining"
	case WorkerExited:
		return "exited"
	default:
		return fmt.Sprintf("WorkerState(%d)", int32(w))
	}
}

// MarshalText encodes the state by name.
func (w WorkerState) MarshalText() ([]byte, error) { return []byte(w.String()), nil }

// Flush triggers.
const (
	flushSilence  = "silence"
	flushOverflow = "overflow"
)

// maxLoggedBody caps how much of an error response is logged.
const maxLoggedBody = 1024

// worker drains one session's audio queue into an assembler on every tick
// and submits finished utterances. It is the only goroutine that touches the
// assembler.
type worker struct {
	s     *Session
	asm   *assembler
	state atomic.Int32
	now   func() time.Time
}

func newWorker(s *Session) *worker {
	return &worker{s: s, now: time.Now}
}

// State returns the current lifecycle stage.
func (w *worker) State() WorkerState { return WorkerState(w.state.Load()) }

func (w *worker) run() {
	s := w.s
	defer func() {
		w.state.Store(int32(WorkerExited))
		close(s.done)
		s.proc.workerExited()
	}()

	ticker := time.NewTicker(s.proc.cfg.PollInterval)
	defer ticker.Stop()
	w.state.Store(int32(WorkerRunning))

	for {
		select {
		case <-s.ctx.Done():
			w.state.Store(int32(WorkerDraining))
			if w.asm != nil && w.asm.size() > 0 {
				s.logger.Debug("discarding unflushed utterance", "bytes", w.asm.size())
			}
			w.asm = nil
			return
		case <-ticker.C:
			w.tick(w.now())
		}
	}
}

// tick performs one drain, arm and flush cycle.
func (w *worker) tick(now time.Time) {
	s := w.s
	if w.asm == nil {
		capacity := s.capacity.Load()
		if capacity == 0 {
			return
		}
		w.asm = newAssembler(int(capacity))
	}

	overflow := false
	for !overflow {
		c, ok := s.audioQ.TryPop()
		if !ok {
			break
		}
		if c.Len() == 0 {
			continue
		}
		overflow = w.asm.absorb(c)
	}

	switch {
	case overflow:
		w.asm.armNow(now)
	case w.asm.chunks > 0 && vad.State(s.vadState.Load()) == vad.StateStopTalking:
		w.asm.arm(now, s.proc.cfg.SentenceThreshold)
	}

	if w.asm.due(now) {
		reason := flushSilence
		if w.asm.full {
			reason = flushOverflow
		}
		w.flush(reason)
	}
}

// flush encodes the assembled audio, submits it and publishes the transcript.
// The assembler is reset whatever the outcome; failed utterances are not
// retried.
func (w *worker) flush(reason string) {
	s := w.s
	p := s.proc
	defer w.asm.reset()

	if w.asm.truncated > 0 {
		s.logger.Warn("utterance chunk exceeded buffer capacity; truncated", "bytes_lost", w.asm.truncated)
		w.asm.truncated = 0
	}
	pcm := w.asm.bytes()
	if len(pcm) == 0 {
		return
	}

	// Submission is detached from session cancellation: a Close waits for
	// the request instead of aborting it.
	ctx := context.WithoutCancel(s.ctx)
	if p.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.SubmitTimeout)
		defer cancel()
	}
	ctx, span := observe.StartSpan(ctx, "asr.flush", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.String("flush.reason", reason),
		attribute.Int("audio.bytes", len(pcm)),
	))
	defer span.End()
	params := s.snapshotParams()
	log := withUUID(observe.Logger(ctx, s.logger), params.uuid)

	s.utterances.Add(1)
	p.metrics.RecordFlush(ctx, reason)
	bytesPerSec := float64(s.sampleRate * s.channels * audio.BytesPerSample)
	p.metrics.UtteranceAudio.Record(ctx, float64(len(pcm))/bytesPerSec)

	outcome, text := w.submit(ctx, log, pcm, params)
	span.SetAttributes(attribute.String("outcome", outcome))
	if outcome != observe.OutcomeOK {
		span.SetStatus(codes.Error, outcome)
		s.failures.Add(1)
		p.metrics.RecordUtterance(ctx, outcome)
		return
	}

	s.pending.Add(1)
	if !s.textQ.TryPush(audio.TextChunk(text)) {
		s.pending.Add(-1)
		p.metrics.RecordDrop(ctx, "text")
		p.metrics.RecordUtterance(ctx, observe.OutcomeResultDrop)
		log.Warn("text queue full; transcript dropped")
		return
	}
	s.results.Add(1)
	p.metrics.RecordUtterance(ctx, observe.OutcomeOK)
	log.Debug("transcript queued", "reason", reason, "chars", len(text))
}

// submit writes pcm to a temp file, hands it to the submitter and parses the
// reply. The temp file is always removed.
func (w *worker) submit(ctx context.Context, log *slog.Logger, pcm []byte, params sessionParams) (outcome, text string) {
	s := w.s
	p := s.proc

	path, err := w.writeTemp(pcm)
	if err != nil {
		log.Error("encode utterance", "err", err)
		return observe.OutcomeEncodeError, ""
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("remove temp file", "path", path, "err", err)
		}
	}()

	model := params.model
	if model == "" {
		model = p.cfg.Model
	}
	fields := params.fields
	if params.uuid != "" {
		fields["session_uuid"] = params.uuid
	}
	req := stt.Request{
		FilePath:    path,
		ContentType: p.encoder.ContentType(),
		Model:       model,
		Language:    params.language,
		Fields:      fields,
	}

	start := time.Now()
	body, err := p.submitter.Submit(ctx, req)
	p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.Bool("error", err != nil)))
	if err != nil {
		return classifySubmitError(log, err, p.cfg.LogHTTPErrors), ""
	}

	text, err = stt.ParseResponse(body)
	if err != nil {
		return classifyParseError(log, err, body), ""
	}
	return observe.OutcomeOK, text
}

// writeTemp encodes pcm into a uniquely named file under the temp dir.
func (w *worker) writeTemp(pcm []byte) (string, error) {
	s := w.s
	p := s.proc
	path := filepath.Join(p.cfg.TempDir, "utt-"+uuid.NewString()+"."+p.encoder.Ext())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("asr: create temp file: %w", err)
	}
	encErr := p.encoder.Encode(f, pcm, s.sampleRate, s.channels)
	closeErr := f.Close()
	if err := errors.Join(encErr, closeErr); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("asr: encode %s: %w", p.encoder.Ext(), err)
	}
	return path, nil
}

func classifySubmitError(log *slog.Logger, err error, logBody bool) string {
	var se *stt.StatusError
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		log.Warn("transcription skipped: circuit open")
		return observe.OutcomeCircuitOpen
	case errors.As(err, &se):
		if logBody && len(se.Body) > 0 {
			log.Error("transcription request failed", "status", se.Code, "body", truncate(se.Body))
		} else {
			log.Error("transcription request failed", "status", se.Code)
		}
		return observe.OutcomeHTTPError
	default:
		log.Error("unable to perform transcription request", "err", err)
		return observe.OutcomeTransport
	}
}

func classifyParseError(log *slog.Logger, err error, body []byte) string {
	var svc *stt.ServiceError
	switch {
	case errors.As(err, &svc):
		log.Error("service returned an error", "response", truncate(body))
		return observe.OutcomeServiceError
	case errors.Is(err, stt.ErrEmptyResponse):
		log.Error("service response is empty")
		return observe.OutcomeEmpty
	case errors.Is(err, stt.ErrMalformedResponse):
		log.Error("malformed service response", "response", truncate(body))
		return observe.OutcomeMalformed
	default:
		log.Error("unable to parse service response", "err", err, "response", truncate(body))
		return observe.OutcomeParseError
	}
}

func truncate(b []byte) string {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "..."
	}
	return string(b)
}
