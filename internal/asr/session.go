package asr

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/provider/vad"
)

// SessionOption configures a [Session] at open time.
type SessionOption func(*Session)

// WithChannels sets the channel count of fed PCM. Default 1.
func WithChannels(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.channels = n
		}
	}
}

// WithParams applies [Session.SetParam] for every entry.
func WithParams(params map[string]string) SessionOption {
	return func(s *Session) {
		for k, v := range params {
			s.setParamLocked(k, v)
		}
	}
}

// WithSessionEvents routes this session's events to sink instead of the
// process-wide sink.
func WithSessionEvents(sink EventSink) SessionOption {
	return func(s *Session) {
		if sink != nil {
			s.events = sink
		}
	}
}

// sessionParams are the per-session submission options.
type sessionParams struct {
	language string
	model    string
	uuid     string
	fields   map[string]string
}

// Stats is a point-in-time snapshot of session counters.
type Stats struct {
	FramesFed      int64       `json:"frames_fed"`
	ChunksQueued   int64       `json:"chunks_queued"`
	ChunksDropped  int64       `json:"chunks_dropped"`
	Utterances     int64       `json:"utterances"`
	Results        int64       `json:"results"`
	Failures       int64       `json:"failures"`
	PendingResults int64       `json:"pending_results"`
	VADState       vad.State   `json:"vad_state"`
	Worker         WorkerState `json:"worker"`
}

// Session is one transcription stream. Feed, CheckResults and GetResult
// never block and may be called from different goroutines; Close blocks
// until the session's worker has exited.
type Session struct {
	id         string
	proc       *Process
	logger     *slog.Logger
	events     EventSink
	sampleRate int
	channels   int

	audioQ *audio.Queue
	textQ  *audio.Queue
	worker *worker

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// mu guards the gate, latched frame length, params and flags.
	mu       sync.Mutex
	gate     *gate
	frameLen int
	params   sessionParams
	paused   bool
	closed   bool

	// Read by the worker without taking mu.
	vadState atomic.Int32
	capacity atomic.Int64

	pending atomic.Int64

	framesFed     atomic.Int64
	chunksQueued  atomic.Int64
	chunksDropped atomic.Int64
	utterances    atomic.Int64
	results       atomic.Int64
	failures      atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

func newSession(p *Process, sampleRate int, opts ...SessionOption) (*Session, error) {
	s := &Session{
		id:         uuid.NewString(),
		proc:       p,
		events:     p.events,
		sampleRate: sampleRate,
		channels:   1,
		audioQ:     audio.NewQueue(p.cfg.QueueSize),
		textQ:      audio.NewQueue(p.cfg.QueueSize),
		done:       make(chan struct{}),
		params:     sessionParams{fields: map[string]string{}},
	}
	for _, o := range opts {
		o(s)
	}
	// logger is fixed from here on; the worker reads it without mu. The
	// correlation id can change, so it is added per call by withUUID.
	s.logger = p.logger.With("session_id", s.id)

	vc := *p.vadCfg.Load()
	vc.SampleRate = sampleRate
	vc.Channels = s.channels
	h, err := p.engine.NewSession(vc)
	if err != nil {
		return nil, fmt.Errorf("asr: init vad: %w", err)
	}
	s.gate = newGate(h, p.cfg.RecoveryFrames)

	s.ctx, s.cancel = context.WithCancel(p.ctx)
	s.worker = newWorker(s)
	return s, nil
}

// ID returns the callscribe-assigned session id.
func (s *Session) ID() string { return s.id }

// SampleRate returns the rate the session was opened with.
func (s *Session) SampleRate() int { return s.sampleRate }

// Done is closed once the session's worker has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Feed runs one PCM frame through the VAD gate. The first frame latches the
// session's frame length; later frames may be shorter but not longer.
//
// Feed returns [ErrSessionClosed] after Close or process shutdown and
// silently ignores frames while paused. A full audio queue drops the chunk
// without error.
func (s *Session) Feed(frame []byte) error {
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.paused {
		s.mu.Unlock()
		return nil
	}
	if len(frame) == 0 {
		s.mu.Unlock()
		return ErrEmptyFrame
	}
	if s.frameLen == 0 {
		s.frameLen = len(frame)
		s.gate.attachRing(s.frameLen, s.proc.cfg.StoreFrames)
		s.capacity.Store(int64(s.sampleRate) * int64(s.proc.cfg.SentenceMaxSec))
		s.logger.Debug("frame length latched",
			"frame_len", s.frameLen,
			"chunk_capacity", s.capacity.Load(),
		)
	} else if len(frame) > s.frameLen {
		s.mu.Unlock()
		return fmt.Errorf("%w: got %d bytes, want at most %d", ErrFrameTooLong, len(frame), s.frameLen)
	}

	res, err := s.gate.process(frame)
	uniqueID := s.params.uuid
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.framesFed.Add(1)
	s.vadState.Store(int32(res.state))

	if res.onset {
		s.proc.metrics.VADOnsets.Add(s.ctx, 1)
		if res.recovered > 0 {
			s.proc.metrics.PreRollFrames.Add(s.ctx, int64(res.recovered))
		}
		if uniqueID != "" {
			s.events.Publish(Event{
				Type:      EventVADStart,
				VADType:   "start",
				UniqueID:  uniqueID,
				SessionID: s.id,
			})
		}
	}
	if res.queue {
		if s.audioQ.TryPush(res.chunk) {
			s.chunksQueued.Add(1)
		} else {
			s.chunksDropped.Add(1)
			s.proc.metrics.RecordDrop(s.ctx, "audio")
		}
	}
	return nil
}

// Pause makes Feed ignore frames until [Session.Resume].
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume undoes [Session.Pause].
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// Paused reports whether the session is paused.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// SetParam sets a per-session option. Keys are case-insensitive:
//
//   - language: transcription language hint
//   - model: overrides the process default model
//   - session_uuid: correlation id for events and submissions
//   - caller_id_number, destination_number, meta_*: forwarded as extra form
//     fields with every submission
//
// Other keys are ignored.
func (s *Session) SetParam(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setParamLocked(key, value)
}

func (s *Session) setParamLocked(key, value string) {
	k := strings.ToLower(strings.TrimSpace(key))
	switch {
	case k == "language":
		s.params.language = value
	case k == "model":
		s.params.model = value
	case k == "session_uuid":
		s.params.uuid = value
	case k == "caller_id_number", k == "destination_number", strings.HasPrefix(k, "meta_"):
		s.params.fields[k] = value
	default:
		if s.logger != nil {
			s.logger.Debug("ignoring unknown session param", "key", key)
		}
	}
}

// snapshotParams returns a copy safe to use outside mu.
func (s *Session) snapshotParams() sessionParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.params
	p.fields = maps.Clone(s.params.fields)
	return p
}

// withUUID adds the correlation id to l when one is set.
func withUUID(l *slog.Logger, corrID string) *slog.Logger {
	if corrID == "" {
		return l
	}
	return l.With("session_uuid", corrID)
}

// CheckResults reports whether at least one transcript is waiting.
func (s *Session) CheckResults() bool { return s.pending.Load() > 0 }

// GetResult pops the oldest transcript.
func (s *Session) GetResult() (string, bool) {
	c, ok := s.textQ.TryPop()
	if !ok {
		return "", false
	}
	s.pending.Add(-1)
	return c.String(), true
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		FramesFed:      s.framesFed.Load(),
		ChunksQueued:   s.chunksQueued.Load(),
		ChunksDropped:  s.chunksDropped.Load(),
		Utterances:     s.utterances.Load(),
		Results:        s.results.Load(),
		Failures:       s.failures.Load(),
		PendingResults: s.pending.Load(),
		VADState:       vad.State(s.vadState.Load()),
		Worker:         s.worker.State(),
	}
}

// Close cancels the worker, waits for it to exit and releases the session's
// queues, detector and pre-roll ring. It is safe to call more than once; later
// calls return the first call's result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done

		s.mu.Lock()
		s.closed = true
		droppedAudio := s.audioQ.DrainAndDiscard()
		droppedText := s.textQ.DrainAndDiscard()
		s.pending.Store(0)
		if err := s.gate.release(); err != nil {
			s.closeErr = fmt.Errorf("asr: close vad: %w", err)
		}
		corrID := s.params.uuid
		s.mu.Unlock()

		s.proc.metrics.ActiveSessions.Add(context.Background(), -1)
		withUUID(s.logger, corrID).Info("session closed",
			"frames", s.framesFed.Load(),
			"utterances", s.utterances.Load(),
			"discarded_audio", droppedAudio,
			"discarded_text", droppedText,
		)
	})
	return s.closeErr
}
