// Package energy provides a pure-Go VAD engine that classifies frames by their
// mean absolute sample energy.
//
// A frame counts as voiced when its energy exceeds the threshold. Onset is
// confirmed after VoiceMs of consecutive voiced audio and the segment ends
// after SilenceMs of consecutive unvoiced audio. The two durations give the
// detector its hysteresis so short clicks and short pauses do not flip the
// state.
//
// Usage:
//
//	eng := energy.New()
//	sess, err := eng.NewSession(vad.Config{SampleRate: 8000, Channels: 1})
//	state, err := sess.ProcessFrame(frame)
package energy

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/provider/vad"
)

// Defaults applied when the corresponding Config field is zero.
const (
	DefaultThreshold = 100.0
	DefaultVoiceMs   = 200
	DefaultSilenceMs = 500
)

// Engine creates energy-based VAD sessions. It is stateless and safe for
// concurrent use.
type Engine struct {
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for debug transition messages. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New returns an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

var _ vad.Engine = (*Engine)(nil)

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Threshold < 0 || cfg.VoiceMs < 0 || cfg.SilenceMs < 0 {
		return nil, errors.New("energy: threshold and durations must not be negative")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.VoiceMs == 0 {
		cfg.VoiceMs = DefaultVoiceMs
	}
	if cfg.SilenceMs == 0 {
		cfg.SilenceMs = DefaultSilenceMs
	}
	return &session{cfg: cfg, logger: e.logger}, nil
}

// session implements vad.SessionHandle.
type session struct {
	cfg    vad.Config
	logger *slog.Logger

	mu        sync.Mutex
	talking   bool
	voiceMs   int
	silenceMs int
	closed    bool
}

var _ vad.SessionHandle = (*session)(nil)

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []byte) (vad.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.StateNone, vad.ErrClosed
	}

	samples := audio.Samples(frame)
	if len(samples) == 0 {
		return s.current(), nil
	}
	energy := meanAbs(samples)
	voiced := energy > s.cfg.Threshold
	frameMs := len(samples) * 1000 / (s.cfg.SampleRate * s.cfg.Channels)

	if !s.talking {
		if !voiced {
			s.voiceMs = 0
			return vad.StateNone, nil
		}
		s.voiceMs += frameMs
		if s.voiceMs < s.cfg.VoiceMs {
			return vad.StateNone, nil
		}
		s.talking = true
		s.voiceMs, s.silenceMs = 0, 0
		if s.cfg.Debug {
			s.logger.Debug("vad: start talking", "energy", energy, "threshold", s.cfg.Threshold)
		}
		return vad.StateStartTalking, nil
	}

	if voiced {
		s.silenceMs = 0
		return vad.StateTalking, nil
	}
	s.silenceMs += frameMs
	if s.silenceMs < s.cfg.SilenceMs {
		return vad.StateTalking, nil
	}
	s.talking = false
	s.voiceMs, s.silenceMs = 0, 0
	if s.cfg.Debug {
		s.logger.Debug("vad: stop talking", "energy", energy, "threshold", s.cfg.Threshold)
	}
	return vad.StateStopTalking, nil
}

func (s *session) current() vad.State {
	if s.talking {
		return vad.StateTalking
	}
	return vad.StateNone
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.talking = false
	s.voiceMs, s.silenceMs = 0, 0
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// meanAbs returns the mean absolute sample value.
func meanAbs(samples []int16) float64 {
	var sum int64
	for _, v := range samples {
		if v < 0 {
			sum -= int64(v)
		} else {
			sum += int64(v)
		}
	}
	return float64(sum) / float64(len(samples))
}
