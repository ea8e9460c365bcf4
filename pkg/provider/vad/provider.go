// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session keeps its own hysteresis
// counters so concurrent audio streams are classified independently.
//
// VAD is synchronous: ProcessFrame returns immediately with the detector's
// state for that frame, which lets the transcription gate decide inline
// whether the frame is queued, buffered as pre-roll, or dropped.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle is not shared across goroutines.
package vad

import "errors"

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame. Common values: 8000, 16000.
	SampleRate int

	// Channels is the number of interleaved channels in each frame. The
	// transcription pipeline always opens mono sessions.
	Channels int

	// SilenceMs is how long the signal must stay below Threshold before an
	// active speech segment is ended.
	SilenceMs int

	// VoiceMs is how long the signal must stay above Threshold before speech
	// onset is confirmed.
	VoiceMs int

	// Threshold is the detector's energy threshold in the engine's native
	// scale. Zero selects the engine default.
	Threshold float64

	// Debug enables per-transition debug logging.
	Debug bool
}

// SessionHandle represents an active VAD session for a single audio stream.
// Reset clears the detection state without closing the session.
type SessionHandle interface {
	// ProcessFrame classifies one frame of signed 16-bit little-endian PCM and
	// returns the detector state after it. It must not block.
	ProcessFrame(frame []byte) (State, error)

	// Reset clears accumulated hysteresis so the next frames start from None.
	Reset()

	// Close releases the session. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
