// Package codec encodes assembled 16-bit PCM utterances into the container
// formats accepted by transcription services. Each [Encoder] writes one
// complete file per call.
//
// Two encodings are available:
//
//   - "wav": uncompressed RIFF/WAVE, the default.
//   - "ogg": Opus packets in an Ogg container, encoded with libopus.
package codec

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUnknownEncoding is returned by [ForName] for unsupported names.
var ErrUnknownEncoding = errors.New("codec: unknown encoding")

// Encoder writes a complete audio file containing pcm to w.
//
// Implementations must be safe for concurrent use; every call is
// independent.
type Encoder interface {
	// Encode writes pcm (interleaved signed 16-bit little-endian samples at
	// sampleRate with the given channel count) to w.
	Encode(w io.Writer, pcm []byte, sampleRate, channels int) error

	// Ext returns the file extension without the leading dot.
	Ext() string

	// ContentType returns the MIME type of the produced files.
	ContentType() string
}

// ForName returns the Encoder registered under name. The empty string
// selects WAV.
func ForName(name string) (Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "wav":
		return WAV{}, nil
	case "ogg", "opus":
		return Opus{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
}
