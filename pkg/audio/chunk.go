// Package audio provides the buffering primitives used by the transcription
// pipeline: immutable [Chunk] values, the non-blocking bounded [Queue] that
// moves them between the feeding goroutine and the worker, the [PreRoll]
// ring that keeps recent non-speech frames for onset recovery, and a few
// 16-bit PCM helpers.
//
// All PCM handled here is signed 16-bit little-endian.
package audio

// Chunk is an immutable slice of audio or text bytes. A Chunk is owned by
// whichever queue or buffer currently holds it.
type Chunk struct {
	data []byte
}

// NewChunk returns a Chunk holding a private copy of b.
func NewChunk(b []byte) Chunk {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Chunk{data: cp}
}

// TextChunk returns a Chunk holding the UTF-8 bytes of s.
func TextChunk(s string) Chunk {
	return Chunk{data: []byte(s)}
}

// Bytes returns the chunk's contents. Callers must not modify the result.
func (c Chunk) Bytes() []byte { return c.data }

// Len returns the number of bytes in the chunk.
func (c Chunk) Len() int { return len(c.data) }

// String returns the chunk's contents as a string.
func (c Chunk) String() string { return string(c.data) }
