package asr

import (
	"time"

	"github.com/MrWong99/callscribe/pkg/audio"
)

// assembler accumulates queued chunks into one utterance bounded by capacity
// bytes and tracks when it is due for a flush. It is owned by the worker
// goroutine.
type assembler struct {
	buf      []byte
	capacity int
	chunks   int

	deadline time.Time
	armed    bool
	full     bool // armed by overflow rather than silence

	// carry holds the chunk that did not fit; it opens the next utterance.
	carry    audio.Chunk
	hasCarry bool

	// truncated counts bytes lost to chunks larger than an empty buffer.
	truncated int
}

func newAssembler(capacity int) *assembler {
	return &assembler{
		buf:      make([]byte, 0, capacity),
		capacity: capacity,
	}
}

// absorb appends c and reports whether the buffer is now full. A chunk that
// would push the buffer past capacity is held back as carry and the buffer is
// reported full without it.
func (a *assembler) absorb(c audio.Chunk) (overflow bool) {
	n := c.Len()
	switch {
	case len(a.buf)+n < a.capacity:
		a.buf = append(a.buf, c.Bytes()...)
		a.chunks++
		return false
	case len(a.buf)+n == a.capacity:
		a.buf = append(a.buf, c.Bytes()...)
		a.chunks++
		return true
	case len(a.buf) == 0:
		a.buf = append(a.buf, c.Bytes()[:a.capacity]...)
		a.chunks++
		a.truncated += n - a.capacity
		return true
	default:
		a.carry = c
		a.hasCarry = true
		return true
	}
}

// arm sets the deadline to now+delay unless one is already set.
func (a *assembler) arm(now time.Time, delay time.Duration) {
	if a.armed {
		return
	}
	a.deadline = now.Add(delay)
	a.armed = true
}

// armNow makes the buffer due immediately.
func (a *assembler) armNow(now time.Time) {
	a.deadline = now
	a.armed = true
	a.full = true
}

func (a *assembler) due(now time.Time) bool {
	return a.armed && !now.Before(a.deadline)
}

// bytes returns the assembled audio without copying. It is valid until the
// next reset.
func (a *assembler) bytes() []byte { return a.buf }

func (a *assembler) size() int { return len(a.buf) }

// reset empties the buffer and disarms the deadline. A carried chunk becomes
// the first write of the new utterance.
func (a *assembler) reset() {
	a.buf = a.buf[:0]
	a.chunks = 0
	a.armed = false
	a.full = false
	a.deadline = time.Time{}
	if a.hasCarry {
		c := a.carry
		a.carry = audio.Chunk{}
		a.hasCarry = false
		if a.absorb(c) {
			// A carried chunk that fills the buffer on its own is flushed
			// on the next tick.
			a.armNow(time.Now())
		}
	}
}
