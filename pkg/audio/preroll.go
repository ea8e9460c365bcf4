package audio

// PreRoll is a fixed ring of equally sized frames holding the most recent
// non-speech audio of a stream. When speech onset is confirmed the newest
// frames are read back so the first syllables are not lost to detection
// latency.
//
// PreRoll is not safe for concurrent use; the owning session serialises
// access.
type PreRoll struct {
	frameLen int
	slots    int
	buf      []byte

	next    int // slot the next frame is written to
	stored  int // frames written since the last Reset
	wrapped bool
}

// NewPreRoll allocates a ring of slots frames of frameLen bytes each.
func NewPreRoll(frameLen, slots int) *PreRoll {
	if frameLen < 1 {
		frameLen = 1
	}
	if slots < 1 {
		slots = 1
	}
	return &PreRoll{
		frameLen: frameLen,
		slots:    slots,
		buf:      make([]byte, frameLen*slots),
	}
}

// FrameLen returns the size of one slot in bytes.
func (p *PreRoll) FrameLen() int { return p.frameLen }

// Slots returns the ring's capacity in frames.
func (p *PreRoll) Slots() int { return p.slots }

// WriteFrame stores frame in the next slot, overwriting the oldest frame once
// the ring is full. Longer frames are truncated and shorter ones are padded
// with silence.
func (p *PreRoll) WriteFrame(frame []byte) {
	if p.buf == nil {
		return
	}
	slot := p.buf[p.next*p.frameLen : (p.next+1)*p.frameLen]
	n := copy(slot, frame)
	clear(slot[n:])

	p.next++
	if p.next == p.slots {
		p.next = 0
		p.wrapped = true
	}
	p.stored++
}

// ReadLastN returns the newest n frames in chronological order as one
// contiguous slice. n is clamped to the number of frames the ring has ever
// held. When the window crosses the wrap boundary the result is assembled
// from the tail segment followed by the head segment.
func (p *PreRoll) ReadLastN(n int) []byte {
	if p.buf == nil || n <= 0 {
		return nil
	}
	avail := p.next
	if p.wrapped {
		avail = p.slots
	}
	n = min(n, avail)
	if n == 0 {
		return nil
	}

	out := make([]byte, 0, n*p.frameLen)
	start := p.next - n
	if start >= 0 {
		return append(out, p.buf[start*p.frameLen:p.next*p.frameLen]...)
	}
	start += p.slots
	out = append(out, p.buf[start*p.frameLen:]...)
	return append(out, p.buf[:p.next*p.frameLen]...)
}

// IsWrapped reports whether the ring has been filled at least once.
func (p *PreRoll) IsWrapped() bool { return p.wrapped }

// Stored returns the number of frames written since the last Reset.
func (p *PreRoll) Stored() int { return p.stored }

// Reset clears the stored-frame count. The ring contents, write position and
// wrap flag are kept so later recoveries can still reach older audio.
func (p *PreRoll) Reset() { p.stored = 0 }

// Release drops the backing storage. Subsequent writes are ignored and reads
// return nil.
func (p *PreRoll) Release() {
	p.buf = nil
	p.stored = 0
}
