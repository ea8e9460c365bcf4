package asr

import (
	"fmt"
	"slices"

	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/provider/vad"
)

// gate runs every frame through the detector, keeps silence in the pre-roll
// ring and decides what reaches the audio queue. It is owned by one session
// and guarded by the session mutex.
type gate struct {
	vad      vad.SessionHandle
	ring     *audio.PreRoll // nil until the frame length is latched
	recovery int

	// state is the latched detector state. A StateNone result never
	// overwrites it.
	state vad.State
}

// gateResult describes what one frame produced.
type gateResult struct {
	state     vad.State
	chunk     audio.Chunk
	queue     bool
	recovered int // pre-roll frames prepended to chunk
	onset     bool
}

func newGate(h vad.SessionHandle, recovery int) *gate {
	return &gate{vad: h, recovery: recovery}
}

// attachRing installs the pre-roll ring once the frame length is known.
func (g *gate) attachRing(frameLen, slots int) {
	g.ring = audio.NewPreRoll(frameLen, slots)
}

func (g *gate) process(frame []byte) (gateResult, error) {
	detected, err := g.vad.ProcessFrame(frame)
	if err != nil {
		return gateResult{state: g.state}, fmt.Errorf("asr: vad: %w", err)
	}

	if detected != vad.StateStartTalking && (g.state == vad.StateNone || g.state == vad.StateStopTalking) {
		g.ring.WriteFrame(frame)
	}

	var res gateResult
	switch detected {
	case vad.StateStartTalking:
		g.state = detected
		res.onset = true
		res.queue = true
		res.chunk, res.recovered = g.recover(frame)
	case vad.StateTalking:
		g.state = detected
		res.queue = true
		res.chunk = audio.NewChunk(frame)
	case vad.StateStopTalking:
		g.state = detected
		g.vad.Reset()
	}
	res.state = g.state
	return res, nil
}

// recover builds the onset chunk: the newest pre-roll frames followed by the
// triggering frame. Before the ring has wrapped only what was stored is
// available; afterwards a full recovery window is always taken.
func (g *gate) recover(frame []byte) (audio.Chunk, int) {
	stored := g.ring.Stored()
	if stored == 0 {
		return audio.NewChunk(frame), 0
	}
	n := g.recovery
	if !g.ring.IsWrapped() {
		n = min(stored, g.recovery)
	}
	pre := g.ring.ReadLastN(n)
	g.ring.Reset()
	return audio.NewChunk(slices.Concat(pre, frame)), len(pre) / g.ring.FrameLen()
}

// release drops the ring and closes the detector.
func (g *gate) release() error {
	if g.ring != nil {
		g.ring.Release()
	}
	return g.vad.Close()
}
