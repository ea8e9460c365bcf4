package asr

import (
	"bytes"
	"testing"
	"time"

	"github.com/MrWong99/callscribe/pkg/audio"
)

func chunkOf(n int, b byte) audio.Chunk {
	return audio.NewChunk(bytes.Repeat([]byte{b}, n))
}

func TestAssembler_AbsorbBelowCapacity(t *testing.T) {
	t.Parallel()
	a := newAssembler(10)
	for i := range 3 {
		if a.absorb(chunkOf(3, byte(i))) {
			t.Fatalf("chunk %d reported overflow", i)
		}
	}
	if a.size() != 9 || a.chunks != 3 {
		t.Errorf("size/chunks = %d/%d, want 9/3", a.size(), a.chunks)
	}
}

func TestAssembler_ExactlyFull(t *testing.T) {
	t.Parallel()
	a := newAssembler(6)
	a.absorb(chunkOf(3, 1))
	if !a.absorb(chunkOf(3, 2)) {
		t.Fatal("meeting capacity should report overflow")
	}
	if a.size() != 6 || a.hasCarry {
		t.Errorf("size = %d, carry = %v", a.size(), a.hasCarry)
	}
}

func TestAssembler_CarryOverflowingChunk(t *testing.T) {
	t.Parallel()
	a := newAssembler(8)
	a.absorb(chunkOf(5, 1))
	if !a.absorb(chunkOf(5, 2)) {
		t.Fatal("exceeding capacity should report overflow")
	}
	if a.size() != 5 {
		t.Errorf("size = %d, want 5 (overflowing chunk held back)", a.size())
	}

	a.reset()
	if got, want := a.bytes(), bytes.Repeat([]byte{2}, 5); !bytes.Equal(got, want) {
		t.Errorf("after reset = %v, want carried chunk %v", got, want)
	}
	if a.chunks != 1 || a.armed {
		t.Errorf("chunks = %d, armed = %v", a.chunks, a.armed)
	}
}

func TestAssembler_TruncatesOversizedChunk(t *testing.T) {
	t.Parallel()
	a := newAssembler(4)
	if !a.absorb(chunkOf(7, 9)) {
		t.Fatal("oversized chunk should report overflow")
	}
	if a.size() != 4 || a.truncated != 3 {
		t.Errorf("size/truncated = %d/%d, want 4/3", a.size(), a.truncated)
	}
}

func TestAssembler_Deadline(t *testing.T) {
	t.Parallel()
	a := newAssembler(16)
	now := time.Unix(1000, 0)

	if a.due(now) {
		t.Fatal("unarmed assembler is never due")
	}
	a.arm(now, time.Second)
	a.arm(now.Add(500*time.Millisecond), time.Second) // ignored: already armed
	if a.due(now.Add(999 * time.Millisecond)) {
		t.Error("due before deadline")
	}
	if !a.due(now.Add(time.Second)) {
		t.Error("not due at deadline")
	}
	if a.full {
		t.Error("silence arming must not mark the buffer full")
	}

	a.armNow(now)
	if !a.due(now) || !a.full {
		t.Error("armNow should make the buffer due immediately")
	}

	a.reset()
	if a.armed || a.full || a.due(now.Add(time.Hour)) {
		t.Error("reset should disarm")
	}
}
