package energy_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/provider/vad"
	"github.com/MrWong99/callscribe/pkg/provider/vad/energy"
)

// 20 ms at 8 kHz.
const frameSamples = 160

func loud() []byte {
	s := make([]int16, frameSamples)
	for i := range s {
		if i%2 == 0 {
			s[i] = 2000
		} else {
			s[i] = -2000
		}
	}
	return audio.PCM(s)
}

func quiet() []byte { return make([]byte, frameSamples*2) }

func newSession(t *testing.T, cfg vad.Config) vad.SessionHandle {
	t.Helper()
	sess, err := energy.New().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func feed(t *testing.T, sess vad.SessionHandle, frame []byte, n int) []vad.State {
	t.Helper()
	out := make([]vad.State, 0, n)
	for range n {
		st, err := sess.ProcessFrame(frame)
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		out = append(out, st)
	}
	return out
}

func TestSession_Transitions(t *testing.T) {
	t.Parallel()
	sess := newSession(t, vad.Config{SampleRate: 8000, Channels: 1, VoiceMs: 60, SilenceMs: 100})

	if got := feed(t, sess, quiet(), 3); got[2] != vad.StateNone {
		t.Fatalf("silence: got %v, want none", got)
	}

	got := feed(t, sess, loud(), 4)
	want := []vad.State{vad.StateNone, vad.StateNone, vad.StateStartTalking, vad.StateTalking}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("onset frame %d: got %v, want %v", i, got[i], want[i])
		}
	}

	got = feed(t, sess, quiet(), 6)
	want = []vad.State{vad.StateTalking, vad.StateTalking, vad.StateTalking, vad.StateTalking, vad.StateStopTalking, vad.StateNone}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("release frame %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSession_ShortBurstDoesNotTrigger(t *testing.T) {
	t.Parallel()
	sess := newSession(t, vad.Config{SampleRate: 8000, VoiceMs: 60, SilenceMs: 100})

	for range 5 {
		feed(t, sess, loud(), 2)
		for _, st := range feed(t, sess, quiet(), 1) {
			if st != vad.StateNone {
				t.Fatalf("burst produced %v", st)
			}
		}
	}
}

func TestSession_Reset(t *testing.T) {
	t.Parallel()
	sess := newSession(t, vad.Config{SampleRate: 8000, VoiceMs: 20, SilenceMs: 100})
	if st := feed(t, sess, loud(), 1)[0]; st != vad.StateStartTalking {
		t.Fatalf("got %v, want start_talking", st)
	}
	sess.Reset()
	if st := feed(t, sess, quiet(), 1)[0]; st != vad.StateNone {
		t.Errorf("after Reset got %v, want none", st)
	}
}

func TestSession_ClosedReturnsError(t *testing.T) {
	t.Parallel()
	sess := newSession(t, vad.Config{SampleRate: 8000})
	_ = sess.Close()
	if _, err := sess.ProcessFrame(quiet()); !errors.Is(err, vad.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestNewSession_InvalidConfig(t *testing.T) {
	t.Parallel()
	eng := energy.New()
	if _, err := eng.NewSession(vad.Config{}); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := eng.NewSession(vad.Config{SampleRate: 8000, Threshold: -1}); err == nil {
		t.Error("expected error for negative threshold")
	}
}
