package audio_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/callscribe/pkg/audio"
)

func TestNewChunk_CopiesInput(t *testing.T) {
	t.Parallel()
	src := []byte{1, 2, 3}
	c := audio.NewChunk(src)
	src[0] = 99
	if c.Bytes()[0] != 1 {
		t.Errorf("chunk aliased its input: got %v", c.Bytes())
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
}

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()
	q := audio.NewQueue(4)
	for _, s := range []string{"a", "b", "c"} {
		if !q.TryPush(audio.TextChunk(s)) {
			t.Fatalf("TryPush(%q) = false", s)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		c, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop: queue unexpectedly empty")
		}
		if c.String() != want {
			t.Errorf("TryPop = %q, want %q", c.String(), want)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop on empty queue returned ok")
	}
}

func TestQueue_FullDropsWithoutBlocking(t *testing.T) {
	t.Parallel()
	q := audio.NewQueue(2)

	done := make(chan struct{})
	var accepted int
	go func() {
		defer close(done)
		for range 10 {
			if q.TryPush(audio.TextChunk("x")) {
				accepted++
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("TryPush blocked on a full queue")
	}
	if accepted != 2 {
		t.Errorf("accepted = %d, want 2", accepted)
	}
	if q.Len() > q.Cap() {
		t.Errorf("Len = %d exceeds Cap = %d", q.Len(), q.Cap())
	}
}

func TestQueue_DrainAndDiscard(t *testing.T) {
	t.Parallel()
	q := audio.NewQueue(8)
	for range 5 {
		q.TryPush(audio.TextChunk("x"))
	}
	if n := q.DrainAndDiscard(); n != 5 {
		t.Errorf("DrainAndDiscard = %d, want 5", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len after drain = %d, want 0", q.Len())
	}
}

func TestQueue_ConcurrentProducersNeverExceedCapacity(t *testing.T) {
	t.Parallel()
	const capacity = 16
	q := audio.NewQueue(capacity)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				q.TryPush(audio.TextChunk("x"))
				if q.Len() > capacity {
					t.Errorf("Len = %d exceeds capacity %d", q.Len(), capacity)
				}
			}
		}()
	}
	wg.Wait()
	if q.Len() != capacity {
		t.Errorf("Len = %d, want %d", q.Len(), capacity)
	}
}

func TestNewQueue_MinimumCapacity(t *testing.T) {
	t.Parallel()
	if got := audio.NewQueue(0).Cap(); got != 1 {
		t.Errorf("Cap = %d, want 1", got)
	}
}
