package audio

// Queue is a fixed-capacity FIFO of [Chunk] values. Pushes never block: a
// push against a full queue drops the chunk and reports false. Pops never
// block either. Queue is safe for concurrent use by any number of producers
// and consumers.
type Queue struct {
	ch chan Chunk
}

// NewQueue creates a Queue that holds at most capacity chunks. A capacity
// below one is raised to one.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan Chunk, capacity)}
}

// TryPush appends c to the queue. It returns false, dropping c, when the
// queue is full.
func (q *Queue) TryPush(c Chunk) bool {
	select {
	case q.ch <- c:
		return true
	default:
		return false
	}
}

// TryPop removes and returns the oldest chunk. The boolean is false when the
// queue is empty.
func (q *Queue) TryPop() (Chunk, bool) {
	select {
	case c := <-q.ch:
		return c, true
	default:
		return Chunk{}, false
	}
}

// DrainAndDiscard removes every queued chunk and returns how many were
// discarded.
func (q *Queue) DrainAndDiscard() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of chunks currently queued.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue's fixed capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
