package server

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/callscribe/internal/asr"
)

// StreamInfo describes one connected stream.
type StreamInfo struct {
	// SessionID is the pipeline session id.
	SessionID string `json:"session_id"`

	// SessionUUID is the caller-supplied correlation id, if any.
	SessionUUID string `json:"session_uuid,omitempty"`

	// Codec and SampleRate are the values the stream was opened with.
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`

	// Remote is the client address.
	Remote string `json:"remote"`

	// StartedAt is when the stream was accepted.
	StartedAt time.Time `json:"started_at"`
}

// StreamStatus is a [StreamInfo] plus the live session counters.
type StreamStatus struct {
	StreamInfo
	Paused bool      `json:"paused"`
	Stats  asr.Stats `json:"stats"`
}

type entry struct {
	info    StreamInfo
	session *asr.Session
}

// Registry tracks the streams a [Server] is serving. All methods are safe for
// concurrent use.
type Registry struct {
	mu      sync.Mutex
	streams map[string]entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]entry)}
}

func (r *Registry) add(info StreamInfo, s *asr.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[info.SessionID] = entry{info: info, session: s}
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}

// Len returns the number of connected streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// List returns the status of every connected stream, oldest first.
func (r *Registry) List() []StreamStatus {
	r.mu.Lock()
	entries := make([]entry, 0, len(r.streams))
	for _, e := range r.streams {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	out := make([]StreamStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, StreamStatus{
			StreamInfo: e.info,
			Paused:     e.session.Paused(),
			Stats:      e.session.Stats(),
		})
	}
	slices.SortFunc(out, func(a, b StreamStatus) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SessionID, b.SessionID)
	})
	return out
}
