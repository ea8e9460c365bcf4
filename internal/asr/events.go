package asr

// EventType tags an [Event].
type EventType string

// EventVADStart is raised when the detector confirms speech onset.
const EventVADStart EventType = "vad"

// Event is a fire-and-forget notification about a session.
type Event struct {
	Type EventType

	// VADType is "start" for onset events.
	VADType string

	// UniqueID is the correlation id set with the session_uuid param.
	UniqueID string

	// SessionID is the callscribe-assigned session id.
	SessionID string
}

// EventSink receives session events. Publish is called on the Feed path and
// must not block.
type EventSink interface {
	Publish(Event)
}

// EventFunc adapts a function to [EventSink].
type EventFunc func(Event)

// Publish calls f(e).
func (f EventFunc) Publish(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Publish(Event) {}
