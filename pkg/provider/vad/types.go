package vad

// State is the detector's classification of the stream after a frame.
type State int

const (
	// StateNone means no speech has been detected, or a previous segment has
	// fully ended.
	StateNone State = iota

	// StateStartTalking is reported once, on the frame that confirms speech
	// onset.
	StateStartTalking

	// StateTalking is reported for every frame inside a speech segment after
	// onset.
	StateTalking

	// StateStopTalking is reported once, on the frame that confirms the end of
	// a speech segment.
	StateStopTalking
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateStartTalking:
		return "start_talking"
	case StateTalking:
		return "talking"
	case StateStopTalking:
		return "stop_talking"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
