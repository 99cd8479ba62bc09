package guppy

// State is the session lifecycle value reported to the caller. A session
// starts in StateNone, moves to StateInProgress on Open, and settles in
// exactly one terminal state that is never overwritten afterwards.
type State int

const (
	StateNone State = iota
	StateInProgress
	StateFinished
	StateInvalidResponse
	StateInputRequired
	StateRedirect
	StateError
	StateTimedOut
)

// Terminal reports whether the session has reached a final state.
func (s State) Terminal() bool {
	return s != StateNone && s != StateInProgress
}

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateInProgress:
		return "in_progress"
	case StateFinished:
		return "finished"
	case StateInvalidResponse:
		return "invalid_response"
	case StateInputRequired:
		return "input_required"
	case StateRedirect:
		return "redirect"
	case StateError:
		return "error"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}
