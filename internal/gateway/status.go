package gateway

import "fmt"

// Status is the connection status of a Client.
type Status int

const (
	// StatusIdle means no socket is open and no attempt is in progress.
	StatusIdle Status = iota

	// StatusConnecting means a connect sequence is running (backoff, dial,
	// hello, identify).
	StatusConnecting

	// StatusResuming means a resume frame was sent and the client is waiting
	// for RESUMED while missed events are replayed.
	StatusResuming

	// StatusReady means the session is established.
	StatusReady
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusResuming:
		return "resuming"
	case StatusReady:
		return "ready"
	default:
		return "unknown"
	}
}

// MarshalText lets Status render as its name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists every legal status change.
var transitions = map[Status][]Status{
	StatusIdle:       {StatusConnecting},
	StatusConnecting: {StatusResuming, StatusReady, StatusIdle},
	StatusResuming:   {StatusReady, StatusIdle},
	StatusReady:      {StatusIdle},
}

// canTransition reports whether from -> to is legal.
func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// checkTransition returns ErrInvalidTransition wrapped with both states when
// from -> to is not legal.
func checkTransition(from, to Status) error {
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
