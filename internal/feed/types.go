package feed

import "fmt"

// ArrivalEvent is one decoded (route, stop, epoch) triple from a feed payload.
type ArrivalEvent struct {
	RouteID string
	StopID  string
	Epoch   int64 // unix seconds of the arrival (or departure/vehicle fallback)
}

// ErrorKind classifies a feed failure so callers can assert the recovery
// policy per kind: network errors are retried up to the attempt ceiling,
// decode errors skip the feed for the cycle.
type ErrorKind int

const (
	ErrNetwork ErrorKind = iota
	ErrDecode
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNetwork:
		return "network"
	case ErrDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is a feed failure annotated with its kind, feed label, and the number
// of attempts spent before giving up.
type Error struct {
	Kind     ErrorKind
	Label    string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("feed %s: %s error after %d attempt(s): %v", e.Label, e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
