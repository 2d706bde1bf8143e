package replay

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownRequest is returned for a request type without a handler.
	ErrUnknownRequest = errors.New("unknown request type")
	// ErrUnknownScript is returned when a request names a script id that is
	// not registered.
	ErrUnknownScript = errors.New("unknown script")
	// ErrUnknownSource is returned for an unregistered source id.
	ErrUnknownSource = errors.New("unknown source")
	// ErrUnknownObject is returned for a paused object id that is not live.
	ErrUnknownObject = errors.New("unknown object")
	// ErrUnknownFrame is returned for a frame index outside the stack.
	ErrUnknownFrame = errors.New("unknown frame")
	// ErrNoScripts is returned by queries that need at least one script.
	ErrNoScripts = errors.New("no scripts registered")
	// ErrInvalidPosition is returned for malformed position requests.
	ErrInvalidPosition = errors.New("invalid position")
	// ErrStalePause is returned for requests made against a pause that has
	// already ended.
	ErrStalePause = errors.New("stale pause")
)

// AssertionError signals a broken internal invariant of the session's own
// bookkeeping. It is raised as a panic and never turned into a response.
type AssertionError struct {
	Message string
}

func (e *AssertionError) Error() string {
	return "assertion failed: " + e.Message
}

func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(&AssertionError{Message: fmt.Sprintf(format, args...)})
	}
}
