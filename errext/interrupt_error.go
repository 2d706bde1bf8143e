package errext

import (
	"errors"

	"github.com/liuxd6825/replayd/errext/exitcodes"
)

// InterruptError is an error that stops the server or a playback before it
// finished on its own, like a signal.
type InterruptError struct {
	Reason string
}

var _ HasExitCode = &InterruptError{}

// Error returns the reason of the interruption.
func (i *InterruptError) Error() string {
	return i.Reason
}

// ExitCode returns the status code used when the replayd process exits.
func (i *InterruptError) ExitCode() exitcodes.ExitCode {
	return exitcodes.ExternalAbort
}

// IsInterruptError returns true if err is *InterruptError.
func IsInterruptError(err error) bool {
	if err == nil {
		return false
	}
	var intErr *InterruptError
	return errors.As(err, &intErr)
}
