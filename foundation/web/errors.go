package web

import "errors"

// shutdownError is returned by a handler to signal main that the service
// should begin an orderly shutdown, e.g. because persistence failed and
// §4.3's "persistence I/O failures are fatal for the node" rule applies.
type shutdownError struct {
	Message string
}

func (e *shutdownError) Error() string { return e.Message }

// NewShutdownError wraps message into an error App.Handle recognizes as a
// trigger to begin shutdown.
func NewShutdownError(message string) error {
	return &shutdownError{Message: message}
}

// IsShutdown reports whether err (or any error it wraps) is a shutdown
// signal.
func IsShutdown(err error) bool {
	var se *shutdownError
	return errors.As(err, &se)
}
