package sdk

import "errors"

var (
	// ErrNilHost is returned by New when no host was supplied.
	ErrNilHost = errors.New("sdk: host is required")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("sdk: already started")

	// ErrNotStarted is returned by Shutdown before Start.
	ErrNotStarted = errors.New("sdk: not started")

	// ErrShutdown is returned by Start after Shutdown. An SDK is not
	// restartable; create a new one.
	ErrShutdown = errors.New("sdk: already shut down")
)

// StepError records which stage of Start or Shutdown failed.
type StepError struct {
	Step  string
	Cause error
}

func (e *StepError) Error() string {
	return e.Step + ": " + e.Cause.Error()
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error {
	return e.Cause
}
