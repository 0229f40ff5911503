package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrRetryExhausted is returned when every attempt of a retried operation failed.
	ErrRetryExhausted = errors.New("retry exhausted")

	// ErrUnknownLocationType is returned when a location URI has a scheme no backend handles.
	ErrUnknownLocationType = errors.New("unknown location type")

	// ErrCommandFailed is returned when a shell command exits with a non-zero status.
	ErrCommandFailed = errors.New("command failed")

	// ErrReadyCheckFailed is returned when the management plane never reports ready.
	ErrReadyCheckFailed = errors.New("ready check failed")

	// ErrHashMismatch marks an extension package whose digest did not match the expected hash.
	ErrHashMismatch = errors.New("hash mismatch")

	// ErrUndefinedVariable is returned when a template references an unknown parameter.
	ErrUndefinedVariable = errors.New("undefined variable")

	// ErrTransport is returned for network-level failures talking to a remote endpoint.
	ErrTransport = errors.New("transport error")

	// ErrApplication is returned when a REST endpoint answers with a non-2xx status.
	ErrApplication = errors.New("application error")

	// ErrNotImplemented is returned by cloud providers for capabilities they lack.
	ErrNotImplemented = errors.New("not implemented")
)

// TransportError is a network-level failure. The cause text is kept intact.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// ApplicationError is a REST response with a non-2xx status.
type ApplicationError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("%s %s failed with code %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// Is matches ErrApplication.
func (e *ApplicationError) Is(target error) bool {
	return target == ErrApplication
}
