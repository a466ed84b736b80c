package netio

import "errors"

// Errors returned by the client. They are wrapped with request context, so
// callers should test them with errors.Is.
var (
	// ErrConnect covers DNS failures, refused connections, timeouts and
	// rejected credentials. The device does not let us tell these apart.
	ErrConnect = errors.New("netio: connect failed")

	// ErrTimeout is wrapped together with ErrConnect when a request exceeds
	// the client timeout.
	ErrTimeout = errors.New("netio: request timed out")

	// ErrDecode means the response body was not a valid device document.
	ErrDecode = errors.New("netio: decode failed")

	// ErrInvalidSelector is returned for the error sentinel, an identifier
	// beyond the outlet count, or AllOutlets where a single outlet is needed.
	ErrInvalidSelector = errors.New("netio: invalid outlet selector")

	// ErrInvalidAction is returned when a read-only action is used as a command.
	ErrInvalidAction = errors.New("netio: invalid outlet action")

	// ErrWriteRejected means the device answered a write with a non-200 status.
	ErrWriteRejected = errors.New("netio: write rejected")
)
