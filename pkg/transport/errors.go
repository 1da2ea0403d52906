package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a stopped
	// listener.
	ErrClosed = errors.New("transport: closed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("transport: already started")

	// ErrNoConnHandler is returned when no connection handler is configured.
	ErrNoConnHandler = errors.New("transport: no connection handler configured")

	// ErrUnsupportedNetwork is returned for networks other than the
	// supported stream networks ("tcp", "unix").
	ErrUnsupportedNetwork = errors.New("transport: unsupported network")

	// ErrInvalidAddress is returned when an empty address is supplied.
	ErrInvalidAddress = errors.New("transport: invalid address")
)
