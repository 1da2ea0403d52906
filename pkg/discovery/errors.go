package discovery

import "errors"

// Discovery errors.
var (
	// ErrClosed is returned when an operation is attempted on a stopped
	// advertiser.
	ErrClosed = errors.New("discovery: closed")

	// ErrAlreadyStarted is returned when Start is called on a running
	// advertiser.
	ErrAlreadyStarted = errors.New("discovery: already started")

	// ErrInvalidInstance is returned when no instance name is configured.
	ErrInvalidInstance = errors.New("discovery: instance name must not be empty")

	// ErrInvalidPort is returned when the configured port is out of range.
	ErrInvalidPort = errors.New("discovery: port out of range")
)
