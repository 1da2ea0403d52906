package session

import "errors"

// Session errors.
var (
	// ErrNilConn is returned when a session is created without a connection.
	ErrNilConn = errors.New("session: conn must not be nil")

	// ErrNilEngine is returned when a session is created without an engine.
	ErrNilEngine = errors.New("session: engine must not be nil")

	// ErrNoHandler is returned when Run is called without a handler.
	ErrNoHandler = errors.New("session: handler must not be nil")

	// ErrBadState is returned when Run is called outside Idle or Send is
	// called outside Running.
	ErrBadState = errors.New("session: operation not permitted in current state")
)
