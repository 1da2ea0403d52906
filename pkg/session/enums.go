// Package session drives the SPEKE handshake and authenticated messaging
// over a connected stream.
//
// A Session owns a net.Conn and a speke.Engine. Run sends the local init
// data and starts a sequential read loop; once both sides have exchanged
// init data and key confirmations, application payloads flow as
// HMAC-signed frames and are delivered to the caller's handler. Peer-induced
// failures are never surfaced to the handler: they are classified into a
// terminal state observable via State.
package session

// State is the lifecycle state of a Session. All Stopped* states are
// terminal; the first one set wins.
type State int

const (
	// StateIdle is the state before Run.
	StateIdle State = iota

	// StateRunning is the state after Run until the session stops.
	StateRunning

	// StateStopped means the session was closed locally.
	StateStopped

	// StateStoppedError means an unclassified transport or codec error
	// stopped the session.
	StateStoppedError

	// StateStoppedPeerDisconnected means the peer closed the stream.
	StateStoppedPeerDisconnected

	// StateStoppedPeerKeyInvalid means the peer sent a public key or id
	// that failed the engine's sanity checks.
	StateStoppedPeerKeyInvalid

	// StateStoppedKeyConfirmationFailed means the peer's key confirmation
	// data did not match; it does not hold the same password.
	StateStoppedKeyConfirmationFailed

	// StateStoppedPeerBadBehavior means the peer reached the bad-behavior
	// limit (repeated invalid HMAC signatures).
	StateStoppedPeerBadBehavior
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	case StateStoppedError:
		return "StoppedError"
	case StateStoppedPeerDisconnected:
		return "StoppedPeerDisconnected"
	case StateStoppedPeerKeyInvalid:
		return "StoppedPeerKeyInvalid"
	case StateStoppedKeyConfirmationFailed:
		return "StoppedKeyConfirmationFailed"
	case StateStoppedPeerBadBehavior:
		return "StoppedPeerBadBehavior"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state is a terminal Stopped* state.
func (s State) Terminal() bool {
	return s >= StateStopped
}
