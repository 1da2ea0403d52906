package speke

import "errors"

// Engine errors.
var (
	// ErrInvalidID is returned when an engine is constructed with an empty id.
	ErrInvalidID = errors.New("speke: id must not be empty")

	// ErrInvalidPassword is returned when an engine is constructed with an
	// empty password.
	ErrInvalidPassword = errors.New("speke: password must not be empty")

	// ErrInvalidPrime is returned when the supplied safe prime is nil,
	// non-positive, even or too small to form a subgroup.
	ErrInvalidPrime = errors.New("speke: safe prime must be a positive odd number p = 2q+1")

	// ErrInvalidGenerator is returned when the password hashes to a
	// degenerate generator (g <= 1 or g = p-1) for the supplied prime.
	ErrInvalidGenerator = errors.New("speke: password produces a degenerate generator")

	// ErrPeerKeyInvalid is returned when the remote public key fails the
	// range or subgroup sanity checks, or the remote id is malformed.
	ErrPeerKeyInvalid = errors.New("speke: peer public key or id invalid")

	// ErrAlreadyInitialized is returned when ProvideRemotePair is called on
	// an engine that already accepted a remote pair.
	ErrAlreadyInitialized = errors.New("speke: remote pair already provided")

	// ErrNotInitialized is returned when an operation requiring the derived
	// key material is called before ProvideRemotePair succeeds.
	ErrNotInitialized = errors.New("speke: remote pair not yet provided")
)
