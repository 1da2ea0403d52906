package wire

import "errors"

// Codec errors.
var (
	// ErrEmptyEnvelope is returned when encoding an envelope with no
	// variant set.
	ErrEmptyEnvelope = errors.New("wire: envelope has no payload variant")

	// ErrMultipleVariants is returned when encoding an envelope with more
	// than one variant set.
	ErrMultipleVariants = errors.New("wire: envelope has more than one payload variant")

	// ErrUnknownTag is returned when decoding a body with an unrecognized
	// variant tag.
	ErrUnknownTag = errors.New("wire: unknown envelope tag")

	// ErrMalformed is returned when a body is truncated or carries trailing
	// bytes after its last field.
	ErrMalformed = errors.New("wire: malformed envelope body")

	// ErrInvalidLength is returned when a frame carries a zero length
	// prefix.
	ErrInvalidLength = errors.New("wire: invalid frame length")

	// ErrFrameTooLarge is returned when a frame length exceeds MaxBodySize.
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
)
