// Package wire defines the on-wire encoding of the SPEKE session protocol:
// a tagged envelope carrying exactly one of three message variants, framed
// on the stream with an 8-byte little-endian length prefix.
package wire

import "encoding/binary"

// Envelope variant tags.
const (
	tagInitData        = 1
	tagKeyConfirmation = 2
	tagSignedData      = 3
)

// fieldLenSize is the width of the per-field length prefix.
const fieldLenSize = 4

// InitData opens the handshake: the sender's numbered id and the big-endian
// serialization of its public key.
type InitData struct {
	ID        string
	PublicKey []byte
}

// KeyConfirmation carries the sender's key confirmation digest.
type KeyConfirmation struct {
	Data []byte
}

// SignedData carries an application payload and its HMAC signature.
type SignedData struct {
	HMACSignature []byte
	Data          []byte
}

// Envelope is the body of every frame on the stream. Exactly one variant
// must be set.
type Envelope struct {
	InitData        *InitData
	KeyConfirmation *KeyConfirmation
	SignedData      *SignedData
}

// Encode serializes the envelope body: a variant tag byte followed by the
// variant's fields, each prefixed with a 4-byte little-endian length.
func (e *Envelope) Encode() ([]byte, error) {
	set := 0
	if e.InitData != nil {
		set++
	}
	if e.KeyConfirmation != nil {
		set++
	}
	if e.SignedData != nil {
		set++
	}
	if set == 0 {
		return nil, ErrEmptyEnvelope
	}
	if set > 1 {
		return nil, ErrMultipleVariants
	}

	switch {
	case e.InitData != nil:
		buf := make([]byte, 0, 1+2*fieldLenSize+len(e.InitData.ID)+len(e.InitData.PublicKey))
		buf = append(buf, tagInitData)
		buf = appendField(buf, []byte(e.InitData.ID))
		buf = appendField(buf, e.InitData.PublicKey)
		return buf, nil

	case e.KeyConfirmation != nil:
		buf := make([]byte, 0, 1+fieldLenSize+len(e.KeyConfirmation.Data))
		buf = append(buf, tagKeyConfirmation)
		buf = appendField(buf, e.KeyConfirmation.Data)
		return buf, nil

	default:
		buf := make([]byte, 0, 1+2*fieldLenSize+len(e.SignedData.HMACSignature)+len(e.SignedData.Data))
		buf = append(buf, tagSignedData)
		buf = appendField(buf, e.SignedData.HMACSignature)
		buf = appendField(buf, e.SignedData.Data)
		return buf, nil
	}
}

// Decode parses an envelope body. Unknown tags, truncated fields and
// trailing bytes are rejected.
func Decode(data []byte) (*Envelope, error) {
	if len(data) < 1 {
		return nil, ErrMalformed
	}
	tag, rest := data[0], data[1:]

	switch tag {
	case tagInitData:
		id, rest, err := readField(rest)
		if err != nil {
			return nil, err
		}
		pubkey, rest, err := readField(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) != 0 {
			return nil, ErrMalformed
		}
		return &Envelope{InitData: &InitData{ID: string(id), PublicKey: pubkey}}, nil

	case tagKeyConfirmation:
		kcd, rest, err := readField(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) != 0 {
			return nil, ErrMalformed
		}
		return &Envelope{KeyConfirmation: &KeyConfirmation{Data: kcd}}, nil

	case tagSignedData:
		sig, rest, err := readField(rest)
		if err != nil {
			return nil, err
		}
		payload, rest, err := readField(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) != 0 {
			return nil, ErrMalformed
		}
		return &Envelope{SignedData: &SignedData{HMACSignature: sig, Data: payload}}, nil

	default:
		return nil, ErrUnknownTag
	}
}

// appendField appends a 4-byte little-endian length followed by the bytes.
func appendField(buf, field []byte) []byte {
	var lenBuf [fieldLenSize]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(field)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, field...)
}

// readField consumes one length-prefixed field, returning a copy of its
// bytes and the remaining input.
func readField(data []byte) ([]byte, []byte, error) {
	if len(data) < fieldLenSize {
		return nil, nil, ErrMalformed
	}
	n := binary.LittleEndian.Uint32(data[:fieldLenSize])
	data = data[fieldLenSize:]
	if uint64(n) > uint64(len(data)) {
		return nil, nil, ErrMalformed
	}
	field := make([]byte, n)
	copy(field, data[:n])
	return field, data[n:], nil
}
