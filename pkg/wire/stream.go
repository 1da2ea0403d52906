package wire

import (
	"encoding/binary"
	"io"
)

// LengthPrefixSize is the width of the frame length prefix in bytes.
// The length is always serialized as an 8-byte little-endian unsigned
// integer, independent of the host.
const LengthPrefixSize = 8

// MaxBodySize bounds the size of a single frame body. Frames above it are
// rejected before any allocation.
const MaxBodySize = 1 << 20 // 1 MiB

// StreamWriter frames envelopes onto an io.Writer.
type StreamWriter struct {
	w io.Writer
}

// NewStreamWriter creates a stream writer for length-prefixed framing.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

// WriteEnvelope encodes the envelope and writes it as a single frame. The
// prefix and body go out in one Write call so concurrent writers never
// interleave partial frames.
func (sw *StreamWriter) WriteEnvelope(e *Envelope) error {
	body, err := e.Encode()
	if err != nil {
		return err
	}

	buf := make([]byte, LengthPrefixSize+len(body))
	binary.LittleEndian.PutUint64(buf[:LengthPrefixSize], uint64(len(body)))
	copy(buf[LengthPrefixSize:], body)

	_, err = sw.w.Write(buf)
	return err
}

// StreamReader reads length-prefixed envelopes from an io.Reader.
type StreamReader struct {
	r io.Reader
}

// NewStreamReader creates a stream reader for length-prefixed framing.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: r}
}

// ReadEnvelope reads one frame and decodes its body. Transport errors from
// the underlying reader are returned unwrapped so callers can classify them;
// a short body surfaces as io.ErrUnexpectedEOF.
func (sr *StreamReader) ReadEnvelope() (*Envelope, error) {
	var lenBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(sr.r, lenBuf[:]); err != nil {
		return nil, err
	}

	bodyLen := binary.LittleEndian.Uint64(lenBuf[:])
	if bodyLen == 0 {
		return nil, ErrInvalidLength
	}
	if bodyLen > MaxBodySize {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(sr.r, body); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return Decode(body)
}
