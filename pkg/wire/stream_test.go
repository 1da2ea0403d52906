package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/go-test/deep"
)

func TestStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewStreamWriter(&buf)
	r := NewStreamReader(&buf)

	sent := []*Envelope{
		{InitData: &InitData{ID: "alice-1", PublicKey: []byte{9, 8, 7}}},
		{KeyConfirmation: &KeyConfirmation{Data: []byte{1, 2, 3, 4}}},
		{SignedData: &SignedData{HMACSignature: []byte{5, 6}, Data: []byte("hello")}},
	}

	for _, e := range sent {
		if err := w.WriteEnvelope(e); err != nil {
			t.Fatalf("WriteEnvelope failed: %v", err)
		}
	}

	for i, want := range sent {
		got, err := r.ReadEnvelope()
		if err != nil {
			t.Fatalf("ReadEnvelope(%d) failed: %v", i, err)
		}
		if diff := deep.Equal(want, got); diff != nil {
			t.Errorf("envelope %d mismatch: %v", i, diff)
		}
	}

	if _, err := r.ReadEnvelope(); err != io.EOF {
		t.Errorf("ReadEnvelope(empty) = %v, want io.EOF", err)
	}
}

func TestStreamPrefixLayout(t *testing.T) {
	var buf bytes.Buffer
	w := NewStreamWriter(&buf)

	env := &Envelope{KeyConfirmation: &KeyConfirmation{Data: []byte{0xAB}}}
	if err := w.WriteEnvelope(env); err != nil {
		t.Fatalf("WriteEnvelope failed: %v", err)
	}

	raw := buf.Bytes()
	if len(raw) < LengthPrefixSize {
		t.Fatalf("frame shorter than prefix: %d bytes", len(raw))
	}

	// 8-byte little-endian length, then exactly that many body bytes.
	bodyLen := binary.LittleEndian.Uint64(raw[:LengthPrefixSize])
	if int(bodyLen) != len(raw)-LengthPrefixSize {
		t.Errorf("prefix = %d, body = %d bytes", bodyLen, len(raw)-LengthPrefixSize)
	}
}

func TestStreamReadErrors(t *testing.T) {
	t.Run("zero length", func(t *testing.T) {
		var frame [LengthPrefixSize]byte
		r := NewStreamReader(bytes.NewReader(frame[:]))
		if _, err := r.ReadEnvelope(); err != ErrInvalidLength {
			t.Errorf("ReadEnvelope = %v, want ErrInvalidLength", err)
		}
	})

	t.Run("oversized length", func(t *testing.T) {
		var frame [LengthPrefixSize]byte
		binary.LittleEndian.PutUint64(frame[:], MaxBodySize+1)
		r := NewStreamReader(bytes.NewReader(frame[:]))
		if _, err := r.ReadEnvelope(); err != ErrFrameTooLarge {
			t.Errorf("ReadEnvelope = %v, want ErrFrameTooLarge", err)
		}
	})

	t.Run("truncated prefix", func(t *testing.T) {
		r := NewStreamReader(bytes.NewReader([]byte{1, 2, 3}))
		if _, err := r.ReadEnvelope(); err != io.ErrUnexpectedEOF {
			t.Errorf("ReadEnvelope = %v, want io.ErrUnexpectedEOF", err)
		}
	})

	t.Run("truncated body", func(t *testing.T) {
		var frame [LengthPrefixSize + 2]byte
		binary.LittleEndian.PutUint64(frame[:LengthPrefixSize], 10)
		r := NewStreamReader(bytes.NewReader(frame[:]))
		if _, err := r.ReadEnvelope(); err != io.ErrUnexpectedEOF {
			t.Errorf("ReadEnvelope = %v, want io.ErrUnexpectedEOF", err)
		}
	})
}
