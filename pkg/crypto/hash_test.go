package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestSHA256KnownVector(t *testing.T) {
	// FIPS 180-2 test vector for "abc"
	want, _ := hex.DecodeString("ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad")

	got := SHA256([]byte("abc"))
	if !bytes.Equal(got[:], want) {
		t.Errorf("SHA256(\"abc\") = %x, want %x", got, want)
	}

	if !bytes.Equal(SHA256Slice([]byte("abc")), want) {
		t.Errorf("SHA256Slice mismatch with SHA256")
	}
}

func TestNewSHA256Incremental(t *testing.T) {
	h := NewSHA256()
	h.Write([]byte("ab"))
	h.Write([]byte("c"))

	whole := SHA256([]byte("abc"))
	if !bytes.Equal(h.Sum(nil), whole[:]) {
		t.Error("incremental digest differs from one-shot digest")
	}
}

func TestHashSize(t *testing.T) {
	got := SHA256(nil)
	if len(got) != HashSize {
		t.Errorf("digest length = %d, want %d", len(got), HashSize)
	}
}
