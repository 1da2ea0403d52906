package crypto

// CipherSuite describes the symmetric cipher the derived key material is
// intended for. The suite determines how many key and nonce bytes the key
// exchange must produce; the cipher itself is applied by the caller.
type CipherSuite struct {
	// Name is the OpenSSL-style cipher name.
	Name string

	// KeyLen is the cipher key length in bytes.
	KeyLen int

	// NonceLen is the cipher nonce (IV) length in bytes.
	NonceLen int
}

// Supported cipher suites.
var (
	// AES128GCM is AES-128 in Galois/Counter Mode.
	AES128GCM = CipherSuite{Name: "aes-128-gcm", KeyLen: 16, NonceLen: 12}

	// AES256GCM is AES-256 in Galois/Counter Mode.
	AES256GCM = CipherSuite{Name: "aes-256-gcm", KeyLen: 32, NonceLen: 12}

	// ChaCha20Poly1305 is the ChaCha20-Poly1305 AEAD.
	ChaCha20Poly1305 = CipherSuite{Name: "chacha20-poly1305", KeyLen: 32, NonceLen: 12}
)

// DefaultSuite returns the cipher suite the key exchange derives material
// for. The suite is a build-level choice, not negotiated on the wire.
func DefaultSuite() CipherSuite {
	return AES256GCM
}
