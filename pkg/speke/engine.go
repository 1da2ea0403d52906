// Package speke implements the Simple Password Exponential Key Exchange.
//
// Two parties that share a low-entropy password and a safe prime each
// construct an Engine, exchange numbered ids and public keys, and arrive at
// the same high-entropy encryption key and nonce. A key confirmation digest
// proves the peer derived the same key (and therefore knows the same
// password) without revealing it, and HMAC signing authenticates subsequent
// messages.
//
// The Engine is a pure cryptographic state machine; transporting the
// exchanged values between peers is the session layer's job.
package speke

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/backkem/speke/pkg/crypto"
)

var one = big.NewInt(1)

// Engine holds the local state of one SPEKE exchange.
//
// An Engine is valid for a single exchange: the remote pair can be provided
// exactly once, and all key material is derived at that point. Methods are
// safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	p *big.Int // safe prime
	q *big.Int // (p - 1) / 2

	// generator = (SHA256(password) mod p)^2 mod p, a quadratic residue in
	// the subgroup of order q
	generator *big.Int

	privkey *big.Int // random in [1, q-1]
	pubkey  *big.Int // generator^privkey mod p

	idNumbered       string
	remoteIDNumbered string
	remotePubkey     *big.Int

	suite crypto.CipherSuite

	encryptionKey       []byte
	nonce               []byte
	keyConfirmationData []byte // sent to the peer
	remoteConfirmation  []byte // expected from the peer

	initialized bool
}

// New creates an Engine for the given id, shared password and safe prime.
// The prime must satisfy p = 2q+1 with q prime; primality is assumed, not
// verified. Use one of the named RFC 3526 groups unless the deployment
// supplies its own vetted prime.
//
// The returned engine's ID differs from the id argument: a process-wide
// counter suffix is appended to keep numbered ids unique (see Registry).
func New(id string, password []byte, safePrime *big.Int) (*Engine, error) {
	return NewWithRegistry(id, password, safePrime, defaultRegistry)
}

// NewWithRegistry is like New but draws the id counter from the given
// registry instead of the process-wide one.
func NewWithRegistry(id string, password []byte, safePrime *big.Int, reg *Registry) (*Engine, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if len(password) == 0 {
		return nil, ErrInvalidPassword
	}
	if safePrime == nil || safePrime.Sign() <= 0 || safePrime.Bit(0) == 0 {
		return nil, ErrInvalidPrime
	}

	e := &Engine{
		p:     safePrime,
		suite: crypto.DefaultSuite(),
	}

	// q = (p - 1) / 2
	e.q = new(big.Int).Sub(safePrime, one)
	e.q.Rsh(e.q, 1)
	if e.q.Cmp(one) <= 0 {
		return nil, ErrInvalidPrime
	}

	// generator = (H(password) mod p)^2 mod p
	g := new(big.Int).SetBytes(crypto.SHA256Slice(password))
	g.Mod(g, e.p)
	g.Mul(g, g)
	g.Mod(g, e.p)

	pMinus1 := new(big.Int).Sub(e.p, one)
	if g.Cmp(one) <= 0 || g.Cmp(pMinus1) == 0 {
		return nil, ErrInvalidGenerator
	}
	e.generator = g

	// privkey uniform in [1, q-1]
	k, err := rand.Int(rand.Reader, new(big.Int).Sub(e.q, one))
	if err != nil {
		return nil, err
	}
	e.privkey = k.Add(k, one)

	e.pubkey = new(big.Int).Exp(e.generator, e.privkey, e.p)

	e.idNumbered = fmt.Sprintf("%s-%d", id, reg.Next(id))

	return e, nil
}

// ID returns the numbered id to send to the remote party. It carries the
// counter suffix and differs from the id the engine was constructed with.
func (e *Engine) ID() string {
	return e.idNumbered
}

// PublicKey returns the big-endian serialization of the local public key.
func (e *Engine) PublicKey() []byte {
	return e.pubkey.Bytes()
}

// ProvideRemotePair feeds the engine the remote party's public key and
// numbered id, as received on the wire, and derives all key material.
//
// Returns ErrPeerKeyInvalid if the key falls outside (1, p-1), equals the
// generator, or the id is empty. Returns ErrAlreadyInitialized if a remote
// pair was already accepted; the derived material is unchanged in both
// cases.
func (e *Engine) ProvideRemotePair(remotePubkey []byte, remoteID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return ErrAlreadyInitialized
	}
	if remoteID == "" {
		return ErrPeerKeyInvalid
	}

	v := new(big.Int).SetBytes(remotePubkey)
	pMinus1 := new(big.Int).Sub(e.p, one)
	if v.Cmp(one) <= 0 || v.Cmp(pMinus1) >= 0 || v.Cmp(e.generator) == 0 {
		return ErrPeerKeyInvalid
	}

	km := e.keyingMaterial(remoteID, v)

	derived, err := crypto.HKDFSHA256(km, nil, nil, e.suite.KeyLen+e.suite.NonceLen)
	if err != nil {
		return err
	}

	e.remoteIDNumbered = remoteID
	e.remotePubkey = v
	e.encryptionKey = derived[:e.suite.KeyLen]
	e.nonce = derived[e.suite.KeyLen:]

	// Each side sends a digest that puts the peer first; it checks the
	// digest it receives against one that puts itself first. The asymmetry
	// is what makes the confirmation mutual.
	e.keyConfirmationData = e.confirmationDigest(remoteID, e.idNumbered, v, e.pubkey)
	e.remoteConfirmation = e.confirmationDigest(e.idNumbered, remoteID, e.pubkey, v)

	e.initialized = true
	return nil
}

// keyingMaterial computes
//
//	SHA256(min(ids) || max(ids) || min(pubkeys) || max(pubkeys) || Z)
//
// where Z = remotePubkey^privkey mod p is the Diffie-Hellman shared secret.
// Taking min/max makes the digest identical on both sides.
func (e *Engine) keyingMaterial(remoteID string, remotePubkey *big.Int) []byte {
	firstID, secondID := e.idNumbered, remoteID
	if firstID > secondID {
		firstID, secondID = secondID, firstID
	}

	firstKey, secondKey := e.pubkey, remotePubkey
	if firstKey.Cmp(secondKey) > 0 {
		firstKey, secondKey = secondKey, firstKey
	}

	z := new(big.Int).Exp(remotePubkey, e.privkey, e.p)

	h := crypto.NewSHA256()
	h.Write([]byte(firstID))
	h.Write([]byte(secondID))
	h.Write(firstKey.Bytes())
	h.Write(secondKey.Bytes())
	h.Write(z.Bytes())
	return h.Sum(nil)
}

// confirmationDigest computes HMAC(encryptionKey, firstID || secondID ||
// firstPubkey || secondPubkey). The HMAC is keyed with the HKDF-derived
// encryption key rather than the raw SPEKE key; this deviates from the
// original SPEKE description on purpose.
func (e *Engine) confirmationDigest(firstID, secondID string, firstPubkey, secondPubkey *big.Int) []byte {
	h := crypto.NewHMACSHA256(e.encryptionKey)
	h.Write([]byte(firstID))
	h.Write([]byte(secondID))
	h.Write(firstPubkey.Bytes())
	h.Write(secondPubkey.Bytes())
	return h.Sum(nil)
}

// EncryptionKey returns the derived symmetric encryption key. Its length is
// the KeyLen of the build's cipher suite.
func (e *Engine) EncryptionKey() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return append([]byte(nil), e.encryptionKey...), nil
}

// Nonce returns the derived nonce (initialization vector). Its length is the
// NonceLen of the build's cipher suite.
func (e *Engine) Nonce() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return append([]byte(nil), e.nonce...), nil
}

// KeyConfirmationData returns the digest to send to the remote party, which
// it verifies with ConfirmKey.
func (e *Engine) KeyConfirmationData() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return append([]byte(nil), e.keyConfirmationData...), nil
}

// ConfirmKey reports whether the remote party's key confirmation data
// matches the expected digest. The comparison is constant time.
func (e *Engine) ConfirmKey(remoteKCD []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return false, ErrNotInitialized
	}
	return crypto.HMACEqual(remoteKCD, e.remoteConfirmation), nil
}

// HMACSign signs a message with HMAC-SHA256 under the derived encryption
// key.
func (e *Engine) HMACSign(message []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return crypto.HMACSHA256(e.encryptionKey, message), nil
}

// ConfirmHMAC reports whether signature matches the HMAC of message under
// the derived encryption key. The comparison is constant time.
func (e *Engine) ConfirmHMAC(signature, message []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return false, ErrNotInitialized
	}
	return crypto.HMACEqual(signature, crypto.HMACSHA256(e.encryptionKey, message)), nil
}
