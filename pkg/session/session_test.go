package session

import (
	"bytes"
	"errors"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/pion/transport/v3/test"

	"github.com/backkem/speke/pkg/speke"
	"github.com/backkem/speke/pkg/wire"
)

const waitInterval = time.Millisecond

var testDeadline = 5 * time.Second

// newTestEngine creates an engine against an isolated registry.
func newTestEngine(t *testing.T, id string, password []byte) *speke.Engine {
	t.Helper()
	e, err := speke.NewWithRegistry(id, password, speke.Group1536, speke.NewRegistry())
	if err != nil {
		t.Fatalf("creating engine %q: %v", id, err)
	}
	return e
}

// tcpPair returns two ends of a loopback TCP connection. Kernel socket
// buffers keep small frame writes from blocking, which an unbuffered
// in-memory pipe would not.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	type accepted struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan accepted, 1)
	go func() {
		conn, err := ln.Accept()
		acceptCh <- accepted{conn, err}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	server := <-acceptCh
	if server.err != nil {
		client.Close()
		t.Fatalf("accept: %v", server.err)
	}

	return client, server.conn
}

// newSessionPair connects two sessions over a loopback TCP connection.
func newSessionPair(t *testing.T, passwordA, passwordB []byte) (*Session, *Session) {
	t.Helper()

	connA, connB := tcpPair(t)

	a, err := New(Config{Conn: connA, Engine: newTestEngine(t, "alice", passwordA)})
	if err != nil {
		t.Fatalf("creating session a: %v", err)
	}
	b, err := New(Config{Conn: connB, Engine: newTestEngine(t, "bob", passwordB)})
	if err != nil {
		t.Fatalf("creating session b: %v", err)
	}

	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	return a, b
}

// runBoth starts both sessions concurrently, each Run on its own goroutine,
// and reports a Run error as a test failure.
func runBoth(t *testing.T, a, b *Session, ha, hb Handler) {
	t.Helper()
	go func() {
		if err := a.Run(ha); err != nil {
			t.Errorf("a.Run failed: %v", err)
		}
	}()
	go func() {
		if err := b.Run(hb); err != nil {
			t.Errorf("b.Run failed: %v", err)
		}
	}()
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(testDeadline)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(waitInterval)
	}
	t.Fatalf("state = %v, want %v", s.State(), want)
}

// sendWhenReady retries Send until the handshake has provided the engine
// with key material.
func sendWhenReady(t *testing.T, s *Session, payload []byte) {
	t.Helper()
	deadline := time.Now().Add(testDeadline)
	for time.Now().Before(deadline) {
		err := s.Send(payload)
		if err == nil {
			return
		}
		if errors.Is(err, speke.ErrNotInitialized) || errors.Is(err, ErrBadState) {
			time.Sleep(waitInterval)
			continue
		}
		t.Fatalf("Send failed: %v", err)
	}
	t.Fatalf("session never became ready to send")
}

func discardHandler([]byte, *Session) {}

func TestHappyPath(t *testing.T) {
	lim := test.TimeOut(30 * time.Second)
	defer lim.Stop()

	a, b := newSessionPair(t, []byte("hunter2"), []byte("hunter2"))

	received := make(chan []byte, 1)
	runBoth(t, a, b, discardHandler, func(payload []byte, _ *Session) {
		received <- payload
	})

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	sendWhenReady(t, a, payload)

	select {
	case got := <-received:
		if !bytes.Equal(got, payload) {
			t.Errorf("received %x, want %x", got, payload)
		}
	case <-time.After(testDeadline):
		t.Fatal("payload never delivered")
	}

	if a.State() != StateRunning {
		t.Errorf("a.State() = %v, want Running", a.State())
	}
	if b.State() != StateRunning {
		t.Errorf("b.State() = %v, want Running", b.State())
	}

	a.Close()
	if a.State() != StateStopped {
		t.Errorf("a.State() after Close = %v, want Stopped", a.State())
	}
}

func TestHandlerSwapMidSession(t *testing.T) {
	lim := test.TimeOut(30 * time.Second)
	defer lim.Stop()

	a, b := newSessionPair(t, []byte("hunter2"), []byte("hunter2"))

	first := make(chan []byte, 1)
	second := make(chan []byte, 1)

	runBoth(t, a, b, discardHandler, func(payload []byte, s *Session) {
		first <- payload
		s.SetMessageHandler(func(payload []byte, _ *Session) {
			second <- payload
		})
	})

	sendWhenReady(t, a, []byte("one"))
	select {
	case got := <-first:
		if string(got) != "one" {
			t.Errorf("first handler got %q, want \"one\"", got)
		}
	case <-time.After(testDeadline):
		t.Fatal("first payload never delivered")
	}

	sendWhenReady(t, a, []byte("two"))
	select {
	case got := <-second:
		if string(got) != "two" {
			t.Errorf("second handler got %q, want \"two\"", got)
		}
	case <-time.After(testDeadline):
		t.Fatal("second payload never delivered to the swapped handler")
	}
}

func TestWrongPassword(t *testing.T) {
	lim := test.TimeOut(30 * time.Second)
	defer lim.Stop()

	a, b := newSessionPair(t, []byte("hunter2"), []byte("hunter3"))

	handled := make(chan struct{}, 2)
	handler := func([]byte, *Session) { handled <- struct{}{} }

	runBoth(t, a, b, handler, handler)

	waitForState(t, a, StateStoppedKeyConfirmationFailed)
	waitForState(t, b, StateStoppedKeyConfirmationFailed)

	select {
	case <-handled:
		t.Error("a payload was delivered despite mismatched passwords")
	default:
	}
}

func TestInvalidPeerKey(t *testing.T) {
	lim := test.TimeOut(30 * time.Second)
	defer lim.Stop()

	connA, connB := tcpPair(t)
	defer connB.Close()

	a, err := New(Config{Conn: connA, Engine: newTestEngine(t, "alice", []byte("hunter2"))})
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	defer a.Close()

	go a.Run(discardHandler)

	r := wire.NewStreamReader(connB)
	w := wire.NewStreamWriter(connB)

	// Consume alice's init data, then answer with a degenerate public key.
	if _, err := r.ReadEnvelope(); err != nil {
		t.Fatalf("reading init data: %v", err)
	}
	err = w.WriteEnvelope(&wire.Envelope{InitData: &wire.InitData{
		ID:        "mallory-1",
		PublicKey: big.NewInt(1).Bytes(),
	}})
	if err != nil {
		t.Fatalf("writing init data: %v", err)
	}

	waitForState(t, a, StateStoppedPeerKeyInvalid)
}

// manualPeer drives the peer side of the handshake by hand so tests control
// every frame alice sees.
type manualPeer struct {
	t      *testing.T
	engine *speke.Engine
	r      *wire.StreamReader
	w      *wire.StreamWriter
}

func newManualPeer(t *testing.T, conn net.Conn, password []byte) *manualPeer {
	return &manualPeer{
		t:      t,
		engine: newTestEngine(t, "bob", password),
		r:      wire.NewStreamReader(conn),
		w:      wire.NewStreamWriter(conn),
	}
}

// handshake exchanges init data and key confirmations with the session on
// the other end.
func (p *manualPeer) handshake() {
	p.t.Helper()

	env, err := p.r.ReadEnvelope()
	if err != nil {
		p.t.Fatalf("reading peer init data: %v", err)
	}
	if env.InitData == nil {
		p.t.Fatalf("expected init data, got %+v", env)
	}
	if err := p.engine.ProvideRemotePair(env.InitData.PublicKey, env.InitData.ID); err != nil {
		p.t.Fatalf("accepting remote pair: %v", err)
	}

	err = p.w.WriteEnvelope(&wire.Envelope{InitData: &wire.InitData{
		ID:        p.engine.ID(),
		PublicKey: p.engine.PublicKey(),
	}})
	if err != nil {
		p.t.Fatalf("writing init data: %v", err)
	}

	// The session answers our init data with its key confirmation.
	env, err = p.r.ReadEnvelope()
	if err != nil {
		p.t.Fatalf("reading key confirmation: %v", err)
	}
	if env.KeyConfirmation == nil {
		p.t.Fatalf("expected key confirmation, got %+v", env)
	}
	ok, err := p.engine.ConfirmKey(env.KeyConfirmation.Data)
	if err != nil || !ok {
		p.t.Fatalf("confirming key: ok=%v err=%v", ok, err)
	}

	kcd, err := p.engine.KeyConfirmationData()
	if err != nil {
		p.t.Fatalf("key confirmation data: %v", err)
	}
	err = p.w.WriteEnvelope(&wire.Envelope{KeyConfirmation: &wire.KeyConfirmation{Data: kcd}})
	if err != nil {
		p.t.Fatalf("writing key confirmation: %v", err)
	}
}

func (p *manualPeer) sendSigned(payload []byte, forge bool) {
	p.t.Helper()

	sig, err := p.engine.HMACSign(payload)
	if err != nil {
		p.t.Fatalf("signing payload: %v", err)
	}
	if forge {
		sig[0] ^= 0x01
	}
	err = p.w.WriteEnvelope(&wire.Envelope{SignedData: &wire.SignedData{
		HMACSignature: sig,
		Data:          payload,
	}})
	if err != nil {
		p.t.Fatalf("writing signed data: %v", err)
	}
}

func TestForgedHMACReachesBadBehaviorLimit(t *testing.T) {
	lim := test.TimeOut(30 * time.Second)
	defer lim.Stop()

	connA, connB := tcpPair(t)
	defer connB.Close()

	a, err := New(Config{Conn: connA, Engine: newTestEngine(t, "alice", []byte("hunter2"))})
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	defer a.Close()

	received := make(chan []byte, 1)
	go a.Run(func(payload []byte, _ *Session) {
		received <- payload
	})

	peer := newManualPeer(t, connB, []byte("hunter2"))
	peer.handshake()

	// Two forged frames, a valid one in between, then the third forged
	// frame hits the limit; the valid frame must not reset the counter.
	peer.sendSigned([]byte("forged-1"), true)
	peer.sendSigned([]byte("forged-2"), true)

	peer.sendSigned([]byte("valid"), false)
	select {
	case got := <-received:
		if string(got) != "valid" {
			t.Errorf("received %q, want \"valid\"", got)
		}
	case <-time.After(testDeadline):
		t.Fatal("valid payload never delivered")
	}
	if got := a.State(); got != StateRunning {
		t.Fatalf("state after two forged frames = %v, want Running", got)
	}

	peer.sendSigned([]byte("forged-3"), true)
	waitForState(t, a, StateStoppedPeerBadBehavior)
}

func TestPeerDisconnect(t *testing.T) {
	lim := test.TimeOut(30 * time.Second)
	defer lim.Stop()

	a, b := newSessionPair(t, []byte("hunter2"), []byte("hunter2"))
	runBoth(t, a, b, discardHandler, discardHandler)

	// Make sure the handshake completed before pulling the plug.
	sendWhenReady(t, a, []byte("ping"))

	b.Close()
	waitForState(t, a, StateStoppedPeerDisconnected)
}

func TestCloseIdempotent(t *testing.T) {
	lim := test.TimeOut(30 * time.Second)
	defer lim.Stop()

	a, b := newSessionPair(t, []byte("hunter2"), []byte("hunter2"))
	runBoth(t, a, b, discardHandler, discardHandler)

	// Run is only permitted in Idle, so let it finish before closing.
	waitForState(t, a, StateRunning)

	a.Close()
	if a.State() != StateStopped {
		t.Fatalf("state after Close = %v, want Stopped", a.State())
	}

	// Repeated closes and the read loop observing the dead conn must not
	// overwrite the first terminal state.
	a.Close()
	time.Sleep(10 * time.Millisecond)
	if a.State() != StateStopped {
		t.Errorf("state after second Close = %v, want Stopped", a.State())
	}
}

func TestNewValidation(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	if _, err := New(Config{Engine: newTestEngine(t, "alice", []byte("pw"))}); err != ErrNilConn {
		t.Errorf("New(nil conn) = %v, want ErrNilConn", err)
	}
	if _, err := New(Config{Conn: connA}); err != ErrNilEngine {
		t.Errorf("New(nil engine) = %v, want ErrNilEngine", err)
	}
}

func TestRunStateChecks(t *testing.T) {
	lim := test.TimeOut(30 * time.Second)
	defer lim.Stop()

	a, b := newSessionPair(t, []byte("hunter2"), []byte("hunter2"))

	if err := a.Run(nil); err != ErrNoHandler {
		t.Errorf("Run(nil) = %v, want ErrNoHandler", err)
	}
	if err := a.Send([]byte("early")); err != ErrBadState {
		t.Errorf("Send before Run = %v, want ErrBadState", err)
	}

	runBoth(t, a, b, discardHandler, discardHandler)
	sendWhenReady(t, a, []byte("ping"))

	if err := a.Run(discardHandler); err != ErrBadState {
		t.Errorf("second Run = %v, want ErrBadState", err)
	}

	a.Close()
	if err := a.Send([]byte("late")); err != ErrBadState {
		t.Errorf("Send after Close = %v, want ErrBadState", err)
	}
	if err := b.Run(discardHandler); err != ErrBadState {
		t.Errorf("Run after peer session started = %v, want ErrBadState", err)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:                         "Idle",
		StateRunning:                      "Running",
		StateStopped:                      "Stopped",
		StateStoppedError:                 "StoppedError",
		StateStoppedPeerDisconnected:      "StoppedPeerDisconnected",
		StateStoppedPeerKeyInvalid:        "StoppedPeerKeyInvalid",
		StateStoppedKeyConfirmationFailed: "StoppedKeyConfirmationFailed",
		StateStoppedPeerBadBehavior:       "StoppedPeerBadBehavior",
		State(99):                         "Unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}

	if StateRunning.Terminal() {
		t.Error("Running must not be terminal")
	}
	if !StateStoppedPeerBadBehavior.Terminal() {
		t.Error("StoppedPeerBadBehavior must be terminal")
	}
}
