package session

import (
	"errors"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/pion/logging"

	"github.com/backkem/speke/pkg/speke"
	"github.com/backkem/speke/pkg/wire"
)

// BadBehaviorLimit is the number of authentication-layer violations (invalid
// HMAC signatures, or key confirmation or signed data arriving before the
// handshake) at which the session stops with StateStoppedPeerBadBehavior.
const BadBehaviorLimit = 3

// Handler receives authenticated application payloads. It is invoked once
// per valid SignedData frame, from the session's read goroutine, and only
// ever sees payloads whose HMAC verified. It may call Send,
// SetMessageHandler and Close on the session; it must return promptly
// because the next frame is not read until it does.
type Handler func(payload []byte, s *Session)

// Config configures a Session.
type Config struct {
	// Conn is the connected stream to the peer. Required.
	Conn net.Conn

	// Engine is the SPEKE engine for this exchange. Required. The session
	// takes ownership and releases it when it stops.
	Engine *speke.Engine

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Session drives the SPEKE handshake and authenticated messaging over a
// single connection. Reads are sequential: at most one read is outstanding,
// and the handler for frame n completes before frame n+1 is read.
type Session struct {
	conn   net.Conn
	reader *wire.StreamReader
	log    logging.LeveledLogger

	writeMu sync.Mutex
	writer  *wire.StreamWriter

	handlerMu sync.Mutex
	handler   Handler

	mu               sync.Mutex
	engine           *speke.Engine
	state            State
	started          bool
	closed           bool
	badBehaviorCount int
}

// New creates a session over an already connected stream.
func New(config Config) (*Session, error) {
	if config.Conn == nil {
		return nil, ErrNilConn
	}
	if config.Engine == nil {
		return nil, ErrNilEngine
	}

	s := &Session{
		conn:   config.Conn,
		reader: wire.NewStreamReader(config.Conn),
		writer: wire.NewStreamWriter(config.Conn),
		engine: config.Engine,
		state:  StateIdle,
	}

	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("session")
	}

	return s, nil
}

// Run starts the session: it installs the handler, begins reading frames
// and sends the local init data to the peer. Permitted only once, in the
// Idle state.
//
// The read loop is started before the init data goes out so a fast peer's
// response cannot race the first read.
func (s *Session) Run(handler Handler) error {
	if handler == nil {
		return ErrNoHandler
	}

	s.mu.Lock()
	if s.started || s.closed || s.state != StateIdle {
		s.mu.Unlock()
		return ErrBadState
	}
	s.started = true
	engine := s.engine
	s.mu.Unlock()

	s.SetMessageHandler(handler)

	go s.readLoop()

	init := &wire.Envelope{InitData: &wire.InitData{
		ID:        engine.ID(),
		PublicKey: engine.PublicKey(),
	}}
	if err := s.writeEnvelope(init); err != nil {
		// writeEnvelope already classified and stopped the session.
		return nil
	}

	s.mu.Lock()
	if !s.closed {
		s.state = StateRunning
	}
	s.mu.Unlock()

	return nil
}

// Send signs the payload and transmits it as a SignedData frame. Permitted
// only in the Running state.
//
// Transport failures are absorbed: they stop the session with a classified
// terminal state and are not returned. An error is returned only for state
// violations (ErrBadState, or the engine's ErrNotInitialized when the
// handshake has not completed yet).
func (s *Session) Send(payload []byte) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrBadState
	}
	engine := s.engine
	s.mu.Unlock()

	signature, err := engine.HMACSign(payload)
	if err != nil {
		return err
	}

	env := &wire.Envelope{SignedData: &wire.SignedData{
		HMACSignature: signature,
		Data:          payload,
	}}
	s.writeEnvelope(env)
	return nil
}

// SetMessageHandler replaces the message handler. Safe to call at any time,
// including from within the handler itself; an in-flight dispatch keeps the
// handler it already loaded.
func (s *Session) SetMessageHandler(handler Handler) {
	s.handlerMu.Lock()
	s.handler = handler
	s.handlerMu.Unlock()
}

// State returns the current session state. The value may be stale as soon
// as it is returned.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close stops the session locally, transitioning it to StateStopped. Like
// all transitions, it is idempotent: the first terminal state set wins.
func (s *Session) Close() {
	s.closeWith(StateStopped)
}

// closeWith latches the terminal state, shuts the stream down in both
// directions where the transport supports it, closes it and releases the
// engine. Shutdown errors are logged, never returned.
func (s *Session) closeWith(reason State) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = reason
	s.engine = nil
	s.mu.Unlock()

	if s.log != nil {
		s.log.Infof("session stopped: %s", reason)
	}

	if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil && s.log != nil {
			s.log.Debugf("shutdown write: %v", err)
		}
	}
	if cr, ok := s.conn.(interface{ CloseRead() error }); ok {
		if err := cr.CloseRead(); err != nil && s.log != nil {
			s.log.Debugf("shutdown read: %v", err)
		}
	}
	if err := s.conn.Close(); err != nil && s.log != nil {
		s.log.Debugf("close: %v", err)
	}
}

// readLoop reads and dispatches frames sequentially until the session
// stops. The engine and the session internals are not reentrant, so there
// is never more than one outstanding read.
func (s *Session) readLoop() {
	for {
		env, err := s.reader.ReadEnvelope()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.closeWith(classifyIOError(err))
			}
			return
		}

		if !s.handleEnvelope(env) {
			return
		}
	}
}

// handleEnvelope dispatches one inbound frame. Returns false when the
// session stopped and the read loop must exit.
func (s *Session) handleEnvelope(env *wire.Envelope) bool {
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine == nil {
		return false
	}

	switch {
	case env.InitData != nil:
		return s.handleInitData(engine, env.InitData)
	case env.KeyConfirmation != nil:
		return s.handleKeyConfirmation(engine, env.KeyConfirmation)
	case env.SignedData != nil:
		return s.handleSignedData(engine, env.SignedData)
	default:
		return true
	}
}

func (s *Session) handleInitData(engine *speke.Engine, init *wire.InitData) bool {
	err := engine.ProvideRemotePair(init.PublicKey, init.ID)
	switch {
	case err == nil:
	case errors.Is(err, speke.ErrAlreadyInitialized):
		// Benign duplicate; the peer's init data was already accepted.
		if s.log != nil {
			s.log.Debugf("ignoring duplicate init data from %q", init.ID)
		}
		return true
	case errors.Is(err, speke.ErrPeerKeyInvalid):
		if s.log != nil {
			s.log.Warnf("peer %q sent an invalid public key or id", init.ID)
		}
		s.closeWith(StateStoppedPeerKeyInvalid)
		return false
	default:
		if s.log != nil {
			s.log.Errorf("accepting remote pair: %v", err)
		}
		s.closeWith(StateStoppedError)
		return false
	}

	kcd, err := engine.KeyConfirmationData()
	if err != nil {
		s.closeWith(StateStoppedError)
		return false
	}
	return s.writeEnvelope(&wire.Envelope{
		KeyConfirmation: &wire.KeyConfirmation{Data: kcd},
	}) == nil
}

func (s *Session) handleKeyConfirmation(engine *speke.Engine, kc *wire.KeyConfirmation) bool {
	ok, err := engine.ConfirmKey(kc.Data)
	if err != nil {
		// Key confirmation before init data is a protocol violation.
		if s.log != nil {
			s.log.Warnf("premature key confirmation: %v", err)
		}
		return s.increaseBadBehavior()
	}
	if !ok {
		if s.log != nil {
			s.log.Warnf("key confirmation mismatch; peer password differs")
		}
		s.closeWith(StateStoppedKeyConfirmationFailed)
		return false
	}
	return true
}

func (s *Session) handleSignedData(engine *speke.Engine, sd *wire.SignedData) bool {
	ok, err := engine.ConfirmHMAC(sd.HMACSignature, sd.Data)
	if err != nil {
		if s.log != nil {
			s.log.Warnf("signed data before handshake: %v", err)
		}
		return s.increaseBadBehavior()
	}
	if !ok {
		if s.log != nil {
			s.log.Warnf("invalid HMAC signature on inbound frame")
		}
		return s.increaseBadBehavior()
	}

	s.handlerMu.Lock()
	handler := s.handler
	s.handlerMu.Unlock()

	handler(sd.Data, s)
	return true
}

// increaseBadBehavior counts one authentication-layer violation. Returns
// false once the limit is reached and the session has stopped.
func (s *Session) increaseBadBehavior() bool {
	s.mu.Lock()
	s.badBehaviorCount++
	hit := s.badBehaviorCount >= BadBehaviorLimit
	s.mu.Unlock()

	if hit {
		s.closeWith(StateStoppedPeerBadBehavior)
		return false
	}
	return true
}

// writeEnvelope frames and transmits one envelope. Write failures stop the
// session with a classified terminal state.
func (s *Session) writeEnvelope(env *wire.Envelope) error {
	s.writeMu.Lock()
	err := s.writer.WriteEnvelope(env)
	s.writeMu.Unlock()

	if err != nil {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			if s.log != nil {
				s.log.Debugf("write failed: %v", err)
			}
			s.closeWith(classifyIOError(err))
		}
	}
	return err
}

// classifyIOError maps a transport or codec error to a terminal state:
// end-of-stream, broken pipe and bad descriptor mean the peer went away;
// everything else is an unclassified error.
func classifyIOError(err error) State {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EBADF):
		return StateStoppedPeerDisconnected
	default:
		return StateStoppedError
	}
}
