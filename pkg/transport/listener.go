// Package transport provides the stream transports a SPEKE session runs
// over: TCP and Unix stream sockets. The session layer itself is generic
// over net.Conn; this package supplies connected conns.
package transport

import (
	"net"
	"sync"

	"github.com/pion/logging"
)

// ConnHandler is called once for each accepted connection, on its own
// goroutine. The handler takes ownership of the conn; typically it wraps
// the conn in a session and runs it.
type ConnHandler func(conn net.Conn)

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Network is the stream network to listen on: "tcp" or "unix".
	// Ignored if Listener is provided.
	Network string

	// Address is the address to listen on (e.g. ":7725" or
	// "/run/speke.sock"). Ignored if Listener is provided.
	Address string

	// Listener is an optional pre-existing listener to use.
	Listener net.Listener

	// ConnHandler is called for each accepted connection. Required.
	ConnHandler ConnHandler

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Listener accepts stream connections and hands them to a ConnHandler.
type Listener struct {
	listener net.Listener
	handler  ConnHandler
	closeCh  chan struct{}
	wg       sync.WaitGroup
	log      logging.LeveledLogger

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewListener creates a listener with the given configuration. If no
// pre-existing net.Listener is supplied, one is created for the configured
// network and address.
func NewListener(config ListenerConfig) (*Listener, error) {
	if config.ConnHandler == nil {
		return nil, ErrNoConnHandler
	}

	l := &Listener{
		listener: config.Listener,
		handler:  config.ConnHandler,
		closeCh:  make(chan struct{}),
	}

	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("transport")
	}

	if l.listener == nil {
		switch config.Network {
		case "tcp", "unix":
		default:
			return nil, ErrUnsupportedNetwork
		}
		if config.Address == "" {
			return nil, ErrInvalidAddress
		}

		listener, err := net.Listen(config.Network, config.Address)
		if err != nil {
			return nil, err
		}
		l.listener = listener
	}

	return l, nil
}

// Start begins accepting connections.
func (l *Listener) Start() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.started = true
	l.mu.Unlock()

	if l.log != nil {
		l.log.Infof("listening on %s", l.listener.Addr())
	}

	l.wg.Add(1)
	go l.acceptLoop()

	return nil
}

// Stop closes the listener. Connections already handed to the ConnHandler
// stay open; their owners close them. For Unix sockets the socket file is
// removed with the listener.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.closed = true
	l.mu.Unlock()

	if l.log != nil {
		l.log.Info("stopping listener")
	}

	close(l.closeCh)
	err := l.listener.Close()
	l.wg.Wait()
	return err
}

// Addr returns the address the listener is listening on.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.closeCh:
				return
			default:
				if l.log != nil {
					l.log.Warnf("accept failed: %v", err)
				}
				continue
			}
		}

		if l.log != nil {
			l.log.Infof("accepted connection from %s", conn.RemoteAddr())
		}

		go l.handler(conn)
	}
}
