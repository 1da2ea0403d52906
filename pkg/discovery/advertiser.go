// Package discovery publishes and browses SPEKE endpoints with DNS-SD, so
// peers on the same network can find each other without exchanging
// addresses out of band. Knowing an endpoint is not knowing the password:
// the session handshake still authenticates both sides.
package discovery

import (
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// ServiceType is the DNS-SD service type for SPEKE endpoints.
const ServiceType = "_speke._tcp"

// defaultDomain is the mDNS domain.
const defaultDomain = "local."

// MDNSServer is the interface for an active mDNS service registration.
// This allows for dependency injection in tests.
type MDNSServer interface {
	// Shutdown stops the server.
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances.
type MDNSServerFactory interface {
	// Register creates a new mDNS server for the given service.
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

// zeroconfServerFactory is the production implementation using
// grandcat/zeroconf.
type zeroconfServerFactory struct{}

func (z *zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig holds configuration for the Advertiser.
type AdvertiserConfig struct {
	// InstanceName is the service instance name to publish. Required.
	InstanceName string

	// Port is the port the SPEKE listener accepts connections on. Required.
	Port int

	// TXT are optional TXT records (e.g. a display name).
	TXT []string

	// Interfaces specifies which network interfaces to advertise on.
	// If nil, all multicast interfaces are used.
	Interfaces []net.Interface

	// ServerFactory is the factory for creating mDNS servers.
	// If nil, the default zeroconf factory is used.
	ServerFactory MDNSServerFactory

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes a SPEKE endpoint to the local network.
type Advertiser struct {
	config  AdvertiserConfig
	factory MDNSServerFactory
	log     logging.LeveledLogger

	mu     sync.Mutex
	server MDNSServer
	closed bool
}

// NewAdvertiser creates an Advertiser with the given configuration.
func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	if config.InstanceName == "" {
		return nil, ErrInvalidInstance
	}
	if config.Port <= 0 || config.Port > 65535 {
		return nil, ErrInvalidPort
	}

	factory := config.ServerFactory
	if factory == nil {
		factory = &zeroconfServerFactory{}
	}

	a := &Advertiser{
		config:  config,
		factory: factory,
	}

	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}

	return a, nil
}

// Start begins advertising the endpoint.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		return ErrAlreadyStarted
	}

	server, err := a.factory.Register(
		a.config.InstanceName,
		ServiceType,
		defaultDomain,
		a.config.Port,
		a.config.TXT,
		a.config.Interfaces,
	)
	if err != nil {
		return err
	}
	a.server = server

	if a.log != nil {
		a.log.Infof("advertising %q on port %d", a.config.InstanceName, a.config.Port)
	}

	return nil
}

// Stop withdraws the advertisement. Idempotent.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.closed = true

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	if a.log != nil {
		a.log.Info("stopped advertising")
	}
}
