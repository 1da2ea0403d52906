package discovery

import (
	"context"
	"net"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// Peer describes a discovered SPEKE endpoint.
type Peer struct {
	// Instance is the advertised service instance name.
	Instance string

	// HostName is the peer's mDNS host name.
	HostName string

	// Port is the port the peer's SPEKE listener accepts connections on.
	Port int

	// Addrs are the peer's resolved addresses, IPv4 first.
	Addrs []net.IP

	// TXT are the peer's TXT records.
	TXT []string
}

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	// Interfaces specifies which network interfaces to browse on.
	// If nil, all multicast interfaces are used.
	Interfaces []net.Interface

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Resolver browses the local network for SPEKE endpoints.
type Resolver struct {
	config ResolverConfig
	log    logging.LeveledLogger
}

// NewResolver creates a Resolver with the given configuration.
func NewResolver(config ResolverConfig) *Resolver {
	r := &Resolver{config: config}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("discovery")
	}
	return r
}

// Browse discovers SPEKE endpoints until the context is cancelled. Peers
// are delivered on the returned channel, which is closed when browsing
// ends.
func (r *Resolver) Browse(ctx context.Context) (<-chan Peer, error) {
	var opts []zeroconf.ClientOption
	if r.config.Interfaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(r.config.Interfaces))
	}

	resolver, err := zeroconf.NewResolver(opts...)
	if err != nil {
		return nil, err
	}

	entries := make(chan *zeroconf.ServiceEntry)
	peers := make(chan Peer)

	// Browse is non-blocking; zeroconf closes the entries channel when the
	// context is cancelled.
	if err := resolver.Browse(ctx, ServiceType, defaultDomain, entries); err != nil {
		return nil, err
	}

	go func() {
		defer close(peers)
		for entry := range entries {
			if entry == nil {
				continue
			}
			peer := Peer{
				Instance: entry.Instance,
				HostName: entry.HostName,
				Port:     entry.Port,
				TXT:      entry.Text,
			}
			peer.Addrs = append(peer.Addrs, entry.AddrIPv4...)
			peer.Addrs = append(peer.Addrs, entry.AddrIPv6...)

			if r.log != nil {
				r.log.Infof("discovered %q at %s:%d", peer.Instance, peer.HostName, peer.Port)
			}

			select {
			case peers <- peer:
			case <-ctx.Done():
				return
			}
		}
	}()

	return peers, nil
}
