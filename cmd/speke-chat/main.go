// speke-chat is a line-oriented chat between two peers that share a
// password. The peers run a SPEKE key exchange and then carry each line as
// an HMAC-authenticated frame.
//
// Usage:
//
//	speke-chat -listen :7725 -password hunter2
//	speke-chat -connect 192.168.1.10:7725 -password hunter2
//
// Options:
//
//	-listen     Address to listen on (one of -listen/-connect is required)
//	-connect    Address to connect to
//	-network    Stream network: tcp or unix (default: tcp)
//	-id         Local identity (default: host name)
//	-password   Shared password (required)
//	-group      Safe-prime group: 1536 or 2048 (default: 2048)
//	-advertise  Advertise the listener via DNS-SD under this instance name
//	-discover   List SPEKE endpoints on the local network and exit
//	-verbose    Enable debug logging
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net"
	"os"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/speke/pkg/discovery"
	"github.com/backkem/speke/pkg/session"
	"github.com/backkem/speke/pkg/speke"
	"github.com/backkem/speke/pkg/transport"
)

func main() {
	var (
		listenAddr  = flag.String("listen", "", "address to listen on")
		connectAddr = flag.String("connect", "", "address to connect to")
		network     = flag.String("network", "tcp", "stream network: tcp or unix")
		id          = flag.String("id", "", "local identity (default: host name)")
		password    = flag.String("password", "", "shared password")
		groupBits   = flag.Int("group", 2048, "safe-prime group: 1536 or 2048")
		advertise   = flag.String("advertise", "", "advertise the listener via DNS-SD under this instance name")
		discover    = flag.Bool("discover", false, "list SPEKE endpoints on the local network and exit")
		verbose     = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	loggerFactory := logging.NewDefaultLoggerFactory()
	if *verbose {
		loggerFactory.DefaultLogLevel = logging.LogLevelDebug
	}

	if *discover {
		listPeers(loggerFactory)
		return
	}

	var group *big.Int
	switch *groupBits {
	case 1536:
		group = speke.Group1536
	case 2048:
		group = speke.Group2048
	default:
		log.Fatalf("Unsupported group size %d; use 1536 or 2048", *groupBits)
	}

	if *password == "" {
		log.Fatal("A -password is required")
	}
	if (*listenAddr == "") == (*connectAddr == "") {
		log.Fatal("Exactly one of -listen or -connect is required")
	}

	if *id == "" {
		hostname, err := os.Hostname()
		if err != nil {
			log.Fatalf("Failed to determine host name: %v", err)
		}
		*id = hostname
	}

	var conn net.Conn
	var err error
	if *listenAddr != "" {
		conn, err = acceptPeer(*network, *listenAddr, *advertise, loggerFactory)
	} else {
		conn, err = transport.Dial(*network, *connectAddr)
	}
	if err != nil {
		log.Fatalf("Failed to establish connection: %v", err)
	}

	engine, err := speke.New(*id, []byte(*password), group)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	sess, err := session.New(session.Config{
		Conn:          conn,
		Engine:        engine,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	err = sess.Run(func(payload []byte, _ *session.Session) {
		fmt.Printf("peer> %s\n", payload)
	})
	if err != nil {
		log.Fatalf("Failed to run session: %v", err)
	}

	// Exit as soon as the session reaches a terminal state, even while
	// blocked reading stdin.
	go func() {
		for !sess.State().Terminal() {
			time.Sleep(100 * time.Millisecond)
		}
		fmt.Printf("session stopped: %s\n", sess.State())
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := sess.Send(line); err != nil {
			if errors.Is(err, speke.ErrNotInitialized) {
				fmt.Println("(handshake not complete yet, try again)")
				continue
			}
			break
		}
	}

	sess.Close()
	fmt.Printf("session stopped: %s\n", sess.State())
}

// acceptPeer listens for a single peer connection, optionally advertising
// the endpoint via DNS-SD while waiting.
func acceptPeer(network, address, advertise string, loggerFactory logging.LoggerFactory) (net.Conn, error) {
	connCh := make(chan net.Conn, 1)

	listener, err := transport.NewListener(transport.ListenerConfig{
		Network: network,
		Address: address,
		ConnHandler: func(conn net.Conn) {
			select {
			case connCh <- conn:
			default:
				conn.Close()
			}
		},
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return nil, err
	}
	if err := listener.Start(); err != nil {
		return nil, err
	}
	defer listener.Stop()

	if advertise != "" {
		tcpAddr, ok := listener.Addr().(*net.TCPAddr)
		if !ok {
			return nil, fmt.Errorf("can only advertise tcp listeners, not %s", network)
		}

		advertiser, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{
			InstanceName:  advertise,
			Port:          tcpAddr.Port,
			LoggerFactory: loggerFactory,
		})
		if err != nil {
			return nil, err
		}
		if err := advertiser.Start(); err != nil {
			return nil, err
		}
		defer advertiser.Stop()
	}

	fmt.Printf("waiting for a peer on %s...\n", listener.Addr())
	return <-connCh, nil
}

// listPeers browses the local network for SPEKE endpoints for a few
// seconds and prints what it finds.
func listPeers(loggerFactory logging.LoggerFactory) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resolver := discovery.NewResolver(discovery.ResolverConfig{LoggerFactory: loggerFactory})
	peers, err := resolver.Browse(ctx)
	if err != nil {
		log.Fatalf("Failed to browse: %v", err)
	}

	found := 0
	for peer := range peers {
		addr := peer.HostName
		if len(peer.Addrs) > 0 {
			addr = peer.Addrs[0].String()
		}
		fmt.Printf("%s\t%s:%d\n", peer.Instance, addr, peer.Port)
		found++
	}

	if found == 0 {
		fmt.Println("no SPEKE endpoints found")
	}
}
