// Package discovery implements the UDP beacon (receiving side of a link)
// and the UDP finder (sending side), per spec.md §4.4/§4.5.
package discovery

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/SebastianBathrick/dporch/internal/netiface"
	"github.com/SebastianBathrick/dporch/internal/wireproto"
)

const broadcastInterval = 250 * time.Millisecond

// BeaconConfig parameterizes one discovery run.
type BeaconConfig struct {
	Name             string
	OutboundIfaces   []string
	DiscoveryPort    int
	RequiredFinders  int
}

// Beacon advertises a listener and collects handshakes from exactly
// RequiredFinders unique remote finders.
type Beacon struct {
	cfg BeaconConfig
}

// NewBeacon constructs a Beacon for cfg.
func NewBeacon(cfg BeaconConfig) *Beacon {
	return &Beacon{cfg: cfg}
}

// Run advertises the port of its own handshake acceptor and blocks until
// discovery completes, cancellation fires, or the background broadcaster
// errors. It returns each accepted finder's self-description. listenerPort
// is not put on the wire: finders learn the data listener's address from
// the acknowledgement onDescriptor builds.
func (b *Beacon) Run(ctx context.Context, listenerPort uint16, onDescriptor func(net.Addr, wireproto.PeerDescriptor) ([]byte, error)) ([]wireproto.PeerDescriptor, error) {
	endpoints, err := netiface.DirectedBroadcasts(b.cfg.OutboundIfaces)
	if err != nil {
		return nil, fmt.Errorf("discovery: beacon: %w", err)
	}

	acceptor, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, fmt.Errorf("discovery: beacon: bind announcement acceptor: %w", err)
	}
	defer acceptor.Close()
	acceptorPort := uint16(acceptor.Addr().(*net.TCPAddr).Port)

	broadcastErr := make(chan error, 1)
	broadcastCtx, cancelBroadcast := context.WithCancel(ctx)
	defer cancelBroadcast()
	go b.broadcastLoop(broadcastCtx, endpoints, acceptorPort, broadcastErr)

	limiter := rate.NewLimiter(rate.Limit(50), 10)

	seen := make(map[string]bool)
	var descriptors []wireproto.PeerDescriptor

	type accepted struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan accepted, 1)
	go func() {
		for {
			c, err := acceptor.Accept()
			acceptCh <- accepted{c, err}
			if err != nil {
				return
			}
		}
	}()

	for len(descriptors) < b.cfg.RequiredFinders {
		select {
		case <-ctx.Done():
			return descriptors, fmt.Errorf("discovery: beacon cancelled: %w", ctx.Err())
		case err := <-broadcastErr:
			return descriptors, fmt.Errorf("discovery: beacon broadcaster failed: %w", err)
		case a := <-acceptCh:
			if a.err != nil {
				return descriptors, fmt.Errorf("discovery: beacon accept failed: %w", a.err)
			}
			if err := limiter.Wait(ctx); err != nil {
				a.conn.Close()
				return descriptors, fmt.Errorf("discovery: beacon cancelled: %w", err)
			}

			remote := a.conn.RemoteAddr().String()
			if seen[remote] {
				a.conn.Close()
				return descriptors, fmt.Errorf("discovery: beacon: remote %s connected more than once", remote)
			}

			desc, ack, err := handleHandshake(a.conn, onDescriptor)
			a.conn.Close()
			if err != nil {
				return descriptors, err
			}
			_ = ack
			seen[remote] = true
			descriptors = append(descriptors, desc)
		}
	}
	return descriptors, nil
}

func handleHandshake(conn net.Conn, onDescriptor func(net.Addr, wireproto.PeerDescriptor) ([]byte, error)) (wireproto.PeerDescriptor, []byte, error) {
	reader := bufio.NewReaderSize(conn, 1024)
	line := make([]byte, 1024)
	n, err := reader.Read(line)
	if err != nil {
		return wireproto.PeerDescriptor{}, nil, fmt.Errorf("discovery: beacon read handshake: %w", err)
	}

	desc, err := wireproto.DecodePeerDescriptor(line[:n])
	if err != nil {
		return wireproto.PeerDescriptor{}, nil, fmt.Errorf("discovery: beacon decode handshake: %w", err)
	}

	ack, err := onDescriptor(conn.RemoteAddr(), desc)
	if err != nil {
		return wireproto.PeerDescriptor{}, nil, fmt.Errorf("discovery: beacon build ack: %w", err)
	}
	if len(ack) > 1024 {
		ack = ack[:1024]
	}
	if _, err := conn.Write(ack); err != nil {
		return wireproto.PeerDescriptor{}, nil, fmt.Errorf("discovery: beacon write ack: %w", err)
	}
	return desc, ack, nil
}

func (b *Beacon) broadcastLoop(ctx context.Context, endpoints []netiface.Endpoint, listenerPort uint16, errCh chan<- error) {
	conns := make([]*net.UDPConn, 0, len(endpoints))
	for range endpoints {
		c, err := net.ListenUDP("udp4", nil)
		if err != nil {
			errCh <- fmt.Errorf("discovery: beacon open broadcast socket: %w", err)
			return
		}
		conns = append(conns, c)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	payload, err := wireproto.EncodeAdvertisement(wireproto.Advertisement{
		Name:         b.cfg.Name,
		ListenerPort: listenerPort,
	})
	if err != nil {
		errCh <- fmt.Errorf("discovery: beacon encode advertisement: %w", err)
		return
	}

	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	for {
		for i, ep := range endpoints {
			addr := &net.UDPAddr{IP: ep.Broadcast, Port: b.cfg.DiscoveryPort}
			if _, err := conns[i].WriteToUDP(payload, addr); err != nil {
				errCh <- fmt.Errorf("discovery: beacon broadcast on %s: %w", ep.InterfaceName, err)
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
