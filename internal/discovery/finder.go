package discovery

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/SebastianBathrick/dporch/internal/wireproto"
)

// FinderConfig parameterizes one finder run.
type FinderConfig struct {
	DiscoveryPort int
	TargetNames   []string
}

// Finder discovers each named beacon in order and completes its TCP
// handshake, obtaining the beacon's listener URI.
type Finder struct {
	cfg FinderConfig
}

// NewFinder constructs a Finder for cfg.
func NewFinder(cfg FinderConfig) *Finder {
	return &Finder{cfg: cfg}
}

// Target is one resolved beacon: its advertised name and the listener URI
// returned by its handshake acknowledgement.
type Target struct {
	Name string
	URI  string
}

// Run resolves every configured target name, in order. selfDescription is
// sent verbatim as the finder's self-description during each handshake.
// Cancellation aborts immediately with a partial result.
func (f *Finder) Run(ctx context.Context, selfDescription []byte) ([]Target, error) {
	// Address reuse lets multiple finder processes coexist on one host
	// bound to the same discovery port.
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", f.cfg.DiscoveryPort))
	if err != nil {
		return nil, fmt.Errorf("discovery: finder bind udp: %w", err)
	}
	sock := pc
	defer sock.Close()

	var targets []Target
	for _, name := range f.cfg.TargetNames {
		if ctx.Err() != nil {
			return targets, fmt.Errorf("discovery: finder cancelled: %w", ctx.Err())
		}

		target, err := f.resolveOne(ctx, sock, name, selfDescription)
		if err != nil {
			return targets, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func (f *Finder) resolveOne(ctx context.Context, sock net.PacketConn, name string, selfDescription []byte) (Target, error) {
	buf := make([]byte, 2048)

	for {
		if ctx.Err() != nil {
			return Target{}, fmt.Errorf("discovery: finder cancelled: %w", ctx.Err())
		}

		if err := sock.SetReadDeadline(deadlineNow()); err != nil {
			return Target{}, fmt.Errorf("discovery: finder set deadline: %w", err)
		}
		n, addr, err := sock.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return Target{}, fmt.Errorf("discovery: finder read udp: %w", err)
		}

		adv, err := wireproto.DecodeAdvertisement(buf[:n])
		if err != nil || adv.Name != name {
			continue
		}

		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}

		uri, err := f.handshake(udpAddr.IP, adv.ListenerPort, selfDescription)
		if err != nil {
			return Target{}, err
		}
		return Target{Name: name, URI: uri}, nil
	}
}

func (f *Finder) handshake(ip net.IP, port uint16, selfDescription []byte) (string, error) {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", ip.String(), port))
	if err != nil {
		return "", fmt.Errorf("discovery: finder tcp dial: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write(selfDescription); err != nil {
		return "", fmt.Errorf("discovery: finder write self-description: %w", err)
	}

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("discovery: finder read ack: %w", err)
	}
	return string(buf[:n]), nil
}
