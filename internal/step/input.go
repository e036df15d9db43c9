package step

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SebastianBathrick/dporch/internal/discovery"
	"github.com/SebastianBathrick/dporch/internal/fanin"
	"github.com/SebastianBathrick/dporch/internal/metrics"
	"github.com/SebastianBathrick/dporch/internal/netiface"
	"github.com/SebastianBathrick/dporch/internal/transport"
	"github.com/SebastianBathrick/dporch/internal/wireproto"
)

const (
	receiverPollInterval = time.Millisecond
	endJoinTimeout        = 3 * time.Second
)

// InputConfig parameterizes one Input step.
type InputConfig struct {
	PipelineName     string
	InboundInterface string
	// OutboundInterfaces is the set of interfaces the beacon broadcasts
	// advertisements on, per spec.md §4.4/§6. Falls back to
	// []string{InboundInterface} when empty, so a single-interface
	// pipeline needs no separate configuration.
	OutboundInterfaces []string
	DiscoveryPort      int
	ExpectedSources    int
}

// Input receives byte messages from ExpectedSources upstream peers and
// hands the driver one message from each per Receive call.
type Input struct {
	cfg     InputConfig
	ctx     context.Context
	metrics *metrics.Metrics

	listener   *transport.Listener
	buffer     *fanin.Buffer
	stopCh     chan struct{}
	wg         sync.WaitGroup
	connsMu    sync.Mutex
	conns      []*transport.Conn

	errMu sync.Mutex
	err   error
}

// NewInput constructs an un-awakened Input step.
func NewInput(cfg InputConfig) *Input {
	return &Input{cfg: cfg, stopCh: make(chan struct{})}
}

// WithMetrics attaches a metrics set the input step reports discovery
// duration and per-source fan-in queue depth to. Optional.
func (i *Input) WithMetrics(m *metrics.Metrics) *Input {
	i.metrics = m
	return i
}

func (i *Input) Role() Role                      { return RoleInput }
func (i *Input) SetCancel(ctx context.Context)   { i.ctx = ctx }

// Awaken binds the data listener, runs the beacon to completion, and
// starts the background receiver.
func (i *Input) Awaken() error {
	addr, err := netiface.InboundAddress(i.cfg.InboundInterface)
	if err != nil {
		return fmt.Errorf("step: input awaken: %w", err)
	}

	i.listener, err = transport.Listen(fmt.Sprintf("%s:0", addr.String()))
	if err != nil {
		return fmt.Errorf("step: input awaken: %w", err)
	}

	// Accept inbound data connections immediately so early sends aren't
	// lost while the beacon is still handshaking.
	i.wg.Add(1)
	go i.acceptLoop()

	if i.cfg.ExpectedSources == 0 {
		return nil
	}

	outboundIfaces := i.cfg.OutboundInterfaces
	if len(outboundIfaces) == 0 {
		outboundIfaces = []string{i.cfg.InboundInterface}
	}
	beacon := discovery.NewBeacon(discovery.BeaconConfig{
		Name:            i.cfg.PipelineName,
		OutboundIfaces:  outboundIfaces,
		DiscoveryPort:   i.cfg.DiscoveryPort,
		RequiredFinders: i.cfg.ExpectedSources,
	})

	listenerURI := fmt.Sprintf("tcp://%s:%d", addr.String(), i.listener.Port())
	discoveryStart := time.Now()
	descriptors, err := beacon.Run(i.ctx, i.listener.Port(), func(_ net.Addr, _ wireproto.PeerDescriptor) ([]byte, error) {
		return []byte(listenerURI), nil
	})
	if i.metrics != nil {
		i.metrics.RecordDiscovery("beacon", time.Since(discoveryStart))
	}
	if err != nil {
		return fmt.Errorf("step: input discovery: %w", err)
	}
	if len(descriptors) != i.cfg.ExpectedSources {
		return fmt.Errorf("step: input discovery: got %d sources, want %d", len(descriptors), i.cfg.ExpectedSources)
	}

	guids := make([]uuid.UUID, len(descriptors))
	names := make([]string, len(descriptors))
	for idx, d := range descriptors {
		g, err := uuid.Parse(d.GUID)
		if err != nil {
			return fmt.Errorf("step: input parse peer guid: %w", err)
		}
		guids[idx] = g
		names[idx] = d.Name
	}
	i.buffer = fanin.New(guids, names)
	if i.metrics != nil {
		i.buffer.SetDepthHook(i.metrics.SetFanInQueueDepth)
	}
	return nil
}

func (i *Input) acceptLoop() {
	defer i.wg.Done()
	for {
		select {
		case <-i.stopCh:
			return
		default:
		}

		conn := i.listener.Accept()
		if conn == nil {
			time.Sleep(receiverPollInterval)
			continue
		}

		i.connsMu.Lock()
		i.conns = append(i.conns, conn)
		i.connsMu.Unlock()

		i.wg.Add(1)
		go i.readLoop(conn)
	}
}

func (i *Input) readLoop(conn *transport.Conn) {
	defer i.wg.Done()
	for {
		select {
		case <-i.stopCh:
			return
		default:
		}

		if err := conn.SetReadDeadline(receiverPollInterval); err != nil {
			i.setErr(fmt.Errorf("step: input read deadline: %w", err))
			return
		}
		frame, err := conn.ReadFrame()
		if err != nil {
			if isTimeoutErr(err) {
				continue
			}
			return
		}

		if i.buffer != nil {
			i.buffer.Enqueue(frame.GUID, frame.Payload)
		}
	}
}

func (i *Input) setErr(err error) {
	i.errMu.Lock()
	defer i.errMu.Unlock()
	if i.err == nil {
		i.err = err
	}
}

func (i *Input) takeErr() error {
	i.errMu.Lock()
	defer i.errMu.Unlock()
	return i.err
}

// Receive blocks until all sources have at least one message queued, or
// cancellation fires, or the background receiver has captured a fatal
// error.
func (i *Input) Receive() (map[string][]byte, error) {
	if i.buffer == nil {
		return nil, nil
	}

	for {
		if err := i.takeErr(); err != nil {
			return nil, err
		}
		if i.buffer.AllReady() {
			return i.buffer.DequeueAll(), nil
		}
		select {
		case <-i.ctx.Done():
			return nil, i.ctx.Err()
		case <-time.After(receiverPollInterval):
		}
	}
}

// End stops the background receiver and releases the listener. No
// exceptions propagate.
func (i *Input) End() error {
	select {
	case <-i.stopCh:
		return nil // already ended
	default:
		close(i.stopCh)
	}

	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(endJoinTimeout):
	}

	i.connsMu.Lock()
	for _, c := range i.conns {
		c.Close()
	}
	i.connsMu.Unlock()

	if i.listener != nil {
		_ = i.listener.Close()
	}
	return nil
}

func isTimeoutErr(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
