package step

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SebastianBathrick/dporch/internal/discovery"
	"github.com/SebastianBathrick/dporch/internal/logging"
	"github.com/SebastianBathrick/dporch/internal/metrics"
	"github.com/SebastianBathrick/dporch/internal/resilience"
	"github.com/SebastianBathrick/dporch/internal/transport"
	"github.com/SebastianBathrick/dporch/internal/wireproto"
)

const sendJoinTimeout = 10 * time.Second

// OutputConfig parameterizes one Output step.
type OutputConfig struct {
	PipelineName  string
	DiscoveryPort int
	TargetNames   []string
	// Compress opts every target connection into zstd-compressing
	// outbound payloads above transport's size threshold.
	Compress bool
}

// Output discovers all targets by name and forwards every serialized
// payload to every target with the sender's GUID in frame 0.
type Output struct {
	cfg     OutputConfig
	ctx     context.Context
	guid    uuid.UUID
	logger  *logging.Logger
	metrics *metrics.Metrics

	targets  []*targetConn
	queue    chan []byte
	stopCh   chan struct{}
	wg       sync.WaitGroup

	errMu sync.Mutex
	err   error
}

type targetConn struct {
	name    string
	conn    *transport.Conn
	breaker *resilience.Breaker
}

// NewOutput constructs an un-awakened Output step.
func NewOutput(cfg OutputConfig) *Output {
	return &Output{
		cfg:    cfg,
		guid:   uuid.New(),
		queue:  make(chan []byte, 4096),
		stopCh: make(chan struct{}),
	}
}

// WithLogger attaches the logger each target breaker reports its
// trip/recovery transitions to. Optional.
func (o *Output) WithLogger(l *logging.Logger) *Output {
	o.logger = l
	return o
}

// WithMetrics attaches a metrics set the output step reports discovery
// duration and per-target send failures to. Optional.
func (o *Output) WithMetrics(m *metrics.Metrics) *Output {
	o.metrics = m
	return o
}

func (o *Output) Role() Role                    { return RoleOutput }
func (o *Output) SetCancel(ctx context.Context) { o.ctx = ctx }

// Awaken discovers every target, connects to each, and starts the
// background sender.
func (o *Output) Awaken() error {
	if len(o.cfg.TargetNames) == 0 {
		return nil
	}

	finder := discovery.NewFinder(discovery.FinderConfig{
		DiscoveryPort: o.cfg.DiscoveryPort,
		TargetNames:   o.cfg.TargetNames,
	})

	self, err := wireproto.EncodePeerDescriptor(wireproto.NewPeerDescriptor(o.cfg.PipelineName, o.guid))
	if err != nil {
		return fmt.Errorf("step: output awaken: %w", err)
	}

	discoveryStart := time.Now()
	found, err := finder.Run(o.ctx, self)
	if o.metrics != nil {
		o.metrics.RecordDiscovery("finder", time.Since(discoveryStart))
	}
	if err != nil {
		return fmt.Errorf("step: output discovery: %w", err)
	}
	if len(found) != len(o.cfg.TargetNames) {
		return fmt.Errorf("step: output discovery: found %d targets, want %d", len(found), len(o.cfg.TargetNames))
	}

	for _, t := range found {
		conn, err := transport.Dial(t.URI, o.cfg.Compress)
		if err != nil {
			return fmt.Errorf("step: output awaken: dial %s: %w", t.Name, err)
		}
		o.targets = append(o.targets, &targetConn{
			name:    t.Name,
			conn:    conn,
			breaker: resilience.NewForTarget(t.Name, o.onBreakerStateChange),
		})
	}

	o.wg.Add(1)
	go o.senderLoop()
	return nil
}

// Send enqueues payload for delivery to every target. The queue holds
// 4096 payloads: while it has room Send returns immediately, and once it
// is full Send blocks until the sender takes one or the step ends. A nil
// payload is silently dropped.
func (o *Output) Send(payload []byte) error {
	if err := o.takeErr(); err != nil {
		return err
	}
	if payload == nil {
		return nil
	}
	select {
	case o.queue <- payload:
		return nil
	case <-o.stopCh:
		return fmt.Errorf("step: output send: step has ended")
	}
}

func (o *Output) senderLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.stopCh:
			return
		case payload := <-o.queue:
			o.broadcast(payload)
		}
	}
}

func (o *Output) broadcast(payload []byte) {
	for _, t := range o.targets {
		_, err := t.breaker.Execute(func() (any, error) {
			return nil, t.conn.WriteFrame(o.guid, payload)
		})
		if err != nil {
			if o.metrics != nil {
				o.metrics.RecordOutputSendFailure(t.name)
			}
			o.setErr(fmt.Errorf("step: output send to %s: %w", t.name, err))
		}
	}
}

// onBreakerStateChange logs a target breaker's trip or recovery. Bound as
// the target breaker's OnStateChange callback; nil-safe since Output can
// run without a logger attached.
func (o *Output) onBreakerStateChange(target string, from, to resilience.State) {
	if o.logger == nil {
		return
	}
	o.logger.Sugar().Warnw("output target breaker changed state", "target", target, "from", from.String(), "to", to.String())
}

func (o *Output) setErr(err error) {
	o.errMu.Lock()
	defer o.errMu.Unlock()
	if o.err == nil {
		o.err = err
	}
}

func (o *Output) takeErr() error {
	o.errMu.Lock()
	defer o.errMu.Unlock()
	return o.err
}

// End signals the background sender to stop (payloads still queued may
// be dropped), joins it with a bounded timeout, then disconnects every
// target. Close errors are discarded; End always returns nil.
func (o *Output) End() error {
	select {
	case <-o.stopCh:
		return nil
	default:
		close(o.stopCh)
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(sendJoinTimeout):
	}

	for _, t := range o.targets {
		_ = t.conn.Close()
	}
	return nil
}
