// Package driver implements the pipeline driver: validates a step
// configuration, brings it up, runs iterations until cancellation, and
// tears it down. Per spec.md §4.1.
//
// The driver's per-iteration outcome is modeled with
// github.com/ib-77/rop3's three-way Result[T] (success / fail / cancel)
// rather than Go's usual (T, error) pair, because spec.md §7 treats
// cancellation as explicitly not an error and the driver must route it
// differently from a failure at every check-cancel point. runIteration
// itself is built as a rop/chain pipeline: each pipeline stage (receive,
// deserialize, scripts, serialize+send) is a Then step, and chain.Then
// already short-circuits past a Fail or Cancel the way the stage-by-stage
// ctx.Err() checks used to have to do by hand.
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ib-77/rop3/pkg/rop"
	"github.com/ib-77/rop3/pkg/rop/chain"

	"github.com/SebastianBathrick/dporch/internal/logging"
	"github.com/SebastianBathrick/dporch/internal/metrics"
	"github.com/SebastianBathrick/dporch/internal/step"
)

const startTimeout = 5 * time.Second

// ExitKind distinguishes the three ways a driver run can end.
type ExitKind int

const (
	ExitSuccess ExitKind = iota
	ExitFailed
	ExitCancelled
)

// Exit is the terminal report a driver publishes exactly once.
type Exit struct {
	Kind ExitKind
	Err  error
}

// Driver owns one validated step chain and runs it on a dedicated worker
// goroutine.
type Driver struct {
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	state State

	cancel context.CancelFunc
	ctx    context.Context
	exit   chan Exit
}

// New constructs a Driver in the Constructed state.
func New(cfg Config, logger *logging.Logger) *Driver {
	return &Driver{cfg: cfg, logger: logger, state: StateConstructed, exit: make(chan Exit, 1)}
}

// WithMetrics attaches a metrics set the driver reports iteration and
// state-transition counters to. Optional; passing nil leaves metrics
// reporting off.
func (d *Driver) WithMetrics(m *metrics.Metrics) *Driver {
	d.metrics = m
	return d
}

// State returns the driver's current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	if d.metrics != nil {
		d.metrics.SetDriverState(int(s))
	}
}

// Start validates the configuration on the caller's goroutine, launches
// the worker goroutine, and blocks up to 5s for it to publish started.
// Exit returns the channel the caller should drain exactly once for the
// final Exit report.
func (d *Driver) Start() (exit <-chan Exit, err error) {
	if err := d.cfg.Validate(); err != nil {
		return nil, err
	}
	d.setState(StateValidated)

	ctx, cancel := context.WithCancel(context.Background())
	d.ctx, d.cancel = ctx, cancel

	started := make(chan struct{})
	go d.run(ctx, started)

	select {
	case <-started:
		return d.exit, nil
	case <-time.After(startTimeout):
		cancel()
		return nil, fmt.Errorf("driver: worker did not start within %s", startTimeout)
	}
}

// Cancel signals the worker to stop at its next check-cancel point.
func (d *Driver) Cancel() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Driver) run(ctx context.Context, started chan struct{}) {
	close(started)

	for _, s := range d.cfg.steps() {
		s.SetCancel(ctx)
	}

	awakened, awakenErr := d.awakenAll(ctx)

	if awakenErr != nil {
		if len(awakened) > 0 {
			d.setState(StateEnding)
			d.endAll(awakened)
		}
		d.setState(StateFailed)
		d.publish(Exit{Kind: ExitFailed, Err: awakenErr})
		return
	}

	d.setState(StateIterating)
	iterErr := d.iterateLoop(ctx)

	d.setState(StateEnding)
	d.endAll(awakened)
	d.setState(StateTerminated)

	switch {
	case ctx.Err() != nil && iterErr == nil:
		d.logger.Sugar().Infow("driver cancelled", "name", d.cfg.Name)
		d.publish(Exit{Kind: ExitCancelled})
	case iterErr != nil:
		d.logger.Sugar().Errorw("driver failed", "name", d.cfg.Name, "cause", logging.RootCause(iterErr))
		d.publish(Exit{Kind: ExitFailed, Err: iterErr})
	default:
		d.publish(Exit{Kind: ExitSuccess})
	}
}

func (d *Driver) publish(e Exit) {
	select {
	case d.exit <- e:
	default:
	}
}

// awakenAll awakens every step in order, stopping at the first failure.
// It returns the steps that were successfully awakened, so the caller
// can end exactly those on failure.
func (d *Driver) awakenAll(ctx context.Context) ([]step.Step, error) {
	d.setState(StateAwakening)

	var awakened []step.Step
	for _, s := range d.cfg.steps() {
		if ctx.Err() != nil {
			return awakened, nil
		}
		if err := s.Awaken(); err != nil {
			return awakened, fmt.Errorf("driver: awaken %s step: %w", s.Role(), err)
		}
		awakened = append(awakened, s)
	}
	return awakened, nil
}

// endAll calls End on every awakened step in reverse order, best-effort:
// each step's error is logged and swallowed, never propagated.
func (d *Driver) endAll(awakened []step.Step) {
	for i := len(awakened) - 1; i >= 0; i-- {
		if err := awakened[i].End(); err != nil {
			d.logger.Sugar().Warnw("step end failed", "role", awakened[i].Role().String(), "error", err)
		}
	}
}

// iterateLoop runs iterations until the context is cancelled or an
// iteration fails.
func (d *Driver) iterateLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		start := time.Now()
		result := d.runIteration(ctx)
		if result.IsCancel() {
			return nil
		}
		if d.metrics != nil {
			d.metrics.RecordIteration(time.Since(start), !result.IsSuccess())
		}
		if !result.IsSuccess() {
			return result.Err()
		}
	}
	return nil
}

// runIteration executes one pass of input -> deserialize -> scripts ->
// serialize -> output as a rop/chain pipeline, so cancellation and
// failure route distinctly at every check-cancel point without each
// stage having to re-check the previous stage's outcome by hand.
func (d *Driver) runIteration(ctx context.Context) rop.Result[any] {
	if ctx.Err() != nil {
		return rop.Cancel[any](ctx.Err())
	}

	c := chain.FromValue[any](ctx, nil)
	c = chain.Then(c, d.receiveInput)
	c = chain.Then(c, d.deserialize)
	c = chain.Then(c, d.invokeScripts)
	c = chain.Then(c, d.serializeAndSend)
	return c.Result()
}

// receiveInput is runIteration's first chain stage: blocking for one
// message from every expected source.
func (d *Driver) receiveInput(ctx context.Context, _ any) rop.Result[any] {
	if d.cfg.Input == nil {
		return rop.Success[any](map[string][]byte(nil))
	}
	bySource, err := d.cfg.Input.Receive()
	if err != nil {
		if ctx.Err() != nil {
			return rop.Cancel[any](ctx.Err())
		}
		return rop.Fail[any](fmt.Errorf("driver: input receive: %w", err))
	}
	return rop.Success[any](bySource)
}

// deserialize is runIteration's second chain stage.
func (d *Driver) deserialize(ctx context.Context, bySource any) rop.Result[any] {
	if ctx.Err() != nil {
		return rop.Cancel[any](ctx.Err())
	}
	if d.cfg.Deserialize == nil {
		return rop.Success[any](nil)
	}
	v, err := d.cfg.Deserialize.Deserialize(bySource.(map[string][]byte))
	if err != nil {
		return rop.Fail[any](fmt.Errorf("driver: deserialize: %w", err))
	}
	return rop.Success[any](v)
}

// invokeScripts is runIteration's third chain stage: every configured
// script in order, each fed the previous script's return value.
func (d *Driver) invokeScripts(ctx context.Context, value any) rop.Result[any] {
	if ctx.Err() != nil {
		return rop.Cancel[any](ctx.Err())
	}
	for _, s := range d.cfg.Scripts {
		v, err := s.Invoke(value)
		if err != nil {
			return rop.Fail[any](fmt.Errorf("driver: script invoke: %w", err))
		}
		value = v
		if ctx.Err() != nil {
			return rop.Cancel[any](ctx.Err())
		}
	}
	return rop.Success[any](value)
}

// serializeAndSend is runIteration's final chain stage: serialize the
// scripts' result and hand it to Output, if either is configured.
func (d *Driver) serializeAndSend(ctx context.Context, value any) rop.Result[any] {
	if ctx.Err() != nil {
		return rop.Cancel[any](ctx.Err())
	}
	var outBytes []byte
	if d.cfg.Serialize != nil {
		b, err := d.cfg.Serialize.Serialize(value)
		if err != nil {
			return rop.Fail[any](fmt.Errorf("driver: serialize: %w", err))
		}
		outBytes = b
	}
	if ctx.Err() != nil {
		return rop.Cancel[any](ctx.Err())
	}
	if d.cfg.Output != nil {
		if err := d.cfg.Output.Send(outBytes); err != nil {
			return rop.Fail[any](fmt.Errorf("driver: output send: %w", err))
		}
	}
	return rop.Success[any](value)
}
