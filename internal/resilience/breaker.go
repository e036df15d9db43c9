package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned by Execute when the target's breaker has
	// tripped open and is still within its Timeout window.
	ErrCircuitOpen = errors.New("resilience: target is unreachable, circuit open")
	// ErrTooManyRequests is returned by Execute when the breaker is
	// half-open and already has MaxRequests probe sends in flight.
	ErrTooManyRequests = errors.New("resilience: too many probe sends to target")
)

// State is one point in a target breaker's closed/half-open/open cycle.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the state's name, as reported to OnStateChange logging.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures one target's breaker.
type Settings struct {
	// MaxRequests bounds concurrent probe sends while half-open.
	MaxRequests uint32
	// Interval is how often a closed breaker's consecutive-failure
	// counters reset, so an old burst of failures doesn't linger
	// against a target that has since recovered.
	Interval time.Duration
	// Timeout is how long a tripped breaker stays open before the next
	// send is let through as a half-open probe.
	Timeout time.Duration
	// ReadyToTrip decides, after a failed send while closed, whether the
	// target should be cut off.
	ReadyToTrip func(counts Counts) bool
	// OnStateChange is called with the target's name whenever its
	// breaker transitions, so a caller can log the trip/recovery or
	// record it as a metric.
	OnStateChange func(target string, from State, to State)
}

// Counts tracks one target breaker's send outcomes since its last reset.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker guards sends to one named downstream target, tripping open
// after a run of failed sends so a dead target doesn't cost the output
// step's sender loop a full dial+write timeout on every queued message.
type Breaker struct {
	target   string
	settings Settings

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// New constructs a breaker for target with the given settings, filling
// in unset fields with generic defaults. Prefer NewForTarget for a
// breaker guarding a step.Output send.
func New(target string, settings Settings) *Breaker {
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}
	if settings.Interval == 0 {
		settings.Interval = 60 * time.Second
	}
	if settings.Timeout == 0 {
		settings.Timeout = 60 * time.Second
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures > 5
		}
	}

	return &Breaker{
		target:   target,
		settings: settings,
		state:    StateClosed,
		expiry:   time.Now().Add(settings.Interval),
	}
}

// NewForTarget builds a breaker tuned for step.Output's per-target sends:
// a short 15s recovery probe and a trip after 3 consecutive failures,
// since a dropped connection to a downstream target fails fast and
// repeatedly rather than degrading gradually the way a loaded HTTP
// service does. onStateChange is optional; pass nil to skip logging.
func NewForTarget(target string, onStateChange func(target string, from, to State)) *Breaker {
	settings := Settings{
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	settings.OnStateChange = onStateChange
	return New(target, settings)
}

// Name returns the guarded target's name.
func (b *Breaker) Name() string {
	return b.target
}

// State returns the breaker's current state, advancing an expired open
// breaker to half-open as a side effect.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, _ := b.currentState(now)
	return state
}

// Counts returns a copy of the target's current send-outcome counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.counts
}

// Execute attempts one send to the breaker's target, rejecting it
// without calling send at all if the circuit is open or the half-open
// probe budget is exhausted.
func (b *Breaker) Execute(send func() (interface{}, error)) (interface{}, error) {
	generation, err := b.beforeRequest()
	if err != nil {
		return nil, err
	}

	defer func() {
		e := recover()
		if e != nil {
			b.afterRequest(generation, false)
			panic(e)
		}
	}()

	result, err := send()
	b.afterRequest(generation, err == nil)
	return result, err
}

// beforeRequest admits or rejects one send attempt.
func (b *Breaker) beforeRequest() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	if state == StateOpen {
		return generation, ErrCircuitOpen
	}

	if state == StateHalfOpen && b.counts.Requests >= b.settings.MaxRequests {
		return generation, ErrTooManyRequests
	}

	b.counts.Requests++
	return generation, nil
}

// afterRequest records one send's outcome against the generation it was
// admitted under, discarding it if the breaker has since reset.
func (b *Breaker) afterRequest(before uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	if generation != before {
		return
	}

	if success {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

// onSuccess records a successful send and, while half-open, closes the
// breaker once enough probe sends have succeeded.
func (b *Breaker) onSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
	case StateHalfOpen:
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if b.counts.ConsecutiveSuccesses >= b.settings.MaxRequests {
			b.setState(StateClosed, now)
		}
	}
}

// onFailure records a failed send and trips the breaker open, either
// because ReadyToTrip fired while closed or because a half-open probe
// itself failed.
func (b *Breaker) onFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.TotalFailures++
		b.counts.ConsecutiveFailures++
		b.counts.ConsecutiveSuccesses = 0
		if b.settings.ReadyToTrip(b.counts) {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

// currentState advances a closed breaker past an expired counter window
// and an open breaker past its recovery timeout.
func (b *Breaker) currentState(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.resetCounts()
			b.expiry = now.Add(b.settings.Interval)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}

	return b.state, uint64(b.expiry.UnixNano())
}

// setState transitions the breaker, resetting its counters and notifying
// OnStateChange with the target's name.
func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state

	b.resetCounts()

	switch state {
	case StateClosed:
		b.expiry = now.Add(b.settings.Interval)
	case StateOpen:
		b.expiry = now.Add(b.settings.Timeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.target, prev, state)
	}
}

// resetCounts zeroes the target's send-outcome counters.
func (b *Breaker) resetCounts() {
	b.counts = Counts{}
}
