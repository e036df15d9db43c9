package step

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dop251/goja"

	"github.com/SebastianBathrick/dporch/internal/metrics"
	"github.com/SebastianBathrick/dporch/internal/scripthost"
	"github.com/SebastianBathrick/dporch/internal/vars"
)

// Script hosts one user script in its own namespace, invoking its `step`
// function per iteration and its optional `end` function on shutdown.
type Script struct {
	bridge     *scripthost.Bridge
	scriptPath string
	managed    []vars.Variable
	metrics    *metrics.Metrics

	ctx context.Context

	moduleKey string
	arity     int
	hasEnd    bool
}

// NewScript constructs an un-awakened Script step bound to scriptPath and
// the given managed variables.
func NewScript(bridge *scripthost.Bridge, scriptPath string, managed []vars.Variable) *Script {
	return &Script{bridge: bridge, scriptPath: scriptPath, managed: managed}
}

// WithMetrics attaches a metrics set the script step reports its per-call
// `step` invocation duration and outcome to. Optional.
func (s *Script) WithMetrics(m *metrics.Metrics) *Script {
	s.metrics = m
	return s
}

func (s *Script) Role() Role                    { return RoleScript }
func (s *Script) SetCancel(ctx context.Context) { s.ctx = ctx }

// Awaken executes the script's top-level code once, requires a callable
// `step` of arity 0 or 1, optionally detects `end`, and seeds every
// managed variable's initial value.
func (s *Script) Awaken() error {
	source, err := os.ReadFile(s.scriptPath)
	if err != nil {
		return fmt.Errorf("step: script awaken: read %s: %w", s.scriptPath, err)
	}

	acq := s.bridge.Acquire()
	defer acq.Release()

	key, err := s.bridge.AddModuleAutoKey(acq, string(source))
	if err != nil {
		return fmt.Errorf("step: script awaken: %w", err)
	}
	s.moduleKey = key

	arity, callable, err := s.bridge.FunctionArity(acq, key, "step")
	if err != nil {
		return fmt.Errorf("step: script awaken: %w", err)
	}
	if !callable || (arity != 0 && arity != 1) {
		return fmt.Errorf("step: script awaken: %s does not export a step function of arity 0 or 1", s.scriptPath)
	}
	s.arity = arity

	_, hasEnd, err := s.bridge.FunctionArity(acq, key, "end")
	if err != nil {
		return fmt.Errorf("step: script awaken: %w", err)
	}
	s.hasEnd = hasEnd

	for _, v := range s.managed {
		has, err := s.bridge.IsGlobal(acq, key, v.Name())
		if err != nil {
			return fmt.Errorf("step: script awaken: %w", err)
		}
		if !has {
			continue
		}
		if err := s.bridge.SetGlobal(acq, key, v.Name(), v.InitialValue()); err != nil {
			return fmt.Errorf("step: script awaken: seed %s: %w", v.Name(), err)
		}
	}
	return nil
}

// Invoke calls `step` with arg per spec.md §4.6's arity rules, then
// refreshes every managed variable's binding with its per-step value.
func (s *Script) Invoke(arg any) (any, error) {
	acq := s.bridge.Acquire()
	defer acq.Release()

	start := time.Now()
	var result goja.Value
	var err error
	switch s.arity {
	case 0:
		result, err = s.bridge.CallFunction(acq, s.moduleKey, "step")
	case 1:
		result, err = s.bridge.CallFunction(acq, s.moduleKey, "step", exportIfValue(arg))
	}
	if s.metrics != nil {
		s.metrics.RecordScriptInvocation(s.moduleKey, time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("step: script invoke: %w", err)
	}

	for _, v := range s.managed {
		has, err := s.bridge.IsGlobal(acq, s.moduleKey, v.Name())
		if err != nil {
			return nil, fmt.Errorf("step: script invoke: %w", err)
		}
		if !has {
			continue
		}
		if err := s.bridge.SetGlobal(acq, s.moduleKey, v.Name(), v.PerStepValue()); err != nil {
			return nil, fmt.Errorf("step: script invoke: refresh %s: %w", v.Name(), err)
		}
	}
	return result, nil
}

// End invokes the detected `end` callable, if any, returning its error to
// the caller. The "errors are logged and suppressed" contract is upheld
// one level up, in driver.endAll, which logs and swallows every step's
// End error rather than propagating it out of the driver run.
func (s *Script) End() error {
	if !s.hasEnd {
		return nil
	}
	s.hasEnd = false // a second End call is a no-op
	acq := s.bridge.Acquire()
	defer acq.Release()

	if _, err := s.bridge.CallFunction(acq, s.moduleKey, "end"); err != nil {
		return fmt.Errorf("step: script end: %w", err)
	}
	return nil
}

// exportIfValue unwraps a goja.Value back to a native Go value so it can
// be re-wrapped into this step's own namespace VM by CallFunction,
// avoiding a cross-runtime goja.Value handoff.
func exportIfValue(arg any) any {
	if v, ok := arg.(goja.Value); ok {
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return nil
		}
		return v.Export()
	}
	return arg
}
