package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SebastianBathrick/dporch/internal/logging"
	"github.com/SebastianBathrick/dporch/internal/step"
)

// fakeStep is a minimal lifecycle recorder shared by every fake role
// below, so tests can assert awaken/end order without a real transport.
type fakeStep struct {
	role       step.Role
	awakened   bool
	ended      bool
	failAwaken bool
	failEnd    bool
	ctx        context.Context

	mu  sync.Mutex
	log *[]string
}

func (f *fakeStep) Role() step.Role { return f.role }

func (f *fakeStep) SetCancel(ctx context.Context) { f.ctx = ctx }

func (f *fakeStep) Awaken() error {
	if f.failAwaken {
		return errors.New("fake: awaken failed")
	}
	f.awakened = true
	f.record("awaken:" + f.role.String())
	return nil
}

func (f *fakeStep) End() error {
	f.ended = true
	f.record("end:" + f.role.String())
	if f.failEnd {
		return errors.New("fake: end failed")
	}
	return nil
}

func (f *fakeStep) record(s string) {
	if f.log == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.log = append(*f.log, s)
}

type fakeInput struct {
	fakeStep
	messages []map[string][]byte
	idx      int
	blockCh  chan struct{}
}

func (f *fakeInput) Receive() (map[string][]byte, error) {
	if f.blockCh != nil {
		select {
		case <-f.blockCh:
		case <-f.ctx.Done():
			return nil, f.ctx.Err()
		}
	}
	if f.idx >= len(f.messages) {
		<-f.ctx.Done()
		return nil, f.ctx.Err()
	}
	m := f.messages[f.idx]
	f.idx++
	return m, nil
}

type fakeDeserialize struct {
	fakeStep
}

func (f *fakeDeserialize) Deserialize(bySource map[string][]byte) (any, error) {
	return bySource, nil
}

type fakeScript struct {
	fakeStep
	fn func(any) (any, error)
}

func (f *fakeScript) Invoke(arg any) (any, error) {
	if f.fn != nil {
		return f.fn(arg)
	}
	return arg, nil
}

type fakeSerialize struct {
	fakeStep
}

func (f *fakeSerialize) Serialize(value any) ([]byte, error) {
	return []byte("ok"), nil
}

type fakeOutput struct {
	fakeStep
	sent [][]byte
	mu   sync.Mutex
}

func (f *fakeOutput) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return nil
}

func testLogger() *logging.Logger { return logging.NewDefault() }

func TestConfigValidateRejectsMissingScripts(t *testing.T) {
	cfg := Config{Name: "p"}
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsUnpairedInput(t *testing.T) {
	cfg := Config{
		Name:    "p",
		Scripts: []step.ScriptStep{&fakeScript{fakeStep: fakeStep{role: step.RoleScript}}},
		Input:   &fakeInput{fakeStep: fakeStep{role: step.RoleInput}},
	}
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateAcceptsScriptOnlyChain(t *testing.T) {
	cfg := Config{
		Name:    "p",
		Scripts: []step.ScriptStep{&fakeScript{fakeStep: fakeStep{role: step.RoleScript}}},
	}
	assert.NoError(t, cfg.Validate())
}

// TestDriverCancelCommutes exercises S1/S2-style behavior: a driver whose
// input has no queued messages blocks forever in Receive, but cancelling the driver tears it
// down and reports ExitCancelled, never ExitFailed.
func TestDriverCancelCommutes(t *testing.T) {
	var log []string
	block := make(chan struct{})
	input := &fakeInput{fakeStep: fakeStep{role: step.RoleInput, log: &log}, blockCh: block}
	deser := &fakeDeserialize{fakeStep: fakeStep{role: step.RoleDeserialize, log: &log}}
	scr := &fakeScript{fakeStep: fakeStep{role: step.RoleScript, log: &log}}
	ser := &fakeSerialize{fakeStep: fakeStep{role: step.RoleSerialize, log: &log}}
	out := &fakeOutput{fakeStep: fakeStep{role: step.RoleOutput, log: &log}}

	cfg := Config{
		Name:        "p",
		Input:       input,
		Deserialize: deser,
		Scripts:     []step.ScriptStep{scr},
		Serialize:   ser,
		Output:      out,
	}

	d := New(cfg, testLogger())
	exit, err := d.Start()
	require.NoError(t, err)

	close(block) // let Receive proceed into its forever-block

	time.Sleep(20 * time.Millisecond)
	d.Cancel()

	select {
	case e := <-exit:
		assert.Equal(t, ExitCancelled, e.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not exit after cancel")
	}

	assert.True(t, input.ended)
	assert.True(t, deser.ended)
	assert.True(t, scr.ended)
	assert.True(t, ser.ended)
	assert.True(t, out.ended)
}

// TestDriverIterationFailurePropagatesAndEndsInReverseOrder exercises the
// failure path: a script step errors mid-iteration, the driver exits
// with ExitFailed, and every awakened step is still ended, in reverse
// awaken order.
func TestDriverIterationFailurePropagatesAndEndsInReverseOrder(t *testing.T) {
	var log []string
	var mu sync.Mutex
	appendLog := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		log = append(log, s)
	}

	input := &fakeInput{
		fakeStep: fakeStep{role: step.RoleInput, log: &log},
		messages: []map[string][]byte{{}},
	}
	deser := &fakeDeserialize{fakeStep: fakeStep{role: step.RoleDeserialize, log: &log}}
	scr := &fakeScript{
		fakeStep: fakeStep{role: step.RoleScript, log: &log},
		fn: func(any) (any, error) {
			appendLog("invoke:fail")
			return nil, errors.New("boom")
		},
	}
	ser := &fakeSerialize{fakeStep: fakeStep{role: step.RoleSerialize, log: &log}}
	out := &fakeOutput{fakeStep: fakeStep{role: step.RoleOutput, log: &log}}

	cfg := Config{
		Name:        "p",
		Input:       input,
		Deserialize: deser,
		Scripts:     []step.ScriptStep{scr},
		Serialize:   ser,
		Output:      out,
	}

	d := New(cfg, testLogger())
	exit, err := d.Start()
	require.NoError(t, err)

	select {
	case e := <-exit:
		assert.Equal(t, ExitFailed, e.Kind)
		assert.Error(t, e.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not exit after script failure")
	}

	require.True(t, len(log) >= 5)
	endIdx := map[string]int{}
	for i, entry := range log {
		if len(entry) > 4 && entry[:4] == "end:" {
			endIdx[entry[4:]] = i
		}
	}
	assert.Less(t, endIdx["output"], endIdx["serialize"])
	assert.Less(t, endIdx["serialize"], endIdx["script"])
	assert.Less(t, endIdx["script"], endIdx["deserialize"])
	assert.Less(t, endIdx["deserialize"], endIdx["input"])
}

// TestDriverAwakenFailureEndsOnlyAwakenedSteps covers the startup
// failure path: the third step fails Awaken, so only the first two are
// ended, in reverse order, and no iteration ever runs.
func TestDriverAwakenFailureEndsOnlyAwakenedSteps(t *testing.T) {
	var log []string
	input := &fakeInput{fakeStep: fakeStep{role: step.RoleInput, log: &log}}
	deser := &fakeDeserialize{fakeStep: fakeStep{role: step.RoleDeserialize, log: &log}}
	scr := &fakeScript{fakeStep: fakeStep{role: step.RoleScript, log: &log, failAwaken: true}}

	cfg := Config{
		Name:        "p",
		Input:       input,
		Deserialize: deser,
		Scripts:     []step.ScriptStep{scr},
	}

	d := New(cfg, testLogger())
	exit, err := d.Start()
	require.NoError(t, err)

	select {
	case e := <-exit:
		assert.Equal(t, ExitFailed, e.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not exit after awaken failure")
	}

	assert.True(t, input.ended)
	assert.True(t, deser.ended)
	assert.False(t, scr.ended) // never awakened, so never ended
}
