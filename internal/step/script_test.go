package step

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dop251/goja"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SebastianBathrick/dporch/internal/logging"
	"github.com/SebastianBathrick/dporch/internal/metrics"
	"github.com/SebastianBathrick/dporch/internal/scripthost"
	"github.com/SebastianBathrick/dporch/internal/vars"
)

func writeTestScript(t *testing.T, source string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "s.py")
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))
	return path
}

func newTestBridge(t *testing.T) *scripthost.Bridge {
	t.Helper()
	b := scripthost.New(logging.NewDefault())
	require.NoError(t, b.Initialize("", t.TempDir()))
	return b
}

func TestScriptZeroArityCounter(t *testing.T) {
	bridge := newTestBridge(t)
	path := writeTestScript(t, `
var counter = 0;
function step() { counter += 1; return counter; }
`)
	s := NewScript(bridge, path, nil)
	s.SetCancel(context.Background())
	require.NoError(t, s.Awaken())

	for i := 1; i <= 3; i++ {
		result, err := s.Invoke(nil)
		require.NoError(t, err)
		assert.EqualValues(t, i, result.(goja.Value).ToInteger())
	}
}

func TestScriptOneArityEchoesDeltaTime(t *testing.T) {
	bridge := newTestBridge(t)
	path := writeTestScript(t, `
var delta_time = null;
function step(x) { return delta_time; }
`)
	dt := vars.NewDeltaTime()
	s := NewScript(bridge, path, []vars.Variable{dt})
	s.SetCancel(context.Background())
	require.NoError(t, s.Awaken())

	result, err := s.Invoke(nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0.0, result.(goja.Value).ToFloat())
}

func TestScriptMissingStepFunctionFailsAwaken(t *testing.T) {
	bridge := newTestBridge(t)
	path := writeTestScript(t, `var x = 1;`)
	s := NewScript(bridge, path, nil)
	s.SetCancel(context.Background())
	assert.Error(t, s.Awaken())
}

func TestScriptRecordsInvocationMetrics(t *testing.T) {
	bridge := newTestBridge(t)
	path := writeTestScript(t, `
function step() { return 1; }
`)
	m := metrics.New()
	s := NewScript(bridge, path, nil).WithMetrics(m)
	s.SetCancel(context.Background())
	require.NoError(t, s.Awaken())

	_, err := s.Invoke(nil)
	require.NoError(t, err)

	count := testutil.ToFloat64(m.ScriptInvocations.WithLabelValues(s.moduleKey, "ok"))
	assert.Equal(t, 1.0, count)
}

func TestScriptRecordsFailedInvocationMetrics(t *testing.T) {
	bridge := newTestBridge(t)
	path := writeTestScript(t, `
function step() { throw new Error("boom"); }
`)
	m := metrics.New()
	s := NewScript(bridge, path, nil).WithMetrics(m)
	s.SetCancel(context.Background())
	require.NoError(t, s.Awaken())

	_, err := s.Invoke(nil)
	require.Error(t, err)

	count := testutil.ToFloat64(m.ScriptInvocations.WithLabelValues(s.moduleKey, "error"))
	assert.Equal(t, 1.0, count)
}

func TestScriptEndCalledWhenDetected(t *testing.T) {
	bridge := newTestBridge(t)
	path := writeTestScript(t, `
var ended = false;
function step() { return 1; }
function end() { ended = true; }
`)
	s := NewScript(bridge, path, nil)
	s.SetCancel(context.Background())
	require.NoError(t, s.Awaken())
	require.NoError(t, s.End())
}
