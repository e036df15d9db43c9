package scripthost

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SebastianBathrick/dporch/internal/logging"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	b := New(logging.NewDefault())
	require.NoError(t, b.Initialize("", t.TempDir()))
	return b
}

func TestAddModuleResolvesImportNameFromIndexedRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "util.py"), []byte("function step() { return 9; }"), 0o644))

	b := New(logging.NewDefault())
	require.NoError(t, b.Initialize("", root))
	acq := b.Acquire()
	defer acq.Release()

	require.NoError(t, b.AddModule(acq, "m1", "util"))

	result, err := b.CallFunction(acq, "m1", "step")
	require.NoError(t, err)
	assert.EqualValues(t, 9, result.ToInteger())
}

func TestAddModuleResolvesImportNameAddedAfterInitialize(t *testing.T) {
	root := t.TempDir()

	b := New(logging.NewDefault())
	require.NoError(t, b.Initialize("", root))

	// Added after the initial walk, so it's absent from the cached index
	// and only reachable through Resolve's own glob lookup.
	require.NoError(t, os.WriteFile(filepath.Join(root, "late.py"), []byte("function step() { return 4; }"), 0o644))

	acq := b.Acquire()
	defer acq.Release()

	require.NoError(t, b.AddModule(acq, "m1", "late"))

	result, err := b.CallFunction(acq, "m1", "step")
	require.NoError(t, err)
	assert.EqualValues(t, 4, result.ToInteger())
}

func TestAddModuleRejectsUnresolvableImportName(t *testing.T) {
	b := newTestBridge(t)
	acq := b.Acquire()
	defer acq.Release()

	assert.Error(t, b.AddModule(acq, "m1", "nope"))
}

func TestInitializeRefusesSecondCall(t *testing.T) {
	b := newTestBridge(t)
	assert.Error(t, b.Initialize("", ""))
}

func TestAddModuleDuplicateKeyFails(t *testing.T) {
	b := newTestBridge(t)
	acq := b.Acquire()
	defer acq.Release()

	require.NoError(t, b.AddModule(acq, "m1", "function step() { return 1; }"))
	assert.Error(t, b.AddModule(acq, "m1", "function step() { return 2; }"))
}

func TestIsFunctionAndCallFunction(t *testing.T) {
	b := newTestBridge(t)
	acq := b.Acquire()
	defer acq.Release()

	require.NoError(t, b.AddModule(acq, "m1", "function step(x) { return x + 1; }"))

	ok, err := b.IsFunction(acq, "m1", "step", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	result, err := b.CallFunction(acq, "m1", "step", 41)
	require.NoError(t, err)
	assert.EqualValues(t, 42, result.ToInteger())
}

func TestIsFunctionWrongArity(t *testing.T) {
	b := newTestBridge(t)
	acq := b.Acquire()
	defer acq.Release()

	require.NoError(t, b.AddModule(acq, "m1", "function step(x) { return x; }"))

	ok, err := b.IsFunction(acq, "m1", "step", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGlobals(t *testing.T) {
	b := newTestBridge(t)
	acq := b.Acquire()
	defer acq.Release()

	require.NoError(t, b.AddModule(acq, "m1", "var counter = 0;"))

	has, err := b.IsGlobal(acq, "m1", "counter")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, b.SetGlobal(acq, "m1", "counter", 7))
	has, err = b.IsGlobal(acq, "m1", "missing")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestAddModuleAutoKeyGeneratesUniqueKeys(t *testing.T) {
	b := newTestBridge(t)
	acq := b.Acquire()
	defer acq.Release()

	k1, err := b.AddModuleAutoKey(acq, "function step() { return 1; }")
	require.NoError(t, err)
	k2, err := b.AddModuleAutoKey(acq, "function step() { return 2; }")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestRemoveModuleIdempotent(t *testing.T) {
	b := newTestBridge(t)
	acq := b.Acquire()
	defer acq.Release()

	require.NoError(t, b.AddModule(acq, "m1", "function step() { return 1; }"))
	require.NoError(t, b.RemoveModule(acq, "m1"))
	require.NoError(t, b.RemoveModule(acq, "m1"))
}

func TestCallsWithoutAcquisitionFail(t *testing.T) {
	b := newTestBridge(t)
	err := b.AddModule(nil, "m1", "function step() {}")
	assert.Error(t, err)
}
