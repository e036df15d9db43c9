package launcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SebastianBathrick/dporch/internal/logging"
)

func TestSpawnTracksWorkerByConfigPath(t *testing.T) {
	m := NewManager("/bin/sleep", logging.NewDefault())
	w, err := m.Spawn("100")
	require.NoError(t, err)
	defer w.Cmd.Process.Kill()

	got, ok := m.Get("100")
	require.True(t, ok)
	assert.Equal(t, w, got)
	assert.Len(t, m.List(), 1)
}

func TestGetUnknownConfigPathReturnsFalse(t *testing.T) {
	m := NewManager("/bin/sleep", logging.NewDefault())
	_, ok := m.Get("nope")
	assert.False(t, ok)
}

func TestShutdownSignalsEveryWorker(t *testing.T) {
	m := NewManager("/bin/sleep", logging.NewDefault())
	_, err := m.Spawn("100")
	require.NoError(t, err)

	m.Shutdown()
	_ = m.Wait() // sleep's exit status after SIGINT varies by platform; just ensure Wait returns
}
