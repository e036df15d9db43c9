package netiface

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectedBroadcastsLoopback(t *testing.T) {
	endpoints, err := DirectedBroadcasts([]string{"lo"})
	if err != nil {
		t.Skipf("no loopback interface available in this environment: %v", err)
	}
	require.Len(t, endpoints, 1)
	assert.Equal(t, "lo", endpoints[0].InterfaceName)
	assert.NotNil(t, endpoints[0].Broadcast)
}

func TestDirectedBroadcastsUnknownInterface(t *testing.T) {
	_, err := DirectedBroadcasts([]string{"definitely-not-a-real-iface-0"})
	assert.Error(t, err)
}
