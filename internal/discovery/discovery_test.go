package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SebastianBathrick/dporch/internal/wireproto"
)

func TestBeaconFinderHandshake(t *testing.T) {
	if _, err := net.InterfaceByName("lo"); err != nil {
		t.Skipf("no loopback interface: %v", err)
	}

	const port = 45557
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	beacon := NewBeacon(BeaconConfig{
		Name:            "server-a",
		OutboundIfaces:  []string{"lo"},
		DiscoveryPort:   port,
		RequiredFinders: 1,
	})

	beaconDone := make(chan struct {
		descs []wireproto.PeerDescriptor
		err   error
	}, 1)
	go func() {
		descs, err := beacon.Run(ctx, 9999, func(_ net.Addr, _ wireproto.PeerDescriptor) ([]byte, error) {
			return []byte("tcp://127.0.0.1:9999"), nil
		})
		beaconDone <- struct {
			descs []wireproto.PeerDescriptor
			err   error
		}{descs, err}
	}()

	time.Sleep(50 * time.Millisecond)

	finder := NewFinder(FinderConfig{DiscoveryPort: port, TargetNames: []string{"server-a"}})
	self, err := wireproto.EncodePeerDescriptor(wireproto.NewPeerDescriptor("client-b", uuid.New()))
	require.NoError(t, err)

	targets, err := finder.Run(ctx, self)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "server-a", targets[0].Name)
	assert.Equal(t, "tcp://127.0.0.1:9999", targets[0].URI)

	result := <-beaconDone
	require.NoError(t, result.err)
	require.Len(t, result.descs, 1)
	assert.Equal(t, "client-b", result.descs[0].Name)
}
