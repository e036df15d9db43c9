package wireproto

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvertisementRoundTrip(t *testing.T) {
	in := Advertisement{Name: "alpha", ListenerPort: 5800}
	b, err := EncodeAdvertisement(in)
	require.NoError(t, err)

	out, err := DecodeAdvertisement(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPeerDescriptorRoundTrip(t *testing.T) {
	id := uuid.New()
	in := NewPeerDescriptor("beta", id)
	b, err := EncodePeerDescriptor(in)
	require.NoError(t, err)

	out, err := DecodePeerDescriptor(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, id.String(), out.GUID)
}

func TestDecodeAdvertisementRejectsGarbage(t *testing.T) {
	_, err := DecodeAdvertisement([]byte("not json"))
	assert.Error(t, err)
}
