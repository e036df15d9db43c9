package transport

import (
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenDialRoundTripFrame(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	uri := "ws://127.0.0.1:" + strconv.Itoa(int(ln.Port())) + "/"

	clientDone := make(chan error, 1)
	var client *Conn
	go func() {
		c, err := Dial(uri, false)
		client = c
		clientDone <- err
	}()

	var server *Conn
	deadline := time.Now().Add(2 * time.Second)
	for server == nil && time.Now().Before(deadline) {
		server = ln.Accept()
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, <-clientDone)
	require.NotNil(t, server)
	defer client.Close()
	defer server.Close()

	guid := uuid.New()
	require.NoError(t, client.WriteFrame(guid, []byte("hello")))

	frame, err := server.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, guid, frame.GUID)
	assert.Equal(t, []byte("hello"), frame.Payload)
}

func TestListenDialRoundTripCompressedFrame(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	uri := "ws://127.0.0.1:" + strconv.Itoa(int(ln.Port())) + "/"

	clientDone := make(chan error, 1)
	var client *Conn
	go func() {
		c, err := Dial(uri, true)
		client = c
		clientDone <- err
	}()

	var server *Conn
	deadline := time.Now().Add(2 * time.Second)
	for server == nil && time.Now().Before(deadline) {
		server = ln.Accept()
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, <-clientDone)
	require.NotNil(t, server)
	defer client.Close()
	defer server.Close()

	payload := make([]byte, 2000)
	for i := range payload {
		payload[i] = byte(i % 11)
	}

	guid := uuid.New()
	require.NoError(t, client.WriteFrame(guid, payload))

	frame, err := server.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, guid, frame.GUID)
	assert.Equal(t, payload, frame.Payload, "a listener-side conn must decode a compressed frame even though its own compressor is not enabled")
}

func TestCompressorRawPassthrough(t *testing.T) {
	c, err := NewCompressor(false)
	require.NoError(t, err)

	encoded := c.Encode([]byte("small"))
	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, []byte("small"), decoded)
}

func TestCompressorZstdRoundTrip(t *testing.T) {
	c, err := NewCompressor(true)
	require.NoError(t, err)
	defer c.Close()

	payload := make([]byte, 2000)
	for i := range payload {
		payload[i] = byte(i % 7)
	}

	encoded := c.Encode(payload)
	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}
