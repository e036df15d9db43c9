// Package transport implements the two-frame duplex wire channel data
// messages travel over: frame 0 is the sender's 16-byte connection GUID,
// frame 1 is the serialized (and optionally compressed) payload. Message
// boundary preservation is delegated to gorilla/websocket's binary
// message framing, repurposed here as the duplex byte-message transport
// (the teacher uses gorilla/websocket for its browser-facing duplex
// channel in internal/ws/handler.go; this package generalizes that to a
// plain TCP-backed peer-to-peer channel instead of a browser client).
package transport

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/SebastianBathrick/dporch/internal/wireproto"
)

// Frame is one decoded data message: the sender's connection GUID plus
// the payload bytes that followed it.
type Frame struct {
	GUID    uuid.UUID
	Payload []byte
}

// Conn is one established duplex channel to a single peer.
type Conn struct {
	ws         *websocket.Conn
	compressor *Compressor
}

// upgrader has no origin restriction: peers are other pipeline processes
// on the local network, not browsers, so CORS-style origin checks do not
// apply.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Listener accepts inbound peer connections on a bare net/http server. It
// is intentionally not gin: gin is reserved for the process's separate
// debug/metrics surface.
type Listener struct {
	ln     net.Listener
	server *http.Server
	accept chan *Conn
}

// Listen binds a listener on addr (host:0 picks a random free port) and
// begins accepting upgraded duplex connections in the background. The
// listener accepts immediately; callers read accepted connections from
// Accept.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", addr, err)
	}

	l := &Listener{ln: ln, accept: make(chan *Conn, 64)}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// A listener-side conn only ever decodes, never encodes: the
		// sender's compress setting decides the codec tag, and Decode
		// reads it off the wire regardless of this compressor's own
		// enabled flag.
		compressor, _ := NewCompressor(false)
		select {
		case l.accept <- &Conn{ws: wsConn, compressor: compressor}:
		default:
			wsConn.Close()
		}
	})

	l.server = &http.Server{Handler: mux}
	go l.server.Serve(ln)
	return l, nil
}

// Addr returns the bound listener address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Port returns the bound TCP port.
func (l *Listener) Port() uint16 {
	if tcpAddr, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return uint16(tcpAddr.Port)
	}
	return 0
}

// Accept returns the next inbound connection, or nil if none is ready.
// Non-blocking: callers poll this from their background receiver loop.
func (l *Listener) Accept() *Conn {
	select {
	case c := <-l.accept:
		return c
	default:
		return nil
	}
}

// Close stops accepting and releases the listener's socket.
func (l *Listener) Close() error {
	_ = l.server.Close()
	return l.ln.Close()
}

// Dial opens a duplex connection to a peer's listener URI (ws://host:port
// or the bare tcp://host:port form the handshake hands back, normalized
// here to ws://). compress opts this connection's outbound frames into
// zstd per spec.md's pipeline-level compress flag.
func Dial(uri string, compress bool) (*Conn, error) {
	wsURI := normalizeToWS(uri)
	ws, _, err := websocket.DefaultDialer.Dial(wsURI, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", uri, err)
	}
	compressor, err := NewCompressor(compress)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("transport: dial %s: %w", uri, err)
	}
	return &Conn{ws: ws, compressor: compressor}, nil
}

func normalizeToWS(uri string) string {
	if len(uri) >= 6 && uri[:6] == "tcp://" {
		return "ws://" + uri[6:]
	}
	return uri
}

// WriteFrame sends one two-frame data message: the GUID, then the
// payload (codec-tagged and, if this connection has compression enabled
// and the payload clears the size threshold, zstd-compressed), as two
// consecutive binary WriteMessage calls.
func (c *Conn) WriteFrame(guid uuid.UUID, payload []byte) error {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, guid[:]); err != nil {
		return fmt.Errorf("transport: write guid frame: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, c.compressor.Encode(payload)); err != nil {
		return fmt.Errorf("transport: write payload frame: %w", err)
	}
	return nil
}

// ReadFrame reads one two-frame data message. It returns an error if
// frame 0 is not exactly wireproto.GUIDSize bytes.
func (c *Conn) ReadFrame() (Frame, error) {
	_, guidBytes, err := c.ws.ReadMessage()
	if err != nil {
		return Frame{}, fmt.Errorf("transport: read guid frame: %w", err)
	}
	if len(guidBytes) != wireproto.GUIDSize {
		return Frame{}, fmt.Errorf("transport: frame 0 has %d bytes, want %d", len(guidBytes), wireproto.GUIDSize)
	}
	guid, err := uuid.FromBytes(guidBytes)
	if err != nil {
		return Frame{}, fmt.Errorf("transport: parse guid frame: %w", err)
	}

	_, framed, err := c.ws.ReadMessage()
	if err != nil {
		return Frame{}, fmt.Errorf("transport: read payload frame: %w", err)
	}
	payload, err := c.compressor.Decode(framed)
	if err != nil {
		return Frame{}, fmt.Errorf("transport: decode payload frame: %w", err)
	}
	return Frame{GUID: guid, Payload: payload}, nil
}

// SetReadDeadline lets a background receiver poll without blocking
// forever, so it can observe cancellation between reads.
func (c *Conn) SetReadDeadline(d time.Duration) error {
	return c.ws.SetReadDeadline(time.Now().Add(d))
}

// Close releases the connection and its compressor's background
// resources.
func (c *Conn) Close() error {
	c.compressor.Close()
	return c.ws.Close()
}
