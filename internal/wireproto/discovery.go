// Package wireproto defines the on-wire message shapes exchanged during
// discovery and the framing constants shared by the beacon, the finder,
// and the data transport.
package wireproto

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// GUIDSize is the fixed byte length of a connection GUID, frame 0 of every
// data message.
const GUIDSize = 16

// Advertisement is the UDP broadcast payload a beacon sends every 250ms.
type Advertisement struct {
	Name         string `json:"Name"`
	ListenerPort uint16 `json:"ListenerPort"`
}

// EncodeAdvertisement JSON-encodes an Advertisement as UTF-8 bytes.
func EncodeAdvertisement(a Advertisement) ([]byte, error) {
	b, err := sonic.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("wireproto: encode advertisement: %w", err)
	}
	return b, nil
}

// DecodeAdvertisement parses a beacon broadcast payload. Malformed
// payloads return an error so the caller can discard them; matching the
// advertised name is left to the caller.
func DecodeAdvertisement(data []byte) (Advertisement, error) {
	var a Advertisement
	if err := sonic.Unmarshal(data, &a); err != nil {
		return Advertisement{}, fmt.Errorf("wireproto: decode advertisement: %w", err)
	}
	return a, nil
}

// PeerDescriptor is the self-description a finder sends a beacon (and vice
// versa is not sent; only the finder identifies itself) during the TCP
// handshake.
type PeerDescriptor struct {
	Name string `json:"Name"`
	GUID string `json:"Guid"`
}

// NewPeerDescriptor builds a self-description carrying name and guid.
func NewPeerDescriptor(name string, guid uuid.UUID) PeerDescriptor {
	return PeerDescriptor{Name: name, GUID: guid.String()}
}

// EncodePeerDescriptor JSON-encodes a PeerDescriptor as UTF-8 bytes.
func EncodePeerDescriptor(p PeerDescriptor) ([]byte, error) {
	b, err := sonic.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("wireproto: encode peer descriptor: %w", err)
	}
	return b, nil
}

// DecodePeerDescriptor parses a peer descriptor received over TCP.
func DecodePeerDescriptor(data []byte) (PeerDescriptor, error) {
	var p PeerDescriptor
	if err := sonic.Unmarshal(data, &p); err != nil {
		return PeerDescriptor{}, fmt.Errorf("wireproto: decode peer descriptor: %w", err)
	}
	return p, nil
}
