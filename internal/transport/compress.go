package transport

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// codec tag prepended to every frame 1, compressed or not, per
// SPEC_FULL §10.6. Wire framing and any in-frame tagging are
// implementation defined under spec.md §6.
const (
	codecTagRaw  byte = 0x00
	codecTagZstd byte = 0x01
)

// compressThreshold is the minimum payload size worth paying zstd's
// frame overhead for.
const compressThreshold = 256

// Compressor optionally zstd-compresses outbound payloads above a size
// threshold, tagging the frame with a one-byte codec marker the receiver
// uses to decide whether to decompress.
type Compressor struct {
	enabled bool
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor builds a Compressor. When enabled is false, Encode is a
// passthrough that still prepends the raw-codec tag so receivers can
// treat every frame uniformly.
func NewCompressor(enabled bool) (*Compressor, error) {
	c := &Compressor{enabled: enabled}
	if !enabled {
		return c, nil
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("transport: new zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("transport: new zstd decoder: %w", err)
	}
	c.encoder, c.decoder = enc, dec
	return c, nil
}

// Encode tags and, if enabled and worthwhile, compresses payload.
func (c *Compressor) Encode(payload []byte) []byte {
	if !c.enabled || len(payload) < compressThreshold {
		return append([]byte{codecTagRaw}, payload...)
	}
	compressed := c.encoder.EncodeAll(payload, nil)
	return append([]byte{codecTagZstd}, compressed...)
}

// Decode strips the codec tag and decompresses if the tag says to.
func (c *Compressor) Decode(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, fmt.Errorf("transport: empty frame has no codec tag")
	}
	tag, body := framed[0], framed[1:]

	switch tag {
	case codecTagRaw:
		return body, nil
	case codecTagZstd:
		if c.decoder == nil {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return nil, fmt.Errorf("transport: new zstd decoder: %w", err)
			}
			c.decoder = dec
		}
		out, err := c.decoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("transport: zstd decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("transport: unknown codec tag 0x%02x", tag)
	}
}

// Close releases the zstd encoder/decoder's background resources.
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
