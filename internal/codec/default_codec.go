package codec

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/SebastianBathrick/dporch/internal/scripthost"
)

// defaultModuleKey is the fixed namespace the default codec's helper
// functions live in.
const defaultModuleKey = "__codec__"

const defaultCodecSource = `
function __codec_serialize__(value) {
    return JSON.stringify(value === undefined ? null : value);
}
function __codec_deserialize_one__(text) {
    return JSON.parse(text);
}
`

// StructuralCodec round-trips values by structural cloning inside the
// scripting VM: JSON.stringify on serialize, JSON.parse per source on
// deserialize. It needs no out-of-process serialization library, matching
// the original implementation's "codec lives inside the scripting
// runtime" design (see SUPPLEMENTED FEATURES).
type StructuralCodec struct {
	bridge *scripthost.Bridge
}

// NewStructuralCodec installs the codec's helper module in bridge and
// returns a ready Codec. bridge must already be initialized.
func NewStructuralCodec(bridge *scripthost.Bridge) (*StructuralCodec, error) {
	acq := bridge.Acquire()
	defer acq.Release()

	if err := bridge.AddModule(acq, defaultModuleKey, defaultCodecSource); err != nil {
		return nil, fmt.Errorf("codec: install structural codec module: %w", err)
	}
	return &StructuralCodec{bridge: bridge}, nil
}

// Serialize JSON-encodes value via the VM's own JSON.stringify, so the
// byte representation always matches what the VM itself would produce
// for that value.
func (c *StructuralCodec) Serialize(value goja.Value) ([]byte, error) {
	acq := c.bridge.Acquire()
	defer acq.Release()

	// value was produced by a different namespace's VM; exporting it to a
	// plain Go value first avoids handing a goja.Value across runtimes.
	var native any
	if value != nil && !goja.IsUndefined(value) && !goja.IsNull(value) {
		native = value.Export()
	}

	result, err := c.bridge.CallFunction(acq, defaultModuleKey, "__codec_serialize__", native)
	if err != nil {
		return nil, fmt.Errorf("codec: serialize: %w", err)
	}
	return []byte(result.String()), nil
}

// Deserialize parses each source's bytes independently and assembles the
// per-source values into a single JS object keyed by source name.
func (c *StructuralCodec) Deserialize(bySource map[string][]byte) (goja.Value, error) {
	acq := c.bridge.Acquire()
	defer acq.Release()

	out := make(map[string]any, len(bySource))
	for name, raw := range bySource {
		parsed, err := c.bridge.CallFunction(acq, defaultModuleKey, "__codec_deserialize_one__", string(raw))
		if err != nil {
			return nil, fmt.Errorf("codec: deserialize source %q: %w", name, err)
		}
		out[name] = parsed.Export()
	}

	value, err := c.bridge.ToValue(acq, defaultModuleKey, out)
	if err != nil {
		return nil, fmt.Errorf("codec: build per-source value: %w", err)
	}
	return value, nil
}
