package step

import (
	"context"

	"github.com/SebastianBathrick/dporch/internal/codec"
)

// Deserialize turns a per-source byte map into a scripting-runtime value
// via a shared Deserializer.
type Deserialize struct {
	codec codec.Deserializer
	ctx   context.Context
}

// NewDeserialize constructs a Deserialize step delegating to codec.
func NewDeserialize(c codec.Deserializer) *Deserialize {
	return &Deserialize{codec: c}
}

func (d *Deserialize) Role() Role                    { return RoleDeserialize }
func (d *Deserialize) SetCancel(ctx context.Context) { d.ctx = ctx }
func (d *Deserialize) Awaken() error                 { return nil }
func (d *Deserialize) End() error                    { return nil }

func (d *Deserialize) Deserialize(bySource map[string][]byte) (any, error) {
	return d.codec.Deserialize(bySource)
}
