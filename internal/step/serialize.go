package step

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/SebastianBathrick/dporch/internal/codec"
)

// Serialize turns the final script output into bytes via a shared
// Serializer.
type Serialize struct {
	codec codec.Serializer
	ctx   context.Context
}

// NewSerialize constructs a Serialize step delegating to codec.
func NewSerialize(c codec.Serializer) *Serialize {
	return &Serialize{codec: c}
}

func (s *Serialize) Role() Role                    { return RoleSerialize }
func (s *Serialize) SetCancel(ctx context.Context) { s.ctx = ctx }
func (s *Serialize) Awaken() error                 { return nil }
func (s *Serialize) End() error                    { return nil }

func (s *Serialize) Serialize(value any) ([]byte, error) {
	v, ok := value.(goja.Value)
	if !ok && value != nil {
		return nil, fmt.Errorf("step: serialize: value has unexpected shape %T", value)
	}
	return s.codec.Serialize(v)
}
