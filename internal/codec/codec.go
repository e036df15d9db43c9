// Package codec defines the payload serializer/deserializer contract the
// driver's serialize and deserialize steps delegate to, per spec.md §6:
// serialize(value) -> bytes, deserialize(map[name]bytes) -> runtime value.
package codec

import "github.com/dop251/goja"

// Serializer turns a scripting-runtime value into bytes for the wire.
type Serializer interface {
	Serialize(value goja.Value) ([]byte, error)
}

// Deserializer turns a per-source byte map into one scripting-runtime
// value, keyed by source display name.
type Deserializer interface {
	Deserialize(bySource map[string][]byte) (goja.Value, error)
}

// Codec is both halves of the contract.
type Codec interface {
	Serializer
	Deserializer
}
