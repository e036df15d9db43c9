// Package vars implements the managed-variable extension surface: small,
// host-owned bindings injected into a script's top-level namespace at
// awaken and refreshed after every step invocation.
package vars

// Variable is a stable-named binding a script step exposes to user code.
// A new variable type is a new implementer; the script step itself never
// changes.
type Variable interface {
	Name() string
	InitialValue() any
	PerStepValue() any
}
