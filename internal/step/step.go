// Package step defines the five step roles of a pipeline chain and their
// uniform lifecycle: awaken once, do role-specific work repeatedly, end
// once. Steps are owned exclusively by their driver; nothing else
// touches them.
package step

import "context"

// Role is one of the five positions a step can occupy in a chain.
type Role int

const (
	RoleInput Role = iota
	RoleDeserialize
	RoleScript
	RoleSerialize
	RoleOutput
)

func (r Role) String() string {
	switch r {
	case RoleInput:
		return "input"
	case RoleDeserialize:
		return "deserialize"
	case RoleScript:
		return "script"
	case RoleSerialize:
		return "serialize"
	case RoleOutput:
		return "output"
	default:
		return "unknown"
	}
}

// Step is the lifecycle every role implements. SetCancel is called by the
// driver before Awaken; Awaken is called once per step in chain order;
// End is called once after the loop exits, best-effort, and must be
// idempotent.
type Step interface {
	Role() Role
	SetCancel(ctx context.Context)
	Awaken() error
	End() error
}

// InputStep receives one message per source per iteration.
type InputStep interface {
	Step
	Receive() (map[string][]byte, error)
}

// DeserializeStep turns a per-source byte map into a scripting value.
type DeserializeStep interface {
	Step
	Deserialize(bySource map[string][]byte) (any, error)
}

// ScriptStep invokes a user function on the previous step's output.
type ScriptStep interface {
	Step
	Invoke(arg any) (any, error)
}

// SerializeStep turns a script chain's final output into bytes.
type SerializeStep interface {
	Step
	Serialize(value any) ([]byte, error)
}

// OutputStep fans serialized bytes out to every discovered target.
type OutputStep interface {
	Step
	Send(payload []byte) error
}
