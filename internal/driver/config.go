package driver

import (
	"errors"
	"fmt"

	"github.com/SebastianBathrick/dporch/internal/step"
)

// Config is the validated step set one driver owns: at most one input
// and its paired deserialize, one or more ordered scripts, and at most
// one serialize and its paired output.
type Config struct {
	Name string

	Input       step.InputStep
	Deserialize step.DeserializeStep
	Scripts     []step.ScriptStep
	Serialize   step.SerializeStep
	Output      step.OutputStep
}

// Validate enforces spec.md §4.1's synchronous validation rules. Any
// failure here is a fatal configuration error.
func (c Config) Validate() error {
	var errs []error

	if c.Name == "" {
		errs = append(errs, errors.New("driver: name must be assigned"))
	}
	if len(c.Scripts) == 0 {
		errs = append(errs, errors.New("driver: script_steps must be non-empty"))
	}
	if (c.Input == nil) != (c.Deserialize == nil) {
		errs = append(errs, errors.New("driver: input and deserialize steps must both be present or both absent"))
	}
	if (c.Serialize == nil) != (c.Output == nil) {
		errs = append(errs, errors.New("driver: serialize and output steps must both be present or both absent"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("driver: invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// steps returns every configured step in awaken/end order: input,
// deserialize, scripts (declared order), serialize, output.
func (c Config) steps() []step.Step {
	var steps []step.Step
	if c.Input != nil {
		steps = append(steps, c.Input)
	}
	if c.Deserialize != nil {
		steps = append(steps, c.Deserialize)
	}
	for _, s := range c.Scripts {
		steps = append(steps, s)
	}
	if c.Serialize != nil {
		steps = append(steps, c.Serialize)
	}
	if c.Output != nil {
		steps = append(steps, c.Output)
	}
	return steps
}
