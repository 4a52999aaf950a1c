package task

import (
	"fmt"

	"go.uber.org/zap"

	cerrors "github.com/wehubfusion/Courier/pkg/errors"
	"github.com/wehubfusion/Courier/pkg/ext"
	"github.com/wehubfusion/Courier/pkg/token"
	"github.com/wehubfusion/Courier/pkg/vars"
)

// Step calls one function and optionally stores its result in the context.
type Step struct {
	fn     ext.Function
	inputs token.List
	output string
}

// NewStep resolves method in reg and compiles inputs. An empty output
// discards the result.
func NewStep(reg *ext.Registry, method string, inputs []string, output string) (*Step, error) {
	fn, err := reg.Resolve(method, len(inputs))
	if err != nil {
		return nil, err
	}
	compiled, err := token.CompileList(inputs)
	if err != nil {
		return nil, fmt.Errorf("input%w", err)
	}
	return &Step{fn: fn, inputs: compiled, output: output}, nil
}

// Run executes the step against v.
func (s *Step) Run(v vars.Context) error {
	args, err := s.inputs.Render(v)
	if err != nil {
		return err
	}
	out, err := s.fn.Call(args)
	if err != nil {
		return err
	}
	if s.output != "" {
		v[s.output] = out
	}
	return nil
}

// Pipeline is an ordered list of steps guarded by skip conditions.
type Pipeline struct {
	Skip  ConditionGroup
	Steps []*Step
}

// Execute runs every step against v unless a skip condition is met. A step
// returning errors.ErrStopIteration ends this pass without error.
func (p Pipeline) Execute(v vars.Context, logger *zap.Logger) error {
	skip, err := p.Skip.IsMet(v)
	if err != nil {
		return fmt.Errorf("skip condition: %w", err)
	}
	if skip {
		logger.Debug("Skip conditions met, skipping pipeline")
		return nil
	}

	for i, step := range p.Steps {
		if err := step.Run(v); err != nil {
			if cerrors.IsStopIteration(err) {
				logger.Debug("Pipeline stopped by step",
					zap.Int("step", i),
					zap.String("method", step.fn.Name))
				return nil
			}
			return fmt.Errorf("step %d (%s): %w", i, step.fn.Name, err)
		}
	}
	return nil
}
