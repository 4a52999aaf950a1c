package task

import (
	"fmt"
	"reflect"

	"github.com/wehubfusion/Courier/pkg/ext"
	"github.com/wehubfusion/Courier/pkg/token"
	"github.com/wehubfusion/Courier/pkg/vars"
)

// Condition calls an extension function with rendered inputs and treats the
// result as a boolean.
type Condition struct {
	fn     ext.Function
	inputs token.List
}

// NewCondition resolves method in reg and compiles inputs.
func NewCondition(reg *ext.Registry, method string, inputs []string) (*Condition, error) {
	fn, err := reg.Resolve(method, len(inputs))
	if err != nil {
		return nil, err
	}
	compiled, err := token.CompileList(inputs)
	if err != nil {
		return nil, fmt.Errorf("input%w", err)
	}
	return &Condition{fn: fn, inputs: compiled}, nil
}

// IsMet evaluates the condition against v.
func (c *Condition) IsMet(v vars.Context) (bool, error) {
	args, err := c.inputs.Render(v)
	if err != nil {
		return false, err
	}
	out, err := c.fn.Call(args)
	if err != nil {
		return false, fmt.Errorf("%s: %w", c.fn.Name, err)
	}
	return truthy(out), nil
}

// ConditionGroup is met when any member is met. An empty group is never met.
type ConditionGroup []*Condition

// IsMet evaluates members in order and stops at the first met condition.
func (g ConditionGroup) IsMet(v vars.Context) (bool, error) {
	for _, c := range g {
		met, err := c.IsMet(v)
		if err != nil {
			return false, err
		}
		if met {
			return true, nil
		}
	}
	return false, nil
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	}
	return true
}
