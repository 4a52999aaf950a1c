package ext

import (
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/wehubfusion/Courier/pkg/token"
)

const jsTimeout = 2 * time.Second

var blockedGlobals = []string{
	"require", "module", "exports", "process", "global",
	"__dirname", "__filename", "Buffer", "setImmediate", "clearImmediate",
}

// jsEval evaluates a JavaScript expression. The remaining arguments are
// exposed as the array "args" and the first of them as "input".
func jsEval(args []any) (any, error) {
	script := token.Stringify(arg(args, 0))
	inputs := append([]any{}, args[1:]...)

	vm := goja.New()
	for _, name := range blockedGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return nil, fmt.Errorf("sandbox %s: %w", name, err)
		}
	}
	if err := vm.Set("args", inputs); err != nil {
		return nil, err
	}
	if err := vm.Set("input", arg(inputs, 0)); err != nil {
		return nil, err
	}

	timer := time.AfterFunc(jsTimeout, func() {
		vm.Interrupt("execution timeout")
	})
	defer timer.Stop()

	value, err := vm.RunString(script)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("js_eval: timed out after %s", jsTimeout)
		}
		return nil, fmt.Errorf("js_eval: %w", err)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}
