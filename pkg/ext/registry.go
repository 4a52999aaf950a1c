// Package ext is the fixed set of named functions that configuration
// pipelines and conditions may call.
package ext

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	cerrors "github.com/wehubfusion/Courier/pkg/errors"
	"github.com/wehubfusion/Courier/pkg/sink"
)

// Variadic marks a function without an upper bound on arguments.
const Variadic = -1

// Function is a registered extension function.
type Function struct {
	Name    string
	MinArgs int
	MaxArgs int
	Call    func(args []any) (any, error)
}

// Accepts reports whether n arguments satisfy the function's arity.
func (f Function) Accepts(n int) bool {
	if n < f.MinArgs {
		return false
	}
	return f.MaxArgs == Variadic || n <= f.MaxArgs
}

// Registry resolves function names. A Registry is read-only after
// construction and safe for concurrent use.
type Registry struct {
	funcs  map[string]Function
	sink   sink.Sink
	logger *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithSink sets the destination of std_output. Defaults to stdout.
func WithSink(s sink.Sink) Option {
	return func(r *Registry) {
		r.sink = s
	}
}

// WithLogger sets the logger used by functions with side effects.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry returns a registry holding every builtin function.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	if r.sink == nil {
		r.sink = sink.Stdout()
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}

	r.funcs = make(map[string]Function)
	for _, f := range []Function{
		{Name: "regex_match", MinArgs: 2, MaxArgs: 2, Call: regexMatch},
		{Name: "regex_not_match", MinArgs: 2, MaxArgs: 2, Call: regexNotMatch},
		{Name: "regex_search", MinArgs: 2, MaxArgs: 2, Call: regexSearch},
		{Name: "json_path", MinArgs: 2, MaxArgs: 2, Call: jsonPath},
		{Name: "json_empty", MinArgs: 1, MaxArgs: 2, Call: jsonEmpty},
		{Name: "json_not_empty", MinArgs: 1, MaxArgs: 2, Call: jsonNotEmpty},
		{Name: "set_var", MinArgs: 1, MaxArgs: 1, Call: setVar},
		{Name: "exit_if_true", MinArgs: 1, MaxArgs: 1, Call: exitIfTrue},
		{Name: "assert_true", MinArgs: 1, MaxArgs: 2, Call: assertTrue},
		{Name: "is_true", MinArgs: 1, MaxArgs: 1, Call: isTrueFunc},
		{Name: "splunk_xml", MinArgs: 1, MaxArgs: 6, Call: splunkXML},
		{Name: "time_str2str", MinArgs: 3, MaxArgs: 3, Call: timeStr2Str},
		{Name: "js_eval", MinArgs: 1, MaxArgs: Variadic, Call: jsEval},
		{Name: "std_output", MinArgs: 1, MaxArgs: 1, Call: r.stdOutput},
	} {
		r.funcs[f.Name] = f
	}
	return r
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Function, bool) {
	f, ok := r.funcs[name]
	return f, ok
}

// Resolve looks up name and checks that it accepts nargs arguments.
// It is called while loading a configuration so unknown names never reach
// a running job.
func (r *Registry) Resolve(name string, nargs int) (Function, error) {
	f, ok := r.funcs[name]
	if !ok {
		return Function{}, fmt.Errorf("%w: %q", cerrors.ErrUnknownFunction, name)
	}
	if !f.Accepts(nargs) {
		return Function{}, fmt.Errorf("%w: %s takes %s arguments, got %d",
			cerrors.ErrInvalidArguments, name, arity(f), nargs)
	}
	return f, nil
}

// Names returns every registered function name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func arity(f Function) string {
	switch {
	case f.MaxArgs == Variadic:
		return fmt.Sprintf("at least %d", f.MinArgs)
	case f.MinArgs == f.MaxArgs:
		return fmt.Sprintf("%d", f.MinArgs)
	}
	return fmt.Sprintf("%d to %d", f.MinArgs, f.MaxArgs)
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}
