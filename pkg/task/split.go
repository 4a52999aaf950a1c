package task

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	cerrors "github.com/wehubfusion/Courier/pkg/errors"
	"github.com/wehubfusion/Courier/pkg/token"
	"github.com/wehubfusion/Courier/pkg/vars"
)

// SplitTask binds each item of a collection to a variable in its own copy
// of the context.
type SplitTask struct {
	name      string
	source    *token.Token
	output    string
	separator string
	logger    *zap.Logger
}

// NewSplitTask compiles source, which must render to a list or to a string
// split on separator.
func NewSplitTask(name, source, output, separator string, logger *zap.Logger) (*SplitTask, error) {
	if output == "" {
		return nil, fmt.Errorf("split %s: output is required", name)
	}
	src, err := token.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("split %s: source: %w", name, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SplitTask{name: name, source: src, output: output, separator: separator, logger: logger}, nil
}

// Name implements Task.
func (t *SplitTask) Name() string {
	return t.name
}

// Perform implements Task. It returns one deep copy of v per item, or a
// *errors.SplitError when there is nothing to split.
func (t *SplitTask) Perform(_ context.Context, v vars.Context) ([]vars.Context, error) {
	value, err := t.source.Render(v)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", t.name, err)
	}

	items, err := t.items(value)
	if err != nil {
		return nil, err
	}

	out := make([]vars.Context, 0, len(items))
	for _, item := range items {
		c := v.Clone()
		c[t.output] = item
		out = append(out, c)
	}
	t.logger.Debug("Split context",
		zap.String("task", t.name),
		zap.Int("items", len(out)))
	return out, nil
}

func (t *SplitTask) items(value any) ([]any, error) {
	fail := func(reason string) error {
		return &cerrors.SplitError{Task: t.name, Source: t.source.Source(), Reason: reason}
	}

	switch v := value.(type) {
	case []any:
		if len(v) == 0 {
			return nil, fail("empty list")
		}
		return v, nil
	case []string:
		if len(v) == 0 {
			return nil, fail("empty list")
		}
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return items, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, fail("empty or missing value")
		}
		parts := []string{v}
		if t.separator != "" {
			parts = strings.Split(v, t.separator)
		}
		items := make([]any, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		if len(items) == 0 {
			return nil, fail("only separators")
		}
		return items, nil
	}
	return nil, fail(fmt.Sprintf("cannot split %T", value))
}
