package ext

import (
	"fmt"
	"strings"

	cerrors "github.com/wehubfusion/Courier/pkg/errors"
	"github.com/wehubfusion/Courier/pkg/token"
)

// isTrue holds only for the boolean true and the string "true" in any case.
func isTrue(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return false
}

func isTrueFunc(args []any) (any, error) {
	return isTrue(arg(args, 0)), nil
}

func setVar(args []any) (any, error) {
	return arg(args, 0), nil
}

// exitIfTrue halts the current pipeline pass when its argument is true.
func exitIfTrue(args []any) (any, error) {
	if isTrue(arg(args, 0)) {
		return nil, cerrors.ErrStopIteration
	}
	return nil, nil
}

func assertTrue(args []any) (any, error) {
	if isTrue(arg(args, 0)) {
		return nil, nil
	}
	msg := token.Stringify(arg(args, 1))
	if msg == "" {
		msg = fmt.Sprintf("%v is not true", arg(args, 0))
	}
	return nil, fmt.Errorf("assertion failed: %s", msg)
}
