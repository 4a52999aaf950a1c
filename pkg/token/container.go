package token

import (
	"fmt"
	"sort"

	"github.com/wehubfusion/Courier/pkg/vars"
)

// Map is a compiled map of templates, e.g. request headers or checkpoint content.
type Map map[string]*Token

// CompileMap compiles every value of src.
func CompileMap(src map[string]string) (Map, error) {
	out := make(Map, len(src))
	for _, key := range sortedKeys(src) {
		t, err := Compile(src[key])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out[key] = t
	}
	return out, nil
}

// Render renders every value, keeping keys.
func (m Map) Render(v vars.Context) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for key, t := range m {
		value, err := t.Render(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out[key] = value
	}
	return out, nil
}

// RenderStrings renders every value to text.
func (m Map) RenderStrings(v vars.Context) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for key, t := range m {
		value, err := t.RenderString(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out[key] = value
	}
	return out, nil
}

// List is a compiled, ordered list of templates.
type List []*Token

// CompileList compiles every element of src.
func CompileList(src []string) (List, error) {
	out := make(List, 0, len(src))
	for i, s := range src {
		t, err := Compile(s)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Render renders every element, keeping order.
func (l List) Render(v vars.Context) ([]any, error) {
	out := make([]any, 0, len(l))
	for i, t := range l {
		value, err := t.Render(v)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, value)
	}
	return out, nil
}

// RenderStrings renders every element to text.
func (l List) RenderStrings(v vars.Context) ([]string, error) {
	out := make([]string, 0, len(l))
	for i, t := range l {
		value, err := t.RenderString(v)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, value)
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
