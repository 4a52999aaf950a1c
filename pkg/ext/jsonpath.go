package ext

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

type segmentKind int

const (
	segmentName segmentKind = iota
	segmentIndex
	segmentWildcard
)

// segment is one step of a JSONPath expression. A descent segment applies
// to the current node and every node below it.
type segment struct {
	kind    segmentKind
	name    string
	index   int
	descent bool
}

// parsePath splits a JSONPath expression such as "$.items[-1].id" or
// "$..id" into segments. The leading "$" is optional and no segments
// address the whole document.
func parsePath(expr string) ([]segment, error) {
	path := strings.TrimPrefix(strings.TrimSpace(expr), "$")
	var segs []segment
	for i := 0; i < len(path); {
		descent := false
		switch {
		case strings.HasPrefix(path[i:], ".."):
			descent = true
			i += 2
		case path[i] == '.':
			i++
		case path[i] != '[' && i > 0:
			return nil, fmt.Errorf("invalid path %q at offset %d", expr, i)
		}
		if i >= len(path) {
			return nil, fmt.Errorf("invalid path %q: trailing separator", expr)
		}

		if path[i] == '[' {
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("invalid path %q: unterminated bracket", expr)
			}
			seg, err := bracketSegment(path[i+1 : i+end])
			if err != nil {
				return nil, fmt.Errorf("invalid path %q: %w", expr, err)
			}
			seg.descent = descent
			segs = append(segs, seg)
			i += end + 1
			continue
		}

		end := strings.IndexAny(path[i:], ".[")
		if end < 0 {
			end = len(path) - i
		}
		name := path[i : i+end]
		if name == "" || strings.ContainsAny(name, "]'\"") {
			return nil, fmt.Errorf("invalid path %q: bad name %q", expr, name)
		}
		seg := segment{kind: segmentName, name: name, descent: descent}
		if name == "*" {
			seg.kind = segmentWildcard
		}
		segs = append(segs, seg)
		i += end
	}
	return segs, nil
}

func bracketSegment(inner string) (segment, error) {
	inner = strings.TrimSpace(inner)
	switch {
	case inner == "*":
		return segment{kind: segmentWildcard}, nil
	case len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0]:
		return segment{kind: segmentName, name: inner[1 : len(inner)-1]}, nil
	}
	n, err := strconv.Atoi(inner)
	if err != nil {
		return segment{}, fmt.Errorf("unsupported selector [%s]", inner)
	}
	return segment{kind: segmentIndex, index: n}, nil
}

// document returns the JSON text of candidate and whether it is valid JSON.
func document(candidate any) (string, bool, error) {
	switch c := candidate.(type) {
	case string:
		return c, gjson.Valid(c), nil
	case []byte:
		return string(c), gjson.ValidBytes(c), nil
	case nil:
		return "null", true, nil
	}
	raw, err := json.Marshal(candidate)
	if err != nil {
		return "", false, fmt.Errorf("candidate is not JSON serializable: %w", err)
	}
	return string(raw), true, nil
}

// extract evaluates expr against candidate. It returns the single match,
// a list when several values match, or an empty list when nothing does.
func extract(expr string, candidate any) (any, error) {
	segs, err := parsePath(expr)
	if err != nil {
		return nil, err
	}
	doc, valid, err := document(candidate)
	if err != nil {
		return nil, err
	}
	if !valid {
		if len(segs) == 0 {
			return doc, nil
		}
		return nil, fmt.Errorf("candidate is not valid JSON")
	}

	nodes := []gjson.Result{gjson.Parse(doc)}
	for _, seg := range segs {
		nodes = seg.apply(nodes)
	}

	switch len(nodes) {
	case 0:
		return []any{}, nil
	case 1:
		return nodes[0].Value(), nil
	}
	matches := make([]any, 0, len(nodes))
	for _, n := range nodes {
		matches = append(matches, n.Value())
	}
	return matches, nil
}

func (s segment) apply(nodes []gjson.Result) []gjson.Result {
	if s.descent {
		var all []gjson.Result
		for _, n := range nodes {
			all = descendants(n, all)
		}
		nodes = all
	}

	var out []gjson.Result
	for _, n := range nodes {
		switch s.kind {
		case segmentName:
			if !n.IsObject() {
				continue
			}
			n.ForEach(func(key, value gjson.Result) bool {
				if key.String() == s.name {
					out = append(out, value)
					return false
				}
				return true
			})
		case segmentIndex:
			if !n.IsArray() {
				continue
			}
			items := n.Array()
			i := s.index
			if i < 0 {
				i += len(items)
			}
			if i >= 0 && i < len(items) {
				out = append(out, items[i])
			}
		case segmentWildcard:
			if n.IsArray() || n.IsObject() {
				n.ForEach(func(_, value gjson.Result) bool {
					out = append(out, value)
					return true
				})
			}
		}
	}
	return out
}

// descendants appends n and every value nested in it, in document order.
func descendants(n gjson.Result, out []gjson.Result) []gjson.Result {
	out = append(out, n)
	if n.IsArray() || n.IsObject() {
		n.ForEach(func(_, value gjson.Result) bool {
			out = descendants(value, out)
			return true
		})
	}
	return out
}

// jsonPath is json_path(expression, candidate).
func jsonPath(args []any) (any, error) {
	expr, _ := arg(args, 0).(string)
	return extract(expr, arg(args, 1))
}

// jsonArgs accepts either (candidate) or (expression, candidate).
func jsonArgs(args []any) (string, any) {
	if len(args) == 1 {
		return "$", args[0]
	}
	expr, _ := arg(args, 0).(string)
	if strings.TrimSpace(expr) == "" {
		expr = "$"
	}
	return expr, arg(args, 1)
}

// checkEmpty reports (empty, ok). ok is false when the candidate is text that
// is not JSON, in which case neither emptiness nor non-emptiness holds.
func checkEmpty(args []any) (bool, bool) {
	expr, candidate := jsonArgs(args)
	if s, isString := candidate.(string); isString {
		if strings.TrimSpace(s) == "" {
			return true, true
		}
		if !gjson.Valid(s) {
			return false, false
		}
	}
	value, err := extract(expr, candidate)
	if err != nil {
		return false, false
	}
	return isEmpty(value), true
}

func jsonEmpty(args []any) (any, error) {
	empty, ok := checkEmpty(args)
	return ok && empty, nil
}

func jsonNotEmpty(args []any) (any, error) {
	empty, ok := checkEmpty(args)
	return ok && !empty, nil
}

// isEmpty treats nil, "", {} and lists holding only empty values as empty.
func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case map[string]any:
		return len(v) == 0
	case []any:
		for _, item := range v {
			if !isEmpty(item) {
				return false
			}
		}
		return true
	}
	return false
}
