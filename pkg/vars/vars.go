// Package vars holds the mutable variable context shared by the tasks of one job.
package vars

import (
	"strconv"
	"strings"

	"github.com/mohae/deepcopy"
)

// ResponseKey is the reserved key an HTTP task stores the last response under.
const ResponseKey = "__response__"

// Context is the key/value state threaded through a job's task pipeline.
// A Context is owned by exactly one job; it is cloned whenever a job forks.
type Context map[string]any

// New returns an empty Context.
func New() Context {
	return Context{}
}

// From returns a deep copy of m as a Context.
func From(m map[string]any) Context {
	return Context(m).Clone()
}

// Clone returns a deep copy of the context.
func (c Context) Clone() Context {
	if c == nil {
		return Context{}
	}
	copied, ok := deepcopy.Copy(c).(Context)
	if !ok || copied == nil {
		return Context{}
	}
	return copied
}

// Merge copies every key of src into c, overwriting existing keys.
func (c Context) Merge(src map[string]any) {
	for k, v := range src {
		c[k] = v
	}
}

// Set binds key to value.
func (c Context) Set(key string, value any) {
	c[key] = value
}

// Get returns the value bound to key.
func (c Context) Get(key string) (any, bool) {
	v, ok := c[key]
	return v, ok
}

// Lookup resolves a dotted path such as "__response__.header.link".
// Path segments address map keys or, for lists, integer indexes.
func (c Context) Lookup(path string) (any, bool) {
	if v, ok := c[path]; ok {
		return v, true
	}
	segments := strings.Split(path, ".")
	var current any = map[string]any(c)
	for _, seg := range segments {
		next, ok := step(current, seg)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func step(current any, seg string) (any, bool) {
	switch node := current.(type) {
	case map[string]any:
		v, ok := node[seg]
		return v, ok
	case Context:
		v, ok := node[seg]
		return v, ok
	case map[string]string:
		v, ok := node[seg]
		return v, ok
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(node) {
			return nil, false
		}
		return node[idx], true
	case []string:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(node) {
			return nil, false
		}
		return node[idx], true
	}
	return nil, false
}
