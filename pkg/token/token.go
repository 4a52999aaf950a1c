// Package token compiles configuration expressions once and renders them
// against a job's variable context.
//
// A template that is exactly one variable reference, e.g. "{{ page }}" or
// "{{ __response__.body }}", renders to the bound value unchanged so lists,
// maps and numbers survive. Any other template renders to a string using
// text/template with the sprig function set. Bare references inside larger
// templates ("https://host/{{ path }}?p={{page}}") and plain field actions
// ("{{ .path }}") resolve against the context, and missing values render as
// the empty string.
package token

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	cerrors "github.com/wehubfusion/Courier/pkg/errors"
	"github.com/wehubfusion/Courier/pkg/vars"
)

const identPath = `[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+)*`

var (
	exactPattern = regexp.MustCompile(`^\{\{\s*(` + identPath + `)\s*\}\}$`)
	barePattern  = regexp.MustCompile(`\{\{(-\s)?\s*(\.)?(` + identPath + `)\s*(\s-)?\}\}`)

	// identifiers with a meaning of their own inside an action
	keywords = map[string]bool{
		"else": true, "end": true, "break": true, "continue": true,
		"nil": true, "true": true, "false": true,
	}
)

type kind int

const (
	kindLiteral kind = iota
	kindVariable
	kindTemplate
)

// Token is an immutable compiled expression. It is safe for concurrent use.
type Token struct {
	source string
	kind   kind
	path   string
	tmpl   *template.Template
}

// Compile parses source. Malformed template syntax is reported here rather
// than on first render.
func Compile(source string) (*Token, error) {
	if m := exactPattern.FindStringSubmatch(source); m != nil {
		return &Token{source: source, kind: kindVariable, path: m[1]}, nil
	}
	if !strings.Contains(source, "{{") {
		return &Token{source: source, kind: kindLiteral}, nil
	}

	rewritten := barePattern.ReplaceAllStringFunc(source, rewriteBare)
	tmpl, err := template.New("token").
		Option("missingkey=zero").
		Funcs(sprig.TxtFuncMap()).
		Funcs(template.FuncMap{"lookup": lookup}).
		Parse(rewritten)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", cerrors.ErrTemplateSyntax, source, err)
	}
	return &Token{source: source, kind: kindTemplate, tmpl: tmpl}, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// package-level literals.
func MustCompile(source string) *Token {
	t, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return t
}

// Source returns the original template text.
func (t *Token) Source() string {
	return t.source
}

// IsLiteral reports whether the token contains no expressions.
func (t *Token) IsLiteral() bool {
	return t.kind == kindLiteral
}

// IsVariable reports whether the token is a single variable reference.
func (t *Token) IsVariable() bool {
	return t.kind == kindVariable
}

// Render evaluates the token against v. Rendering never mutates v.
func (t *Token) Render(v vars.Context) (any, error) {
	switch t.kind {
	case kindLiteral:
		return t.source, nil
	case kindVariable:
		value, ok := v.Lookup(t.path)
		if !ok || value == nil {
			return "", nil
		}
		return value, nil
	}

	data := map[string]any(v)
	if data == nil {
		data = map[string]any{}
	}
	var sb strings.Builder
	if err := t.tmpl.Execute(&sb, data); err != nil {
		return nil, fmt.Errorf("render %q: %w", t.source, err)
	}
	return sb.String(), nil
}

// RenderString renders the token and formats non-string results.
func (t *Token) RenderString(v vars.Context) (string, error) {
	value, err := t.Render(v)
	if err != nil {
		return "", err
	}
	return Stringify(value), nil
}

// Stringify formats a rendered value as text.
func Stringify(value any) string {
	switch val := value.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	}
	return fmt.Sprint(value)
}

// rewriteBare turns "{{ name }}" and "{{ .name }}" into nil-safe lookups so
// missing values print as "" rather than "<no value>".
func rewriteBare(action string) string {
	m := barePattern.FindStringSubmatch(action)
	if m == nil || (m[2] == "" && keywords[m[3]]) {
		return action
	}
	return fmt.Sprintf("{{%s lookup . %q %s}}", m[1], m[3], m[4])
}

func lookup(data map[string]any, path string) any {
	value, ok := vars.Context(data).Lookup(path)
	if !ok || value == nil {
		return ""
	}
	return value
}
