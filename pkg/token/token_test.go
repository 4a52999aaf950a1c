package token

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/wehubfusion/Courier/pkg/errors"
	"github.com/wehubfusion/Courier/pkg/vars"
)

func TestExactVariablePreservesType(t *testing.T) {
	ctx := vars.Context{
		"count":  12,
		"items":  []any{1, 2, 3},
		"obj":    map[string]any{"k": "v"},
		"empty":  "",
		"absent": nil,
		"__response__": map[string]any{
			"body": map[string]any{"next": "abc"},
		},
	}

	tests := []struct {
		name     string
		source   string
		expected any
	}{
		{"int", "{{count}}", 12},
		{"list", "{{ items }}", []any{1, 2, 3}},
		{"map", "{{  obj  }}", map[string]any{"k": "v"}},
		{"empty string", "{{empty}}", ""},
		{"nil value", "{{absent}}", ""},
		{"missing", "{{ xbc }}", ""},
		{"dotted path", "{{__response__.body}}", map[string]any{"next": "abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := Compile(tt.source)
			require.NoError(t, err)
			assert.True(t, tok.IsVariable())

			got, err := tok.Render(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestTemplatesRenderStrings(t *testing.T) {
	ctx := vars.Context{
		"host":  "example.com",
		"page":  2,
		"token": "secret",
		"meta":  map[string]any{"cursor": "c1"},
	}

	tests := []struct {
		name     string
		source   string
		expected string
	}{
		{"embedded variables", "https://{{host}}/items?page={{ page }}", "https://example.com/items?page=2"},
		{"nested path", "cursor={{ meta.cursor }}", "cursor=c1"},
		{"missing inside text", "a{{ nope }}b", "ab"},
		{"sprig pipeline", `{{ lookup . "token" | upper }}`, "SECRET"},
		{"dot access", "{{ .host }}", "example.com"},
		{"missing dot access", "a{{ .missing }}b", "ab"},
		{"missing nested dot access", "a{{- .meta.nope -}}b", "ab"},
		{"dot keyword name", "{{ .end }}", ""},
		{"conditional", `{{ if .page }}p{{ lookup . "page" }}{{ else }}none{{ end }}`, "p2"},
		{"trim markers", "[ {{- host -}} ]", "[example.com]"},
		{"literal", "plain text", "plain text"},
		{"single braces", "{}}", "{}}"},
		{"pairs", "{}{}", "{}{}"},
		{"spaced", "{  {} }", "{  {} }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := Compile(tt.source)
			require.NoError(t, err)

			got, err := tok.Render(ctx)
			require.NoError(t, err)
			assert.IsType(t, "", got)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCompileRejectsMalformedTemplates(t *testing.T) {
	for _, source := range []string{"{{}}", "{{}", "{   {{}", "{{ if .a }}x"} {
		t.Run(source, func(t *testing.T) {
			_, err := Compile(source)
			require.Error(t, err)
			assert.True(t, errors.Is(err, cerrors.ErrTemplateSyntax))
		})
	}
}

func TestRenderIsIdempotent(t *testing.T) {
	ctx := vars.Context{"a": []any{"x"}, "b": 1}
	snapshot := ctx.Clone()

	for _, source := range []string{"{{a}}", "v={{ b }}", "literal"} {
		tok := MustCompile(source)
		first, err := tok.Render(ctx)
		require.NoError(t, err)
		second, err := tok.Render(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
	assert.Equal(t, snapshot, ctx)
}

func TestMapAndList(t *testing.T) {
	ctx := vars.Context{"user": "alice", "ids": []any{1, 2}}

	m, err := CompileMap(map[string]string{"X-User": "{{user}}", "X-Ids": "{{ids}}"})
	require.NoError(t, err)
	rendered, err := m.Render(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"X-User": "alice", "X-Ids": []any{1, 2}}, rendered)

	strs, err := m.RenderStrings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "[1 2]", strs["X-Ids"])

	l, err := CompileList([]string{"{{user}}", "static"})
	require.NoError(t, err)
	items, err := l.Render(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"alice", "static"}, items)

	_, err = CompileMap(map[string]string{"bad": "{{}}"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")

	_, err = CompileList([]string{"ok", "{{"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[1]")
}
