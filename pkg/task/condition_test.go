package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cerrors "github.com/wehubfusion/Courier/pkg/errors"
	"github.com/wehubfusion/Courier/pkg/ext"
	"github.com/wehubfusion/Courier/pkg/vars"
)

func newTestRegistry() *ext.Registry {
	return ext.NewRegistry()
}

func TestNewCondition_Errors(t *testing.T) {
	reg := newTestRegistry()

	_, err := NewCondition(reg, "no_such_function", []string{"x"})
	assert.ErrorIs(t, err, cerrors.ErrUnknownFunction)

	_, err = NewCondition(reg, "regex_match", []string{"x"})
	assert.ErrorIs(t, err, cerrors.ErrInvalidArguments)

	_, err = NewCondition(reg, "is_true", []string{"{{ x"})
	assert.ErrorIs(t, err, cerrors.ErrTemplateSyntax)
}

func TestConditionGroup_IsMet(t *testing.T) {
	reg := newTestRegistry()
	matchA, err := NewCondition(reg, "regex_match", []string{"a.*", "{{ value }}"})
	require.NoError(t, err)
	matchB, err := NewCondition(reg, "regex_match", []string{"b.*", "{{ value }}"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		group ConditionGroup
		value string
		want  bool
	}{
		{"empty group is never met", nil, "abc", false},
		{"single member met", ConditionGroup{matchA}, "abc", true},
		{"single member not met", ConditionGroup{matchB}, "abc", false},
		{"any member met", ConditionGroup{matchB, matchA}, "abc", true},
		{"no member met", ConditionGroup{matchA, matchB}, "xyz", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			met, err := tt.group.IsMet(vars.Context{"value": tt.value})
			require.NoError(t, err)
			assert.Equal(t, tt.want, met)
		})
	}
}

func TestTruthy(t *testing.T) {
	assert.False(t, truthy(nil))
	assert.False(t, truthy(""))
	assert.False(t, truthy(false))
	assert.False(t, truthy(0.0))
	assert.False(t, truthy([]any{}))
	assert.False(t, truthy(map[string]any{}))
	assert.True(t, truthy("x"))
	assert.True(t, truthy(true))
	assert.True(t, truthy(1))
	assert.True(t, truthy([]any{1}))
}

func TestPipeline_Execute(t *testing.T) {
	reg := newTestRegistry()
	logger := zap.NewNop()

	extract, err := NewStep(reg, "json_path", []string{"$.name", "{{ body }}"}, "name")
	require.NoError(t, err)
	copyStep, err := NewStep(reg, "set_var", []string{"{{ name }}-copy"}, "copy")
	require.NoError(t, err)

	t.Run("runs steps in order", func(t *testing.T) {
		v := vars.Context{"body": `{"name":"alpha"}`}
		require.NoError(t, Pipeline{Steps: []*Step{extract, copyStep}}.Execute(v, logger))
		assert.Equal(t, "alpha", v["name"])
		assert.Equal(t, "alpha-copy", v["copy"])
	})

	t.Run("skip condition met", func(t *testing.T) {
		skip, err := NewCondition(reg, "is_true", []string{"{{ skip }}"})
		require.NoError(t, err)

		v := vars.Context{"body": `{"name":"alpha"}`, "skip": "True"}
		p := Pipeline{Skip: ConditionGroup{skip}, Steps: []*Step{extract}}
		require.NoError(t, p.Execute(v, logger))
		assert.NotContains(t, v, "name")
	})

	t.Run("exit_if_true ends the pass", func(t *testing.T) {
		exit, err := NewStep(reg, "exit_if_true", []string{"{{ done }}"}, "")
		require.NoError(t, err)

		v := vars.Context{"body": `{"name":"alpha"}`, "done": true}
		require.NoError(t, Pipeline{Steps: []*Step{exit, extract}}.Execute(v, logger))
		assert.NotContains(t, v, "name")

		v["done"] = false
		require.NoError(t, Pipeline{Steps: []*Step{exit, extract}}.Execute(v, logger))
		assert.Equal(t, "alpha", v["name"])
	})

	t.Run("step failure is returned", func(t *testing.T) {
		assertStep, err := NewStep(reg, "assert_true", []string{"{{ ok }}", "not ok"}, "")
		require.NoError(t, err)

		err = Pipeline{Steps: []*Step{assertStep}}.Execute(vars.Context{"ok": false}, logger)
		assert.ErrorContains(t, err, "assert_true")
	})
}
