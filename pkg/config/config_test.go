package config

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/wehubfusion/Courier/pkg/checkpoint"
	"github.com/wehubfusion/Courier/pkg/engine"
	cerrors "github.com/wehubfusion/Courier/pkg/errors"
	"github.com/wehubfusion/Courier/pkg/ext"
	"github.com/wehubfusion/Courier/pkg/sink"
	"github.com/wehubfusion/Courier/pkg/vars"
)

const eventsDoc = `{
  "meta": {"version": "1.0.0"},
  "global_settings": {"logging": {"level": "debug"}},
  "requests": [{
    "name": "events",
    "options": {
      "url": "{{ base }}/events?page={{ page }}",
      "method": "GET",
      "headers": {"Accept": "application/json"},
      "auth": {"type": "oauth2", "options": {"access_token": "{{ token }}"}}
    },
    "pre_process": {"pipeline": []},
    "post_process": {
      "skip_conditions": [{"method": "json_empty", "input": ["{{ __response__.body }}"]}],
      "pipeline": [
        {"method": "json_path", "input": ["$.items[*].id", "{{ __response__.body }}"], "output": "ids"},
        {"method": "std_output", "input": ["{{ ids }}"]},
        {"method": "json_path", "input": ["$.next", "{{ __response__.body }}"], "output": "page"}
      ]
    },
    "checkpoint": {"namespace": ["{{ tenant }}"], "content": {"page": "{{ page }}"}},
    "iteration_mode": {
      "iteration_count": "10",
      "stop_conditions": [{"method": "regex_match", "input": ["^$", "{{ page }}"]}]
    }
  }]
}`

func TestParse_ValidDocument(t *testing.T) {
	doc, err := ParseBytes([]byte(eventsDoc))
	require.NoError(t, err)

	assert.Equal(t, "1.0.0", doc.Meta.Version)
	assert.Equal(t, zapcore.DebugLevel, doc.LogLevel())
	require.Len(t, doc.Requests, 1)
	assert.Equal(t, Count(10), doc.Requests[0].IterationMode.IterationCount)
}

func TestParse_StructuralErrors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		paths []string
	}{
		{
			name:  "missing requests",
			doc:   `{"meta": {"version": "1.0.0"}}`,
			paths: []string{"requests"},
		},
		{
			name:  "missing url and bad auth type",
			doc:   `{"meta": {"version": "1.0.0"}, "requests": [{"options": {"method": "GET", "auth": {"type": "digest", "options": {}}}}]}`,
			paths: []string{"requests[0].options.url", "requests[0].options.auth.type"},
		},
		{
			name:  "unsupported version",
			doc:   `{"meta": {"version": "2.0.0"}, "requests": [{"options": {"url": "http://x"}}]}`,
			paths: []string{"meta.version"},
		},
		{
			name:  "unknown field",
			doc:   `{"meta": {"version": "1.0.0"}, "request": []}`,
			paths: []string{"$"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBytes([]byte(tt.doc))
			var ce *cerrors.ConfigError
			require.ErrorAs(t, err, &ce)

			var paths []string
			for _, issue := range ce.Issues {
				paths = append(paths, issue.Path)
			}
			for _, want := range tt.paths {
				assert.Contains(t, paths, want)
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	for level, want := range map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"ERROR":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	} {
		doc := &Document{GlobalSettings: GlobalSettings{Logging: Logging{Level: level}}}
		assert.Equal(t, want, doc.LogLevel(), level)
	}
}

func TestCount_UnmarshalJSON(t *testing.T) {
	for input, want := range map[string]Count{
		`{"iteration_count": 5}`:    5,
		`{"iteration_count": "7"}`:  7,
		`{"iteration_count": ""}`:   0,
		`{"iteration_count": null}`: 0,
	} {
		doc := fmt.Sprintf(`{"meta":{"version":"1"},"requests":[{"options":{"url":"u"},"loop_mode":%s}]}`, input)
		parsed, err := ParseBytes([]byte(doc))
		require.NoError(t, err, input)
		assert.Equal(t, want, parsed.Requests[0].LoopMode.IterationCount, input)
	}

	_, err := ParseBytes([]byte(`{"meta":{"version":"1"},"requests":[{"options":{"url":"u"},"loop_mode":{"iteration_count":"ten"}}]}`))
	assert.Error(t, err)
}

func TestCompile_CollectsEveryProblem(t *testing.T) {
	doc, err := ParseBytes([]byte(`{
	  "meta": {"version": "1.0.0"},
	  "global_settings": {"proxy": {"proxy_enabled": "1", "proxy_url": "p", "proxy_type": "socks4"}},
	  "requests": [{
	    "options": {"url": "{{ base", "method": "FETCH", "body": 42},
	    "pre_process": {"pipeline": [{"method": "no_such_fn", "input": []}]},
	    "post_process": {"pipeline": [{"method": "regex_match", "input": ["only one"]}]},
	    "checkpoint": {"namespace": ["x"], "content": {}},
	    "iteration_mode": {"iteration_count": 1},
	    "repeat_mode": {"iteration_count": 2}
	  }]
	}`))
	require.NoError(t, err)

	_, err = doc.Compile(BuildOptions{Store: checkpoint.NewMemoryStore()})
	var ce *cerrors.ConfigError
	require.ErrorAs(t, err, &ce)

	assert.ErrorIs(t, err, cerrors.ErrInvalidProxy)
	assert.ErrorIs(t, err, cerrors.ErrTemplateSyntax)
	assert.ErrorIs(t, err, cerrors.ErrUnknownFunction)
	assert.ErrorIs(t, err, cerrors.ErrInvalidArguments)
	assert.ErrorIs(t, err, cerrors.ErrEmptyCheckpoint)

	msg := err.Error()
	for _, want := range []string{
		"requests[0].options.method",
		"requests[0].options.body",
		"requests[0].pre_process.pipeline[0]",
		"requests[0].repeat_mode",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestCompile_CheckpointNeedsStore(t *testing.T) {
	doc, err := ParseBytes([]byte(`{"meta":{"version":"1.0.0"},"requests":[{"options":{"url":"u"},"checkpoint":{"namespace":[],"content":{"a":"b"}}}]}`))
	require.NoError(t, err)
	_, err = doc.Compile(BuildOptions{})
	assert.ErrorIs(t, err, cerrors.ErrNoCheckpointStore)
}

func TestCompile_SplitPrependsTask(t *testing.T) {
	doc, err := ParseBytes([]byte(`{"meta":{"version":"1.0.0"},"requests":[{"options":{"url":"u"},"split":{"source":"{{ apps }}","output":"app","separator":","}}]}`))
	require.NoError(t, err)

	plan, err := doc.Compile(BuildOptions{})
	require.NoError(t, err)
	require.Len(t, plan.Requests, 1)
	assert.Equal(t, "request_0", plan.Requests[0].Name)

	tasks := plan.Requests[0].Tasks
	require.Len(t, tasks, 2)
	assert.Equal(t, "request_0.split", tasks[0].Name())
	assert.Equal(t, "request_0", tasks[1].Name())
}

func TestCompile_RunsEndToEnd(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Query().Get("page") {
		case "":
			_, _ = io.WriteString(w, `{"items":[{"id":1},{"id":2}],"next":"2"}`)
		case "2":
			_, _ = io.WriteString(w, `{"items":[{"id":3}],"next":""}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	doc, err := ParseBytes([]byte(eventsDoc))
	require.NoError(t, err)

	var out strings.Builder
	store := checkpoint.NewMemoryStore()
	plan, err := doc.Compile(BuildOptions{
		Prefix:   "input",
		Registry: ext.NewRegistry(ext.WithSink(sink.NewWriterSink(&out))),
		Store:    store,
	})
	require.NoError(t, err)

	e := engine.New(engine.WithWorkers(2))
	require.NoError(t, e.Run(context.Background(), plan.Jobs(vars.Context{
		"base":   srv.URL,
		"token":  "s3cret",
		"tenant": "acme",
	})))

	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, "1\n2\n3\n", out.String())

	saved, found, err := store.Get(context.Background(), "input.events.acme")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]any{"page": ""}, saved)
	assert.EqualValues(t, 1, e.Stats().Completed)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collector.json")
	require.NoError(t, os.WriteFile(path, []byte(eventsDoc), 0o600))

	doc, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "events", doc.Requests[0].Name)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
