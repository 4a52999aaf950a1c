package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	cerrors "github.com/wehubfusion/Courier/pkg/errors"
	"github.com/wehubfusion/Courier/pkg/httpclient"
	"github.com/wehubfusion/Courier/pkg/task"
	"github.com/wehubfusion/Courier/pkg/token"
	"github.com/wehubfusion/Courier/pkg/vars"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// funcTask adapts a function to task.Task.
type funcTask struct {
	name string
	fn   func(ctx context.Context, v vars.Context) ([]vars.Context, error)
}

func (t *funcTask) Name() string { return t.name }

func (t *funcTask) Perform(ctx context.Context, v vars.Context) ([]vars.Context, error) {
	return t.fn(ctx, v)
}

func passThrough(name string, record func(vars.Context)) task.Task {
	return &funcTask{name: name, fn: func(_ context.Context, v vars.Context) ([]vars.Context, error) {
		if record != nil {
			record(v)
		}
		return []vars.Context{v}, nil
	}}
}

func TestJob_RunSplitsIntoChildren(t *testing.T) {
	split, err := task.NewSplitTask("split", "{{ items }}", "item", "", nil)
	require.NoError(t, err)
	second := passThrough("second", nil)

	job := NewJob([]task.Task{split, second}, vars.Context{"items": []any{"a", "b"}})
	children, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, children, 2)

	for i, want := range []string{"a", "b"} {
		child := children[i]
		assert.Equal(t, want, child.Vars()["item"])
		require.Len(t, child.Tasks(), 1)
		assert.Equal(t, "second", child.Current())
		assert.NotEqual(t, job.ID(), child.ID())
	}

	children[0].Vars()["items"].([]any)[0] = "changed"
	assert.Equal(t, "a", children[1].Vars()["items"].([]any)[0])
}

func TestJob_LastTaskEndsJob(t *testing.T) {
	var ran bool
	job := NewJob([]task.Task{passThrough("only", func(vars.Context) { ran = true })}, nil)
	children, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, children)
	assert.True(t, ran)
}

func TestJob_StopBeforeRun(t *testing.T) {
	var ran bool
	job := NewJob([]task.Task{passThrough("t1", func(vars.Context) { ran = true }), passThrough("t2", nil)}, nil)
	job.Stop()

	children, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, children)
	assert.False(t, ran)
	assert.True(t, job.Stopped())
}

func TestJob_StopDuringTaskProducesNoChildren(t *testing.T) {
	var job *Job
	stopper := &funcTask{name: "stopper", fn: func(_ context.Context, v vars.Context) ([]vars.Context, error) {
		job.Stop()
		return []vars.Context{v}, nil
	}}
	job = NewJob([]task.Task{stopper, passThrough("next", nil)}, nil)

	children, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestEngine_NeverExceedsPoolSize(t *testing.T) {
	const workers, jobs = 3, 12

	var running, peak atomic.Int64
	slow := &funcTask{name: "slow", fn: func(_ context.Context, v vars.Context) ([]vars.Context, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return []vars.Context{v}, nil
	}}

	initial := make([]*Job, jobs)
	for i := range initial {
		initial[i] = NewJob([]task.Task{slow}, nil)
	}

	e := New(WithWorkers(workers))
	require.NoError(t, e.Run(context.Background(), initial))

	stats := e.Stats()
	assert.EqualValues(t, jobs, stats.Submitted)
	assert.EqualValues(t, jobs, stats.Completed)
	assert.Zero(t, stats.Failed)
	assert.Zero(t, stats.Running)
	assert.LessOrEqual(t, peak.Load(), int64(workers))
	assert.LessOrEqual(t, stats.Peak, int64(workers))
	// three waves of jobs queue behind the pool
	assert.GreaterOrEqual(t, stats.AverageWait, 5*time.Millisecond)
}

func TestEngine_RunsChildJobs(t *testing.T) {
	split, err := task.NewSplitTask("split", "{{ hosts }}", "host", ",", nil)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen []string
	)
	record := passThrough("record", func(v vars.Context) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, v["host"].(string))
	})

	e := New(WithWorkers(2))
	err = e.Run(context.Background(), []*Job{
		NewJob([]task.Task{split, record}, vars.Context{"hosts": "a,b,c"}),
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
	assert.EqualValues(t, 4, e.Stats().Submitted)
	assert.EqualValues(t, 4, e.Stats().Completed)
}

func TestEngine_IsolatesFailures(t *testing.T) {
	split, err := task.NewSplitTask("split", "{{ missing }}", "item", "", nil)
	require.NoError(t, err)
	failing := &funcTask{name: "failing", fn: func(context.Context, vars.Context) ([]vars.Context, error) {
		return nil, errors.New("boom")
	}}
	panicking := &funcTask{name: "panicking", fn: func(context.Context, vars.Context) ([]vars.Context, error) {
		panic("unexpected")
	}}
	var ok atomic.Bool
	healthy := passThrough("healthy", func(vars.Context) { ok.Store(true) })

	e := New(WithWorkers(2))
	err = e.Run(context.Background(), []*Job{
		NewJob([]task.Task{split}, nil),
		NewJob([]task.Task{failing}, nil),
		NewJob([]task.Task{panicking}, nil),
		NewJob([]task.Task{healthy}, nil),
	})
	require.NoError(t, err)

	assert.True(t, ok.Load())
	stats := e.Stats()
	assert.EqualValues(t, 3, stats.Failed)
	assert.EqualValues(t, 1, stats.Completed)
}

func TestEngine_ShutdownDuringLongRequest(t *testing.T) {
	started := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	defer srv.Close()

	client, err := httpclient.New(httpclient.Options{Timeout: 30 * time.Second})
	require.NoError(t, err)
	long, err := task.NewHTTPTask(task.HTTPTaskParams{
		Name:    "long",
		Request: task.RequestTemplate{URL: token.MustCompile(srv.URL)},
		Client:  client,
	})
	require.NoError(t, err)

	e := New(WithWorkers(2))
	done := make(chan error, 1)
	go func() {
		done <- e.Run(context.Background(), []*Job{NewJob([]task.Task{long, passThrough("after", nil)}, nil)})
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the server")
	}

	shutdown := make(chan struct{})
	go func() {
		e.Shutdown()
		close(shutdown)
	}()

	select {
	case <-shutdown:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not return")
	}
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after shutdown")
	}

	stats := e.Stats()
	assert.Zero(t, stats.Running)
	assert.EqualValues(t, 1, stats.Submitted)
	client.CloseIdleConnections()
}

func TestEngine_RunAfterShutdown(t *testing.T) {
	e := New()
	e.Shutdown()
	err := e.Run(context.Background(), []*Job{NewJob(nil, nil)})
	assert.ErrorIs(t, err, cerrors.ErrEngineStopped)
}

func TestEngine_ContextCancelStopsRun(t *testing.T) {
	blocker := &funcTask{name: "blocker", fn: func(ctx context.Context, v vars.Context) ([]vars.Context, error) {
		<-ctx.Done()
		return []vars.Context{v}, nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	e := New(WithWorkers(1))
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx, []*Job{
			NewJob([]task.Task{blocker, passThrough("next", nil)}, nil),
			NewJob([]task.Task{blocker}, nil),
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.Zero(t, e.Stats().Running)
}
