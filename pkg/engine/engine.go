// Package engine runs jobs on a bounded pool of goroutines. Jobs that
// produce child jobs feed them back into the pool until no work remains or
// the engine is shut down.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Courier/pkg/concurrency"
	cerrors "github.com/wehubfusion/Courier/pkg/errors"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 4

var tracer = otel.Tracer("github.com/wehubfusion/Courier/pkg/engine")

// Stats counts engine activity.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Running   int
	Peak      int64

	// AverageWait is the mean time a job waited for a free worker.
	AverageWait time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the pool size.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSentryHub reports recovered job panics to hub.
func WithSentryHub(hub *sentry.Hub) Option {
	return func(e *Engine) {
		e.hub = hub
	}
}

// Engine schedules jobs. An Engine runs one job set; after Run returns or
// Shutdown is called it accepts no more work.
type Engine struct {
	workers int
	logger  *zap.Logger
	hub     *sentry.Hub
	limiter *concurrency.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	started bool
	tracked map[string]*Job

	wg sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// New creates an engine ready to Run.
func New(opts ...Option) *Engine {
	e := &Engine{workers: DefaultWorkers}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		e.workers = DefaultWorkers
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.limiter = concurrency.NewLimiter(e.workers)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.running = true
	e.tracked = make(map[string]*Job)
	return e
}

type outcome struct {
	job      *Job
	children []*Job
}

// Run executes jobs and every job they produce. It returns when no work
// remains, when ctx is cancelled, or when Shutdown is called. Job failures
// are logged and counted, never returned.
func (e *Engine) Run(ctx context.Context, jobs []*Job) error {
	e.mu.Lock()
	if !e.running || e.started {
		e.mu.Unlock()
		return cerrors.ErrEngineStopped
	}
	e.started = true
	e.mu.Unlock()

	stop := context.AfterFunc(ctx, e.Shutdown)
	defer stop()

	e.logger.Info("Engine started",
		zap.Int("workers", e.limiter.Size()),
		zap.Int("jobs", len(jobs)))
	start := time.Now()

	results := make(chan outcome)
	pending := 0
	// submit holds mu so no worker is added once Shutdown starts waiting.
	submit := func(job *Job) bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.running {
			return false
		}
		pending++
		e.submitted.Add(1)
		e.wg.Add(1)
		go e.work(job, results)
		return true
	}

	for _, job := range jobs {
		if !submit(job) {
			break
		}
	}
	for pending > 0 {
		out := <-results
		pending--
		for _, child := range out.children {
			if !submit(child) {
				break
			}
		}
	}

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.cancel()

	stats := e.Stats()
	e.logger.Info("Engine finished",
		zap.Int64("submitted", stats.Submitted),
		zap.Int64("completed", stats.Completed),
		zap.Int64("failed", stats.Failed),
		zap.Int64("peak_workers", stats.Peak),
		zap.Duration("avg_worker_wait", stats.AverageWait),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Shutdown stops accepting work, stops every running job and waits for the
// pool to drain. It is safe to call more than once and from any goroutine.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	wasRunning := e.running
	e.running = false
	for _, job := range e.tracked {
		job.Stop()
	}
	e.mu.Unlock()
	e.cancel()

	if wasRunning {
		e.logger.Info("Engine shutting down")
	}
	e.wg.Wait()
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	running := len(e.tracked)
	e.mu.Unlock()
	return Stats{
		Submitted: e.submitted.Load(),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
		Running:   running,
		Peak:      e.limiter.Metrics().Peak,

		AverageWait: e.limiter.AverageWait(),
	}
}

// track registers job as running. It refuses once the engine is stopping.
func (e *Engine) track(job *Job) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return false
	}
	e.tracked[job.ID()] = job
	return true
}

func (e *Engine) untrack(job *Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tracked, job.ID())
}

func (e *Engine) work(job *Job, results chan<- outcome) {
	defer e.wg.Done()
	out := outcome{job: job}
	defer func() {
		results <- out
	}()

	if err := e.limiter.Acquire(e.ctx); err != nil {
		return
	}
	defer e.limiter.Release()

	if !e.track(job) {
		return
	}
	defer e.untrack(job)

	out.children = e.runJob(job)
}

func (e *Engine) runJob(job *Job) (children []*Job) {
	logger := e.logger.With(
		zap.String("job_id", job.ID()),
		zap.String("task", job.Current()))

	ctx, span := tracer.Start(e.ctx, "engine.job",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("job.id", job.ID()),
			attribute.String("job.task", job.Current()),
			attribute.Int("job.remaining", len(job.Tasks()))))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			children = nil
			e.failed.Add(1)
			err := fmt.Errorf("job panicked: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("Job panicked", zap.Any("panic", r), zap.Stack("stack"))
			if e.hub != nil {
				hub := e.hub.Clone()
				hub.ConfigureScope(func(scope *sentry.Scope) {
					scope.SetTag("job_id", job.ID())
					scope.SetTag("task", job.Current())
				})
				hub.Recover(r)
			}
		}
	}()

	logger.Debug("Job started")
	children, err := job.Run(ctx)
	if err != nil {
		e.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if cerrors.IsSplit(err) {
			logger.Error("Split produced no jobs", zap.Error(err))
		} else {
			logger.Error("Job failed", zap.Error(err))
		}
		return nil
	}

	e.completed.Add(1)
	span.SetAttributes(attribute.Int("job.children", len(children)))
	logger.Debug("Job finished",
		zap.Int("children", len(children)),
		zap.Bool("stopped", job.Stopped()))
	return children
}
