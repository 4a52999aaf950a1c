package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/wehubfusion/Courier/pkg/task"
	"github.com/wehubfusion/Courier/pkg/vars"
)

// Job is an ordered list of tasks bound to one variable context. Running a
// job performs its first task and hands the rest to child jobs, one per
// context the task produced.
type Job struct {
	id    string
	tasks []task.Task
	vars  vars.Context

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
}

// NewJob creates a job owning v. The caller must not use v afterwards.
func NewJob(tasks []task.Task, v vars.Context) *Job {
	if v == nil {
		v = vars.New()
	}
	return &Job{
		id:    uuid.NewString(),
		tasks: tasks,
		vars:  v,
	}
}

// ID returns the job's unique identifier.
func (j *Job) ID() string {
	return j.id
}

// Tasks returns the tasks the job has yet to run.
func (j *Job) Tasks() []task.Task {
	return j.tasks
}

// Vars returns the job's variable context.
func (j *Job) Vars() vars.Context {
	return j.vars
}

// Current returns the name of the task Run will perform, or "".
func (j *Job) Current() string {
	if len(j.tasks) == 0 {
		return ""
	}
	return j.tasks[0].Name()
}

// Stop asks the job to finish at its next safe point. Stopping a job that
// has not started keeps it from starting.
func (j *Job) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stopped = true
	if j.cancel != nil {
		j.cancel()
	}
}

// Stopped reports whether Stop was called.
func (j *Job) Stopped() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stopped
}

// Run performs the first task and returns the jobs that continue with the
// remaining tasks. It returns no children when the job is complete or was
// stopped. Each child receives its own deep copy of the produced context.
func (j *Job) Run(ctx context.Context) ([]*Job, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	j.mu.Lock()
	if j.stopped {
		j.mu.Unlock()
		return nil, nil
	}
	j.cancel = cancel
	j.mu.Unlock()

	if len(j.tasks) == 0 {
		return nil, nil
	}

	produced, err := j.tasks[0].Perform(ctx, j.vars)
	if err != nil {
		return nil, err
	}
	rest := j.tasks[1:]
	if ctx.Err() != nil || len(rest) == 0 {
		return nil, nil
	}

	children := make([]*Job, 0, len(produced))
	for _, v := range produced {
		if ctx.Err() != nil {
			return nil, nil
		}
		children = append(children, NewJob(rest, v.Clone()))
	}
	return children, nil
}
