// Package task implements the units of work a job runs: the repeating HTTP
// request task and the split task that fans one context out into many.
package task

import (
	"context"

	"github.com/wehubfusion/Courier/pkg/vars"
)

// Task is one step of a job. Perform runs the task to completion against v
// and returns the contexts the job continues with: normally v itself, or one
// context per item for a split. Tasks are immutable definitions and may be
// performed by many jobs concurrently.
type Task interface {
	Name() string
	Perform(ctx context.Context, v vars.Context) ([]vars.Context, error)
}

// State is the lifecycle position of one task run. A run is idle until its
// client and checkpoint are ready.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateExhausted:
		return "exhausted"
	}
	return "unknown"
}
