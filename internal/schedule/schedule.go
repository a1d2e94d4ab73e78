// Package schedule runs independent periodic tasks for a session.
//
// Each task ticks on its own interval. Overlapping invocations of the
// same task are forbidden: a tick that arrives while the previous
// invocation is still running is skipped, not queued. Different tasks
// never block each other. Detector cycles can outlast their nominal
// period (inference is slow); skipping keeps cadence a tuning knob
// rather than a correctness concern.
package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Task is one periodically executed function.
type Task struct {
	// Name identifies the task in logs and metrics.
	Name string

	// Interval is the nominal period between invocations.
	Interval time.Duration

	// Run performs one cycle. It should honor ctx cancellation.
	Run func(ctx context.Context)
}

// Runner schedules a fixed set of tasks until stopped.
type Runner struct {
	mu      sync.Mutex
	tasks   []*taskState
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type taskState struct {
	task    Task
	busy    atomic.Bool
	runs    atomic.Uint64
	skipped atomic.Uint64
}

// Runner errors.
var (
	ErrAlreadyStarted = errors.New("schedule: runner already started")
	ErrNoInterval     = errors.New("schedule: task interval must be positive")
)

// NewRunner creates an empty Runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Add registers a task. Tasks must be added before Start.
func (r *Runner) Add(t Task) error {
	if t.Interval <= 0 {
		return ErrNoInterval
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}
	r.tasks = append(r.tasks, &taskState{task: t})
	return nil
}

// Start launches one scheduling goroutine per task. Tasks stop when the
// context is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)

	for _, st := range r.tasks {
		r.wg.Add(1)
		go r.loop(ctx, st)
	}
	return nil
}

func (r *Runner) loop(ctx context.Context, st *taskState) {
	defer r.wg.Done()

	ticker := time.NewTicker(st.task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !st.busy.CompareAndSwap(false, true) {
				st.skipped.Add(1)
				continue
			}
			st.runs.Add(1)
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				defer st.busy.Store(false)
				st.task.Run(ctx)
			}()
		}
	}
}

// Stop cancels all tasks and waits for in-flight invocations to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Stats reports per-task run and skip counts.
type Stats struct {
	Name    string
	Runs    uint64
	Skipped uint64
}

// Stats returns a snapshot of scheduling statistics.
func (r *Runner) Stats() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Stats, 0, len(r.tasks))
	for _, st := range r.tasks {
		out = append(out, Stats{
			Name:    st.task.Name,
			Runs:    st.runs.Load(),
			Skipped: st.skipped.Load(),
		})
	}
	return out
}
