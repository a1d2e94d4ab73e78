package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunner_RunsTasksIndependently(t *testing.T) {
	r := NewRunner()

	var fast, slow atomic.Int64
	if err := r.Add(Task{Name: "fast", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) {
		fast.Add(1)
	}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := r.Add(Task{Name: "slow", Interval: 50 * time.Millisecond, Run: func(ctx context.Context) {
		slow.Add(1)
	}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	r.Stop()

	if fast.Load() < 10 {
		t.Errorf("fast task ran %d times, expected at least 10", fast.Load())
	}
	if slow.Load() < 1 {
		t.Error("slow task never ran")
	}
	if fast.Load() <= slow.Load() {
		t.Errorf("fast (%d) should outpace slow (%d)", fast.Load(), slow.Load())
	}
}

func TestRunner_SkipsOverlappingInvocations(t *testing.T) {
	r := NewRunner()

	block := make(chan struct{})
	var runs atomic.Int64
	r.Add(Task{Name: "stuck", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) {
		runs.Add(1)
		select {
		case <-block:
		case <-ctx.Done():
		}
	}})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Many ticks elapse while the first invocation blocks; all of them
	// must be skipped rather than piled up.
	time.Sleep(100 * time.Millisecond)
	close(block)
	r.Stop()

	if got := runs.Load(); got != 1 {
		t.Errorf("expected exactly 1 run while blocked, got %d", got)
	}

	stats := r.Stats()
	if len(stats) != 1 {
		t.Fatalf("expected 1 task stat, got %d", len(stats))
	}
	if stats[0].Skipped == 0 {
		t.Error("expected skipped ticks to be counted")
	}
	if stats[0].Runs != 1 {
		t.Errorf("expected 1 recorded run, got %d", stats[0].Runs)
	}
}

func TestRunner_StopWaitsForInFlight(t *testing.T) {
	r := NewRunner()

	var finished atomic.Bool
	r.Add(Task{Name: "worker", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) {
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	}})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	r.Stop()

	if !finished.Load() {
		t.Error("Stop returned before the in-flight invocation finished")
	}
}

func TestRunner_ContextCancellationStops(t *testing.T) {
	r := NewRunner()

	var runs atomic.Int64
	r.Add(Task{Name: "task", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) {
		runs.Add(1)
	}})

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != after {
		t.Error("task kept running after context cancellation")
	}
	r.Stop()
}

func TestRunner_Guards(t *testing.T) {
	r := NewRunner()

	if err := r.Add(Task{Name: "bad", Interval: 0}); !errors.Is(err, ErrNoInterval) {
		t.Errorf("expected ErrNoInterval, got %v", err)
	}

	r.Add(Task{Name: "ok", Interval: time.Hour, Run: func(ctx context.Context) {}})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop()

	if err := r.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start: expected ErrAlreadyStarted, got %v", err)
	}
	if err := r.Add(Task{Name: "late", Interval: time.Second}); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Add after Start: expected ErrAlreadyStarted, got %v", err)
	}
}
