package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestJoinAll_WaitsForEveryTask(t *testing.T) {
	exec := NewExecutor()
	var slowDone, fastDone atomic.Bool

	results := exec.JoinAll(context.Background(), 0, []Task{
		func(context.Context) error {
			time.Sleep(10 * time.Millisecond)
			slowDone.Store(true)
			return nil
		},
		func(context.Context) error {
			fastDone.Store(true)
			return nil
		},
	})

	if !slowDone.Load() || !fastDone.Load() {
		t.Fatal("JoinAll returned before every task finished")
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, r := range results {
		if !r.IsSuccess() {
			t.Errorf("result %d: %v", i, r.Err)
		}
	}
}

func TestJoinAll_ContainsFailures(t *testing.T) {
	exec := NewExecutor()
	want := errors.New("boom")
	var sibling atomic.Bool

	results := exec.JoinAll(context.Background(), 0, []Task{
		func(context.Context) error { return want },
		func(context.Context) error { panic("bad") },
		func(ctx context.Context) error {
			time.Sleep(5 * time.Millisecond)
			if ctx.Err() != nil {
				t.Error("sibling context cancelled by a failing task")
			}
			sibling.Store(true)
			return nil
		},
	})

	if !errors.Is(results[0].Err, want) {
		t.Errorf("result 0 = %v, want %v", results[0].Err, want)
	}
	if !results[1].Panicked {
		t.Error("result 1 should be a panic")
	}
	if !results[2].IsSuccess() || !sibling.Load() {
		t.Error("sibling did not run to completion")
	}
}

func TestJoinAll_RunsConcurrently(t *testing.T) {
	exec := NewExecutor()
	const n = 4
	var started atomic.Int32
	gate := make(chan struct{})

	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = func(context.Context) error {
			if started.Add(1) == n {
				close(gate)
			}
			select {
			case <-gate:
				return nil
			case <-time.After(time.Second):
				return errors.New("tasks did not overlap")
			}
		}
	}

	for i, r := range exec.JoinAll(context.Background(), 0, tasks) {
		if !r.IsSuccess() {
			t.Errorf("task %d: %v", i, r.Err)
		}
	}
}

func TestJoinAll_Empty(t *testing.T) {
	if got := NewExecutor().JoinAll(context.Background(), 0, nil); len(got) != 0 {
		t.Errorf("got %d results, want 0", len(got))
	}
}
