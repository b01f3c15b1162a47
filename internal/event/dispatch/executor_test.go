package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestResult_IsSuccess(t *testing.T) {
	tests := []struct {
		name     string
		result   Result
		expected bool
	}{
		{"success", Result{}, true},
		{"error", Result{Err: errors.New("error")}, false},
		{"panic", Result{Err: &PanicError{Value: "boom"}, Panicked: true}, false},
		{"skipped", Result{Err: context.Canceled, Skipped: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.IsSuccess(); got != tt.expected {
				t.Errorf("IsSuccess() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestExecutor_Run(t *testing.T) {
	exec := NewExecutor()

	r := exec.Run(context.Background(), 0, func(context.Context) error { return nil })
	if !r.IsSuccess() {
		t.Fatalf("expected success, got %v", r.Err)
	}

	want := errors.New("handler failed")
	r = exec.Run(context.Background(), 0, func(context.Context) error { return want })
	if !errors.Is(r.Err, want) {
		t.Errorf("Err = %v, want %v", r.Err, want)
	}
}

func TestExecutor_RunRecoversPanic(t *testing.T) {
	var reported atomic.Bool
	exec := NewExecutor(WithPanicHandler(func(v any, stack []byte) {
		if v != "boom" || len(stack) == 0 {
			t.Errorf("unexpected panic report %v", v)
		}
		reported.Store(true)
	}))

	r := exec.Run(context.Background(), 0, func(context.Context) error { panic("boom") })
	if !r.Panicked {
		t.Fatal("expected Panicked")
	}
	if !errors.Is(r.Err, ErrHandlerPanic) {
		t.Errorf("Err = %v, want ErrHandlerPanic", r.Err)
	}
	var pe *PanicError
	if !errors.As(r.Err, &pe) || pe.Value != "boom" {
		t.Errorf("expected *PanicError with value boom, got %v", r.Err)
	}
	if !reported.Load() {
		t.Error("panic handler not called")
	}
}

func TestExecutor_RunPanicHandlerPanics(t *testing.T) {
	exec := NewExecutor(WithPanicHandler(func(any, []byte) { panic("again") }))
	r := exec.Run(context.Background(), 0, func(context.Context) error { panic("boom") })
	if !r.Panicked {
		t.Fatal("expected Panicked")
	}
}

func TestExecutor_RunTimeout(t *testing.T) {
	exec := NewExecutor()
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	r := exec.Run(context.Background(), 20*time.Millisecond, func(context.Context) error {
		<-release // ignores its context on purpose
		return nil
	})
	if !r.TimedOut || !errors.Is(r.Err, ErrHandlerTimeout) {
		t.Fatalf("expected timeout, got %+v", r)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run returned after %v", elapsed)
	}
}

func TestExecutor_RunTimeoutCancelsContext(t *testing.T) {
	exec := NewExecutor()
	cancelled := make(chan struct{})
	r := exec.Run(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	if r.IsSuccess() {
		t.Fatal("expected failure")
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("handler context was not cancelled")
	}
}

func TestExecutor_RunSkipsDoneContext(t *testing.T) {
	exec := NewExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran bool
	r := exec.Run(ctx, 0, func(context.Context) error {
		ran = true
		return nil
	})
	if ran {
		t.Error("task ran with a cancelled context")
	}
	if !r.Skipped || !errors.Is(r.Err, context.Canceled) {
		t.Errorf("unexpected result %+v", r)
	}
}
