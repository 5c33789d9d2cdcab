package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"TenderScanner/internal/logging"
)

func waitFailure(t *testing.T, r *Runner) Failure {
	t.Helper()
	select {
	case f := <-r.Errors():
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("no failure reported")
	}
	return Failure{}
}

func TestRunnerOutlivesCallerContext(t *testing.T) {
	t.Parallel()

	r := NewRunner(logging.Discard(), nil)

	reqCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	err := r.Go("scrape", "s1", func(ctx context.Context, _ *Handle) error {
		<-reqCtx.Done()
		done <- ctx.Err()
		return nil
	})
	if err != nil {
		t.Fatalf("Go() error = %v", err)
	}
	cancel()

	select {
	case taskErr := <-done:
		if taskErr != nil {
			t.Fatalf("task context cancelled with the request: %v", taskErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not run")
	}
}

func TestRunnerReportsErrorsAndPanics(t *testing.T) {
	t.Parallel()

	r := NewRunner(logging.Discard(), nil)
	boom := errors.New("boom")

	if err := r.Go("enrich", "e1", func(context.Context, *Handle) error { return boom }); err != nil {
		t.Fatalf("Go() error = %v", err)
	}
	if f := waitFailure(t, r); !errors.Is(f.Err, boom) || f.ID != "e1" || f.Kind != "enrich" {
		t.Fatalf("unexpected failure: %+v", f)
	}

	if err := r.Go("enrich", "e2", func(context.Context, *Handle) error { panic("kaboom") }); err != nil {
		t.Fatalf("Go() error = %v", err)
	}
	if f := waitFailure(t, r); f.ID != "e2" || f.Err == nil {
		t.Fatalf("unexpected failure: %+v", f)
	}
}

func TestRunnerStopSetsHaltFlag(t *testing.T) {
	t.Parallel()

	r := NewRunner(logging.Discard(), nil)
	started := make(chan struct{})
	halted := make(chan bool, 1)

	err := r.Go("scrape", "s1", func(_ context.Context, h *Handle) error {
		close(started)
		deadline := time.Now().Add(2 * time.Second)
		for !h.Halted() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		halted <- h.Halted()
		return nil
	})
	if err != nil {
		t.Fatalf("Go() error = %v", err)
	}

	<-started
	if !r.Stop("s1") {
		t.Fatalf("expected running task to be found")
	}
	if !<-halted {
		t.Fatalf("task never observed the halt flag")
	}
	if r.Stop("unknown") {
		t.Fatalf("unknown task reported as stopped")
	}
}

func TestRunnerRejectsDuplicateID(t *testing.T) {
	t.Parallel()

	r := NewRunner(logging.Discard(), nil)
	release := make(chan struct{})
	defer close(release)

	if err := r.Go("scrape", "dup", func(context.Context, *Handle) error { <-release; return nil }); err != nil {
		t.Fatalf("Go() error = %v", err)
	}
	if err := r.Go("scrape", "dup", func(context.Context, *Handle) error { return nil }); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestRunnerShutdownWaitsAndRefuses(t *testing.T) {
	t.Parallel()

	r := NewRunner(logging.Discard(), nil)
	finished := make(chan struct{})

	err := r.Go("scrape", "s1", func(_ context.Context, h *Handle) error {
		for !h.Halted() {
			time.Sleep(5 * time.Millisecond)
		}
		close(finished)
		return nil
	})
	if err != nil {
		t.Fatalf("Go() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case <-finished:
	default:
		t.Fatalf("Shutdown returned before the task finished")
	}

	if err := r.Go("scrape", "s2", func(context.Context, *Handle) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
