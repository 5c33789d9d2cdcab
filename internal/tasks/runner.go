// Package tasks runs scrape and enrichment sessions in the background,
// detached from the request that started them.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"TenderScanner/internal/metrics"
)

var (
	// ErrStopped is returned by Go once Shutdown has begun.
	ErrStopped = errors.New("task runner stopped")
	// ErrDuplicate is returned when a task with the same id is still running.
	ErrDuplicate = errors.New("task already running")
)

// Handle is given to a running task; it exposes the halt flag set by Stop.
type Handle struct {
	id     string
	kind   string
	halted atomic.Bool
}

// ID returns the task id (the session id).
func (h *Handle) ID() string { return h.id }

// Halted reports whether Stop was requested for this task.
func (h *Handle) Halted() bool { return h.halted.Load() }

// Failure is reported on the error channel when a task returns an error or panics.
type Failure struct {
	Kind string
	ID   string
	Err  error
}

// Func is the body of a background task.
type Func func(ctx context.Context, h *Handle) error

// Runner owns every background task of the process.
type Runner struct {
	mu      sync.Mutex
	running map[string]*Handle
	closed  bool
	wg      sync.WaitGroup

	base   context.Context
	cancel context.CancelFunc

	failures chan Failure
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRunner creates a runner; m may be nil.
func NewRunner(log *slog.Logger, m *metrics.Metrics) *Runner {
	if log == nil {
		log = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		running:  map[string]*Handle{},
		base:     base,
		cancel:   cancel,
		failures: make(chan Failure, 64),
		logger:   log,
		metrics:  m,
	}
}

// Go starts fn in its own goroutine. The task gets a context that outlives
// the caller's request and ends only when the runner shuts down.
func (r *Runner) Go(kind, id string, fn Func) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrStopped
	}
	if _, ok := r.running[id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, ErrDuplicate)
	}
	h := &Handle{id: id, kind: kind}
	r.running[id] = h
	r.wg.Add(1)
	r.mu.Unlock()

	r.metrics.TaskStarted(kind)
	go r.run(h, fn)
	return nil
}

func (r *Runner) run(h *Handle, fn Func) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.running, h.id)
		r.mu.Unlock()
		r.metrics.TaskFinished(h.kind)
	}()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("task panicked", "kind", h.kind, "id", h.id, "panic", p, "stack", string(debug.Stack()))
			r.report(Failure{Kind: h.kind, ID: h.id, Err: fmt.Errorf("panic: %v", p)})
		}
	}()

	r.logger.Info("task started", "kind", h.kind, "id", h.id)
	if err := fn(r.base, h); err != nil {
		r.logger.Error("task failed", "kind", h.kind, "id", h.id, "err", err)
		r.report(Failure{Kind: h.kind, ID: h.id, Err: err})
		return
	}
	r.logger.Info("task finished", "kind", h.kind, "id", h.id, "halted", h.Halted())
}

func (r *Runner) report(f Failure) {
	select {
	case r.failures <- f:
	default:
		r.logger.Warn("task failure dropped, channel full", "id", f.ID)
	}
}

// Stop asks a running task to halt before its next unit of work. It reports
// false when no task with id is running.
func (r *Runner) Stop(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.running[id]
	if ok {
		h.halted.Store(true)
	}
	return ok
}

// Running reports whether a task with id is in flight.
func (r *Runner) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[id]
	return ok
}

// Errors delivers task failures. The channel is buffered; failures beyond
// its capacity are logged and dropped.
func (r *Runner) Errors() <-chan Failure {
	return r.failures
}

// Shutdown refuses new tasks, halts running ones and waits for them. When
// ctx ends first the task context is cancelled and ctx's error returned.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, h := range r.running {
		h.halted.Store(true)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}
