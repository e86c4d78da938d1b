package supervisor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Task is a background computation started on behalf of a request.
type Task struct {
	id        string
	name      string
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	cancelled atomic.Bool
}

// Go runs fn on its own goroutine and supervises it under the request bound
// to ctx. The task sees ctx's values but not its cancellation: it outlives
// the handler and stops only through Cancel or CancelCurrent.
func Go(ctx context.Context, name string, fn func(ctx context.Context) error) *Task {
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &Task{
		id:     uuid.NewString(),
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				t.err = fmt.Errorf("task %s panicked: %v", name, p)
			}
		}()
		t.err = fn(taskCtx)
	}()

	Supervise(ctx, t)
	return t
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// Name returns the name the task was started with.
func (t *Task) Name() string { return t.name }

// Cancel requests cancellation. It returns false if the task already
// finished or was already cancelled.
func (t *Task) Cancel() bool {
	select {
	case <-t.done:
		return false
	default:
	}
	if !t.cancelled.CompareAndSwap(false, true) {
		return false
	}
	t.cancel()
	return true
}

// Done is closed when the task returns.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task returns or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the task's error once it is done, and nil before that.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Cancelled reports whether Cancel took effect.
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}
