package task

import (
	"context"
	"fmt"
	"sync"
)

// Work is a unit of work executed by the queue. It receives the context the
// producer passed to Enqueue.
type Work func(ctx context.Context) (any, error)

// Future is a single-assignment result slot for an enqueued job.
type Future struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

// NewFuture returns an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve stores the outcome. Only the first call has any effect; it reports
// whether this call was the one that resolved the future.
func (f *Future) Resolve(value any, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		resolved = true
		close(f.done)
	})
	return resolved
}

// Done returns a channel that is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is resolved or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Await waits for f and converts its value to T.
func Await[T any](ctx context.Context, f *Future) (T, error) {
	var zero T
	value, err := f.Wait(ctx)
	if err != nil {
		return zero, err
	}
	if value == nil {
		return zero, nil
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected result type %T, want %T", value, zero)
	}
	return typed, nil
}
