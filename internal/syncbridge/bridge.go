package syncbridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/docsync-api/internal/task"
)

// DefaultTimeout bounds work that has to leave a busy loop.
const DefaultTimeout = 30 * time.Second

// ErrTimeout is returned when work moved to a helper goroutine does not
// finish in time.
var ErrTimeout = errors.New("syncbridge: work timed out")

// Run executes fn to completion and returns its result. See the package
// documentation for how the execution path is chosen. A timeout of zero or
// less means DefaultTimeout.
func Run[T any](ctx context.Context, fn func(ctx context.Context) (T, error), timeout time.Duration) (T, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	work := func(ctx context.Context) (any, error) {
		return fn(ctx)
	}

	h := HandleFromContext(ctx)
	switch {
	case h == nil || !h.IsActive():
		return typed[T](runTransient(ctx, work))

	case h.Owned() && !h.IsBusy():
		value, err := h.RunBlocking(ctx, work)
		if errors.Is(err, ErrLoopBusy) {
			// The loop became busy between the check and the call.
			return typed[T](runDetached(ctx, work, timeout))
		}
		return typed[T](value, err)

	case h.Owned():
		return typed[T](runDetached(ctx, work, timeout))

	default:
		return task.Await[T](ctx, h.SubmitCrossThread(ctx, work))
	}
}

// runTransient runs work on a loop that exists only for this call.
func runTransient(ctx context.Context, work Func) (any, error) {
	loop := NewLoop()
	defer loop.Close()
	return loop.Handle().RunBlocking(ctx, work)
}

type outcome struct {
	value any
	err   error
}

// runDetached runs work on a helper goroutine and waits at most timeout. The
// helper's context is cancelled on every exit path.
func runDetached(ctx context.Context, work Func, timeout time.Duration) (any, error) {
	helperCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan outcome, 1)
	go func() {
		value, err := runTransient(helperCtx, work)
		result <- outcome{value: value, err: err}
	}()

	select {
	case r := <-result:
		return r.value, r.err
	case <-helperCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

func typed[T any](value any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if value == nil {
		return zero, nil
	}
	v, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected result type %T, want %T", value, zero)
	}
	return v, nil
}
