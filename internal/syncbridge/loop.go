package syncbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/phrazzld/docsync-api/internal/task"
)

// Errors returned by loops and handles
var (
	ErrLoopBusy   = errors.New("loop is already running")
	ErrLoopClosed = errors.New("loop is closed")
)

// Func is cooperative work executed on a loop.
type Func func(ctx context.Context) (any, error)

// SchedulerHandle is the capability a caller holds over a loop.
type SchedulerHandle interface {
	// IsActive reports whether the loop can accept work through this handle.
	IsActive() bool
	// IsBusy reports whether the loop is currently executing work.
	IsBusy() bool
	// Owned reports whether the holder is the loop's owner.
	Owned() bool
	// RunBlocking runs fn on the loop from its owner and waits for it.
	RunBlocking(ctx context.Context, fn Func) (any, error)
	// SubmitCrossThread hands fn to the loop's serving goroutine.
	SubmitCrossThread(ctx context.Context, fn Func) *task.Future
}

type loopJob struct {
	ctx    context.Context
	fn     Func
	future *task.Future
}

// Loop executes work one job at a time.
type Loop struct {
	jobs      chan loopJob
	closed    chan struct{}
	closeOnce sync.Once
	busy      atomic.Bool
	serving   atomic.Bool
}

// NewLoop creates a loop. Work can be run on it through its owner handle
// right away; foreign handles need Serve to be running.
func NewLoop() *Loop {
	return &Loop{
		jobs:   make(chan loopJob),
		closed: make(chan struct{}),
	}
}

// Handle returns the owner handle.
func (l *Loop) Handle() SchedulerHandle {
	return &handle{loop: l, owned: true}
}

// Foreign returns a handle for goroutines other than the owner.
func (l *Loop) Foreign() SchedulerHandle {
	return &handle{loop: l}
}

// Serve executes submitted jobs on the calling goroutine until ctx is done
// or the loop is closed. The loop is closed when Serve returns.
func (l *Loop) Serve(ctx context.Context) error {
	if !l.serving.CompareAndSwap(false, true) {
		return ErrLoopBusy
	}
	defer l.serving.Store(false)
	defer l.Close()

	owner := l.Handle()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.closed:
			return nil
		case j := <-l.jobs:
			l.busy.Store(true)
			value, err := invoke(WithHandle(j.ctx, owner), j.fn)
			l.busy.Store(false)
			j.future.Resolve(value, err)
		}
	}
}

// Close stops the loop. Submissions that have not been picked up fail with
// ErrLoopClosed.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.closed) })
}

func (l *Loop) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

type handle struct {
	loop  *Loop
	owned bool
}

func (h *handle) IsActive() bool {
	if h.loop.isClosed() {
		return false
	}
	return h.owned || h.loop.serving.Load()
}

func (h *handle) IsBusy() bool {
	return h.loop.busy.Load()
}

func (h *handle) Owned() bool {
	return h.owned
}

func (h *handle) RunBlocking(ctx context.Context, fn Func) (any, error) {
	if h.loop.isClosed() {
		return nil, ErrLoopClosed
	}
	if !h.loop.busy.CompareAndSwap(false, true) {
		return nil, ErrLoopBusy
	}
	defer h.loop.busy.Store(false)

	return invoke(WithHandle(ctx, h.loop.Handle()), fn)
}

func (h *handle) SubmitCrossThread(ctx context.Context, fn Func) *task.Future {
	future := task.NewFuture()
	j := loopJob{ctx: ctx, fn: fn, future: future}

	go func() {
		select {
		case h.loop.jobs <- j:
		case <-h.loop.closed:
			future.Resolve(nil, ErrLoopClosed)
		case <-ctx.Done():
			future.Resolve(nil, ctx.Err())
		}
	}()

	return future
}

func invoke(ctx context.Context, fn Func) (value any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("loop job panicked: %v", p)
		}
	}()
	return fn(ctx)
}

type handleKey struct{}

// WithHandle returns a context carrying h.
func WithHandle(ctx context.Context, h SchedulerHandle) context.Context {
	return context.WithValue(ctx, handleKey{}, h)
}

// HandleFromContext returns the handle bound to ctx, or nil.
func HandleFromContext(ctx context.Context) SchedulerHandle {
	h, _ := ctx.Value(handleKey{}).(SchedulerHandle)
	return h
}
