package supervisor

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Canceler is anything that can be cancelled. Cancel reports whether the
// call had any effect.
type Canceler interface {
	Cancel() bool
}

// RequestContext holds the tasks supervised on behalf of one request.
type RequestContext struct {
	id string

	mu       sync.Mutex
	tasks    []Canceler
	released bool
}

func newRequestContext() *RequestContext {
	return &RequestContext{id: "req_id_" + uuid.NewString()}
}

// ID returns the request identifier.
func (rc *RequestContext) ID() string {
	return rc.id
}

// Len returns the number of tasks currently supervised.
func (rc *RequestContext) Len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.tasks)
}

func (rc *RequestContext) supervise(tasks ...Canceler) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.released {
		return false
	}
	rc.tasks = append(rc.tasks, tasks...)
	return true
}

// cancelAll cancels and drops every task. It returns false when the registry
// was already torn down.
func (rc *RequestContext) cancelAll() (int, bool) {
	rc.mu.Lock()
	if rc.released {
		rc.mu.Unlock()
		return 0, false
	}
	tasks := rc.tasks
	rc.tasks = nil
	rc.released = true
	rc.mu.Unlock()

	cancelled := 0
	for _, t := range tasks {
		if t.Cancel() {
			cancelled++
		}
	}
	return cancelled, true
}

func (rc *RequestContext) release() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.tasks = nil
	rc.released = true
}

type requestKey struct{}

func withRequest(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestKey{}, rc)
}

// FromContext returns the RequestContext bound to ctx, or nil.
func FromContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestKey{}).(*RequestContext)
	return rc
}

// Supervise registers tasks with the request bound to ctx. It does nothing
// outside a request or once the request's registry is gone.
func Supervise(ctx context.Context, tasks ...Canceler) {
	if rc := FromContext(ctx); rc != nil {
		rc.supervise(tasks...)
	}
}

// CancelCurrent cancels every task supervised by the request bound to ctx.
// It returns false when there is no live registry.
func CancelCurrent(ctx context.Context) bool {
	_, ok := cancelCurrent(ctx)
	return ok
}

func cancelCurrent(ctx context.Context) (int, bool) {
	rc := FromContext(ctx)
	if rc == nil {
		return 0, false
	}
	return rc.cancelAll()
}
