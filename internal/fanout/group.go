package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ErrPanicked wraps a panic recovered from a computation.
var ErrPanicked = errors.New("fanout computation panicked")

// Func is a single deferred computation.
type Func[T any] func(ctx context.Context) (T, error)

// Result holds the outcome of the computation submitted at Index.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Group is an ordered list of computations with an optional concurrency bound.
// A batch size of zero or less means every computation is launched at once.
type Group[T any] struct {
	batchSize int
	fns       []Func[T]
}

// NewGroup creates a group from fns.
func NewGroup[T any](batchSize int, fns ...Func[T]) *Group[T] {
	g := &Group[T]{batchSize: batchSize}
	g.fns = append(g.fns, fns...)
	return g
}

// Add appends a computation.
func (g *Group[T]) Add(fn Func[T]) {
	g.fns = append(g.fns, fn)
}

// Len returns the number of submitted computations.
func (g *Group[T]) Len() int {
	return len(g.fns)
}

// chunks returns the [start, end) bounds of each launch wave.
func (g *Group[T]) chunks() [][2]int {
	n := len(g.fns)
	if n == 0 {
		return nil
	}
	size := g.batchSize
	if size <= 0 || size > n {
		size = n
	}
	bounds := make([][2]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		bounds = append(bounds, [2]int{start, end})
	}
	return bounds
}

// RunAll runs every computation and returns their values in submission order.
// Each chunk is joined in full before its errors are inspected; the first
// error in submission order is returned and no later chunk is started.
func (g *Group[T]) RunAll(ctx context.Context) ([]T, error) {
	values := make([]T, len(g.fns))
	errs := make([]error, len(g.fns))

	for _, bounds := range g.chunks() {
		g.runChunk(ctx, bounds, values, errs)
		for i := bounds[0]; i < bounds[1]; i++ {
			if errs[i] != nil {
				return nil, errs[i]
			}
		}
	}

	return values, nil
}

// RunAllCapturing runs every computation like RunAll but never fails as a
// whole; each result slot carries either a value or an error.
func (g *Group[T]) RunAllCapturing(ctx context.Context) []Result[T] {
	values := make([]T, len(g.fns))
	errs := make([]error, len(g.fns))

	for _, bounds := range g.chunks() {
		g.runChunk(ctx, bounds, values, errs)
	}

	results := make([]Result[T], len(g.fns))
	for i := range g.fns {
		results[i] = Result[T]{Index: i, Value: values[i], Err: errs[i]}
	}
	return results
}

// Execute runs the group in the background and logs a failure.
func (g *Group[T]) Execute(ctx context.Context, logger *slog.Logger) {
	go func() {
		if _, err := g.RunAll(ctx); err != nil {
			logger.Error("fanout execution failed",
				"error", err,
				"computations", g.Len())
		}
	}()
}

// runChunk launches fns[start:end] and waits for all of them. Errors are
// recorded per slot rather than returned, so a failure does not cancel its
// siblings.
func (g *Group[T]) runChunk(ctx context.Context, bounds [2]int, values []T, errs []error) {
	var eg errgroup.Group
	for i := bounds[0]; i < bounds[1]; i++ {
		eg.Go(func() error {
			values[i], errs[i] = call(ctx, g.fns[i])
			return nil
		})
	}
	_ = eg.Wait()
}

func call[T any](ctx context.Context, fn Func[T]) (value T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPanicked, p)
		}
	}()
	return fn(ctx)
}
