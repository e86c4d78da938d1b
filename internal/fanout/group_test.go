package fanout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(v int) Func[int] {
	return func(ctx context.Context) (int, error) { return v, nil }
}

func TestRunAll_PreservesSubmissionOrder(t *testing.T) {
	g := NewGroup[int](0)
	for i := 0; i < 10; i++ {
		delay := time.Duration(10-i) * time.Millisecond
		g.Add(func(ctx context.Context) (int, error) {
			time.Sleep(delay)
			return i, nil
		})
	}

	values, err := g.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, values)
}

func TestRunAll_Empty(t *testing.T) {
	values, err := NewGroup[string](3).RunAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestRunAll_BoundsConcurrency(t *testing.T) {
	tests := []struct {
		name      string
		batchSize int
		total     int
		wantPeak  int32
	}{
		{name: "bounded", batchSize: 3, total: 10, wantPeak: 3},
		{name: "batch larger than input", batchSize: 20, total: 5, wantPeak: 5},
		{name: "unbounded", batchSize: 0, total: 7, wantPeak: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var current, peak atomic.Int32
			g := NewGroup[int](tt.batchSize)
			for i := 0; i < tt.total; i++ {
				g.Add(func(ctx context.Context) (int, error) {
					n := current.Add(1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
					time.Sleep(20 * time.Millisecond)
					current.Add(-1)
					return i, nil
				})
			}

			values, err := g.RunAll(context.Background())
			require.NoError(t, err)
			assert.Len(t, values, tt.total)
			assert.LessOrEqual(t, peak.Load(), tt.wantPeak)
			assert.Equal(t, tt.wantPeak, peak.Load())
		})
	}
}

func TestRunAll_FirstErrorStopsLaterChunks(t *testing.T) {
	errFirst := errors.New("first")
	errSecond := errors.New("second")

	var mu sync.Mutex
	started := map[int]bool{}
	track := func(i int, err error, delay time.Duration) Func[int] {
		return func(ctx context.Context) (int, error) {
			mu.Lock()
			started[i] = true
			mu.Unlock()
			time.Sleep(delay)
			return i, err
		}
	}

	// Slot 1 fails later than slot 2 but is reported first
	g := NewGroup[int](3,
		track(0, nil, 0),
		track(1, errFirst, 30*time.Millisecond),
		track(2, errSecond, 0),
		track(3, nil, 0),
		track(4, nil, 0),
	)

	values, err := g.RunAll(context.Background())
	assert.Nil(t, values)
	assert.ErrorIs(t, err, errFirst)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, started[0] && started[1] && started[2])
	assert.False(t, started[3], "later chunk must not start")
	assert.False(t, started[4], "later chunk must not start")
}

func TestRunAllCapturing(t *testing.T) {
	errBroken := errors.New("broken")
	g := NewGroup[int](2,
		constant(1),
		func(ctx context.Context) (int, error) { return 0, errBroken },
		constant(3),
		func(ctx context.Context) (int, error) { panic("bad input") },
		constant(5),
	)

	results := g.RunAllCapturing(context.Background())
	require.Len(t, results, 5)

	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
	assert.ErrorIs(t, results[1].Err, errBroken)
	assert.ErrorIs(t, results[3].Err, ErrPanicked)
	assert.Equal(t, []int{1, 3, 5}, Values(results))
	assert.False(t, AllSucceeded(results))

	succeeded, failed := Partition(results)
	assert.Len(t, succeeded, 3)
	require.Len(t, failed, 2)
	assert.Equal(t, 1, failed[0].Index)
	assert.Equal(t, 3, failed[1].Index)

	assert.True(t, AllSucceeded(NewGroup[int](0, constant(1)).RunAllCapturing(context.Background())))
}

func TestRunAll_PanicBecomesError(t *testing.T) {
	g := NewGroup[int](0, constant(1), func(ctx context.Context) (int, error) {
		panic("exploded")
	})

	_, err := g.RunAll(context.Background())
	assert.ErrorIs(t, err, ErrPanicked)
}

func TestExecute_LogsFailure(t *testing.T) {
	done := make(chan struct{})
	handler := &recordingHandler{records: make(chan string, 1)}
	logger := slog.New(handler)

	g := NewGroup[int](0, func(ctx context.Context) (int, error) {
		defer close(done)
		return 0, errors.New("failed remotely")
	})
	g.Execute(context.Background(), logger)

	<-done
	select {
	case msg := <-handler.records:
		assert.Equal(t, "fanout execution failed", msg)
	case <-time.After(time.Second):
		t.Fatal("expected failure to be logged")
	}
}

func TestExecute_SilentOnSuccess(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	done := make(chan struct{})
	g := NewGroup[int](0, func(ctx context.Context) (int, error) {
		close(done)
		return 1, nil
	})
	g.Execute(context.Background(), logger)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("computation did not run")
	}
}

type recordingHandler struct {
	records chan string
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.records <- r.Message
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }
