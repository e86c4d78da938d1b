package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/phrazzld/docsync-api/internal/metrics"
)

// Common errors returned by the ThrottledQueue
var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrJobPanicked = errors.New("task panicked")
	ErrNilWork     = errors.New("task work cannot be nil")
)

// QueueConfig holds configuration for the throttled queue
type QueueConfig struct {
	// Interval is the minimum time between two job starts
	Interval time.Duration

	// Capacity bounds the number of pending jobs. Zero means unbounded;
	// producers block in Enqueue while the queue is full.
	Capacity int
}

// DefaultQueueConfig returns a QueueConfig with reasonable defaults
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Interval: 50 * time.Millisecond,
		Capacity: 0,
	}
}

type job struct {
	ctx        context.Context
	work       Work
	future     *Future
	enqueuedAt time.Time
}

// ThrottledQueue is a FIFO queue drained by a single consumer that starts at
// most one job per interval.
type ThrottledQueue struct {
	config  QueueConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	mu       sync.Mutex
	pending  []*job
	inFlight int
	closed   bool
	cancel   context.CancelFunc

	// ready holds a token whenever a job was appended.
	ready chan struct{}
	// space is closed and replaced each time a pending slot frees.
	space chan struct{}
	// idle is closed while nothing is pending or in flight.
	idle   chan struct{}
	isIdle bool

	startOnce sync.Once
	loopDone  chan struct{}
	jobs      sync.WaitGroup
}

// NewThrottledQueue creates a queue. The consumer loop does not run until Start.
func NewThrottledQueue(config QueueConfig, logger *slog.Logger, m *metrics.Metrics) *ThrottledQueue {
	if config.Interval < 0 {
		logger.Warn("negative queue interval specified, using zero",
			"specified_interval", config.Interval)
		config.Interval = 0
	}
	if config.Capacity < 0 {
		config.Capacity = 0
	}

	idle := make(chan struct{})
	close(idle)

	return &ThrottledQueue{
		config:   config,
		logger:   logger,
		metrics:  m,
		limiter:  rate.NewLimiter(rate.Every(config.Interval), 1),
		ready:    make(chan struct{}, 1),
		space:    make(chan struct{}),
		idle:     idle,
		isIdle:   true,
		loopDone: make(chan struct{}),
	}
}

// Enqueue appends work to the tail of the queue and returns its Future.
// It blocks only while the queue is at capacity.
func (q *ThrottledQueue) Enqueue(ctx context.Context, work Work) (*Future, error) {
	if work == nil {
		return nil, ErrNilWork
	}

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		if q.config.Capacity == 0 || len(q.pending) < q.config.Capacity {
			break
		}
		space := q.space
		q.mu.Unlock()

		select {
		case <-space:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	j := &job{
		ctx:        ctx,
		work:       work,
		future:     NewFuture(),
		enqueuedAt: time.Now(),
	}
	q.pending = append(q.pending, j)
	if q.isIdle {
		q.idle = make(chan struct{})
		q.isIdle = false
	}
	q.metrics.SetQueueDepth(len(q.pending), q.inFlight)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}

	return j.future, nil
}

// Start begins the consumer loop. Only the first call has any effect, and a
// stopped queue is never started.
func (q *ThrottledQueue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed {
			return
		}
		runCtx, cancel := context.WithCancel(ctx)
		q.cancel = cancel
		go q.run(runCtx)
	})
}

// Running reports whether the consumer loop has been started and not stopped.
func (q *ThrottledQueue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancel != nil && !q.closed
}

// Len returns the number of pending jobs.
func (q *ThrottledQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// InFlight returns the number of dequeued jobs that have not finished.
func (q *ThrottledQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// WaitUntilIdle blocks until no job is pending and none is in flight.
func (q *ThrottledQueue) WaitUntilIdle(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		q.logger.Debug("task queue finished")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop terminates the consumer loop, fails every pending job with
// ErrQueueClosed and waits for in-flight jobs to finish.
func (q *ThrottledQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
		<-q.loopDone
	}

	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	close(q.space)
	q.space = make(chan struct{})
	q.markIdleIfDrainedLocked()
	q.metrics.SetQueueDepth(0, q.inFlight)
	q.mu.Unlock()

	for _, j := range pending {
		j.future.Resolve(nil, ErrQueueClosed)
		q.metrics.ObserveJob(metrics.OutcomeSkipped)
	}

	q.jobs.Wait()
	q.logger.Info("task queue stopped", "dropped_jobs", len(pending))
}

// run is the consumer loop
func (q *ThrottledQueue) run(ctx context.Context) {
	defer close(q.loopDone)

	q.logger.Debug("task queue started", "interval", q.config.Interval)

	for {
		j, ok := q.next(ctx)
		if !ok {
			q.logger.Debug("task queue consumer stopping")
			return
		}

		// A producer that already gave up does not consume a pacing slot.
		if err := j.ctx.Err(); err != nil {
			q.finish(j, nil, err, metrics.OutcomeSkipped)
			continue
		}

		if err := q.waitForSlot(ctx, j); err != nil {
			if ctx.Err() != nil {
				q.finish(j, nil, ErrQueueClosed, metrics.OutcomeSkipped)
				q.logger.Debug("task queue consumer stopping")
				return
			}
			q.finish(j, nil, err, metrics.OutcomeSkipped)
			continue
		}

		q.jobs.Add(1)
		go q.execute(j)
	}
}

// waitForSlot blocks until the limiter grants a start. It gives up when the
// queue stops or the job's own context ends; a cancelled wait returns its
// reservation to the limiter.
func (q *ThrottledQueue) waitForSlot(ctx context.Context, j *job) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(j.ctx, cancel)
	defer stop()

	if err := q.limiter.Wait(waitCtx); err != nil {
		if jobErr := j.ctx.Err(); jobErr != nil {
			return jobErr
		}
		return err
	}
	return nil
}

// next dequeues the head job and counts it as in flight in the same critical
// section, so the queue is never observed empty and idle while a dequeued job
// has not started.
func (q *ThrottledQueue) next(ctx context.Context) (*job, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			j := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.inFlight++
			close(q.space)
			q.space = make(chan struct{})
			q.metrics.SetQueueDepth(len(q.pending), q.inFlight)
			q.mu.Unlock()
			return j, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// execute runs a single job and resolves its future
func (q *ThrottledQueue) execute(j *job) {
	defer q.jobs.Done()

	q.metrics.ObserveWait(time.Since(j.enqueuedAt))

	value, err := q.call(j)
	outcome := metrics.OutcomeSucceeded
	if err != nil {
		outcome = metrics.OutcomeFailed
		if errors.Is(err, context.Canceled) {
			q.logger.Debug("task cancelled", "error", err)
		} else {
			q.logger.Error("task execution failed", "error", err)
		}
	}

	q.finish(j, value, err, outcome)
}

func (q *ThrottledQueue) call(j *job) (value any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, p)
		}
	}()
	return j.work(j.ctx)
}

// finish resolves the job's future before releasing its in-flight slot, so
// WaitUntilIdle never returns ahead of a future.
func (q *ThrottledQueue) finish(j *job, value any, err error, outcome string) {
	j.future.Resolve(value, err)
	q.metrics.ObserveJob(outcome)

	q.mu.Lock()
	q.inFlight--
	q.markIdleIfDrainedLocked()
	q.metrics.SetQueueDepth(len(q.pending), q.inFlight)
	q.mu.Unlock()
}

func (q *ThrottledQueue) markIdleIfDrainedLocked() {
	if !q.isIdle && len(q.pending) == 0 && q.inFlight == 0 {
		close(q.idle)
		q.isIdle = true
	}
}
