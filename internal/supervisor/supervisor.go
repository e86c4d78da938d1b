package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/phrazzld/docsync-api/internal/metrics"
)

// Handler processes one request. It receives the request's transport branch
// and must honour ctx.
type Handler func(ctx context.Context, recv Receiver) error

// Supervisor runs handlers under per-request task supervision.
type Supervisor struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Supervisor.
func New(logger *slog.Logger, m *metrics.Metrics) *Supervisor {
	return &Supervisor{
		logger:  logger.With("component", "supervisor"),
		metrics: m,
	}
}

// Begin binds a fresh RequestContext into ctx. The returned release function
// tears the registry down without cancelling anything; it is safe to call
// more than once.
func (s *Supervisor) Begin(ctx context.Context) (context.Context, *RequestContext, func()) {
	rc := newRequestContext()
	return withRequest(ctx, rc), rc, sync.OnceFunc(rc.release)
}

type handlerResult struct {
	err      error
	panicked bool
	panicVal any
}

// Serve runs handle while watching recv for a client disconnect.
//
// If handle finishes first the watcher is stopped and supervised tasks keep
// running. If a disconnect arrives first every supervised task is cancelled,
// then handle's context is cancelled and the resulting context.Canceled is
// not reported. When both have finished, handle's completion wins. A panic in
// handle is re-raised here once the watcher has been joined.
func (s *Supervisor) Serve(ctx context.Context, recv Receiver, handle Handler) error {
	ctx, rc, release := s.Begin(ctx)
	defer release()

	s.metrics.ObserveRequest()
	log := s.logger.With("request_id", rc.ID())

	watchRecv, appRecv := Tee(recv)

	appCtx, cancelApp := context.WithCancel(ctx)
	defer cancelApp()
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()

	appDone := make(chan handlerResult, 1)
	watchDone := make(chan error, 1)

	go func() {
		var res handlerResult
		defer func() {
			if p := recover(); p != nil {
				res = handlerResult{panicked: true, panicVal: p}
			}
			appDone <- res
		}()
		res.err = handle(appCtx, appRecv)
	}()
	go func() {
		watchDone <- watchDisconnect(watchCtx, watchRecv)
	}()

	var res handlerResult
	var watchErr error

	select {
	case res = <-appDone:
		cancelWatch()
		watchErr = <-watchDone
		if errors.Is(watchErr, context.Canceled) || errors.Is(watchErr, errDisconnectObserved) {
			watchErr = nil
		}

	case watchErr = <-watchDone:
		if errors.Is(watchErr, errDisconnectObserved) {
			watchErr = nil
			select {
			case res = <-appDone:
				// Finished concurrently; the handler's completion wins.
			default:
				cancelled, _ := cancelCurrent(ctx)
				s.metrics.ObserveDisconnect(cancelled)
				log.Info("client disconnected, cancelling request",
					"cancelled_tasks", cancelled)
				cancelApp()
				res = <-appDone
				if errors.Is(res.err, context.Canceled) {
					res.err = nil
				}
			}
		} else {
			log.Warn("disconnect watcher failed", "error", watchErr)
			cancelApp()
			res = <-appDone
			if errors.Is(res.err, context.Canceled) && ctx.Err() == nil {
				res.err = nil
			}
		}
	}

	if res.panicked {
		panic(res.panicVal)
	}
	return errors.Join(res.err, watchErr)
}

// watchDisconnect drains recv until a disconnect event, an error, or ctx ends.
func watchDisconnect(ctx context.Context, recv Receiver) error {
	for {
		msg, err := recv(ctx)
		if err != nil {
			return err
		}
		if msg.Type == MessageDisconnect {
			return errDisconnectObserved
		}
	}
}
