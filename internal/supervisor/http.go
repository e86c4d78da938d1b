package supervisor

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/phrazzld/docsync-api/internal/platform/logger"
)

const readChunkSize = 32 * 1024

// RequestReceiver adapts an incoming request to a Receiver. It yields the
// body in chunks, then a disconnect event once the request's context ends.
// The pump goroutine exits when the request's context is done.
func RequestReceiver(r *http.Request) Receiver {
	events := make(chan teeItem)
	ctx := r.Context()

	go func() {
		defer close(events)

		send := func(item teeItem) bool {
			select {
			case events <- item:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if r.Body != nil && r.Body != http.NoBody {
			buf := make([]byte, readChunkSize)
			for {
				n, err := r.Body.Read(buf)
				if n > 0 {
					chunk := append([]byte(nil), buf[:n]...)
					if !send(teeItem{msg: Message{Type: MessageBody, Body: chunk, MoreBody: true}}) {
						return
					}
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					send(teeItem{err: err})
					return
				}
			}
		}

		if !send(teeItem{msg: Message{Type: MessageBody}}) {
			return
		}
		<-ctx.Done()
	}()

	return func(recvCtx context.Context) (Message, error) {
		select {
		case item, ok := <-events:
			if !ok {
				return Message{Type: MessageDisconnect}, nil
			}
			return item.msg, item.err
		case <-recvCtx.Done():
			return Message{}, recvCtx.Err()
		}
	}
}

// bodyReader exposes a Receiver as a request body.
type bodyReader struct {
	ctx  context.Context
	recv Receiver
	buf  []byte
	eof  bool
}

func newBodyReader(ctx context.Context, recv Receiver) io.ReadCloser {
	return &bodyReader{ctx: ctx, recv: recv}
}

func (b *bodyReader) Read(p []byte) (int, error) {
	for len(b.buf) == 0 {
		if b.eof {
			return 0, io.EOF
		}
		msg, err := b.recv(b.ctx)
		if err != nil {
			return 0, err
		}
		if msg.Type == MessageDisconnect {
			return 0, ErrClientDisconnected
		}
		b.buf = msg.Body
		b.eof = !msg.MoreBody
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

func (b *bodyReader) Close() error {
	return nil
}

// Middleware supervises every request passing through it. Disconnects are
// observed only through the request's transport, so the handler's context is
// detached from the request's own cancellation. Protocol upgrades are passed
// through untouched.
func (s *Supervisor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}

		base := context.WithoutCancel(r.Context())
		err := s.Serve(base, RequestReceiver(r), func(ctx context.Context, recv Receiver) error {
			rc := FromContext(ctx)
			reqLogger := logger.FromContext(ctx).With("request_id", rc.ID())
			ctx = logger.WithContext(ctx, reqLogger)

			req := r.WithContext(ctx)
			req.Body = newBodyReader(ctx, recv)
			next.ServeHTTP(w, req)
			return nil
		})
		if err != nil {
			s.logger.Error("supervised request failed",
				"error", err,
				"method", r.Method,
				"path", r.URL.Path)
		}
	})
}
