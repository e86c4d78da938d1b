package supervisor

import (
	"context"
	"sync"
)

// MessageType distinguishes transport events.
type MessageType int

// Transport event types
const (
	MessageBody MessageType = iota
	MessageDisconnect
)

// Message is one event from the client transport.
type Message struct {
	Type     MessageType
	Body     []byte
	MoreBody bool
}

// Receiver pulls the next transport event.
type Receiver func(ctx context.Context) (Message, error)

type teeItem struct {
	msg Message
	err error
}

type tee struct {
	source Receiver
	// sem serializes pulls from source; it is a channel so waiting on it
	// can be abandoned when a branch's context ends.
	sem chan struct{}

	mu     sync.Mutex
	queues [2][]teeItem
}

// Tee splits recv into two receivers that each observe every event, in
// order. Events pulled by one branch are buffered for the other.
func Tee(recv Receiver) (Receiver, Receiver) {
	t := &tee{
		source: recv,
		sem:    make(chan struct{}, 1),
	}
	return t.branch(0), t.branch(1)
}

func (t *tee) pop(i int) (teeItem, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queues[i]) == 0 {
		return teeItem{}, false
	}
	item := t.queues[i][0]
	t.queues[i] = t.queues[i][1:]
	return item, true
}

func (t *tee) branch(i int) Receiver {
	other := 1 - i
	return func(ctx context.Context) (Message, error) {
		if item, ok := t.pop(i); ok {
			return item.msg, item.err
		}

		select {
		case t.sem <- struct{}{}:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
		defer func() { <-t.sem }()

		// The other branch may have pulled while this one waited.
		if item, ok := t.pop(i); ok {
			return item.msg, item.err
		}

		msg, err := t.source(ctx)
		if err != nil && ctx.Err() != nil {
			// This branch gave up; the event was not consumed for the other.
			return Message{}, err
		}

		t.mu.Lock()
		t.queues[other] = append(t.queues[other], teeItem{msg: msg, err: err})
		t.mu.Unlock()
		return msg, err
	}
}
