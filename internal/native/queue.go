// Package native is the session layer under the client: the event queue the
// dispatcher drains, the request primitives the state machine issues, and the
// render entry points FrameRenderSync submits to.
package native

import (
	"context"
	"errors"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// DefaultQueueCapacity is the event queue size used when none is configured.
const DefaultQueueCapacity = 256

var ErrQueueClosed = errors.New("native: event queue closed")

// Event is one raw entry of the native event queue. Source identifies the
// link that raised it; Data is an encoded message.Message.
type Event struct {
	Source uint64
	Data   []byte
}

// EventQueue is a bounded single-producer single-consumer queue. The link
// goroutine is the only producer and the engine thread the only consumer.
//
// CheckMessageQueue and RemoveFirstMessage give the consumer a peek/remove
// view of the queue: the head entry is dequeued into a slot on first peek
// and stays there until removed.
type EventQueue struct {
	q lfq.SPSC[Event]

	head    Event
	hasHead bool

	closed atomix.Uint32
}

// NewEventQueue returns a queue holding up to capacity events.
func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	eq := &EventQueue{}
	eq.q.Init(capacity)
	return eq
}

// TryPush enqueues ev without blocking. It returns iox.ErrWouldBlock when
// the queue is full.
func (eq *EventQueue) TryPush(ev Event) error {
	if eq.closed.Load() != 0 {
		return ErrQueueClosed
	}
	return eq.q.Enqueue(&ev)
}

// Push enqueues ev, backing off while the queue is full. It gives up when
// ctx is done or the queue is closed.
func (eq *EventQueue) Push(ctx context.Context, ev Event) error {
	var bo iox.Backoff
	for {
		err := eq.TryPush(ev)
		if !iox.IsWouldBlock(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bo.Wait()
	}
}

// CheckMessageQueue reports the oldest event without removing it. The
// returned slice stays valid until RemoveFirstMessage.
func (eq *EventQueue) CheckMessageQueue() (source uint64, data []byte, ok bool) {
	if !eq.hasHead {
		ev, err := eq.q.Dequeue()
		if err != nil {
			return 0, nil, false
		}
		eq.head = ev
		eq.hasHead = true
	}
	return eq.head.Source, eq.head.Data, true
}

// RemoveFirstMessage drops the event last returned by CheckMessageQueue.
func (eq *EventQueue) RemoveFirstMessage() {
	if !eq.hasHead {
		if _, err := eq.q.Dequeue(); err != nil {
			return
		}
	}
	eq.head = Event{}
	eq.hasHead = false
}

// Close makes further pushes fail. Events already queued can still be
// drained.
func (eq *EventQueue) Close() {
	eq.closed.Store(1)
}
