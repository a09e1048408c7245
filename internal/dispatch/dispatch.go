// Package dispatch relays events from the native session queue to
// subscribers, in arrival order, once per engine tick.
package dispatch

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/clickedinc/axr/internal/message"
)

// Queue is the native event queue. CheckMessageQueue reports the head entry
// without removing it; the returned slice is only valid until
// RemoveFirstMessage is called.
type Queue interface {
	CheckMessageQueue() (source uint64, data []byte, ok bool)
	RemoveFirstMessage()
}

// Handler receives decoded messages.
type Handler func(message.Message)

// Subscription is a registered Handler. Unsubscribe removes it; calling it
// more than once is harmless.
type Subscription struct {
	d       *Dispatcher
	handler Handler
	active  bool
}

// Unsubscribe detaches the handler. When called from inside a delivery, by
// this handler or any other, the handler still sees the message currently
// being delivered but none after it.
func (s *Subscription) Unsubscribe() {
	if s == nil || !s.active {
		return
	}
	s.active = false
	s.d.remove(s)
}

// Dispatcher drains a Queue and publishes each message to its subscribers.
// It is not safe for concurrent use: Drain, Subscribe and Unsubscribe all run
// on the engine thread.
type Dispatcher struct {
	queue Queue
	log   *zap.Logger
	subs  []*Subscription
}

// New returns a Dispatcher over q. A nil logger disables logging.
func New(q Queue, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue: q,
		log:   logger.With(zap.String("component", "dispatch")),
	}
}

// Subscribe appends h to the ordered subscriber list.
func (d *Dispatcher) Subscribe(h Handler) *Subscription {
	s := &Subscription{d: d, handler: h, active: true}
	subs := make([]*Subscription, len(d.subs), len(d.subs)+1)
	copy(subs, d.subs)
	d.subs = append(subs, s)
	return s
}

// Subscribers returns the number of active subscriptions.
func (d *Dispatcher) Subscribers() int {
	return len(d.subs)
}

// remove swaps in a new slice so that a delivery loop iterating the old one
// is not disturbed.
func (d *Dispatcher) remove(target *Subscription) {
	subs := make([]*Subscription, 0, len(d.subs))
	for _, s := range d.subs {
		if s != target {
			subs = append(subs, s)
		}
	}
	d.subs = subs
}

// Drain delivers every pending event. For each entry it copies the payload,
// removes the entry from the native queue, decodes it and calls every
// subscriber before looking at the next entry. Entries that fail to decode
// are logged and skipped; their errors are combined in the returned error.
// It returns the number of messages delivered.
func (d *Dispatcher) Drain() (int, error) {
	var (
		delivered int
		errs      error
	)
	for {
		source, data, ok := d.queue.CheckMessageQueue()
		if !ok {
			return delivered, errs
		}
		raw := make([]byte, len(data))
		copy(raw, data)
		d.queue.RemoveFirstMessage()

		msg, err := message.Decode(raw)
		if err != nil {
			d.log.Error("malformed native event",
				zap.Uint64("source", source),
				zap.ByteString("payload", raw),
				zap.Error(err),
			)
			errs = multierr.Append(errs, fmt.Errorf("event from source %d: %w", source, err))
			continue
		}

		d.publish(msg)
		delivered++
	}
}

// publish walks the registry as it was when delivery started, so a handler
// unsubscribed mid-delivery still sees msg.
func (d *Dispatcher) publish(msg message.Message) {
	for _, s := range d.subs {
		s.handler(msg)
	}
}
