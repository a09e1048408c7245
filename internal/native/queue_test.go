package native

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/iox"
)

func TestEventQueueOrder(t *testing.T) {
	q := NewEventQueue(16)
	for i := range 10 {
		if err := q.TryPush(Event{Source: uint64(i), Data: []byte(fmt.Sprint(i))}); err != nil {
			t.Fatal(err)
		}
	}
	for i := range 10 {
		src, data, ok := q.CheckMessageQueue()
		if !ok {
			t.Fatalf("queue empty at %d", i)
		}
		if src != uint64(i) || string(data) != fmt.Sprint(i) {
			t.Fatalf("entry %d: got source %d data %q", i, src, data)
		}
		q.RemoveFirstMessage()
	}
	if _, _, ok := q.CheckMessageQueue(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestEventQueuePeekIsStable(t *testing.T) {
	q := NewEventQueue(4)
	q.TryPush(Event{Source: 1, Data: []byte("a")})
	q.TryPush(Event{Source: 2, Data: []byte("b")})

	for range 3 {
		src, data, ok := q.CheckMessageQueue()
		if !ok || src != 1 || string(data) != "a" {
			t.Fatalf("peek: got %d %q %v", src, data, ok)
		}
	}
	q.RemoveFirstMessage()
	if src, _, _ := q.CheckMessageQueue(); src != 2 {
		t.Fatalf("after remove: got source %d", src)
	}
}

func TestEventQueueRemoveWithoutPeek(t *testing.T) {
	q := NewEventQueue(4)
	q.TryPush(Event{Source: 1})
	q.TryPush(Event{Source: 2})
	q.RemoveFirstMessage()
	if src, _, ok := q.CheckMessageQueue(); !ok || src != 2 {
		t.Fatalf("got source %d ok=%v", src, ok)
	}
	q.RemoveFirstMessage()
	q.RemoveFirstMessage() // empty queue: no-op
}

func TestEventQueueFull(t *testing.T) {
	q := NewEventQueue(2)
	var err error
	for range 64 {
		if err = q.TryPush(Event{}); err != nil {
			break
		}
	}
	if !iox.IsWouldBlock(err) {
		t.Fatalf("expected would-block once full, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Push(ctx, Event{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Push on full queue: got %v", err)
	}
}

func TestEventQueueClosed(t *testing.T) {
	q := NewEventQueue(4)
	q.TryPush(Event{Source: 7})
	q.Close()
	if err := q.TryPush(Event{}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("push after close: got %v", err)
	}
	if src, _, ok := q.CheckMessageQueue(); !ok || src != 7 {
		t.Fatal("queued events should survive Close")
	}
}

func TestEventQueueProducerConsumer(t *testing.T) {
	const n = 1000
	q := NewEventQueue(8)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range n {
			if err := q.Push(ctx, Event{Source: uint64(i)}); err != nil {
				t.Errorf("push %d: %v", i, err)
				return
			}
		}
	}()

	var bo iox.Backoff
	for i := 0; i < n; {
		src, _, ok := q.CheckMessageQueue()
		if !ok {
			if ctx.Err() != nil {
				t.Fatalf("timed out after %d events", i)
			}
			bo.Wait()
			continue
		}
		bo.Reset()
		if src != uint64(i) {
			t.Fatalf("event %d: got source %d", i, src)
		}
		q.RemoveFirstMessage()
		i++
	}
	wg.Wait()
}
