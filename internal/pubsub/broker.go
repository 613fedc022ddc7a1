package pubsub

import (
	"context"
	"sync"
	"time"
)

// Broker is a generic pub/sub event broker.
//
// Unlike a fire-and-forget bus, every subscriber receives every event
// published after it subscribed, in publish order. Each subscription owns an
// unbounded queue drained by its own goroutine, so Publish never blocks on a
// slow reader.
type Broker[T any] struct {
	subs map[*subscription[T]]struct{}
	mu   sync.RWMutex
	done chan struct{}
	now  func() time.Time
}

// NewBroker creates a new broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subs: make(map[*subscription[T]]struct{}),
		done: make(chan struct{}),
		now:  time.Now,
	}
}

type subscription[T any] struct {
	mu       sync.Mutex
	queue    []Event[T]
	finished bool
	wake     chan struct{}
	out      chan Event[T]
}

// Subscribe creates a new subscription channel.
// The channel is closed when ctx is cancelled, or after the backlog has been
// delivered once the broker is closed.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		ch := make(chan Event[T])
		close(ch)
		return ch
	default:
	}

	sub := &subscription[T]{
		wake: make(chan struct{}, 1),
		out:  make(chan Event[T]),
	}
	b.subs[sub] = struct{}{}

	go b.pump(ctx, sub)

	return sub.out
}

// pump moves queued events to the subscriber channel until the context is
// cancelled or the broker is closed and the queue drained.
func (b *Broker[T]) pump(ctx context.Context, sub *subscription[T]) {
	defer close(sub.out)
	defer b.remove(sub)

	for {
		sub.mu.Lock()
		if len(sub.queue) == 0 {
			finished := sub.finished
			sub.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-sub.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		event := sub.queue[0]
		sub.queue[0] = Event[T]{}
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		select {
		case sub.out <- event:
		case <-ctx.Done():
			return
		}
	}
}

func (b *Broker[T]) remove(sub *subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

func (s *subscription[T]) push(event Event[T]) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()
	s.signal()
}

func (s *subscription[T]) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscription[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Publish queues an event for every current subscriber.
// Never blocks and never drops.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.done:
		return
	default:
	}

	event := Event[T]{
		Type:      eventType,
		Payload:   payload,
		Timestamp: b.now(),
	}

	for sub := range b.subs {
		sub.push(event)
	}
}

// Close shuts down the broker. Subscribers still receive what was published
// before Close, then their channels are closed.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return // Already closed
	default:
	}

	close(b.done)
	for sub := range b.subs {
		sub.finish()
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
