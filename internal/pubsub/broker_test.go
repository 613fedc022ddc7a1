package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, ch <-chan Event[T]) Event[T] {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return event
	case <-time.After(time.Second):
		require.Fail(t, "timeout waiting for event")
	}
	return Event[T]{}
}

func TestBroker_Subscribe(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := broker.Subscribe(ctx)

	broker.Publish(RegisteredEvent, "hello")

	event := receive(t, ch)
	require.Equal(t, "hello", event.Payload)
	require.Equal(t, RegisteredEvent, event.Type)
	require.False(t, event.Timestamp.IsZero())
}

func TestBroker_MultipleSubscribers(t *testing.T) {
	broker := NewBroker[int]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1 := broker.Subscribe(ctx)
	ch2 := broker.Subscribe(ctx)
	ch3 := broker.Subscribe(ctx)

	require.Equal(t, 3, broker.SubscriberCount())

	broker.Publish(ModifiedEvent, 42)

	for i, ch := range []<-chan Event[int]{ch1, ch2, ch3} {
		event := receive(t, ch)
		require.Equal(t, 42, event.Payload, "subscriber %d", i)
		require.Equal(t, ModifiedEvent, event.Type, "subscriber %d", i)
	}
}

func TestBroker_ContextCancellation(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())

	ch := broker.Subscribe(ctx)
	require.Equal(t, 1, broker.SubscriberCount())

	cancel()

	require.Eventually(t, func() bool { return broker.SubscriberCount() == 0 },
		time.Second, 5*time.Millisecond)

	_, ok := <-ch
	require.False(t, ok, "channel should be closed")
}

func TestBroker_SlowSubscriberKeepsEveryEvent(t *testing.T) {
	broker := NewBroker[int]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := broker.Subscribe(ctx)

	// Publish far more than any fixed buffer would hold before reading.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			broker.Publish(RegisteredEvent, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "Publish blocked")
	}

	for i := 0; i < 1000; i++ {
		event := receive(t, ch)
		require.Equal(t, i, event.Payload, "events must arrive in publish order")
	}
}

func TestBroker_ConcurrentPublishersPreservePerPublisherOrder(t *testing.T) {
	broker := NewBroker[[2]int]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := broker.Subscribe(ctx)

	const publishers, perPublisher = 4, 100
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				broker.Publish(ModifiedEvent, [2]int{p, i})
			}
		}(p)
	}
	wg.Wait()

	next := make([]int, publishers)
	for i := 0; i < publishers*perPublisher; i++ {
		event := receive(t, ch)
		p, seq := event.Payload[0], event.Payload[1]
		require.Equal(t, next[p], seq, "publisher %d out of order", p)
		next[p]++
	}
}

func TestBroker_CloseDrainsBacklog(t *testing.T) {
	broker := NewBroker[string]()

	ctx := context.Background()
	ch1 := broker.Subscribe(ctx)
	ch2 := broker.Subscribe(ctx)
	require.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(UnregisteringEvent, "last")
	broker.Close()

	for _, ch := range []<-chan Event[string]{ch1, ch2} {
		event := receive(t, ch)
		require.Equal(t, "last", event.Payload)
		_, ok := <-ch
		require.False(t, ok, "channel should be closed after backlog")
	}

	require.Eventually(t, func() bool { return broker.SubscriberCount() == 0 },
		time.Second, 5*time.Millisecond)

	// Subscribe after close should return closed channel
	ch3 := broker.Subscribe(ctx)
	_, ok := <-ch3
	require.False(t, ok, "ch3 should be closed immediately")

	// Publish after close should not panic
	broker.Publish(RegisteredEvent, "test")
}

func TestBroker_CloseIdempotent(t *testing.T) {
	broker := NewBroker[string]()

	ch := broker.Subscribe(context.Background())

	broker.Close()
	broker.Close()
	broker.Close()

	_, ok := <-ch
	require.False(t, ok)
}
