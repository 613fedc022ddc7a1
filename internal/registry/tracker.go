package registry

import (
	"context"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/zjrosen/whiteboard/internal/ldapfilter"
	"github.com/zjrosen/whiteboard/internal/log"
	"github.com/zjrosen/whiteboard/internal/pubsub"
)

// Tracker follows the registrations matching one filter. A property change
// that keeps a reference matching is delivered as Removed(old) followed by
// Added(new).
type Tracker struct {
	filter  string
	match   ldapfilter.Filter
	handler Handler
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	tracked map[ServiceID]Reference
}

// Filter returns the filter the tracker was opened with.
func (t *Tracker) Filter() string {
	return t.filter
}

// Tracked returns the references currently tracked, highest ranking first.
func (t *Tracker) Tracked() []Reference {
	t.mu.Lock()
	defer t.mu.Unlock()

	refs := make([]Reference, 0, len(t.tracked))
	for _, ref := range t.tracked {
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, compareReferences)
	return refs
}

// Close stops delivery and waits for an in-flight callback to return. It must
// not be called from the tracker's own callbacks.
func (t *Tracker) Close() {
	t.cancel()
	<-t.done
}

// Done is closed once the tracker has stopped delivering.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

func (t *Tracker) run(ctx context.Context, initial []Reference, events <-chan pubsub.Event[ServiceEvent]) {
	defer close(t.done)

	for _, ref := range initial {
		if ctx.Err() != nil {
			return
		}
		t.add(ref)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					t.removeAll()
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			t.handle(ev.Payload)
		}
	}
}

func (t *Tracker) handle(ev ServiceEvent) {
	t.mu.Lock()
	old, was := t.tracked[ev.Ref.id]
	t.mu.Unlock()

	switch ev.Type {
	case pubsub.RegisteredEvent:
		if matches(t.match, ev.Ref) {
			t.add(ev.Ref)
		}
	case pubsub.ModifiedEvent:
		now := matches(t.match, ev.Ref)
		if was {
			t.remove(old)
		}
		if now {
			t.add(ev.Ref)
		}
	case pubsub.UnregisteringEvent:
		if was {
			t.remove(old)
		}
	}
}

func (t *Tracker) add(ref Reference) {
	t.mu.Lock()
	t.tracked[ref.id] = ref
	t.mu.Unlock()
	t.deliver("added", ref, t.handler.Added)
}

func (t *Tracker) remove(ref Reference) {
	t.mu.Lock()
	delete(t.tracked, ref.id)
	t.mu.Unlock()
	t.deliver("removed", ref, t.handler.Removed)
}

// removeAll retracts everything in reverse order of ranking.
func (t *Tracker) removeAll() {
	refs := t.Tracked()
	slices.Reverse(refs)
	for _, ref := range refs {
		t.remove(ref)
	}
}

// deliver isolates the tracker goroutine from a panicking handler.
func (t *Tracker) deliver(kind string, ref Reference, fn func(Reference)) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatRegistry, "Tracker handler panicked",
				"filter", t.filter, "callback", kind, "id", ref.id, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn(ref)
}
