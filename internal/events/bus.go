package events

import (
	"context"
	"sync"

	ferrors "git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

// Bus fans sync progress and session events out to in-process subscribers.
// It keeps no history; internal/eventstore persists batches and
// internal/natsbridge forwards events off the host.
//
// Publish waits for every matching subscriber to take the event. TryPublish
// skips subscribers whose buffer is full, which suits transfer progress.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]sink
	nextID uint64
	closed bool
}

// sink is a subscription with its element type erased.
type sink interface {
	deliver(ctx context.Context, evt Event) error
	offer(evt Event) bool
	close()
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]sink)}
}

// Subscribe returns a channel receiving every published event assignable to
// T: the exact type for a struct, any implementation for an interface. The
// channel is closed by the returned cancel func or by Bus.Close.
func Subscribe[T any](b *Bus, buffer int) (<-chan T, func()) {
	s := &subscription[T]{ch: make(chan T, buffer), quit: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.close()
		return s.ch, func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = s
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		s.close()
	}
}

// SubscriberCount returns the number of open Subscribe[T] subscriptions.
func SubscriberCount[T any](b *Bus) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.subs {
		if _, ok := s.(*subscription[T]); ok {
			n++
		}
	}
	return n
}

// Publish delivers evt to every matching subscriber, blocking until each
// accepts it or ctx ends. A nil bus drops the event.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt == nil {
		return ferrors.ValidationError("event cannot be nil").Build()
	}
	if b == nil {
		return nil
	}
	targets, err := b.snapshot()
	if err != nil {
		return err
	}
	for _, s := range targets {
		if err := s.deliver(ctx, evt); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryRuntime, "event publish canceled").
				WithContext("event_type", evt.EventType()).
				Build()
		}
	}
	return nil
}

// TryPublish never blocks. It returns how many subscribers took evt.
func (b *Bus) TryPublish(evt Event) int {
	if b == nil || evt == nil {
		return 0
	}
	targets, err := b.snapshot()
	if err != nil {
		return 0
	}
	n := 0
	for _, s := range targets {
		if s.offer(evt) {
			n++
		}
	}
	return n
}

func (b *Bus) snapshot() ([]sink, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ferrors.DaemonError("event bus is closed").Build()
	}
	out := make([]sink, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s)
	}
	return out, nil
}

// Close closes every subscription channel. Events already buffered stay
// readable; publishers blocked on a full channel return nil.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]sink)
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

type subscription[T any] struct {
	ch   chan T
	quit chan struct{}

	// mu is held for reading while sending so close never races a send.
	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func (s *subscription[T]) deliver(ctx context.Context, evt Event) error {
	v, ok := evt.(T)
	if !ok {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- v:
		return nil
	case <-s.quit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *subscription[T]) offer(evt Event) bool {
	v, ok := evt.(T)
	if !ok {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- v:
		return true
	default:
		return false
	}
}

func (s *subscription[T]) close() {
	s.once.Do(func() {
		close(s.quit)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}
