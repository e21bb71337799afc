// Package events provides the in-process status broadcast bus. Publishers
// never block: each subscriber owns a bounded buffer and the oldest queued
// event is dropped when it fills. Delivery order follows publish order per
// subscriber, so per-document lifecycle order is preserved as long as the
// publisher emits in order.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/petrel-search/petrel/internal/metrics"
)

// DefaultBufferSize is the per-subscriber queue depth when none is given.
const DefaultBufferSize = 64

// Predicate filters events for one subscription. A nil predicate matches
// everything.
type Predicate[T any] func(T) bool

// Subscription is one registered consumer. Read from Events until it is
// closed, or call Close to detach.
type Subscription[T any] struct {
	id     uint64
	pred   Predicate[T]
	ch     chan T
	done   chan struct{}
	closed atomic.Bool
	bus    *Bus[T]
}

// Events returns the delivery channel. It is closed on Unsubscribe/Close.
func (s *Subscription[T]) Events() <-chan T {
	return s.ch
}

// Done is closed when the subscription is torn down.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// ID returns the bus-unique subscriber id.
func (s *Subscription[T]) ID() uint64 {
	return s.id
}

// Close detaches the subscription from the bus. Safe to call repeatedly.
func (s *Subscription[T]) Close() {
	s.bus.Unsubscribe(s)
}

// Bus fans events out to subscribers. Safe for concurrent use.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription[T]
	nextID atomic.Uint64
	closed atomic.Bool
	logger *slog.Logger

	// bufferSize is the queue depth given to each new subscriber.
	bufferSize int
	// dropped counts events discarded across all subscribers.
	dropped atomic.Uint64
}

// Option configures a Bus.
type Option[T any] func(*Bus[T])

// WithBufferSize sets the per-subscriber queue depth.
func WithBufferSize[T any](size int) Option[T] {
	return func(b *Bus[T]) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(b *Bus[T]) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates an event bus.
func New[T any](opts ...Option[T]) *Bus[T] {
	b := &Bus[T]{
		subs:       make(map[uint64]*Subscription[T]),
		bufferSize: DefaultBufferSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a consumer. Events failing the predicate are never
// queued for it. The caller must drain Events or eventually Close.
func (b *Bus[T]) Subscribe(pred Predicate[T]) *Subscription[T] {
	sub := &Subscription[T]{
		id:   b.nextID.Add(1),
		pred: pred,
		ch:   make(chan T, b.bufferSize),
		done: make(chan struct{}),
		bus:  b,
	}

	if b.closed.Load() {
		// Already shut down: hand back a dead subscription rather than nil
		// so callers can range over Events without special-casing.
		sub.closed.Store(true)
		close(sub.ch)
		close(sub.done)
		return sub
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// SubscribeFunc registers a handler invoked on its own goroutine. Panics in
// the handler are recovered and logged; the bus and other subscribers are
// unaffected. The returned subscription stops the handler when closed.
func (b *Bus[T]) SubscribeFunc(pred Predicate[T], handler func(T)) *Subscription[T] {
	sub := b.Subscribe(pred)
	go func() {
		for ev := range sub.ch {
			b.safeCall(sub.id, handler, ev)
		}
	}()
	return sub
}

func (b *Bus[T]) safeCall(subID uint64, handler func(T), ev T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.Uint64("subscriber_id", subID),
				slog.Any("panic", r))
		}
	}()
	handler(ev)
}

// Publish fans an event out to every matching subscriber without blocking.
// When a subscriber's buffer is full its oldest queued event is discarded
// to make room; drops are counted and logged.
func (b *Bus[T]) Publish(ev T) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.pred != nil && !sub.pred(ev) {
			continue
		}

		select {
		case sub.ch <- ev:
			continue
		default:
		}

		// Buffer full: evict the oldest event, then retry once. The retry
		// can still lose to a concurrent reader; the event is dropped then.
		select {
		case <-sub.ch:
			b.recordDrop(sub.id)
		default:
		}
		select {
		case sub.ch <- ev:
		default:
			b.recordDrop(sub.id)
		}
	}
}

func (b *Bus[T]) recordDrop(subID uint64) {
	b.dropped.Add(1)
	metrics.EventsDroppedTotal.Inc()
	b.logger.Warn("subscriber buffer full, dropping oldest event",
		slog.Uint64("subscriber_id", subID))
}

// Unsubscribe detaches a subscription. Safe for unknown or already-closed
// subscriptions.
func (b *Bus[T]) Unsubscribe(sub *Subscription[T]) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	_, ok := b.subs[sub.id]
	if ok {
		delete(b.subs, sub.id)
	}
	b.mu.Unlock()

	if ok && sub.closed.CompareAndSwap(false, true) {
		close(sub.done)
		close(sub.ch)
	}
}

// Close shuts the bus down and detaches every subscriber.
func (b *Bus[T]) Close() {
	if b.closed.Swap(true) {
		return
	}

	b.mu.Lock()
	subs := make([]*Subscription[T], 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[uint64]*Subscription[T])
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.closed.CompareAndSwap(false, true) {
			close(sub.done)
			close(sub.ch)
		}
	}
}

// Stats reports the current bus state.
func (b *Bus[T]) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Subscribers: len(b.subs),
		Dropped:     b.dropped.Load(),
		Closed:      b.closed.Load(),
	}
}

// Stats describes a bus snapshot.
type Stats struct {
	Subscribers int
	Dropped     uint64
	Closed      bool
}
