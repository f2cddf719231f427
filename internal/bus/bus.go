package bus

import (
	"errors"
	"sync"

	"github.com/quantrail/trade-governor/internal/observ"
)

var (
	ErrQueueFull = errors.New("event queue full")
	ErrClosed    = errors.New("event bus closed")
)

// Event is the unit passed through the in-process bus. Each payload type
// declares its own topic, so subscribers never re-assert untyped bags.
type Event interface {
	EventTopic() Topic
}

// Bus fans events out per topic. Every topic owns one bounded queue and one
// dispatch goroutine, so handlers for a topic see events in publish order and
// each event is dispatched exactly once per handler.
type Bus struct {
	mu       sync.Mutex
	queues   map[Topic]*topicQueue
	capacity int
	closed   bool
	wg       sync.WaitGroup
}

type topicQueue struct {
	ch chan Event

	mu       sync.RWMutex
	handlers []func(Event)
}

// New creates a bus whose per-topic queues hold up to capacity events.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 64
	}
	return &Bus{
		queues:   make(map[Topic]*topicQueue),
		capacity: capacity,
	}
}

// Subscribe registers a handler for a topic. Handlers run on the topic's
// dispatch goroutine; a slow handler delays that topic only.
func (b *Bus) Subscribe(topic Topic, handler func(Event)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	q := b.queue(topic)
	q.mu.Lock()
	q.handlers = append(q.handlers, handler)
	q.mu.Unlock()
	return nil
}

// Publish enqueues an event without blocking. A full queue drops the event
// and returns ErrQueueFull; the caller decides whether that is fatal.
func (b *Bus) Publish(e Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	q := b.queue(e.EventTopic())
	b.mu.Unlock()

	select {
	case q.ch <- e:
		observ.IncCounter("bus_events_published_total", map[string]string{"topic": string(e.EventTopic())})
		return nil
	default:
		observ.IncCounter("bus_events_dropped_total", map[string]string{"topic": string(e.EventTopic())})
		return ErrQueueFull
	}
}

// Close stops all topic queues and waits for in-flight dispatch to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, q := range b.queues {
		close(q.ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// queue returns the topic queue, creating it and its dispatcher on first use.
// Caller holds b.mu.
func (b *Bus) queue(topic Topic) *topicQueue {
	q, ok := b.queues[topic]
	if ok {
		return q
	}
	q = &topicQueue{ch: make(chan Event, b.capacity)}
	b.queues[topic] = q
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for e := range q.ch {
			q.mu.RLock()
			handlers := q.handlers
			q.mu.RUnlock()
			for _, h := range handlers {
				h(e)
			}
		}
	}()
	return q
}
