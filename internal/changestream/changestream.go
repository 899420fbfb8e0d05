// Package changestream implements C10: a multi-consumer fan-out of
// ChangeEvents. Each consumer sees every event produced after it
// subscribes; a slow consumer never blocks producers — its own queue
// either drops the oldest event or reports lag, per a single configured
// policy.
package changestream

import (
	"sync"

	"github.com/avandenbos/sonos-reactive/internal/model"
)

// OverflowPolicy selects what happens to a consumer whose queue is full
// when a new ChangeEvent arrives.
type OverflowPolicy int

const (
	// DropOldest evicts the consumer's oldest queued event to make room.
	DropOldest OverflowPolicy = iota
	// SignalLag drops the newest event and marks the consumer lagged; the
	// consumer observes this via Lagged() on its next receive.
	SignalLag
)

// ChangeFilter restricts which events a consumer receives. A nil/zero
// field imposes no restriction on that dimension; all set fields must
// match (AND semantics).
type ChangeFilter struct {
	Services      []model.ServiceKind
	PropertyNames []model.PropertyKey
	Speakers      []model.SpeakerId
	RerenderOnly  bool
}

func (f ChangeFilter) matches(evt model.ChangeEvent) bool {
	if f.RerenderOnly && !evt.Rerender.RequiresRerender {
		return false
	}
	if len(f.Services) > 0 && !containsService(f.Services, evt.Service) {
		return false
	}
	if len(f.PropertyNames) > 0 && !containsProperty(f.PropertyNames, evt.PropertyName) {
		return false
	}
	if len(f.Speakers) > 0 && !containsSpeaker(f.Speakers, evt.Speaker) {
		return false
	}
	return true
}

func containsService(list []model.ServiceKind, v model.ServiceKind) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsProperty(list []model.PropertyKey, v model.PropertyKey) bool {
	for _, p := range list {
		if p == v {
			return true
		}
	}
	return false
}

func containsSpeaker(list []model.SpeakerId, v model.SpeakerId) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Consumer is a single subscriber's queue.
type Consumer struct {
	ch     chan model.ChangeEvent
	filter ChangeFilter
	policy OverflowPolicy

	mu     sync.Mutex
	lagged bool
}

// Events returns the channel new matching ChangeEvents arrive on.
func (c *Consumer) Events() <-chan model.ChangeEvent { return c.ch }

// Lagged reports and clears whether an event was dropped for this
// consumer since the last call, for the SignalLag policy.
func (c *Consumer) Lagged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.lagged
	c.lagged = false
	return l
}

func (c *Consumer) deliver(evt model.ChangeEvent) {
	if !c.filter.matches(evt) {
		return
	}
	select {
	case c.ch <- evt:
		return
	default:
	}

	switch c.policy {
	case DropOldest:
		select {
		case <-c.ch:
		default:
		}
		select {
		case c.ch <- evt:
		default:
		}
	case SignalLag:
		c.mu.Lock()
		c.lagged = true
		c.mu.Unlock()
	}
}

// Stream is the fan-out broadcaster. It owns one background goroutine
// draining a source channel (typically store.Store.Changes()) and copying
// each event to every live consumer.
type Stream struct {
	mu        sync.RWMutex
	consumers map[*Consumer]struct{}
}

// New creates a Stream and starts fanning out events read from source
// until source is closed.
func New(source <-chan model.ChangeEvent) *Stream {
	s := &Stream{consumers: make(map[*Consumer]struct{})}
	go s.run(source)
	return s
}

func (s *Stream) run(source <-chan model.ChangeEvent) {
	for evt := range source {
		s.mu.RLock()
		for c := range s.consumers {
			c.deliver(evt)
		}
		s.mu.RUnlock()
	}
}

// Subscribe registers a new consumer. queueCapacity bounds how far behind
// this consumer may fall before policy kicks in.
func (s *Stream) Subscribe(filter ChangeFilter, queueCapacity int, policy OverflowPolicy) *Consumer {
	c := &Consumer{
		ch:     make(chan model.ChangeEvent, queueCapacity),
		filter: filter,
		policy: policy,
	}
	s.mu.Lock()
	s.consumers[c] = struct{}{}
	s.mu.Unlock()
	return c
}

// Unsubscribe removes a consumer; its channel is not closed, since a
// goroutine may still be mid-receive, but no further events are delivered.
func (s *Stream) Unsubscribe(c *Consumer) {
	s.mu.Lock()
	delete(s.consumers, c)
	s.mu.Unlock()
}

// Iterator adapts a Consumer into a blocking, single-threaded-cooperative
// pull interface for callers that prefer Next() over channel receives.
type Iterator struct {
	consumer *Consumer
}

// NewIterator wraps a Consumer as a blocking iterator.
func NewIterator(c *Consumer) *Iterator { return &Iterator{consumer: c} }

// Next blocks until the next matching ChangeEvent arrives, or returns
// false if the consumer's channel is closed.
func (it *Iterator) Next() (model.ChangeEvent, bool) {
	evt, ok := <-it.consumer.ch
	return evt, ok
}
