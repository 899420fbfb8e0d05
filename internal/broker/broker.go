// Package broker implements C7: the SID-to-subscription routing table and
// the RawEvent -> TypedEvent pipeline. It is the join point between C4
// (callback ingress) and C2 (service parsing), and owns the single unified
// TypedEvent stream consumers read from.
package broker

import (
	"sync"

	"github.com/avandenbos/sonos-reactive/internal/apperrors"
	"github.com/avandenbos/sonos-reactive/internal/eventparser"
	"github.com/avandenbos/sonos-reactive/internal/logging"
	"github.com/avandenbos/sonos-reactive/internal/model"
)

var log = logging.For("broker")

// ErrUnknownToken is returned by Ingest when the callback token on the
// NOTIFY doesn't match any registered route. The callback server maps
// this to HTTP 404.
var ErrUnknownToken error = &apperrors.ProtocolError{Op: "notify routing", Detail: "unknown callback token"}

// route is one entry in the SID/token routing table, kept in lockstep with
// the subscription manager's table (C5 registers/unregisters as
// subscriptions come and go).
type route struct {
	Speaker model.SpeakerId
	Service model.ServiceKind
}

// Broker owns the routing table and the bounded unified event stream.
// Reads of the table are the hot path (one per NOTIFY); writes happen only
// on subscribe/unsubscribe, so a single RWMutex suffices per the one-lock-
// per-table convention.
type Broker struct {
	mu     sync.RWMutex
	routes map[string]route

	stream    chan model.TypedEvent
	lifecycle chan ParseFailure

	// waiters backs AwaitNotify, C6's proactive-probe mechanism: a prober
	// registers a token via RegisterRoute, waits on the channel AwaitNotify
	// returns, and observes whether the device's initial GENA NOTIFY
	// (fired automatically on SUBSCRIBE) arrived before a deadline.
	waiters map[string]chan struct{}

	// observer is the subscription manager (C5), wired in after both this
	// Broker and the Manager exist. Optional: a nil observer just means the
	// event-timeout staleness check has nothing to feed.
	observer EventObserver
}

// EventObserver is the narrow surface Broker needs from the subscription
// manager: report that a token's subscription just received a live NOTIFY,
// and its GENA sequence number (0 if absent), so the manager can track
// last-event-seen time and log sequence gaps.
type EventObserver interface {
	RecordEvent(token string, seq int)
}

// ParseFailure is emitted on a side channel when a NOTIFY body fails to
// decode; it never reaches the TypedEvent stream and never kills the
// subscription.
type ParseFailure struct {
	Speaker model.SpeakerId
	Service model.ServiceKind
	Err     error
}

// New creates a Broker whose unified stream has the given buffer capacity.
func New(streamCapacity int) *Broker {
	return &Broker{
		routes:    make(map[string]route),
		stream:    make(chan model.TypedEvent, streamCapacity),
		lifecycle: make(chan ParseFailure, 64),
		waiters:   make(map[string]chan struct{}),
	}
}

// SetEventObserver wires the subscription manager in. Optional: construction
// order requires Broker to exist before the manager, so this is set once
// both are built rather than passed to New.
func (b *Broker) SetEventObserver(o EventObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = o
}

// AwaitNotify returns a channel closed the first time a NOTIFY for token
// is ingested, or when CancelWait is called. Used only by the firewall
// prober; real consumers read the unified stream instead.
func (b *Broker) AwaitNotify(token string) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{})
	b.waiters[token] = ch
	return ch
}

// CancelWait removes a pending waiter without signaling it, called once a
// probe's deadline passes.
func (b *Broker) CancelWait(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.waiters, token)
}

// RegisterRoute binds a callback token to the (speaker, service) pair that
// owns it, called by the subscription manager before SUBSCRIBE.
func (b *Broker) RegisterRoute(token string, speaker model.SpeakerId, service model.ServiceKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[token] = route{Speaker: speaker, Service: service}
}

// UnregisterRoute removes a token's route, called on unsubscribe/expiry.
func (b *Broker) UnregisterRoute(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.routes, token)
}

// Lookup reports whether a token is currently routable, and to which
// speaker and service; Ingest uses it to resolve a NOTIFY's token.
func (b *Broker) Lookup(token string) (model.SpeakerId, model.ServiceKind, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.routes[token]
	return r.Speaker, r.Service, ok
}

// Ingest parses a raw NOTIFY body for a known token and pushes the
// resulting TypedEvent onto the unified stream. Returns ErrUnknownToken
// for an unregistered token. Parse failures are logged as a ParseFailure
// lifecycle record and do not return an error to the caller: an
// unparseable body still gets an HTTP 200, since the subscription itself
// is healthy.
func (b *Broker) Ingest(token string, body []byte, source model.EventSource) error {
	speaker, service, ok := b.Lookup(token)
	if !ok {
		return ErrUnknownToken
	}

	b.mu.Lock()
	if ch, waiting := b.waiters[token]; waiting {
		close(ch)
		delete(b.waiters, token)
	}
	observer := b.observer
	b.mu.Unlock()

	if observer != nil {
		observer.RecordEvent(token, source.SEQ)
	}

	raw := model.RawEvent{
		SID:     token,
		Speaker: speaker,
		Service: service,
		Body:    body,
		Source:  source,
	}

	evt, err := eventparser.Parse(raw)
	if err != nil {
		log.Warnf("parse failure speaker=%s service=%s: %v", speaker, service, err)
		select {
		case b.lifecycle <- ParseFailure{Speaker: speaker, Service: service, Err: err}:
		default:
		}
		return nil
	}

	// The unified stream never silently drops a parsed event: a full
	// buffer blocks the producer (the callback handler) rather than
	// discarding data. Consumers, not this layer, are responsible for
	// keeping up.
	b.stream <- evt
	return nil
}

// Submit pushes an already-typed event onto the unified stream, bypassing
// Lookup/parse. Used by the polling fallback (C6), which synthesizes a
// TypedEvent directly from a SOAP response instead of a NOTIFY body, but
// must still enter downstream consumers through this one path so FIFO
// ordering and backpressure behave identically to real NOTIFYs.
func (b *Broker) Submit(evt model.TypedEvent) {
	b.stream <- evt
}

// Stream returns the unified TypedEvent channel.
func (b *Broker) Stream() <-chan model.TypedEvent { return b.stream }

// ParseFailures returns the side channel of ParseFailure records.
func (b *Broker) ParseFailures() <-chan ParseFailure { return b.lifecycle }
