// Package subscription implements the resource-update fan-out bus
// (SPEC_FULL §4.12): a map from resource URI to subscriber sinks, fed by
// the dispatcher after successful writes, with best-effort delivery to
// bounded per-sink queues. Nothing polls Odoo's own bus; only writes made
// through the gateway produce events.
package subscription

import (
	"sync"
	"time"
)

// Event is a single `notifications/resources/updated`-shaped message.
type Event struct {
	URI       string
	Method    string
	Timestamp time.Time
	Data      map[string]any
}

// Sink is a per-subscriber bounded delivery queue. The transport reads
// from Events and is responsible for the wire encoding (SSE "data:"
// line, chunked-HTTP line, etc).
type Sink struct {
	ID     string
	Events chan Event
	closed chan struct{}
	once   sync.Once
}

func newSink(id string, queueSize int) *Sink {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Sink{ID: id, Events: make(chan Event, queueSize), closed: make(chan struct{})}
}

// Close releases the sink; safe to call more than once.
func (s *Sink) Close() {
	s.once.Do(func() { close(s.closed) })
}

func (s *Sink) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Bus maps subscribed resource URIs to their subscriber sinks. A given
// sinkID shares exactly one Sink (and so one Events channel) across
// every URI it subscribes to, so a transport connection that has
// subscribed to several resources still only has one channel to drain.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]map[string]*Sink
	sinks     map[string]*Sink
	queueSize int
}

func NewBus(queueSize int) *Bus {
	return &Bus{
		subs:      make(map[string]map[string]*Sink),
		sinks:     make(map[string]*Sink),
		queueSize: queueSize,
	}
}

// Subscribe creates (or reuses) a Sink for sinkID and registers it
// against uri. Unsubscribe, sink closure, or a transport disconnect all
// end the subscription; the caller owns calling Unsubscribe when its
// connection goes away.
func (b *Bus) Subscribe(uri, sinkID string) *Sink {
	b.mu.Lock()
	defer b.mu.Unlock()

	sink, ok := b.sinks[sinkID]
	if !ok {
		sink = newSink(sinkID, b.queueSize)
		b.sinks[sinkID] = sink
	}

	if _, ok := b.subs[uri]; !ok {
		b.subs[uri] = make(map[string]*Sink)
	}
	b.subs[uri][sinkID] = sink
	return sink
}

// SinkFor returns (creating if necessary) the shared Sink for sinkID
// without subscribing it to any URI yet, so a transport connection can
// start draining its Events channel before the first subscribe_resource
// call arrives.
func (b *Bus) SinkFor(sinkID string) *Sink {
	b.mu.Lock()
	defer b.mu.Unlock()

	sink, ok := b.sinks[sinkID]
	if !ok {
		sink = newSink(sinkID, b.queueSize)
		b.sinks[sinkID] = sink
	}
	return sink
}

// Unsubscribe ends sinkID's subscription to uri.
func (b *Bus) Unsubscribe(uri, sinkID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sinks, ok := b.subs[uri]; ok {
		delete(sinks, sinkID)
		if len(sinks) == 0 {
			delete(b.subs, uri)
		}
	}
}

// UnsubscribeAll removes sinkID from every URI it is subscribed to and
// forgets its shared Sink, used when a transport connection
// disconnects. It does not close the Sink; the transport owns that.
func (b *Bus) UnsubscribeAll(sinkID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.sinks, sinkID)
	for uri, sinks := range b.subs {
		delete(sinks, sinkID)
		if len(sinks) == 0 {
			delete(b.subs, uri)
		}
	}
}

// Publish delivers event to every sink subscribed to event.URI. Delivery
// is best-effort: a sink whose bounded queue is full is dropped from the
// subscriber set entirely (sse_queue_maxsize, §4.12) rather than
// blocking the publisher or silently losing only this one event.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	sinks := b.subs[event.URI]
	targets := make([]*Sink, 0, len(sinks))
	for _, s := range sinks {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	var overflowed []string
	for _, sink := range targets {
		if sink.isClosed() {
			overflowed = append(overflowed, sink.ID)
			continue
		}
		select {
		case sink.Events <- event:
		default:
			overflowed = append(overflowed, sink.ID)
		}
	}

	if len(overflowed) > 0 {
		b.mu.Lock()
		if s, ok := b.subs[event.URI]; ok {
			for _, id := range overflowed {
				delete(s, id)
			}
			if len(s) == 0 {
				delete(b.subs, event.URI)
			}
		}
		b.mu.Unlock()
	}
}

// SubscriberCount reports how many sinks are subscribed to uri, for
// diagnostics/tests.
func (b *Bus) SubscriberCount(uri string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[uri])
}
