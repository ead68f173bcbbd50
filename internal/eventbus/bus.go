// Package eventbus delivers ordered state-change events to live subscribers.
//
// Publishing appends to a bounded ring (the replay tail) and enqueues onto
// each subscriber's buffered channel. A full or dead subscriber loses the
// message; the publisher never blocks. Per-subscriber delivery order equals
// publish order.
package eventbus

import (
	"sync"

	"github.com/tylerbuilds/scrum-mcp/internal/clock"
	"github.com/tylerbuilds/scrum-mcp/internal/logging"
	"github.com/tylerbuilds/scrum-mcp/internal/observability"
)

// Event is the tagged variant broadcast to subscribers. TS is assigned at
// publish time in kernel milliseconds.
type Event struct {
	Type string         `json:"type"`
	TS   int64          `json:"ts"`
	Data map[string]any `json:"data,omitempty"`
}

// Event type tags.
const (
	TypeHello = "scrum.hello"

	TypeFileChanged = "file.changed"
	TypeFileAdded   = "file.added"
	TypeFileDeleted = "file.deleted"

	TypeTaskCreated   = "task.created"
	TypeTaskUpdated   = "task.updated"
	TypeTaskCompleted = "task.completed"

	TypeIntentPosted = "intent.posted"

	TypeClaimCreated  = "claim.created"
	TypeClaimExtended = "claim.extended"
	TypeClaimReleased = "claim.released"
	TypeClaimConflict = "claim.conflict"

	TypeEvidenceAttached = "evidence.attached"
	TypeChangelogLogged  = "changelog.logged"

	TypeGateRun    = "gate.run"
	TypeGatePassed = "gate.passed"
	TypeGateFailed = "gate.failed"

	TypeCommentAdded    = "comment.added"
	TypeBlockerAdded    = "blocker.added"
	TypeBlockerResolved = "blocker.resolved"

	TypeDependencyAdded   = "dependency.added"
	TypeDependencyRemoved = "dependency.removed"

	TypeAgentRegistered = "agent.registered"
	TypeAgentHeartbeat  = "agent.heartbeat"
)

// RingSize is the bounded replay tail length.
const RingSize = 500

// DefaultSubscriberBuffer is the per-subscriber outbound queue depth.
const DefaultSubscriberBuffer = 64

// Subscriber receives events over a buffered channel until unsubscribed.
type Subscriber struct {
	ch     chan Event
	closed bool
}

// Events returns the subscriber's receive channel. It is closed on
// unsubscribe.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Bus is the kernel event fan-out.
type Bus struct {
	mu      sync.Mutex
	clock   clock.Clock
	ring    []Event
	subs    map[*Subscriber]struct{}
	logger  logging.Logger
	metrics *observability.MetricsCollector
}

// Option configures the bus.
type Option func(*Bus)

// WithLogger attaches a logger.
func WithLogger(logger logging.Logger) Option {
	return func(b *Bus) { b.logger = logging.OrNop(logger) }
}

// WithMetrics attaches the metrics collector.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(b *Bus) { b.metrics = metrics }
}

// New creates an event bus using the given clock for publish timestamps.
func New(clk clock.Clock, opts ...Option) *Bus {
	b := &Bus{
		clock:  clk,
		ring:   make([]Event, 0, RingSize),
		subs:   make(map[*Subscriber]struct{}),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish appends the event to the ring and enqueues it to every live
// subscriber. Callers invoke this under the kernel write lock, which makes
// event order total and equal to the operation serialization order.
func (b *Bus) Publish(eventType string, data map[string]any) Event {
	event := Event{Type: eventType, TS: b.clock.NowMillis(), Data: data}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.ring) == RingSize {
		copy(b.ring, b.ring[1:])
		b.ring = b.ring[:RingSize-1]
	}
	b.ring = append(b.ring, event)

	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			// Slow consumer: drop for this subscriber only.
			b.metrics.RecordEventDropped()
		}
	}
	b.metrics.RecordEventPublished(eventType)
	return event
}

// Subscribe attaches a new subscriber. The first event it receives is a
// synthetic hello carrying the current timestamp; the ring is not replayed
// automatically (fetch it via Recent).
func (b *Bus) Subscribe(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	sub := &Subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = struct{}{}
	sub.ch <- Event{Type: TypeHello, TS: b.clock.NowMillis()}
	b.logger.Debug("subscriber attached, %d live", len(b.subs))
	return sub
}

// Unsubscribe detaches the subscriber and closes its channel. In-flight
// enqueues for it are discarded.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	b.logger.Debug("subscriber detached, %d live", len(b.subs))
}

// Recent returns up to limit events from the ring tail, oldest first.
// limit <= 0 returns the whole tail.
func (b *Bus) Recent(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.ring)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, n)
	copy(out, b.ring[len(b.ring)-n:])
	return out
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
