// Package bus implements the market-data fan-out described in spec §4.3:
// single-producer-per-venue, multi-consumer, strict FIFO within one
// (venue, symbol, channel) key, bounded per-subscriber queues with
// drop-oldest overflow, optional coalesce=latest for top-of-book, and
// derived CandleClose events. Grounded on the teacher's internal/events
// Manager/Bus publish idiom, generalized from a flat EventType keyspace to
// a compound key and widened from a single delivered value to a bounded,
// backpressured channel per subscriber.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/events"
)

const defaultQueueDepth = 1024

// Key identifies one FIFO stream: a venue's feed for one symbol and
// channel. Ordering is only guaranteed within a Key.
type Key struct {
	Venue   string
	Symbol  domain.Symbol
	Channel string
}

// SubscribeOptions configures one subscriber's queue.
type SubscribeOptions struct {
	QueueDepth int  // 0 uses the bus default (1024)
	Coalesce   bool // coalesce=latest: only the most recent pending message is kept
}

// Subscription is a live handle to a subscriber's bounded queue.
type Subscription struct {
	C       <-chan domain.MarketData
	Dropped func() uint64 // cumulative dropped-message count (Overflow)
	cancel  func()
}

// Close releases the subscription; the bus stops delivering to it.
func (s *Subscription) Close() { s.cancel() }

// subscriber is the bus's internal bookkeeping for one Subscription.
type subscriber struct {
	key      Key
	ch       chan domain.MarketData
	coalesce bool
	dropped  atomic.Uint64
	mu       sync.Mutex // guards coalesce-mode single-slot semantics
	closed   atomic.Bool
}

// Bus fans out MarketData published per Key to every live subscriber on
// that key. A monotonic per-Key sequence number and receive timestamp is
// attached to every message on ingestion.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Key][]*subscriber
	seq         map[Key]*atomic.Uint64

	events *events.Bus

	candleMu sync.Mutex
	builders map[candleKey]*candleBuilder
}

// NewBus constructs an empty Bus. eventBus receives Resynced/Overflow
// notifications for observers outside the data path (error tracker, HTTP
// surface); it may be nil if nothing needs those notifications.
func NewBus(eventBus *events.Bus) *Bus {
	return &Bus{
		subscribers: make(map[Key][]*subscriber),
		seq:         make(map[Key]*atomic.Uint64),
		events:      eventBus,
		builders:    make(map[candleKey]*candleBuilder),
	}
}

// Subscribe opens a bounded queue for the given key.
func (b *Bus) Subscribe(key Key, opts SubscribeOptions) *Subscription {
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	sub := &subscriber{key: key, ch: make(chan domain.MarketData, depth), coalesce: opts.Coalesce}

	b.mu.Lock()
	b.subscribers[key] = append(b.subscribers[key], sub)
	b.mu.Unlock()

	return &Subscription{
		C:       sub.ch,
		Dropped: func() uint64 { return sub.dropped.Load() },
		cancel:  func() { b.unsubscribe(key, sub) },
	}
}

func (b *Bus) unsubscribe(key Key, target *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	target.closed.Store(true)
	subs := b.subscribers[key]
	for i, s := range subs {
		if s == target {
			b.subscribers[key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Publish ingests one MarketData message for key, stamping it with the
// next sequence number and delivering it FIFO to every subscriber. On a
// full (non-coalesce) queue the oldest pending message is dropped and
// counted in that subscriber's dropped counter. Publish emits no Overflow
// event itself; EmitOverflow sends one to the event bus.
func (b *Bus) Publish(key Key, md domain.MarketData) {
	seqCounter := b.seqFor(key)
	md.Seq = seqCounter.Add(1)

	b.mu.RLock()
	subs := append([]*subscriber(nil), b.subscribers[key]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(sub, md)
	}

	b.maybeEmitCandleClose(key, md)
}

func (b *Bus) seqFor(key Key) *atomic.Uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.seq[key]
	if !ok {
		c = &atomic.Uint64{}
		b.seq[key] = c
	}
	return c
}

func (b *Bus) deliver(sub *subscriber, md domain.MarketData) {
	if sub.closed.Load() {
		return
	}
	if sub.coalesce {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		// Drain any stale pending value so only the latest remains.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- md:
		default:
		}
		return
	}

	for {
		select {
		case sub.ch <- md:
			return
		default:
		}
		// Queue full: drop the oldest and retry.
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
		default:
			// Raced with a concurrent drain; just retry the send.
		}
	}
}

// EmitOverflow is a convenience for tests/observability: emits an
// Overflow event through the configured event bus for the given key and
// count, matching spec §4.3's Overflow(symbol, dropped_count) contract.
func (b *Bus) EmitOverflow(key Key, dropped uint64) {
	if b.events == nil || dropped == 0 {
		return
	}
	b.events.Publish(&events.OverflowData{Venue: key.Venue, Symbol: key.Symbol.String(), Dropped: dropped})
}

// EmitResynced publishes a Resynced event for key on the event bus. No
// message is sent on the market-data subscription channels, so a
// subscriber that only reads its channel does not see the gap.
func (b *Bus) EmitResynced(key Key) {
	if b.events != nil {
		b.events.Publish(&events.ResyncedData{Venue: key.Venue, Symbol: key.Symbol.String()})
	}
}
