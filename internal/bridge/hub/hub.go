package hub

import (
	"context"
	"sync"
	"time"

	"github.com/k-laboratory/rovlink/internal/bridge/state"
	"github.com/k-laboratory/rovlink/pkg/log"
)

// SnapshotSource produces the immutable snapshot copies the hub fans out.
type SnapshotSource interface {
	Current(now time.Time) state.Snapshot
}

// Hub fans the latest snapshot out to every subscriber. Delivery is
// per-subscriber and independent: a stalled consumer only ever loses its own
// superseded snapshots, never anyone else's.
//
// Fan-out happens on two triggers: Notify (an aggregator version bump) and a
// fixed broadcast tick. The tick is the only place staleness recomputation
// reaches subscribers, which keeps the aggregator free of timers.
type Hub struct {
	source SnapshotSource
	tick   time.Duration
	depth  int
	log    log.Logger

	notify chan struct{}

	mu     sync.Mutex
	subs   map[uint64]*Subscriber
	nextID uint64
	closed bool

	// OnSubscribers observes subscriber-count changes, e.g. for metrics.
	OnSubscribers func(n int)

	// OnBroadcast observes every fan-out round. Optional.
	OnBroadcast func()
}

// New creates a hub reading snapshots from source.
func New(source SnapshotSource, tick time.Duration, depth int) *Hub {
	if depth < 1 {
		depth = 1
	}
	return &Hub{
		source: source,
		tick:   tick,
		depth:  depth,
		log:    log.WithName("hub"),
		notify: make(chan struct{}, 1),
		subs:   make(map[uint64]*Subscriber),
	}
}

// Notify schedules an immediate fan-out. It never blocks: coalescing
// multiple bumps into one delivery is exactly the superseding policy.
func (h *Hub) Notify() {
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Subscribe registers a new observer and returns its handle.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscriber{
		id:   h.nextID,
		hub:  h,
		ch:   make(chan state.Snapshot, h.depth),
		done: make(chan struct{}),
	}
	if !h.closed {
		h.subs[sub.id] = sub
	} else {
		close(sub.done)
	}
	h.report()
	return sub
}

// Unsubscribe removes a subscriber and releases its resources. Safe to call
// more than once and from any goroutine.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	_, present := h.subs[sub.id]
	delete(h.subs, sub.id)
	h.report()
	h.mu.Unlock()

	if present {
		sub.close()
	}
}

// Run drives fan-out until the context is cancelled, then tears down every
// remaining subscriber.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case <-h.notify:
		case <-ticker.C:
		}

		h.broadcast(h.source.Current(time.Now()))
	}
}

// broadcast offers snap to every subscriber without blocking.
func (h *Hub) broadcast(snap state.Snapshot) {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.offer(snap)
	}
	if h.OnBroadcast != nil {
		h.OnBroadcast()
	}
}

// shutdown closes every subscriber once the hub stops.
func (h *Hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.subs = make(map[uint64]*Subscriber)
	h.report()
	h.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	h.log.Info("Hub stopped")
}

// report invokes the subscriber-count observer. Caller holds the lock.
func (h *Hub) report() {
	if h.OnSubscribers != nil {
		h.OnSubscribers(len(h.subs))
	}
}
