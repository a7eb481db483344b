package hub

import (
	"sync"
	"sync/atomic"

	"github.com/k-laboratory/rovlink/internal/bridge/state"
)

// BackpressureState describes how a subscriber is keeping up.
type BackpressureState int32

const (
	// Normal: deliveries are being consumed as fast as they arrive.
	Normal BackpressureState = iota
	// Throttled: at least one pending snapshot has been superseded.
	Throttled
	// Disconnecting: the subscriber is being torn down.
	Disconnecting
)

// Subscriber is one observer connection's handle. Snapshots arrive on
// Updates; when the consumer is slow, older undelivered snapshots are
// replaced by newer ones rather than queued, so versions read from Updates
// are always non-decreasing and never backlogged.
type Subscriber struct {
	id  uint64
	hub *Hub

	ch   chan state.Snapshot
	done chan struct{}

	pressure  atomic.Int32
	delivered atomic.Uint64

	closeOnce sync.Once
}

// Updates is the subscriber's delivery channel. It stays open for the life
// of the subscriber; consumers select on Done to learn about teardown.
func (s *Subscriber) Updates() <-chan state.Snapshot {
	return s.ch
}

// Done is closed when the subscriber has been torn down.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Backpressure returns the subscriber's current backpressure state.
func (s *Subscriber) Backpressure() BackpressureState {
	return BackpressureState(s.pressure.Load())
}

// LastDelivered returns the highest snapshot version handed to the consumer.
func (s *Subscriber) LastDelivered() uint64 {
	return s.delivered.Load()
}

// MarkDelivered records a successfully written snapshot version.
func (s *Subscriber) MarkDelivered(version uint64) {
	s.delivered.Store(version)
	s.pressure.CompareAndSwap(int32(Throttled), int32(Normal))
}

// offer hands snap to the subscriber without ever blocking the hub. When
// the queue is full, everything pending is superseded by the newer snapshot.
func (s *Subscriber) offer(snap state.Snapshot) {
	if BackpressureState(s.pressure.Load()) == Disconnecting {
		return
	}

	for {
		select {
		case s.ch <- snap:
			return
		default:
		}

		// Queue full: drop one stale pending snapshot and retry. The loop
		// terminates because this goroutine is the only producer.
		select {
		case <-s.ch:
			s.pressure.CompareAndSwap(int32(Normal), int32(Throttled))
		default:
		}
	}
}

// close tears the subscriber down idempotently.
func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		s.pressure.Store(int32(Disconnecting))
		close(s.done)
	})
}
