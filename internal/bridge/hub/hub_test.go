package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/k-laboratory/rovlink/internal/bridge/state"
)

// fakeSource serves a snapshot whose version is bumped by the test.
type fakeSource struct {
	mu   sync.Mutex
	snap state.Snapshot
}

func (f *fakeSource) Current(now time.Time) state.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.snap
	s.TakenAt = now
	return s
}

func (f *fakeSource) bump() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.Version++
	return f.snap.Version
}

func recv(t *testing.T, sub *Subscriber) state.Snapshot {
	t.Helper()
	select {
	case s := <-sub.Updates():
		sub.MarkDelivered(s.Version)
		return s
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
		return state.Snapshot{}
	}
}

func TestNotifyDeliversToAllSubscribers(t *testing.T) {
	src := &fakeSource{}
	h := New(src, time.Hour, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	a := h.Subscribe()
	b := h.Subscribe()
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	want := src.bump()
	h.Notify()

	if got := recv(t, a).Version; got != want {
		t.Errorf("subscriber a got version %d, want %d", got, want)
	}
	if got := recv(t, b).Version; got != want {
		t.Errorf("subscriber b got version %d, want %d", got, want)
	}
}

func TestStalledSubscriberDoesNotBlockOthers(t *testing.T) {
	src := &fakeSource{}
	h := New(src, time.Hour, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	stalled := h.Subscribe() // never reads
	healthy := h.Subscribe()
	defer h.Unsubscribe(stalled)
	defer h.Unsubscribe(healthy)

	var last uint64
	for i := 0; i < 10; i++ {
		last = src.bump()
		h.Notify()
		// The healthy consumer keeps receiving while the stalled one
		// accumulates superseded snapshots.
		snap := recv(t, healthy)
		if snap.Version < uint64(i) {
			t.Fatalf("healthy subscriber fell behind: got %d at round %d", snap.Version, i)
		}
	}

	// The stalled subscriber holds only the latest snapshot, not a backlog:
	// with depth 1 it must converge on the final version once drained.
	deadline := time.Now().Add(time.Second)
	var got uint64
	for got != last {
		if time.Now().After(deadline) {
			t.Fatalf("stalled subscriber never saw latest version: got %d, want %d", got, last)
		}
		select {
		case s := <-stalled.Updates():
			if s.Version < got {
				t.Fatalf("stalled subscriber version regressed: %d after %d", s.Version, got)
			}
			got = s.Version
		case <-time.After(time.Millisecond):
		}
	}
	if stalled.Backpressure() != Throttled {
		t.Errorf("backpressure = %v, want Throttled", stalled.Backpressure())
	}
}

func TestVersionsNonDecreasingUnderSuperseding(t *testing.T) {
	src := &fakeSource{}
	h := New(src, time.Hour, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	var prev uint64
	for round := 0; round < 20; round++ {
		src.bump()
		h.Notify()
		if round%3 == 0 { // read only occasionally
			snap := recv(t, sub)
			if snap.Version < prev {
				t.Fatalf("version regressed: %d after %d", snap.Version, prev)
			}
			prev = snap.Version
		}
	}
}

func TestUnsubscribeIsIdempotentAndSignalsDone(t *testing.T) {
	src := &fakeSource{}
	h := New(src, time.Hour, 4)

	sub := h.Subscribe()
	h.Unsubscribe(sub)
	h.Unsubscribe(sub)

	select {
	case <-sub.Done():
	default:
		t.Error("done channel not closed after unsubscribe")
	}
	if sub.Backpressure() != Disconnecting {
		t.Errorf("backpressure = %v, want Disconnecting", sub.Backpressure())
	}
}

func TestSubscriberCountObserver(t *testing.T) {
	src := &fakeSource{}
	h := New(src, time.Hour, 4)

	var mu sync.Mutex
	var counts []int
	h.OnSubscribers = func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	}

	a := h.Subscribe()
	b := h.Subscribe()
	h.Unsubscribe(a)
	h.Unsubscribe(b)

	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 2, 1, 0}
	if len(counts) != len(want) {
		t.Fatalf("counts = %v, want %v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Fatalf("counts = %v, want %v", counts, want)
		}
	}
}

func TestShutdownClosesSubscribers(t *testing.T) {
	src := &fakeSource{}
	h := New(src, 10*time.Millisecond, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	sub := h.Subscribe()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscriber not torn down on shutdown")
	}

	// Late subscribers on a stopped hub are born closed.
	late := h.Subscribe()
	select {
	case <-late.Done():
	default:
		t.Error("subscriber on stopped hub not immediately done")
	}
}

func TestBroadcastTickDeliversWithoutNotify(t *testing.T) {
	src := &fakeSource{}
	src.bump()
	h := New(src, 5*time.Millisecond, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	select {
	case <-sub.Updates():
	case <-time.After(time.Second):
		t.Fatal("tick-driven broadcast never arrived")
	}
}
