package state

import (
	"sync"
	"time"
)

// Aggregator merges decoded telemetry fields into the single live snapshot.
// There is exactly one writer (the link reader goroutine plus the dispatcher
// folding in command outcomes, serialized by the mutex); readers only ever
// see completed copies.
type Aggregator struct {
	mu sync.RWMutex

	version   uint64
	fields    map[string]Field
	threshold time.Duration

	// staleSince forces every field updated before it to read as stale.
	// Set on link loss; fresh applies naturally clear it field by field.
	staleSince time.Time
}

// NewAggregator creates an empty aggregator with the given staleness
// threshold.
func NewAggregator(threshold time.Duration) *Aggregator {
	return &Aggregator{
		fields:    make(map[string]Field),
		threshold: threshold,
	}
}

// Apply merges fields into the snapshot by name. The snapshot version
// increases exactly once per call that carries at least one field, never per
// field, which bounds broadcast frequency. A stored field's timestamp never
// regresses: an out-of-order update older than the stored one is skipped.
// Apply reports whether the version changed.
func (a *Aggregator) Apply(fields []Field) bool {
	if len(fields) == 0 {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	merged := false
	for _, f := range fields {
		existing, ok := a.fields[f.Name]
		if ok && f.UpdatedAt.Before(existing.UpdatedAt) {
			continue
		}
		f.Stale = false
		a.fields[f.Name] = f
		merged = true
	}

	if merged {
		a.version++
	}
	return merged
}

// Version returns the current snapshot version.
func (a *Aggregator) Version() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

// Current returns an immutable copy of the snapshot with per-field staleness
// derived against now. Callers never observe a partially-applied batch.
func (a *Aggregator) Current(now time.Time) Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := Snapshot{
		Version: a.version,
		TakenAt: now,
		Fields:  make(map[string]Field, len(a.fields)),
	}

	for name, f := range a.fields {
		f.Stale = a.isStale(f, now)
		snap.Fields[name] = f
	}

	return snap
}

// MarkAllStale forces every currently stored field to read as stale until it
// is refreshed by a newer apply. Called by the link manager when the link
// degrades; does not touch the snapshot version.
func (a *Aggregator) MarkAllStale(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.staleSince = at
}

// isStale derives the staleness flag. Caller holds at least the read lock.
func (a *Aggregator) isStale(f Field, now time.Time) bool {
	if !a.staleSince.IsZero() && !f.UpdatedAt.After(a.staleSince) {
		return true
	}
	return now.Sub(f.UpdatedAt) > a.threshold
}
