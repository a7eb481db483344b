package video

import (
	"sort"
	"sync"
	"time"
)

// Stream is one named video feed endpoint. The registry does no media
// handling and no probing: liveness is whatever the announcing side last
// claimed, aged out by the expiry window.
type Stream struct {
	Name     string    `json:"name"`
	URL      string    `json:"url"`
	Live     bool      `json:"live"`
	LastSeen time.Time `json:"last_seen"`
}

// Registry tracks announced video streams. Entries expire lazily on read.
type Registry struct {
	mu      sync.Mutex
	expiry  time.Duration
	streams map[string]Stream
}

// NewRegistry creates an empty registry with the given expiry window.
func NewRegistry(expiry time.Duration) *Registry {
	return &Registry{
		expiry:  expiry,
		streams: make(map[string]Stream),
	}
}

// Register inserts or refreshes a stream entry with a fresh timestamp.
func (r *Registry) Register(name, url string, live bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.streams[name] = Stream{
		Name:     name,
		URL:      url,
		Live:     live,
		LastSeen: time.Now(),
	}
}

// List returns all entries still within the expiry window, dropping expired
// ones as it goes. Results are name-sorted for stable output.
func (r *Registry) List(now time.Time) []Stream {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Stream, 0, len(r.streams))
	for name, s := range r.streams {
		if now.Sub(s.LastSeen) > r.expiry {
			delete(r.streams, name)
			continue
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
