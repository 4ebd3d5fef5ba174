package tunnel

import (
	"sync"

	"github.com/google/uuid"
)

// Registry maps channel ids to live channels within one connection epoch.
// The supervisor's dispatch path and each channel's own teardown path both
// mutate it, so removal is idempotent: deleting an absent id is a no-op, a
// local EOF racing a remote CLOSE must not fail.
type Registry struct {
	mu       sync.Mutex
	channels map[uuid.UUID]*Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[uuid.UUID]*Channel),
	}
}

// Put registers ch under id and returns the channel it replaced, if any.
func (r *Registry) Put(id uuid.UUID, ch *Channel) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.channels[id]
	r.channels[id] = ch
	return old
}

// Get returns the channel registered under id.
func (r *Registry) Get(id uuid.UUID) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[id]
	return ch, ok
}

// Take removes and returns the channel registered under id.
func (r *Registry) Take(id uuid.UUID) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[id]
	if ok {
		delete(r.channels, id)
	}
	return ch, ok
}

// Release deletes the entry for id only if it still maps to ch. A channel
// tearing itself down must not evict a replacement registered under the same
// id after a relay-side id reuse.
func (r *Registry) Release(id uuid.UUID, ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channels[id] == ch {
		delete(r.channels, id)
	}
}

// Remove deletes the entry for id. Removing an absent id is a no-op.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, id)
}

// Drain empties the registry and returns the channels it held.
func (r *Registry) Drain() []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.channels = make(map[uuid.UUID]*Channel)
	return channels
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}
