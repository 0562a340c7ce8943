package vision

import (
	"sort"
	"sync"
)

// Registry is a thread-safe collection of active providers. It is populated
// once during orchestrator initialization and treated as read-only for the
// rest of the process lifetime; the lock exists for the initialization and
// cleanup windows.
type Registry struct {
	providers map[ProviderID]Provider
	mu        sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[ProviderID]Provider),
	}
}

// Register adds a provider under its identity. An existing entry with the
// same identity is replaced.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get retrieves a provider by identity.
func (r *Registry) Get(id ProviderID) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// List returns the sorted identities of all active providers.
func (r *Registry) List() []ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ProviderID, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot returns a copy of the identity→provider map, safe to range over
// without holding the registry lock.
func (r *Registry) Snapshot() map[ProviderID]Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[ProviderID]Provider, len(r.providers))
	for id, p := range r.providers {
		out[id] = p
	}
	return out
}

// Unregister removes a provider.
func (r *Registry) Unregister(id ProviderID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, id)
}

// Len returns the number of active providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
