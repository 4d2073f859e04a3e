package tool

import "sync"

// Registry holds the current tool set of one session and supports bulk
// replacement. Lookups observe either the mapping before or after a
// ReplaceAll, never a mixture; a call already dispatched to an old
// implementation runs to completion unaffected.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Implementation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Implementation{}}
}

// ReplaceAll atomically discards the previous tool set and installs the
// given implementations, keyed by each tool's name.
func (r *Registry) ReplaceAll(impls []Implementation) {
	next := make(map[string]Implementation, len(impls))
	for _, impl := range impls {
		next[impl.Descriptor().Name] = impl
	}

	r.mu.Lock()
	r.tools = next
	r.mu.Unlock()
}

// Get returns the current implementation for name.
func (r *Registry) Get(name string) (Implementation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.tools[name]
	return impl, ok
}

// List returns the descriptors of all current tools.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descs := make([]Descriptor, 0, len(r.tools))
	for _, impl := range r.tools {
		descs = append(descs, impl.Descriptor())
	}
	return descs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
