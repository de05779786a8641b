package dispatch

import (
	"sync"

	"github.com/probed/probed/internal/metrics"
	"github.com/probed/probed/internal/transport"
)

// WorkerHandle is owned exclusively by the registry from the moment of
// insertion until the worker that owns it retires and removes its own
// entry.
type WorkerHandle struct {
	RID     transport.RID
	Request *transport.Request
}

// Registry maps RID to the WorkerHandle currently evaluating it. It is
// the single synchronization point between the input loop (inserter) and
// workers (removers); at most one handle exists per RID at any instant.
type Registry struct {
	mu      sync.Mutex
	entries map[transport.RID]*WorkerHandle
}

// NewRegistry constructs an empty in-flight registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[transport.RID]*WorkerHandle)}
}

// TryInsert atomically inserts handle keyed by rid iff absent. Returns
// false if a handle for rid is already registered — the input loop
// treats this as a protocol-level duplicate.
func (r *Registry) TryInsert(rid transport.RID, handle *WorkerHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[rid]; exists {
		return false
	}
	r.entries[rid] = handle
	metrics.SetRegistrySize(len(r.entries))
	return true
}

// Remove deletes rid's entry. Called by the retiring worker; absence is
// a bug in the caller, not reported as an error here.
func (r *Registry) Remove(rid transport.RID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, rid)
	metrics.SetRegistrySize(len(r.entries))
}

// Len returns the current number of in-flight handles. Diagnostic only.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
