package dispatch

import (
	"sync"

	"github.com/probed/probed/internal/metrics"
	"github.com/probed/probed/internal/value"
)

// OID is an object identifier: the opaque value extracted from a
// request's "id" attribute, and the result cache's key.
type OID string

// Cache maps OID to a previously computed result. Inserts are
// idempotent and first-writer-wins; the cache is append-only for the
// process lifetime and never evicts (spec invariant: the cache is
// append-only within a process lifetime).
type Cache struct {
	entries sync.Map // OID -> value.Value
	size    int64    // count of first inserts; Len() returns it
	mu      sync.Mutex
}

// NewCache constructs an empty result cache.
func NewCache() *Cache {
	return &Cache{}
}

// Get returns the cached result for oid, if present.
func (c *Cache) Get(oid OID) (value.Value, bool) {
	v, ok := c.entries.Load(oid)
	if !ok {
		metrics.RecordCacheMiss()
		return value.Null, false
	}
	metrics.RecordCacheHit()
	return v.(value.Value), true
}

// Insert records result for oid if no entry exists yet. Subsequent
// inserts for an already-present oid are silently dropped — first
// writer wins.
func (c *Cache) Insert(oid OID, result value.Value) {
	if _, loaded := c.entries.LoadOrStore(oid, result); !loaded {
		c.mu.Lock()
		c.size++
		n := c.size
		c.mu.Unlock()
		metrics.SetCacheSize(int(n))
	}
}

// Len returns the current number of cached entries. Diagnostic only.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.size)
}

// Snapshot returns a point-in-time copy of the cache contents.
// Diagnostic only: a concurrent Insert may or may not be visible in the
// returned map, which is acceptable since this is not part of the
// dispatch contract.
func (c *Cache) Snapshot() map[OID]value.Value {
	out := make(map[OID]value.Value)
	c.entries.Range(func(k, v interface{}) bool {
		out[k.(OID)] = v.(value.Value)
		return true
	})
	return out
}
