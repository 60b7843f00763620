// Package workon implements the per-name mutual-exclusion layer
// ("workon gate") every autofs request handler serializes on: while a
// handler holds the gate for a name, no other handler may act on that
// same name.
//
// This is the direct Go transliteration of workon.c's hash-of-gates
// design. The original hand-rolls a resizable hash table plus a
// freelist of entry structs to avoid malloc on the hot path; Go's map
// already amortizes growth and its garbage collector already recycles
// freed entries, so the freelist/resize code has no idiomatic
// counterpart here (see DESIGN.md).
package workon

import "sync"

type entry struct {
	inUse int
	gate  sync.Mutex
}

// Registry is a name-keyed table of exclusive gates.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Handle represents the exclusive right to act on a name, obtained
// from Acquire. Exactly one Release call must pair with it.
type Handle struct {
	r    *Registry
	name string
}

// Acquire blocks until the caller holds the exclusive gate for name.
// It never fails in this implementation (the only failure mode in the
// original — allocation exhaustion — does not apply to Go's map).
func (r *Registry) Acquire(name string) *Handle {
	r.mu.Lock()
	e, ok := r.entries[name]
	if ok {
		e.inUse++
		r.mu.Unlock()
		e.gate.Lock()
		return &Handle{r: r, name: name}
	}
	e = &entry{inUse: 1}
	r.entries[name] = e
	r.mu.Unlock()
	e.gate.Lock()
	return &Handle{r: r, name: name}
}

// Release relinquishes the gate. It must be called exactly once per
// Handle returned by Acquire.
func (h *Handle) Release() {
	r := h.r
	r.mu.Lock()
	e, ok := r.entries[h.name]
	if !ok {
		r.mu.Unlock()
		// Protocol violation: release without a matching entry.
		// The original logs and returns; we do the same rather
		// than panicking, since this must never take down the
		// daemon mid-request.
		return
	}
	e.inUse--
	if e.inUse == 0 {
		delete(r.entries, h.name)
	}
	r.mu.Unlock()
	e.gate.Unlock()
}

// AcquireOrdered acquires gates for every name in names, in the order
// given, and returns handles in the same order. Callers that need the
// "N then n" global order from the missing handler (spec.md §4.2) pass
// names in that order; when N == n only one gate is taken.
func (r *Registry) AcquireOrdered(names ...string) []*Handle {
	seen := make(map[string]bool, len(names))
	handles := make([]*Handle, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		handles = append(handles, r.Acquire(n))
	}
	return handles
}

// ReleaseAll releases every handle in handles, in order. Order does
// not affect correctness (each handle guards a distinct name) but
// releasing in acquisition order keeps behavior predictable under
// logging/tracing.
func ReleaseAll(handles []*Handle) {
	for _, h := range handles {
		h.Release()
	}
}

// Used reports the number of live entries, for tests verifying the
// table's used-count invariant (spec.md testable property 7).
func (r *Registry) Used() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
