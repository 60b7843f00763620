// Package multipath implements the multi-alias reference counter
// (C3): while multipath aliasing is enabled, several visible autofs
// names can share one canonical backing name, and the canonical name
// is only eligible for backup once every alias has been expired.
package multipath

import "sync"

// Counter tracks live-mount counts per canonical name.
type Counter struct {
	mu     sync.Mutex
	counts map[string]int
}

// New returns an empty counter.
func New() *Counter {
	return &Counter{counts: make(map[string]int)}
}

// Increment records a new live mount under canonical name n. Returns
// false only if the internal map could not be grown (never happens in
// Go; kept for symmetry with the original's success/fail return and
// with handle_missing's rollback-on-failure path).
func (c *Counter) Increment(n string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[n]++
	return true
}

// Decrement records that one alias of n has been expired. It returns
// the new count, or -1 if no entry existed for n (a protocol
// violation: decrementing something that was never incremented).
func (c *Counter) Decrement(n string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.counts[n]
	if !ok {
		return -1
	}
	v--
	if v <= 0 {
		delete(c.counts, n)
		return 0
	}
	c.counts[n] = v
	return v
}

// Count returns the current count for n, for tests and diagnostics.
func (c *Counter) Count(n string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[n]
}
