// Package epoch provides the single monotonic counter the store façade uses
// to invalidate cached directory state on any topology change (spec §4.6,
// §5): mount and unmount bump it; cache readers compare a node's stamped
// value against the current one to decide freshness.
package epoch

import "sync/atomic"

// Counter is an atomic monotonic counter with acquire/release semantics:
// Load uses an atomic load (acquire), Bump uses an atomic add (release).
type Counter struct {
	v atomic.Uint64
}

// Load returns the current epoch value.
func (c *Counter) Load() uint64 {
	return c.v.Load()
}

// Bump advances the epoch and returns the new value.
func (c *Counter) Bump() uint64 {
	return c.v.Add(1)
}
