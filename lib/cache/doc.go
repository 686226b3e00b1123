// Package cache implements the directory cache of spec §4.6: a tree of
// nodes, owned by a priority LRU pool, mirroring directory entries across
// every volume contributing to a given path. Each node carries the
// store-wide cache epoch it was last refreshed at; a node is fresh iff
// that stamp equals the current epoch (lib/epoch), and any path walk that
// crosses a stale or missing-but-incomplete node reports
// InconsistentCache so the store façade knows to repopulate it via
// fillCache before trusting the result.
//
// Grounded on the teacher's in-memory engine (lib/db/engines/maple), which
// keeps its working set behind a concurrent map guarded by explicit
// generation bookkeeping; this package takes the same "stamp + compare"
// approach but against a tree shape instead of a flat map, since a
// directory listing needs parent/child structure a flat map can't give.
package cache
