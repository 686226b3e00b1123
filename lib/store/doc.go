// Package store implements the store façade of spec §4.8: the public
// operations (Store, Lookup, EraseKey, EraseDirRecursive, GetDirEntries),
// the per-mount operation sequencer's wiring into those operations, and
// the directory-cache-first, volume-on-miss resolution strategy that ties
// lib/cache and lib/mount together over lib/phvl volumes.
//
// Grounded on the teacher's RPC server (rpc/server), which fronts its
// underlying db.KVDB with request sequencing and structured errors; this
// package plays the same role one layer up, fronting a tree of volumes
// instead of one, with the mount registry in place of the teacher's shard
// map.
package store
