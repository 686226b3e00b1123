// Package mount implements the mount registry and path resolver of spec
// §4.7: registering and unregistering volumes under a mount path, finding
// every volume whose mount path is a prefix of a queried path, and the
// per-volume operation sequencer of §4.8/§5 that orders concurrent store
// operations against a single volume into ticket order.
//
// Grounded on the teacher's RAFT shard registry (lib/db's shard-id ->
// state-machine map) for the id-indexed registry shape, generalized from a
// flat id->shard map to a tree keyed by mount-path segment since a lookup
// here must answer "which volumes cover this path", not just "what shard
// owns this id".
package mount
