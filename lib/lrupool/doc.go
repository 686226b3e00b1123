// Package lrupool implements the fixed-capacity priority LRU pool of spec
// §4.5: every node is in exactly one of a free list or one of MXP priority
// LRU lists. allocate reuses a free node, grows the pool up to capacity, or
// evicts the least-recently-used node of the highest-numbered non-empty
// priority list ("higher priority value = cheaper to evict").
//
// Grounded on the design note that an intrusive list is natural but "an
// equivalent array-of-indices implementation is equally acceptable" — nodes
// live in one arena slice addressed by Index, and list membership is a
// doubly-linked chain of indices through that same slice, the same
// stable-index-over-a-slice shape lib/bgfs and lib/smfs use for their
// freelists.
package lrupool
