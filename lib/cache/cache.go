package cache

import (
	"sort"

	"github.com/kvexpr/phkv/lib/epoch"
	"github.com/kvexpr/phkv/lib/lrupool"
	"github.com/kvexpr/phkv/lib/mount"
	"github.com/kvexpr/phkv/lib/phvl"
)

// Priority classes for the backing lrupool: a node covered by exactly one
// contributing volume is pinned longer (PrioSole); a node in a directory
// more than one volume contributes to is cheaper to evict (PrioOverlap),
// since it can be rebuilt from any of several sources (spec §4.5/§4.6).
const (
	PrioSole    = 0
	PrioOverlap = 1

	numPriorities = 2
)

type kind int

const (
	kindDir kind = iota
	kindKey
)

// ChildKind distinguishes a directory's children for Cache.Children.
type ChildKind int

const (
	ChildDir ChildKind = iota
	ChildKey
)

// Child is one entry of Cache.Children's result.
type Child struct {
	Name string
	Kind ChildKind
	Idx  lrupool.Index
}

// Result is the outcome of a cache path walk (spec §4.6).
type Result int

const (
	// Found means the node resolved and is fresh.
	Found Result = iota
	// NotFound means a complete, fresh ancestor directory does not list
	// the requested segment -- there is nothing at that path, cache or not.
	NotFound
	// InconsistentCache means the walk hit a stale node, or an ancestor
	// directory that might contain the segment but hasn't been fully
	// populated. The caller must run fillCache and retry.
	InconsistentCache
	// LogicError means the walk found a node of the wrong kind (a key
	// where a directory was expected, or vice versa) -- an invariant
	// violation, not a staleness condition.
	LogicError
)

type nodeData struct {
	kind   kind
	name   string
	parent lrupool.Index
	epoch  uint64

	// dir-only
	children    map[string]lrupool.Index
	complete    bool
	overlapping bool

	// key-only
	value    phvl.Value
	volumeID mount.VolumeID
}

// Cache is the directory cache: a tree of nodeData values owned by a
// priority LRU pool, rooted at Root().
type Cache struct {
	pool      *lrupool.Pool[nodeData]
	root      lrupool.Index
	epoch     *epoch.Counter
	evictHook func()
}

// SetEvictHook registers fn to be called once per node the backing pool
// evicts, both under capacity pressure (spec §4.5) and for every node
// released by Drain; used to feed an eviction counter. A nil fn disables
// the hook.
func (c *Cache) SetEvictHook(fn func()) {
	c.evictHook = fn
}

// NewCache creates a cache backed by a pool of the given capacity, sharing
// epoch with the mount registry that invalidates against it.
func NewCache(capacity int, e *epoch.Counter) *Cache {
	c := &Cache{epoch: e}
	c.pool = lrupool.NewPool[nodeData](capacity, numPriorities, c.onEvict)
	c.root = lrupool.Nil
	return c
}

func (c *Cache) onEvict(idx lrupool.Index) {
	if c.evictHook != nil {
		c.evictHook()
	}
	n := c.pool.At(idx)
	if n.parent != lrupool.Nil {
		p := c.pool.At(n.parent)
		if p.children != nil {
			delete(p.children, n.name)
		}
		p.complete = false
	}
	if idx == c.root {
		c.root = lrupool.Nil
	}
}

// Root returns the cache's root directory node, allocating a fresh one if
// it was evicted (a pool under enough pressure can evict anything,
// including the root) or never created.
func (c *Cache) Root() lrupool.Index {
	if c.root == lrupool.Nil {
		idx, ok := c.pool.Allocate(PrioSole, nodeData{kind: kindDir, children: map[string]lrupool.Index{}, epoch: c.epoch.Load()})
		if ok {
			c.root = idx
		}
	}
	return c.root
}

func (c *Cache) fresh(idx lrupool.Index) bool {
	return c.pool.At(idx).epoch == c.epoch.Load()
}

// FindDir walks segs from the root, requiring every directory along the
// way to be fresh, and returns the resolved directory's index.
func (c *Cache) FindDir(segs []string) (lrupool.Index, Result) {
	cur := c.Root()
	if cur == lrupool.Nil {
		return lrupool.Nil, InconsistentCache
	}
	if !c.fresh(cur) {
		return lrupool.Nil, InconsistentCache
	}
	for _, seg := range segs {
		n := c.pool.At(cur)
		if n.kind != kindDir {
			return lrupool.Nil, LogicError
		}
		childIdx, ok := n.children[seg]
		if !ok {
			if n.complete {
				return lrupool.Nil, NotFound
			}
			return lrupool.Nil, InconsistentCache
		}
		if !c.fresh(childIdx) {
			return lrupool.Nil, InconsistentCache
		}
		c.pool.Touch(cur)
		cur = childIdx
	}
	if c.pool.At(cur).kind != kindDir {
		return lrupool.Nil, LogicError
	}
	c.pool.Touch(cur)
	return cur, Found
}

// FindKey resolves key under the directory named by dirSegs.
func (c *Cache) FindKey(dirSegs []string, key string) (lrupool.Index, Result) {
	dirIdx, res := c.FindDir(dirSegs)
	if res != Found {
		return lrupool.Nil, res
	}
	dir := c.pool.At(dirIdx)
	childIdx, ok := dir.children[key]
	if !ok {
		if dir.complete {
			return lrupool.Nil, NotFound
		}
		return lrupool.Nil, InconsistentCache
	}
	if c.pool.At(childIdx).kind != kindKey {
		return lrupool.Nil, LogicError
	}
	if !c.fresh(childIdx) {
		return lrupool.Nil, InconsistentCache
	}
	c.pool.Touch(childIdx)
	return childIdx, Found
}

// KeyValue returns the cached value and contributing volume for a key node.
func (c *Cache) KeyValue(idx lrupool.Index) (phvl.Value, mount.VolumeID) {
	n := c.pool.At(idx)
	return n.value, n.volumeID
}

// Complete reports whether dirIdx's child listing is known to be exhaustive.
func (c *Cache) Complete(dirIdx lrupool.Index) bool {
	return c.pool.At(dirIdx).complete
}

// Overlapping reports whether more than one volume contributes to dirIdx.
func (c *Cache) Overlapping(dirIdx lrupool.Index) bool {
	return c.pool.At(dirIdx).overlapping
}

// Children lists dirIdx's immediate children, ascending by name.
func (c *Cache) Children(dirIdx lrupool.Index) []Child {
	dir := c.pool.At(dirIdx)
	out := make([]Child, 0, len(dir.children))
	for name, idx := range dir.children {
		ck := ChildDir
		if c.pool.At(idx).kind == kindKey {
			ck = ChildKey
		}
		out = append(out, Child{Name: name, Kind: ck, Idx: idx})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// InsertDir adds (or refreshes) a directory child named name under dirIdx.
func (c *Cache) InsertDir(dirIdx lrupool.Index, name string, prio int) (lrupool.Index, bool) {
	dir := c.pool.At(dirIdx)
	if existing, ok := dir.children[name]; ok {
		en := c.pool.At(existing)
		en.epoch = c.epoch.Load()
		c.pool.Touch(existing)
		return existing, true
	}
	idx, ok := c.pool.Allocate(prio, nodeData{
		kind:     kindDir,
		name:     name,
		parent:   dirIdx,
		children: map[string]lrupool.Index{},
		epoch:    c.epoch.Load(),
	})
	if !ok {
		return lrupool.Nil, false
	}
	dir = c.pool.At(dirIdx) // re-fetch: Allocate may have evicted and mutated dirIdx's own slot
	dir.children[name] = idx
	return idx, true
}

// InsertKey adds (or refreshes) a key child named name under dirIdx.
func (c *Cache) InsertKey(dirIdx lrupool.Index, name string, value phvl.Value, volID mount.VolumeID, prio int) (lrupool.Index, bool) {
	dir := c.pool.At(dirIdx)
	if existing, ok := dir.children[name]; ok {
		en := c.pool.At(existing)
		en.value = value
		en.volumeID = volID
		en.epoch = c.epoch.Load()
		c.pool.Touch(existing)
		return existing, true
	}
	idx, ok := c.pool.Allocate(prio, nodeData{
		kind:     kindKey,
		name:     name,
		parent:   dirIdx,
		value:    value,
		volumeID: volID,
		epoch:    c.epoch.Load(),
	})
	if !ok {
		return lrupool.Nil, false
	}
	dir = c.pool.At(dirIdx)
	dir.children[name] = idx
	return idx, true
}

// MarkComplete records whether dirIdx's child listing is exhaustive and
// refreshes its epoch stamp.
func (c *Cache) MarkComplete(dirIdx lrupool.Index, complete bool) {
	n := c.pool.At(dirIdx)
	n.complete = complete
	n.epoch = c.epoch.Load()
}

// MarkOverlapping records whether more than one volume contributes to dirIdx.
func (c *Cache) MarkOverlapping(dirIdx lrupool.Index, overlapping bool) {
	c.pool.At(dirIdx).overlapping = overlapping
}

// EraseFromCache removes dirIdx's child named name, then, if dirIdx becomes
// empty and is not the root, recursively erases dirIdx from its own parent
// (spec §4.6).
func (c *Cache) EraseFromCache(dirIdx lrupool.Index, name string) {
	dir := c.pool.At(dirIdx)
	childIdx, ok := dir.children[name]
	if !ok {
		return
	}
	delete(dir.children, name)
	c.pool.Free(childIdx)
	if len(dir.children) == 0 && dirIdx != c.root && dir.parent != lrupool.Nil {
		parentIdx, parentName := dir.parent, dir.name
		c.EraseFromCache(parentIdx, parentName)
	}
}

// ClearChildren frees every descendant of dirIdx (recursing into child
// directories first), leaving dirIdx itself in place with no children.
func (c *Cache) ClearChildren(dirIdx lrupool.Index) {
	dir := c.pool.At(dirIdx)
	for name, childIdx := range dir.children {
		if c.pool.At(childIdx).kind == kindDir {
			c.ClearChildren(childIdx)
		}
		c.pool.Free(childIdx)
		delete(dir.children, name)
	}
}

// EraseSubtreeFromCache empties dirIdx of all descendants and, if dirIdx is
// not the root, removes dirIdx itself from its parent, pruning upward
// exactly as EraseFromCache would for a directory that just became empty.
// Used by eraseDirRecursive (spec §4.8).
func (c *Cache) EraseSubtreeFromCache(dirIdx lrupool.Index) {
	c.ClearChildren(dirIdx)
	dir := c.pool.At(dirIdx)
	if dirIdx != c.root && dir.parent != lrupool.Nil {
		parentIdx, name := dir.parent, dir.name
		c.EraseFromCache(parentIdx, name)
	}
}

// Drain evicts and frees every node in the cache, used when the store is
// closed.
func (c *Cache) Drain() {
	c.pool.Drain()
	c.root = lrupool.Nil
}
