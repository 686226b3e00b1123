package mount

import (
	"sort"
	"strings"
	"sync"

	"github.com/kvexpr/phkv/lib/epoch"
	"github.com/kvexpr/phkv/lib/pherr"
	"github.com/puzpuzpuz/xsync/v3"
)

// VolumeID identifies one mounted volume, assigned in registration order.
type VolumeID uint64

// Mount is one registered volume: its identity, where it lives on disk,
// where it sits in the namespace, and the operation sequencer serializing
// store operations issued against it (spec §4.8, §5).
type Mount struct {
	ID        VolumeID
	Name      string
	Dir       string
	MountPath string // slash-joined segments, "" for the root mount

	seqMtx            sync.Mutex
	seqCond           *sync.Cond
	lastOpSeqAssigned uint32
	lastOpSeqExecuted uint32
	abortOp           bool
}

func newMount(id VolumeID, name, dir, mountPath string) *Mount {
	m := &Mount{ID: id, Name: name, Dir: dir, MountPath: mountPath}
	m.seqCond = sync.NewCond(&m.seqMtx)
	return m
}

// AcquireOpSeq hands out the next ticket for operations against this
// volume. lib/store's Store, EraseKey, EraseDirRecursive and cache refill
// call this while holding the registry's mutex; Lookup's volume poll calls
// it after releasing that mutex. The counter itself is guarded by seqMtx.
func (m *Mount) AcquireOpSeq() uint32 {
	m.seqMtx.Lock()
	defer m.seqMtx.Unlock()
	m.lastOpSeqAssigned++
	return m.lastOpSeqAssigned
}

// ExecuteInSequence blocks until seq is next in line for this volume, then
// runs fn. lastOpSeqExecuted always advances and every waiter is always
// woken, whether fn errored or the sequencer was aborted out from under it
// -- a successor ticket must never wait forever on a predecessor that
// failed (spec §9).
func (m *Mount) ExecuteInSequence(seq uint32, fn func() error) error {
	m.seqMtx.Lock()
	for m.lastOpSeqExecuted+1 != seq && !m.abortOp {
		m.seqCond.Wait()
	}
	aborted := m.abortOp
	m.seqMtx.Unlock()

	var err error
	if aborted {
		err = pherr.New(pherr.NoVolumeMounted, "mount: operation sequence aborted")
	} else {
		err = fn()
	}

	m.seqMtx.Lock()
	m.lastOpSeqExecuted = seq
	m.seqCond.Broadcast()
	m.seqMtx.Unlock()
	return err
}

// Abort marks the sequencer aborted and wakes every waiter, used when a
// mount is removed while operations against it may still be queued.
func (m *Mount) Abort() {
	m.seqMtx.Lock()
	m.abortOp = true
	m.seqCond.Broadcast()
	m.seqMtx.Unlock()
}

// treeNode is one segment of the mount-path tree. mounts holds every
// volume mounted exactly at this node (more than one when mounts overlap);
// childMounts counts mounts anywhere in the subtree rooted here, including
// this node's own mounts, used to prune dead branches on unmount.
type treeNode struct {
	children    map[string]*treeNode
	mounts      []*Mount
	childMounts int
}

func newTreeNode() *treeNode {
	return &treeNode{children: map[string]*treeNode{}}
}

// Registry is the mount-path tree plus the VolumeId -> Mount index. Its
// mutex is the mountInfoMtx of spec §5; lib/store also uses it as the
// directory cache's lock (there is no separate cacheMtx).
type Registry struct {
	mtx    sync.Mutex
	root   *treeNode
	byID   *xsync.MapOf[VolumeID, *Mount]
	nextID VolumeID
	Epoch  *epoch.Counter
}

// NewRegistry creates an empty registry sharing epoch with the cache that
// invalidates against it.
func NewRegistry(e *epoch.Counter) *Registry {
	return &Registry{
		root:  newTreeNode(),
		byID:  xsync.NewMapOf[VolumeID, *Mount](),
		Epoch: e,
	}
}

func splitMountPath(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Lock/Unlock expose mountInfoMtx directly so the store façade can hold it
// across a combined cache+mount-tree operation, per the spec's lock order.
func (r *Registry) Lock()   { r.mtx.Lock() }
func (r *Registry) Unlock() { r.mtx.Unlock() }

// RegisterMount assigns the next VolumeId, walks the mount-path tree
// creating intermediate nodes as needed, records the new volume at the
// resolved leaf, and bumps the cache epoch (spec §4.7).
func (r *Registry) RegisterMount(name, dir, mountPath string) *Mount {
	segs := splitMountPath(mountPath)

	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.nextID++
	m := newMount(r.nextID, name, dir, strings.Join(segs, "/"))

	cur := r.root
	cur.childMounts++
	for _, seg := range segs {
		child, ok := cur.children[seg]
		if !ok {
			child = newTreeNode()
			cur.children[seg] = child
		}
		child.childMounts++
		cur = child
	}
	cur.mounts = append(cur.mounts, m)

	r.byID.Store(m.ID, m)
	r.Epoch.Bump()
	return m
}

// Unmount reverses RegisterMount: removes the volume from its leaf,
// decrements childMounts back up the chain, prunes any subtree left with
// no mounts and no children, drops the volumeIdMap entry, bumps the cache
// epoch, and aborts the removed mount's operation sequencer so any ticket
// still waiting on it returns instead of blocking forever.
func (r *Registry) Unmount(id VolumeID) (*Mount, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	mv, ok := r.byID.Load(id)
	if !ok {
		return nil, pherr.Newf(pherr.InvalidPath, "mount: volume %d is not mounted", id)
	}
	segs := splitMountPath(mv.MountPath)

	chain := make([]*treeNode, 0, len(segs)+1)
	chain = append(chain, r.root)
	cur := r.root
	for _, seg := range segs {
		child, ok := cur.children[seg]
		if !ok {
			return nil, pherr.Newf(pherr.CorruptData, "mount: registry tree missing segment %q for volume %d", seg, id)
		}
		chain = append(chain, child)
		cur = child
	}

	leaf := chain[len(chain)-1]
	idx := -1
	for i, mnt := range leaf.mounts {
		if mnt.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, pherr.Newf(pherr.CorruptData, "mount: volume %d missing from its own leaf node", id)
	}
	leaf.mounts = append(leaf.mounts[:idx], leaf.mounts[idx+1:]...)

	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].childMounts--
	}
	for i := len(chain) - 1; i > 0; i-- {
		node := chain[i]
		if node.childMounts == 0 && len(node.children) == 0 && len(node.mounts) == 0 {
			delete(chain[i-1].children, segs[i-1])
		}
	}

	r.byID.Delete(id)
	r.Epoch.Bump()
	mv.Abort()
	return mv, nil
}

// Get returns the mount registered under id, if any.
func (r *Registry) Get(id VolumeID) (*Mount, bool) {
	return r.byID.Load(id)
}

func (r *Registry) findVolumesByPath(path string) []*Mount {
	segs := splitMountPath(path)
	out := append([]*Mount{}, r.root.mounts...)
	cur := r.root
	for _, seg := range segs {
		child, ok := cur.children[seg]
		if !ok {
			break
		}
		out = append(out, child.mounts...)
		cur = child
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindVolumesByPath returns every volume whose mount path is a prefix of
// path, ascending by VolumeId (spec §4.7).
func (r *Registry) FindVolumesByPath(path string) []*Mount {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.findVolumesByPath(path)
}

// FindVolumesByPathLocked is FindVolumesByPath for callers that already
// hold mountInfoMtx.
func (r *Registry) FindVolumesByPathLocked(path string) []*Mount {
	return r.findVolumesByPath(path)
}

func (r *Registry) childMountSegments(path string) []string {
	segs := splitMountPath(path)
	cur := r.root
	for _, seg := range segs {
		child, ok := cur.children[seg]
		if !ok {
			return nil
		}
		cur = child
	}
	out := make([]string, 0, len(cur.children))
	for seg, child := range cur.children {
		if child.childMounts > 0 {
			out = append(out, seg)
		}
	}
	sort.Strings(out)
	return out
}

// ChildMountSegmentsLocked returns the names of path's immediate child
// segments that lead to a mount somewhere below them, used by the
// directory cache to synthesize entries for nested mount points that have
// no contributing volume listing them directly (spec §4.6). Callers must
// already hold mountInfoMtx.
func (r *Registry) ChildMountSegmentsLocked(path string) []string {
	return r.childMountSegments(path)
}

// AllSortedByID returns every registered mount, ascending by VolumeId.
func (r *Registry) AllSortedByID() []*Mount {
	var out []*Mount
	r.byID.Range(func(id VolumeID, m *Mount) bool {
		out = append(out, m)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
