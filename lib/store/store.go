package store

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kvexpr/phkv/lib/cache"
	"github.com/kvexpr/phkv/lib/epoch"
	"github.com/kvexpr/phkv/lib/lrupool"
	"github.com/kvexpr/phkv/lib/mount"
	"github.com/kvexpr/phkv/lib/pherr"
	"github.com/kvexpr/phkv/lib/phvl"
	"github.com/kvexpr/phkv/lib/plog"
)

// Kind mirrors phvl.DirEntryKind at the façade boundary, so callers of
// GetDirEntries don't need to import lib/phvl themselves.
type Kind int

const (
	KindDir Kind = iota
	KindKey
)

// Entry is one (name, kind) pair returned by GetDirEntries.
type Entry struct {
	Name string
	Kind Kind
}

// Store is the public façade over a mount registry, a directory cache,
// and the volumes they describe (spec §4.8).
type Store struct {
	opts Options

	mounts *mount.Registry
	cache  *cache.Cache
	epoch  *epoch.Counter

	// volMtx guards volumes only; it is disjoint from cacheMtx/mountInfoMtx
	// and is never held while acquiring either (spec §5).
	volMtx  sync.Mutex
	volumes map[mount.VolumeID]*phvl.Volume

	log     *plog.Logger
	metrics *storeMetrics
}

// New creates an empty Store: no volumes mounted, an empty cache.
func New(opts Options) *Store {
	opts = opts.withDefaults()
	e := &epoch.Counter{}
	m := newStoreMetrics()
	c := cache.NewCache(opts.CachePoolSize, e)
	c.SetEvictHook(func() { m.evictions.Inc() })
	return &Store{
		opts:    opts,
		mounts:  mount.NewRegistry(e),
		cache:   c,
		epoch:   e,
		volumes: make(map[mount.VolumeID]*phvl.Volume),
		log:     plog.Named("store"),
		metrics: m,
	}
}

func splitPath(p string) []string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// localPathFor maps an API path to the path a volume mounted at mountPath
// sees: P with the mount's own segments stripped off the front (spec
// §4.8's "volume sees P[len(M)..]").
func localPathFor(mountPath string, apiSegs []string) string {
	mountSegs := splitPath(mountPath)
	if len(apiSegs) < len(mountSegs) {
		return "/"
	}
	rest := apiSegs[len(mountSegs):]
	return "/" + strings.Join(rest, "/")
}

func opCorrelationID() string {
	return uuid.New().String()
}

// -- volume lifecycle ---------------------------------------------------

// CreateAndMount creates a fresh volume triplet on disk and mounts it,
// returning the assigned VolumeId (spec §4.7 registerMount, composed with
// lib/phvl's free CreateVolume -- a supplemented operation beyond the
// core store façade).
func (s *Store) CreateAndMount(name, dir, mountPath string) (mount.VolumeID, error) {
	vol, err := phvl.CreateVolume(dir, name)
	if err != nil {
		return 0, err
	}
	return s.mountVolume(name, dir, mountPath, vol), nil
}

// Mount opens an existing volume triplet on disk and mounts it.
func (s *Store) Mount(name, dir, mountPath string) (mount.VolumeID, error) {
	vol, err := phvl.OpenVolume(dir, name)
	if err != nil {
		return 0, err
	}
	return s.mountVolume(name, dir, mountPath, vol), nil
}

func (s *Store) mountVolume(name, dir, mountPath string, vol *phvl.Volume) mount.VolumeID {
	mnt := s.mounts.RegisterMount(name, dir, mountPath)

	s.volMtx.Lock()
	s.volumes[mnt.ID] = vol
	s.volMtx.Unlock()

	s.log.Infof("mounted volume %d (%s) at %q", mnt.ID, name, mnt.MountPath)
	return mnt.ID
}

// Unmount removes a volume from the namespace and closes its file handles.
// Any operation still queued against it observes an abort rather than
// hanging (spec §4.7 unmount, §9 abortOp).
func (s *Store) Unmount(id mount.VolumeID) error {
	mnt, err := s.mounts.Unmount(id)
	if err != nil {
		return err
	}

	s.volMtx.Lock()
	vol := s.volumes[id]
	delete(s.volumes, id)
	s.volMtx.Unlock()

	s.log.Infof("unmounted volume %d at %q", id, mnt.MountPath)
	if vol == nil {
		return nil
	}
	return vol.Close()
}

// DeleteUnmounted removes an unmounted volume's files from disk. Callers
// must ensure the volume is not currently mounted (spec §6's deleteVolume
// contract); this is a supplemented operation composing lib/mount with
// lib/phvl's free DeleteVolume.
func (s *Store) DeleteUnmounted(name, dir string) error {
	return phvl.DeleteVolume(dir, name)
}

// Close unmounts every remaining volume, ascending by VolumeId, and drains
// the directory cache.
func (s *Store) Close() error {
	var firstErr error
	for _, mnt := range s.mounts.AllSortedByID() {
		if err := s.Unmount(mnt.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.cache.Drain()
	return firstErr
}

func (s *Store) volumeFor(id mount.VolumeID) *phvl.Volume {
	s.volMtx.Lock()
	defer s.volMtx.Unlock()
	return s.volumes[id]
}

// -- cache population -----------------------------------------------------

// refillDir repopulates dirIdx's children from every volume contributing
// to dirPath, clearing whatever was cached there before (spec §4.6
// fillCache). Must be called with both cacheMtx and mountInfoMtx held.
func (s *Store) refillDir(dirIdx lrupool.Index, dirSegs []string) bool {
	dirPath := strings.Join(dirSegs, "/")
	mounts := s.mounts.FindVolumesByPathLocked(dirPath)
	overlapping := len(mounts) > 1
	prio := cache.PrioSole
	if overlapping {
		prio = cache.PrioOverlap
	}

	s.cache.ClearChildren(dirIdx)

	complete := true
	for _, mnt := range mounts {
		vol := s.volumeFor(mnt.ID)
		if vol == nil {
			continue
		}
		localDir := localPathFor(mnt.MountPath, dirSegs)

		// GetDirEntries and the per-entry Lookups below all read through
		// vol, which is not safe for concurrent use (phvl.Volume's own
		// contract); running them under this volume's operation sequencer
		// keeps them mutually exclusive with every mutating op sequenced
		// against the same volume, the same as Store/EraseKey/
		// EraseDirRecursive already are (spec §5's per-volume volumeMtx).
		var entries []phvl.DirEntry
		var dirErr error
		type keyHit struct {
			name string
			val  phvl.Value
		}
		var keyHits []keyHit

		seq := mnt.AcquireOpSeq()
		_ = mnt.ExecuteInSequence(seq, func() error {
			entries, dirErr = vol.GetDirEntries(localDir)
			if dirErr != nil {
				return nil
			}
			for _, e := range entries {
				if e.Kind != phvl.DirEntryKey {
					continue
				}
				childLocal := strings.TrimRight(localDir, "/") + "/" + e.Name
				val, found, lerr := vol.Lookup(childLocal)
				if lerr != nil || !found {
					continue
				}
				keyHits = append(keyHits, keyHit{name: e.Name, val: val})
			}
			return nil
		})

		if dirErr != nil {
			if pherr.Is(dirErr, pherr.InvalidPath) {
				continue
			}
			s.log.Warnf("fillCache: volume %d GetDirEntries(%q): %v", mnt.ID, localDir, dirErr)
			complete = false
			continue
		}
		for _, e := range entries {
			var ok bool
			switch e.Kind {
			case phvl.DirEntryDir:
				_, ok = s.cache.InsertDir(dirIdx, e.Name, prio)
			case phvl.DirEntryKey:
				ok = true
			}
			if !ok {
				complete = false
			}
		}
		for _, hit := range keyHits {
			if _, ok := s.cache.InsertKey(dirIdx, hit.name, hit.val, mnt.ID, prio); !ok {
				complete = false
			}
		}
	}

	for _, seg := range s.mounts.ChildMountSegmentsLocked(dirPath) {
		if _, ok := s.cache.InsertDir(dirIdx, seg, cache.PrioSole); !ok {
			complete = false
		}
	}

	s.cache.MarkOverlapping(dirIdx, overlapping)
	s.cache.MarkComplete(dirIdx, complete)
	return complete
}

// fillCache walks dirSegs from the cache root, refilling every directory
// along the way from its contributing volumes (fresh and complete ones
// included), and returns the resolved directory node for dirSegs.
func (s *Store) fillCache(dirSegs []string) (lrupool.Index, bool) {
	cur := s.cache.Root()
	ok := true
	for i := 0; i <= len(dirSegs); i++ {
		if !s.refillDir(cur, dirSegs[:i]) {
			ok = false
		}
		if i == len(dirSegs) {
			break
		}
		children := s.cache.Children(cur)
		var next lrupool.Index = lrupool.Nil
		for _, ch := range children {
			if ch.Name == dirSegs[i] && ch.Kind == cache.ChildDir {
				next = ch.Idx
				break
			}
		}
		if next == lrupool.Nil {
			return lrupool.Nil, false
		}
		cur = next
	}
	return cur, ok
}

// resolveDir returns the cache node for dirSegs, running fillCache once if
// the initial walk is inconsistent.
func (s *Store) resolveDir(dirSegs []string) (lrupool.Index, cache.Result) {
	idx, res := s.cache.FindDir(dirSegs)
	if res != cache.InconsistentCache {
		return idx, res
	}
	idx, _ = s.fillCache(dirSegs)
	if idx == lrupool.Nil {
		return lrupool.Nil, cache.NotFound
	}
	return idx, cache.Found
}

// -- public operations ------------------------------------------------------

func splitDirAndKey(path string) ([]string, string, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil, "", pherr.New(pherr.InvalidPath, "store: empty path")
	}
	return segs[:len(segs)-1], segs[len(segs)-1], nil
}

// Store writes value at path, creating or overwriting it, per spec §4.8.
func (s *Store) Store(path string, value phvl.Value, ttl time.Duration) error {
	s.metrics.incOp("store")
	start := time.Now()
	defer func() { s.metrics.observeDuration(time.Since(start).Seconds()) }()

	dirSegs, key, err := splitDirAndKey(path)
	if err != nil {
		return err
	}

	s.mounts.Lock()
	// findInCache(dir); if inconsistent, fillCache(dir) then retry (spec
	// §4.8). dirIdx stays Nil if the directory genuinely isn't cached yet --
	// store still proceeds by resolving the target volume directly; it just
	// has nothing to update storeInCache against.
	dirIdx, res := s.resolveDir(dirSegs)
	if res != cache.Found {
		dirIdx = lrupool.Nil
	}

	var targetID mount.VolumeID
	var prio int
	var haveExisting bool
	if dirIdx != lrupool.Nil {
		if existing, ok := s.existingKeyChild(dirIdx, key); ok {
			_, targetID = s.cache.KeyValue(existing)
			haveExisting = true
		}
	}
	if !haveExisting {
		mounts := s.mounts.FindVolumesByPathLocked(strings.Join(dirSegs, "/") + "/" + key)
		if len(mounts) == 0 {
			s.mounts.Unlock()
			return pherr.Newf(pherr.NoVolumeMounted, "store: no volume mounted covering %q", path)
		}
		targetID = mounts[0].ID
		prio = cache.PrioSole
		if len(mounts) > 1 {
			prio = cache.PrioOverlap
		}
	}
	if dirIdx != lrupool.Nil {
		s.cache.InsertKey(dirIdx, key, value, targetID, prio)
	} else {
		// The volume creates the missing directories on write: drop the
		// completeness of the deepest cached ancestor so the next walk
		// through it refills from disk instead of reporting NotFound.
		for i := len(dirSegs) - 1; i >= 0; i-- {
			if anc, r := s.cache.FindDir(dirSegs[:i]); r == cache.Found {
				s.cache.MarkComplete(anc, false)
				break
			}
		}
	}

	mnt, ok := s.mounts.Get(targetID)
	if !ok {
		s.mounts.Unlock()
		return pherr.Newf(pherr.NoVolumeMounted, "store: volume %d no longer mounted", targetID)
	}
	seq := mnt.AcquireOpSeq()
	s.mounts.Unlock()

	vol := s.volumeFor(targetID)
	localPath := localPathFor(mnt.MountPath, append(append([]string{}, dirSegs...), key))
	err = mnt.ExecuteInSequence(seq, func() error {
		if vol == nil {
			return pherr.New(pherr.NoVolumeMounted, "store: volume closed during operation")
		}
		return vol.Store(localPath, value, ttl)
	})
	if err != nil {
		s.epoch.Bump()
		return s.tagError(err)
	}
	return nil
}

func (s *Store) existingKeyChild(dirIdx lrupool.Index, key string) (lrupool.Index, bool) {
	for _, ch := range s.cache.Children(dirIdx) {
		if ch.Name == key && ch.Kind == cache.ChildKey {
			return ch.Idx, true
		}
	}
	return lrupool.Nil, false
}

func (s *Store) tagError(err error) error {
	id := opCorrelationID()
	s.log.Errorf("operation failed (op=%s): %v", id, err)
	if pe, ok := err.(*pherr.Error); ok {
		return pherr.Newf(pe.Kind, "%s (op=%s)", pe.Msg, id)
	}
	return err
}

// Lookup returns the value stored at path, or found=false if there is none.
func (s *Store) Lookup(path string) (phvl.Value, bool, error) {
	s.metrics.incOp("lookup")
	start := time.Now()
	defer func() { s.metrics.observeDuration(time.Since(start).Seconds()) }()

	dirSegs, key, err := splitDirAndKey(path)
	if err != nil {
		return phvl.Value{}, false, err
	}

	s.mounts.Lock()
	dirIdx, res := s.resolveDir(dirSegs)
	if res == cache.Found {
		if idx, ok := s.existingKeyChild(dirIdx, key); ok {
			val, _ := s.cache.KeyValue(idx)
			complete := s.cache.Complete(dirIdx)
			s.mounts.Unlock()
			if complete {
				s.metrics.cacheHits.Inc()
			}
			return val, true, nil
		}
		if s.cache.Complete(dirIdx) {
			s.mounts.Unlock()
			s.metrics.cacheHits.Inc()
			return phvl.Value{}, false, nil
		}
	}
	mounts := s.mounts.FindVolumesByPathLocked(strings.Join(dirSegs, "/") + "/" + key)
	s.mounts.Unlock()

	s.metrics.cacheMisses.Inc()
	apiSegs := append(append([]string{}, dirSegs...), key)
	for _, mnt := range mounts {
		seq := mnt.AcquireOpSeq()
		vol := s.volumeFor(mnt.ID)
		localPath := localPathFor(mnt.MountPath, apiSegs)
		var val phvl.Value
		var found bool
		err := mnt.ExecuteInSequence(seq, func() error {
			if vol == nil {
				return nil
			}
			var lerr error
			val, found, lerr = vol.Lookup(localPath)
			return lerr
		})
		if err != nil {
			return phvl.Value{}, false, s.tagError(err)
		}
		if found {
			return val, true, nil
		}
	}
	return phvl.Value{}, false, nil
}

// EraseKey removes the key at path if it is currently cached; it performs
// no on-disk scan for uncached keys (spec §4.8's documented limitation).
func (s *Store) EraseKey(path string) error {
	s.metrics.incOp("eraseKey")
	dirSegs, key, err := splitDirAndKey(path)
	if err != nil {
		return err
	}

	s.mounts.Lock()
	dirIdx, res := s.resolveDir(dirSegs)
	if res != cache.Found {
		s.mounts.Unlock()
		return nil
	}
	idx, ok := s.existingKeyChild(dirIdx, key)
	if !ok {
		s.mounts.Unlock()
		return nil
	}
	_, volID := s.cache.KeyValue(idx)
	s.cache.EraseFromCache(dirIdx, key)

	mnt, ok := s.mounts.Get(volID)
	if !ok {
		s.mounts.Unlock()
		return nil
	}
	seq := mnt.AcquireOpSeq()
	s.mounts.Unlock()

	vol := s.volumeFor(volID)
	apiSegs := append(append([]string{}, dirSegs...), key)
	localPath := localPathFor(mnt.MountPath, apiSegs)
	err = mnt.ExecuteInSequence(seq, func() error {
		if vol == nil {
			return nil
		}
		return vol.EraseKey(localPath)
	})
	if err != nil {
		s.epoch.Bump()
		return s.tagError(err)
	}
	return nil
}

// EraseDirRecursive removes path and everything beneath it, from every
// volume that contributes to it.
func (s *Store) EraseDirRecursive(path string) error {
	s.metrics.incOp("eraseDirRecursive")
	segs := splitPath(path)

	s.mounts.Lock()
	dirIdx, res := s.resolveDir(segs)
	if res == cache.Found {
		s.cache.EraseSubtreeFromCache(dirIdx)
	}

	mounts := s.mounts.FindVolumesByPathLocked(strings.Join(segs, "/"))
	if len(mounts) == 0 {
		s.mounts.Unlock()
		return pherr.Newf(pherr.NoVolumeMounted, "store: no volume mounted covering %q", path)
	}
	type ticket struct {
		mnt *mount.Mount
		seq uint32
	}
	tickets := make([]ticket, len(mounts))
	for i, mnt := range mounts {
		tickets[i] = ticket{mnt: mnt, seq: mnt.AcquireOpSeq()}
	}
	s.mounts.Unlock()

	var firstErr error
	for _, tk := range tickets {
		vol := s.volumeFor(tk.mnt.ID)
		localPath := localPathFor(tk.mnt.MountPath, segs)
		err := tk.mnt.ExecuteInSequence(tk.seq, func() error {
			if vol == nil {
				return nil
			}
			if localPath == "" || localPath == "/" {
				return vol.EraseAllRecursive()
			}
			return vol.EraseDirRecursive(localPath)
		})
		if err != nil {
			s.epoch.Bump()
			if firstErr == nil {
				firstErr = s.tagError(err)
			}
		}
	}
	return firstErr
}

// GetDirEntries lists the immediate contents of path, unioned across every
// contributing volume.
func (s *Store) GetDirEntries(path string) ([]Entry, error) {
	s.metrics.incOp("getDirEntries")
	segs := splitPath(path)

	s.mounts.Lock()
	dirIdx, res := s.resolveDir(segs)
	if res != cache.Found {
		s.mounts.Unlock()
		return nil, pherr.Newf(pherr.InvalidPath, "store: directory %q not found", path)
	}
	children := s.cache.Children(dirIdx)
	s.mounts.Unlock()

	out := make([]Entry, 0, len(children))
	for _, ch := range children {
		k := KindDir
		if ch.Kind == cache.ChildKey {
			k = KindKey
		}
		out = append(out, Entry{Name: ch.Name, Kind: k})
	}
	return out, nil
}
