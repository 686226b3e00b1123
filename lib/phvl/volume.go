package phvl

import (
	"os"
	"strings"
	"time"

	"github.com/kvexpr/phkv/lib/bgfs"
	"github.com/kvexpr/phkv/lib/pherr"
	"github.com/kvexpr/phkv/lib/smfs"
)

// DirEntryKind distinguishes the two kinds of entry a directory listing
// can return.
type DirEntryKind int

const (
	DirEntryKey DirEntryKind = iota
	DirEntryDir
)

// DirEntry is one (kind, name) pair from GetDirEntries.
type DirEntry struct {
	Name string
	Kind DirEntryKind
}

// Volume is one mounted hierarchical key/value tree: a main file holding
// the skip-list directory structure, an SMFS file for small external
// payloads, and a BGFS file for large ones.
//
// A Volume is not safe for concurrent use; callers (lib/store's per-volume
// operation sequencer) are expected to serialize all access to one volume.
type Volume struct {
	mf  *mainFile
	stm *smfs.SmallFile
	big *bgfs.BigFile

	heightPRNG *heightPRNG

	// fast-path directory cache: the most recently resolved directory
	// path and its head offset, bypassing a full skip-list walk from the
	// root for consecutive operations within the same directory.
	lastDirPath string
	lastDirHead uint64
	lastDirSet  bool

	now func() time.Time
}

func volumePaths(dir, name string) (main, stm, big string) {
	base := dir + "/" + name
	return base + ".phkvsmain", base + ".phkvsstm", base + ".phkvsbig"
}

// CreateVolume creates a fresh volume triplet (main/stm/big files) rooted
// at dir/name and opens it (spec §6's createAndMountVolume).
func CreateVolume(dir, name string) (*Volume, error) {
	mainPath, stmPath, bigPath := volumePaths(dir, name)
	mf, err := createMainFile(mainPath)
	if err != nil {
		return nil, err
	}
	stm, err := smfs.Create(stmPath)
	if err != nil {
		mf.close()
		return nil, err
	}
	big, err := bgfs.Create(bigPath)
	if err != nil {
		mf.close()
		stm.Close()
		return nil, err
	}
	return newVolume(mf, stm, big), nil
}

// OpenVolume opens an existing volume triplet (spec §6's mountVolume).
func OpenVolume(dir, name string) (*Volume, error) {
	mainPath, stmPath, bigPath := volumePaths(dir, name)
	mf, err := openMainFile(mainPath)
	if err != nil {
		return nil, err
	}
	stm, err := smfs.Open(stmPath)
	if err != nil {
		mf.close()
		return nil, err
	}
	big, err := bgfs.Open(bigPath)
	if err != nil {
		mf.close()
		stm.Close()
		return nil, err
	}
	return newVolume(mf, stm, big), nil
}

// DeleteVolume removes a volume triplet's files from disk. The caller must
// ensure the volume is unmounted and closed first (spec §6's deleteVolume);
// this function only touches the filesystem.
func DeleteVolume(dir, name string) error {
	mainPath, stmPath, bigPath := volumePaths(dir, name)
	for _, p := range []string{mainPath, stmPath, bigPath} {
		if err := os.Remove(p); err != nil {
			return pherr.Wrap(pherr.IoError, err, "phvl: delete volume file "+p)
		}
	}
	return nil
}

func newVolume(mf *mainFile, stm *smfs.SmallFile, big *bgfs.BigFile) *Volume {
	return &Volume{
		mf:         mf,
		stm:        stm,
		big:        big,
		heightPRNG: newHeightPRNG(newVolumeSeed()),
		now:        time.Now,
	}
}

// Close releases the volume's three file handles.
func (v *Volume) Close() error {
	err1 := v.mf.close()
	err2 := v.stm.Close()
	err3 := v.big.Close()
	if err1 != nil {
		return err1
	}
	if err2 != nil {
		return err2
	}
	return err3
}

// InvalidateFastPath clears the cached (directory path, head offset) pair.
// Volume calls it itself after any recursive directory erasure; lib/store
// does not call it (unmount closes the Volume instead).
func (v *Volume) InvalidateFastPath() {
	v.lastDirSet = false
	v.lastDirPath = ""
	v.lastDirHead = 0
}

// -- external storage placement ---------------------------------------------

func (v *Volume) allocExternal(payload []byte) (uint64, error) {
	if len(payload) <= maxSMFSLen {
		return v.stm.AllocateAndWrite(payload)
	}
	return v.big.AllocateAndWrite(payload)
}

func (v *Volume) readExternal(offset uint64, length int) ([]byte, error) {
	buf := make([]byte, length)
	if length <= maxSMFSLen {
		if err := v.stm.Read(offset, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
	if err := v.big.Read(offset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (v *Volume) freeExternal(offset uint64, length int) error {
	if length <= maxSMFSLen {
		return v.stm.FreeSlot(offset, length)
	}
	return v.big.Free(offset)
}

// overwriteExternal rewrites payload at offset, which was previously
// written with oldLength bytes in the same placement class (SMFS or BGFS,
// determined by oldLength) as len(payload).
func (v *Volume) overwriteExternal(offset uint64, oldLength int, payload []byte) (uint64, error) {
	if oldLength <= maxSMFSLen {
		return v.stm.Overwrite(offset, oldLength, payload)
	}
	if err := v.big.Overwrite(offset, payload); err != nil {
		return 0, err
	}
	return offset, nil
}

// -- path handling ------------------------------------------------------------

// splitDirPath splits a slash-separated path into its non-empty segments.
func splitDirPath(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitKeyPath splits path into its directory segments and final key
// segment. A path with no non-empty segments is InvalidPath.
func splitKeyPath(path string) ([]string, string, error) {
	segs := splitDirPath(path)
	if len(segs) == 0 {
		return nil, "", pherr.Newf(pherr.InvalidPath, "phvl: empty path %q", path)
	}
	return segs[:len(segs)-1], segs[len(segs)-1], nil
}

// navigateDir walks dirPath from the root, optionally auto-creating
// missing directory segments, and returns the resolved directory's head
// offset.
func (v *Volume) navigateDir(dirPath []string, create bool) (uint64, error) {
	full := strings.Join(dirPath, "/")
	if v.lastDirSet && v.lastDirPath == full {
		return v.lastDirHead, nil
	}
	cur := rootHeadOffset
	for _, seg := range dirPath {
		name := []byte(seg)
		entry, found, err := v.listLookup(cur, name)
		if err != nil {
			return 0, err
		}
		if !found {
			if !create {
				return 0, pherr.Newf(pherr.InvalidPath, "phvl: directory %q not found", full)
			}
			head, err := v.allocHeadNode()
			if err != nil {
				return 0, err
			}
			if err := v.listInsertDirEntry(cur, name, head.offset); err != nil {
				return 0, err
			}
			cur = head.offset
			continue
		}
		if !entry.isDir {
			return 0, pherr.Newf(pherr.KindMismatch, "phvl: %q is a key, not a directory", seg)
		}
		cur = entry.childHead
	}
	v.lastDirPath, v.lastDirHead, v.lastDirSet = full, cur, true
	return cur, nil
}

// -- public operations ---------------------------------------------------

// Store writes value at path, auto-creating any missing directory segments.
// A ttl of 0 means no expiration; otherwise the entry expires ttl after
// the current time.
func (v *Volume) Store(path string, value Value, ttl time.Duration) error {
	dirPath, key, err := splitKeyPath(path)
	if err != nil {
		return err
	}
	head, err := v.navigateDir(dirPath, true)
	if err != nil {
		return err
	}
	var expiration uint64
	if ttl > 0 {
		expiration = uint64(v.now().Add(ttl).UnixMilli())
	}
	return v.listStoreKey(head, []byte(key), value, expiration)
}

// Lookup returns the value stored at path. found is false if the path
// doesn't resolve to a live key entry (missing, a directory, or expired).
func (v *Volume) Lookup(path string) (Value, bool, error) {
	dirPath, key, err := splitKeyPath(path)
	if err != nil {
		return Value{}, false, err
	}
	head, err := v.navigateDir(dirPath, false)
	if err != nil {
		if pherr.Is(err, pherr.InvalidPath) {
			return Value{}, false, nil
		}
		return Value{}, false, err
	}
	entry, found, err := v.listLookup(head, []byte(key))
	if err != nil {
		return Value{}, false, err
	}
	if !found || entry.isDir {
		return Value{}, false, nil
	}
	if entry.expiration != 0 && entry.expiration < uint64(v.now().UnixMilli()) {
		return Value{}, false, nil
	}
	return entry.value, true, nil
}

// EraseKey removes the key entry at path. It is a no-op (returns nil) if
// nothing exists at path; if path names a directory it returns KindMismatch.
func (v *Volume) EraseKey(path string) error {
	dirPath, key, err := splitKeyPath(path)
	if err != nil {
		return err
	}
	head, err := v.navigateDir(dirPath, false)
	if err != nil {
		if pherr.Is(err, pherr.InvalidPath) {
			return nil
		}
		return err
	}
	entry, found, err := v.listLookup(head, []byte(key))
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if entry.isDir {
		return pherr.Newf(pherr.KindMismatch, "phvl: %q is a directory", path)
	}
	_, err = v.listErase(head, []byte(key))
	return err
}

// EraseDirRecursive removes the directory at path and everything beneath
// it. Erasing the root ("") is rejected, since freeing the root head node
// would leave the volume unusable; lib/store calls EraseAllRecursive
// instead when the local path is a volume's own root.
func (v *Volume) EraseDirRecursive(path string) error {
	segs := splitDirPath(path)
	if len(segs) == 0 {
		return pherr.New(pherr.InvalidPath, "phvl: cannot erase the root directory")
	}
	parentSegs, name := segs[:len(segs)-1], segs[len(segs)-1]
	parentHead, err := v.navigateDir(parentSegs, false)
	if err != nil {
		if pherr.Is(err, pherr.InvalidPath) {
			return nil
		}
		return err
	}
	entry, found, err := v.listLookup(parentHead, []byte(name))
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if !entry.isDir {
		return pherr.Newf(pherr.KindMismatch, "phvl: %q is a key, not a directory", path)
	}
	if _, err := v.listErase(parentHead, []byte(name)); err != nil {
		return err
	}
	if err := v.listEraseRecursive(entry.childHead); err != nil {
		return err
	}
	v.InvalidateFastPath()
	return nil
}

// EraseAllRecursive empties the volume's root directory of all contents,
// recursively, without removing the root itself. This is the volume-level
// primitive lib/store uses when a directory being recursively erased has a
// volume mounted exactly at it: that volume must end up empty, not gone.
func (v *Volume) EraseAllRecursive() error {
	if err := v.listEraseAllRecursive(rootHeadOffset); err != nil {
		return err
	}
	v.InvalidateFastPath()
	return nil
}

// GetDirEntries lists the immediate contents of the directory at path.
func (v *Volume) GetDirEntries(path string) ([]DirEntry, error) {
	dirPath := splitDirPath(path)
	head, err := v.navigateDir(dirPath, false)
	if err != nil {
		return nil, err
	}
	return v.listGetContent(head, uint64(v.now().UnixMilli()))
}
