package phvl

import (
	"bytes"

	"github.com/kvexpr/phkv/lib/bincodec"
	"github.com/kvexpr/phkv/lib/pherr"
)

// node is the in-memory decode of one head or body node. Head nodes never
// hold entries (entryCount stays 0 for the lifetime of the node); the
// distinction between "head" and "body" is purely in how a node is
// reached (the volume's own pointer vs. a predecessor's nexts array), not
// in its on-disk shape.
type node struct {
	offset           uint64
	height           uint8
	nexts            []uint64
	nextsExternalOff uint64 // SMFS offset backing nexts when height > 1
	entries          []nodeEntry
}

type nodeEntry struct {
	raw rawEntry
	dec decodedEntry
}

func (n *node) nextsRawField() uint64 {
	if n.height <= 1 {
		if len(n.nexts) > 0 {
			return n.nexts[0]
		}
		return 0
	}
	return n.nextsExternalOff
}

func getNextAtLevel(n *node, level int) uint64 {
	if level < int(n.height) {
		return n.nexts[level]
	}
	return 0
}

func encodeNexts(nexts []uint64) []byte {
	buf := make([]byte, len(nexts)*8)
	w := bincodec.NewWriter(buf)
	for _, v := range nexts {
		_ = w.WriteU64(v)
	}
	return buf
}

func decodeNexts(buf []byte, n int) []uint64 {
	r := bincodec.NewReader(buf)
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i], _ = r.ReadU64()
	}
	return out
}

// searchEntries binary-searches a node's sorted entries for name, returning
// either its index (found) or the index it should be inserted at.
func searchEntries(entries []nodeEntry, name []byte) (idx int, found bool) {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		c := bytes.Compare(entries[mid].dec.name, name)
		switch {
		case c == 0:
			return mid, true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

func insertAt(entries []nodeEntry, idx int, ne nodeEntry) []nodeEntry {
	entries = append(entries, nodeEntry{})
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = ne
	return entries
}

func (v *Volume) loadNode(offset uint64) (*node, error) {
	sn, err := v.mf.readNode(offset)
	if err != nil {
		return nil, err
	}
	n := &node{offset: offset, height: sn.height}
	if sn.height <= 1 {
		n.nexts = []uint64{sn.nextsRaw}
	} else {
		n.nextsExternalOff = sn.nextsRaw
		buf := make([]byte, int(sn.height)*8)
		if err := v.stm.Read(sn.nextsRaw, buf); err != nil {
			return nil, err
		}
		n.nexts = decodeNexts(buf, int(sn.height))
	}
	n.entries = make([]nodeEntry, 0, sn.entryCount)
	for i := 0; i < int(sn.entryCount); i++ {
		dec, err := v.decodeEntry(sn.entries[i])
		if err != nil {
			return nil, err
		}
		n.entries = append(n.entries, nodeEntry{raw: sn.entries[i], dec: dec})
	}
	return n, nil
}

func (v *Volume) writeNode(n *node) error {
	sn := slotNode{height: n.height, nextsRaw: n.nextsRawField(), entryCount: uint8(len(n.entries))}
	for i, e := range n.entries {
		sn.entries[i] = e.raw
	}
	return v.mf.writeNode(n.offset, sn)
}

// persistNexts rewrites n's nexts array in place, at its current height.
func (v *Volume) persistNexts(n *node) error {
	if n.height <= 1 {
		return v.writeNode(n)
	}
	buf := encodeNexts(n.nexts)
	newOff, err := v.stm.Overwrite(n.nextsExternalOff, int(n.height)*8, buf)
	if err != nil {
		return err
	}
	n.nextsExternalOff = newOff
	return v.writeNode(n)
}

// setNextAtLevelValue updates n.nexts[level], level already < n.height.
func (v *Volume) setNextAtLevelValue(n *node, level int, target uint64) error {
	n.nexts[level] = target
	return v.persistNexts(n)
}

// growNodeHeight extends n to newHeight levels, filling newly-created
// levels with fill (the node being spliced in at all the levels the node
// didn't previously reach).
func (v *Volume) growNodeHeight(n *node, newHeight int, fill uint64) error {
	oldHeight := int(n.height)
	oldOff := n.nextsExternalOff
	newNexts := make([]uint64, newHeight)
	copy(newNexts, n.nexts)
	for i := oldHeight; i < newHeight; i++ {
		newNexts[i] = fill
	}
	n.nexts = newNexts
	n.height = uint8(newHeight)
	if newHeight <= 1 {
		n.nextsExternalOff = 0
		return v.writeNode(n)
	}
	buf := encodeNexts(newNexts)
	var newOff uint64
	var err error
	if oldHeight <= 1 || oldOff == 0 {
		newOff, err = v.stm.AllocateAndWrite(buf)
	} else {
		newOff, err = v.stm.Overwrite(oldOff, oldHeight*8, buf)
	}
	if err != nil {
		return err
	}
	n.nextsExternalOff = newOff
	return v.writeNode(n)
}

// setNextAtLevel updates (growing if necessary) n's forward pointer at
// level to target. Used both for ordinary in-range updates and for
// growing a head node's reach as taller nodes are spliced in.
func (v *Volume) setNextAtLevel(n *node, level int, target uint64) error {
	if level < int(n.height) {
		return v.setNextAtLevelValue(n, level, target)
	}
	return v.growNodeHeight(n, level+1, target)
}

func (v *Volume) allocBodyNode(height int) (*node, error) {
	off, err := v.mf.allocNode(false)
	if err != nil {
		return nil, err
	}
	n := &node{offset: off, height: uint8(height), nexts: make([]uint64, height)}
	if height > 1 {
		newOff, err := v.stm.AllocateAndWrite(encodeNexts(n.nexts))
		if err != nil {
			return nil, err
		}
		n.nextsExternalOff = newOff
	}
	if err := v.writeNode(n); err != nil {
		return nil, err
	}
	return n, nil
}

func (v *Volume) allocHeadNode() (*node, error) {
	off, err := v.mf.allocNode(true)
	if err != nil {
		return nil, err
	}
	n := &node{offset: off, height: 1, nexts: []uint64{0}}
	if err := v.writeNode(n); err != nil {
		return nil, err
	}
	return n, nil
}

func (v *Volume) freeBodyNode(n *node) error {
	if n.height > 1 && n.nextsExternalOff != 0 {
		if err := v.stm.FreeSlot(n.nextsExternalOff, int(n.height)*8); err != nil {
			return err
		}
	}
	return v.mf.freeNode(false, n.offset)
}

func (v *Volume) freeHeadNode(n *node) error {
	if n.height > 1 && n.nextsExternalOff != 0 {
		if err := v.stm.FreeSlot(n.nextsExternalOff, int(n.height)*8); err != nil {
			return err
		}
	}
	return v.mf.freeNode(true, n.offset)
}

// pathEntry records, for one skip-list level, the offset of the node whose
// forward pointer at that level must be followed/updated to reach the
// target key's position.
type pathEntry struct {
	offset uint64
	isHead bool
}

// findPath descends from the top level to level 0, recording at each level
// the rightmost node whose last entry sorts strictly before key (spec
// §4.4). The head node counts as the predecessor when no body node
// qualifies.
func (v *Volume) findPath(headOffset uint64, key []byte) ([hMax]pathEntry, error) {
	var path [hMax]pathEntry
	head, err := v.loadNode(headOffset)
	if err != nil {
		return path, err
	}
	curOffset, curIsHead, curNode := headOffset, true, head
	for level := hMax - 1; level >= 0; level-- {
		for {
			nextOff := getNextAtLevel(curNode, level)
			if nextOff == 0 {
				break
			}
			nextNode, err := v.loadNode(nextOff)
			if err != nil {
				return path, err
			}
			if len(nextNode.entries) == 0 {
				break
			}
			last := nextNode.entries[len(nextNode.entries)-1].dec.name
			if bytes.Compare(last, key) < 0 {
				curOffset, curIsHead, curNode = nextOff, false, nextNode
			} else {
				break
			}
		}
		path[level] = pathEntry{offset: curOffset, isHead: curIsHead}
	}
	return path, nil
}

// listLookup finds the entry named key reachable from headOffset, descending
// by comparing against each candidate node's first entry (spec §4.4).
func (v *Volume) listLookup(headOffset uint64, key []byte) (decodedEntry, bool, error) {
	head, err := v.loadNode(headOffset)
	if err != nil {
		return decodedEntry{}, false, err
	}
	curIsHead, curNode := true, head
	for level := hMax - 1; level >= 0; level-- {
		for {
			nextOff := getNextAtLevel(curNode, level)
			if nextOff == 0 {
				break
			}
			nextNode, err := v.loadNode(nextOff)
			if err != nil {
				return decodedEntry{}, false, err
			}
			if len(nextNode.entries) == 0 {
				break
			}
			first := nextNode.entries[0].dec.name
			if bytes.Compare(first, key) <= 0 {
				curIsHead, curNode = false, nextNode
			} else {
				break
			}
		}
	}
	if curIsHead {
		return decodedEntry{}, false, nil
	}
	idx, found := searchEntries(curNode.entries, key)
	if !found {
		return decodedEntry{}, false, nil
	}
	return curNode.entries[idx].dec, true, nil
}

// spliceIn links a freshly-allocated node into the list at every level it
// spans, using path as the per-level predecessor.
func (v *Volume) spliceIn(path [hMax]pathEntry, n *node) error {
	for level := 0; level < int(n.height); level++ {
		pred, err := v.loadNode(path[level].offset)
		if err != nil {
			return err
		}
		oldNext := getNextAtLevel(pred, level)
		if err := v.setNextAtLevelValue(n, level, oldNext); err != nil {
			return err
		}
		if err := v.setNextAtLevel(pred, level, n.offset); err != nil {
			return err
		}
	}
	return nil
}

func (v *Volume) insertIntoNewNode(path [hMax]pathEntry, ne nodeEntry) error {
	height := v.heightPRNG.nextHeight()
	n, err := v.allocBodyNode(height)
	if err != nil {
		return err
	}
	n.entries = []nodeEntry{ne}
	if err := v.writeNode(n); err != nil {
		return err
	}
	return v.spliceIn(path, n)
}

// splitAndInsert handles insertion into a full (16-entry) node: it shrinks
// target to its lower half, writes the upper half into a fresh node, and
// re-locates that node's position with a second findPath call (now seeing
// target's shrunk range) before splicing it in.
func (v *Volume) splitAndInsert(headOffset uint64, target *node, idx int, ne nodeEntry) error {
	merged := insertAt(append([]nodeEntry{}, target.entries...), idx, ne)
	lowerCount := (len(merged) + 1) / 2
	target.entries = merged[:lowerCount]
	if err := v.writeNode(target); err != nil {
		return err
	}
	upper := merged[lowerCount:]
	height := v.heightPRNG.nextHeight()
	newNode, err := v.allocBodyNode(height)
	if err != nil {
		return err
	}
	newNode.entries = append([]nodeEntry{}, upper...)
	if err := v.writeNode(newNode); err != nil {
		return err
	}
	path, err := v.findPath(headOffset, upper[0].dec.name)
	if err != nil {
		return err
	}
	return v.spliceIn(path, newNode)
}

// listInsertFresh inserts ne, which is known not to collide with an
// existing entry, using path computed against ne's name.
func (v *Volume) listInsertFresh(headOffset uint64, path [hMax]pathEntry, ne nodeEntry) error {
	pred, err := v.loadNode(path[0].offset)
	if err != nil {
		return err
	}
	targetOff := getNextAtLevel(pred, 0)
	if targetOff == 0 {
		return v.insertIntoNewNode(path, ne)
	}
	target, err := v.loadNode(targetOff)
	if err != nil {
		return err
	}
	idx, found := searchEntries(target.entries, ne.dec.name)
	if found {
		return pherr.Newf(pherr.KindMismatch, "phvl: entry %q already exists", ne.dec.name)
	}
	if len(target.entries) < maxEntries {
		target.entries = insertAt(target.entries, idx, ne)
		return v.writeNode(target)
	}
	return v.splitAndInsert(headOffset, target, idx, ne)
}

// listStoreKey inserts or updates a key entry named name. If an entry of
// that name already exists as a directory, it reports KindMismatch.
func (v *Volume) listStoreKey(headOffset uint64, name []byte, val Value, expiration uint64) error {
	path, err := v.findPath(headOffset, name)
	if err != nil {
		return err
	}
	pred, err := v.loadNode(path[0].offset)
	if err != nil {
		return err
	}
	if targetOff := getNextAtLevel(pred, 0); targetOff != 0 {
		target, err := v.loadNode(targetOff)
		if err != nil {
			return err
		}
		if idx, found := searchEntries(target.entries, name); found {
			existing := target.entries[idx]
			if existing.dec.isDir {
				return pherr.Newf(pherr.KindMismatch, "phvl: %q is a directory", name)
			}
			flag, slot, err := v.updateValueSlot(existing.raw, val)
			if err != nil {
				return err
			}
			flag |= existing.raw.flag & flagInlineKey
			newRaw := rawEntry{flag: flag, expiration: expiration, keySlot: existing.raw.keySlot, valueSlot: slot}
			dec, err := v.decodeEntry(newRaw)
			if err != nil {
				return err
			}
			target.entries[idx] = nodeEntry{raw: newRaw, dec: dec}
			return v.writeNode(target)
		}
	}
	raw, err := v.encodeKeyEntry(name, val, expiration)
	if err != nil {
		return err
	}
	dec, err := v.decodeEntry(raw)
	if err != nil {
		return err
	}
	return v.listInsertFresh(headOffset, path, nodeEntry{raw: raw, dec: dec})
}

// listInsertDirEntry inserts a directory entry known not to already exist.
func (v *Volume) listInsertDirEntry(headOffset uint64, name []byte, childHead uint64) error {
	path, err := v.findPath(headOffset, name)
	if err != nil {
		return err
	}
	raw, err := v.encodeDirEntry(name, childHead)
	if err != nil {
		return err
	}
	dec, err := v.decodeEntry(raw)
	if err != nil {
		return err
	}
	return v.listInsertFresh(headOffset, path, nodeEntry{raw: raw, dec: dec})
}

// listErase removes the entry named name, freeing its storage and, if its
// containing node becomes empty, unlinking and freeing that node too.
func (v *Volume) listErase(headOffset uint64, name []byte) (decodedEntry, error) {
	path, err := v.findPath(headOffset, name)
	if err != nil {
		return decodedEntry{}, err
	}
	pred, err := v.loadNode(path[0].offset)
	if err != nil {
		return decodedEntry{}, err
	}
	targetOff := getNextAtLevel(pred, 0)
	if targetOff == 0 {
		return decodedEntry{}, pherr.Newf(pherr.InvalidPath, "phvl: %q not found", name)
	}
	target, err := v.loadNode(targetOff)
	if err != nil {
		return decodedEntry{}, err
	}
	idx, found := searchEntries(target.entries, name)
	if !found {
		return decodedEntry{}, pherr.Newf(pherr.InvalidPath, "phvl: %q not found", name)
	}
	removed := target.entries[idx]
	if err := v.freeEntry(removed.dec); err != nil {
		return decodedEntry{}, err
	}
	target.entries = append(target.entries[:idx], target.entries[idx+1:]...)
	if len(target.entries) > 0 {
		if err := v.writeNode(target); err != nil {
			return decodedEntry{}, err
		}
		return removed.dec, nil
	}
	for level := 0; level < int(target.height); level++ {
		p, err := v.loadNode(path[level].offset)
		if err != nil {
			return decodedEntry{}, err
		}
		if err := v.setNextAtLevelValue(p, level, getNextAtLevel(target, level)); err != nil {
			return decodedEntry{}, err
		}
	}
	if err := v.freeBodyNode(target); err != nil {
		return decodedEntry{}, err
	}
	return removed.dec, nil
}

// eraseChainEntries frees every body node reachable from head's level-0
// forward chain, recursing into subdirectories, without touching head
// itself. Shared by listEraseRecursive (which goes on to free head too)
// and listEraseAllRecursive (which resets head to an empty list instead).
func (v *Volume) eraseChainEntries(head *node) error {
	cur := getNextAtLevel(head, 0)
	for cur != 0 {
		n, err := v.loadNode(cur)
		if err != nil {
			return err
		}
		next := getNextAtLevel(n, 0)
		for _, e := range n.entries {
			if e.dec.isDir {
				if err := v.listEraseRecursive(e.dec.childHead); err != nil {
					return err
				}
			}
			if err := v.freeEntry(e.dec); err != nil {
				return err
			}
		}
		if err := v.freeBodyNode(n); err != nil {
			return err
		}
		cur = next
	}
	return nil
}

// listEraseRecursive frees every entry and sub-node reachable from
// headOffset, recursing into subdirectories, and finally frees the head
// node itself (spec §4.4).
func (v *Volume) listEraseRecursive(headOffset uint64) error {
	head, err := v.loadNode(headOffset)
	if err != nil {
		return err
	}
	if err := v.eraseChainEntries(head); err != nil {
		return err
	}
	return v.freeHeadNode(head)
}

// listEraseAllRecursive empties headOffset's directory but keeps the head
// node itself alive, reset to an empty list. Used when a volume is mounted
// exactly at the directory being erased: the directory must end up empty,
// not gone, since freeing the root head node would leave the volume
// unusable.
func (v *Volume) listEraseAllRecursive(headOffset uint64) error {
	head, err := v.loadNode(headOffset)
	if err != nil {
		return err
	}
	if err := v.eraseChainEntries(head); err != nil {
		return err
	}
	if head.height > 1 && head.nextsExternalOff != 0 {
		if err := v.stm.FreeSlot(head.nextsExternalOff, int(head.height)*8); err != nil {
			return err
		}
	}
	head.height = 1
	head.nexts = []uint64{0}
	head.nextsExternalOff = 0
	return v.writeNode(head)
}

// listGetContent returns the (kind, name) of every live entry directly
// under headOffset, skipping key entries whose expiration has passed.
func (v *Volume) listGetContent(headOffset uint64, nowMillis uint64) ([]DirEntry, error) {
	head, err := v.loadNode(headOffset)
	if err != nil {
		return nil, err
	}
	var out []DirEntry
	cur := getNextAtLevel(head, 0)
	for cur != 0 {
		n, err := v.loadNode(cur)
		if err != nil {
			return nil, err
		}
		for _, e := range n.entries {
			if !e.dec.isDir && e.dec.expiration != 0 && e.dec.expiration < nowMillis {
				continue
			}
			kind := DirEntryKey
			if e.dec.isDir {
				kind = DirEntryDir
			}
			out = append(out, DirEntry{Name: string(e.dec.name), Kind: kind})
		}
		cur = getNextAtLevel(n, 0)
	}
	return out, nil
}
