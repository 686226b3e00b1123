package phvl

import (
	"github.com/kvexpr/phkv/lib/bincodec"
	"github.com/kvexpr/phkv/lib/pherr"
	"github.com/kvexpr/phkv/lib/rafile"
)

// mainFile is the PHVL main file: the 24-byte header followed by a dense
// pool of nodeSlotSize allocations, tracked by two independent freelists
// (head nodes, body nodes). Both freelists reuse the allocation's own
// nextsRaw field to chain freed slots, the same LIFO-freelist trick
// lib/bgfs and lib/smfs use.
type mainFile struct {
	f    rafile.File
	size int64
	hdr  mainHeader
}

func createMainFile(path string) (*mainFile, error) {
	f, err := rafile.Open(path, true)
	if err != nil {
		return nil, err
	}
	if err := f.Seek(0); err != nil {
		f.Close()
		return nil, err
	}
	hdr := make([]byte, mainHeaderSize)
	writeMainHeader(hdr)
	if err := f.Write(hdr); err != nil {
		f.Close()
		return nil, err
	}
	mf := &mainFile{f: f, size: mainHeaderSize}
	root := slotNode{height: 1}
	if err := mf.writeNode(rootHeadOffset, root); err != nil {
		f.Close()
		return nil, err
	}
	mf.size = int64(rootHeadOffset) + int64(nodeSlotSize)
	return mf, nil
}

func openMainFile(path string) (*mainFile, error) {
	f, err := rafile.Open(path, false)
	if err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		f.Close()
		return nil, err
	}
	if size < mainHeaderSize+int64(nodeSlotSize) {
		f.Close()
		return nil, pherr.Newf(pherr.InvalidFile, "phvl: main file too small (%d bytes)", size)
	}
	if err := f.Seek(0); err != nil {
		f.Close()
		return nil, err
	}
	hdrBuf := make([]byte, mainHeaderSize)
	if err := f.Read(hdrBuf); err != nil {
		f.Close()
		return nil, err
	}
	hdr, err := readMainHeader(hdrBuf)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &mainFile{f: f, size: size, hdr: hdr}, nil
}

func (mf *mainFile) close() error {
	return mf.f.Close()
}

func (mf *mainFile) writeNode(offset uint64, n slotNode) error {
	buf := encodeSlotNode(n)
	if err := mf.f.Seek(int64(offset)); err != nil {
		return err
	}
	return mf.f.Write(buf)
}

func (mf *mainFile) readNode(offset uint64) (slotNode, error) {
	if offset < mainHeaderSize {
		return slotNode{}, pherr.Newf(pherr.InvalidOffset, "phvl: invalid node offset %d", offset)
	}
	buf := make([]byte, nodeSlotSize)
	if err := mf.f.Seek(int64(offset)); err != nil {
		return slotNode{}, err
	}
	if err := mf.f.Read(buf); err != nil {
		return slotNode{}, err
	}
	return decodeSlotNode(buf), nil
}

func (mf *mainFile) writeFreeHead(isHead bool, v uint64) error {
	if isHead {
		mf.hdr.firstFreeHead = v
	} else {
		mf.hdr.firstFreeBody = v
	}
	off := int64(8)
	if !isHead {
		off = 16
	}
	buf := make([]byte, 8)
	bincodec.NewWriter(buf).WriteU64(v)
	if err := mf.f.Seek(off); err != nil {
		return err
	}
	return mf.f.Write(buf)
}

// allocNode returns a fresh (zeroed) slot from the given freelist, reusing
// a freed one if available.
func (mf *mainFile) allocNode(isHead bool) (uint64, error) {
	head := mf.hdr.firstFreeHead
	if !isHead {
		head = mf.hdr.firstFreeBody
	}
	if head != 0 {
		n, err := mf.readNode(head)
		if err != nil {
			return 0, err
		}
		if err := mf.writeFreeHead(isHead, n.nextsRaw); err != nil {
			return 0, err
		}
		return head, nil
	}
	off := uint64(mf.size)
	if err := mf.f.Seek(mf.size); err != nil {
		return 0, err
	}
	if err := mf.f.Write(make([]byte, nodeSlotSize)); err != nil {
		return 0, err
	}
	mf.size += int64(nodeSlotSize)
	return off, nil
}

// freeNode returns offset to the given freelist. Its contents are
// clobbered: only the freelist-chain field matters once freed.
func (mf *mainFile) freeNode(isHead bool, offset uint64) error {
	head := mf.hdr.firstFreeHead
	if !isHead {
		head = mf.hdr.firstFreeBody
	}
	var n slotNode
	n.nextsRaw = head
	if err := mf.writeNode(offset, n); err != nil {
		return err
	}
	return mf.writeFreeHead(isHead, offset)
}
