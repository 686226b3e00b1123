package phvl

import (
	"github.com/kvexpr/phkv/lib/bincodec"
	"github.com/kvexpr/phkv/lib/pherr"
)

const (
	mainHeaderSize = 24
	rootHeadOffset = uint64(mainHeaderSize)

	// nodeSlotSize is the fixed allocation unit for both head and body
	// nodes in the main file: 1 (nextCount) + 8 (nextsRaw) + 1 (entryCount)
	// + 16*entryRecordSize (entries).
	nodeSlotSize = 1 + 8 + 1 + maxEntries*entryRecordSize

	maxEntries     = 16 // K_entries
	hMax           = 16 // H_max
	entryRecordSize = 41

	nameSlotSize  = 16
	valueSlotSize = 16
)

var mainMagic = [4]byte{'P', 'H', 'V', 'L'}

const (
	mainVersionMajor = 1
	mainVersionMinor = 0
)

// flag byte bit layout, spec §4.4.
const (
	flagIsDir        = 1 << 7
	flagInlineKey    = 1 << 6
	flagInlineValue  = 1 << 5
	flagValueTypeMask = 0x0F
)

// writeMainHeader serializes a fresh header: no free nodes yet, root head
// offset fixed at rootHeadOffset.
func writeMainHeader(buf []byte) {
	w := bincodec.NewWriter(buf)
	_ = w.WriteFrom(mainMagic[:], 4)
	_ = w.WriteU16(mainVersionMajor)
	_ = w.WriteU16(mainVersionMinor)
	_ = w.WriteU64(0) // firstFreeHeadListNode
	_ = w.WriteU64(0) // firstFreeListNode
}

type mainHeader struct {
	firstFreeHead uint64
	firstFreeBody uint64
}

func readMainHeader(buf []byte) (mainHeader, error) {
	r := bincodec.NewReader(buf)
	m, _ := r.ReadArray(4)
	major, _ := r.ReadU16()
	minor, _ := r.ReadU16()
	if string(m) != string(mainMagic[:]) || major != mainVersionMajor || minor != mainVersionMinor {
		return mainHeader{}, pherr.New(pherr.InvalidFile, "phvl: bad main-file magic or version")
	}
	ffh, _ := r.ReadU64()
	ffb, _ := r.ReadU64()
	return mainHeader{firstFreeHead: ffh, firstFreeBody: ffb}, nil
}

// rawEntry is the 41-byte on-disk shape of an entry, without interpreting
// the name/value placement.
type rawEntry struct {
	flag       byte
	expiration uint64
	keySlot    [nameSlotSize]byte
	valueSlot  [valueSlotSize]byte
}

func (e rawEntry) isDir() bool       { return e.flag&flagIsDir != 0 }
func (e rawEntry) inlineKey() bool   { return e.flag&flagInlineKey != 0 }
func (e rawEntry) inlineValue() bool { return e.flag&flagInlineValue != 0 }
func (e rawEntry) valueType() ValueKind {
	return ValueKind(e.flag & flagValueTypeMask)
}

func encodeRawEntry(buf []byte, e rawEntry) {
	w := bincodec.NewWriter(buf)
	_ = w.WriteU8(e.flag)
	_ = w.WriteU64(e.expiration)
	_ = w.WriteFrom(e.keySlot[:], nameSlotSize)
	_ = w.WriteFrom(e.valueSlot[:], valueSlotSize)
}

func decodeRawEntry(buf []byte) rawEntry {
	r := bincodec.NewReader(buf)
	flag, _ := r.ReadU8()
	exp, _ := r.ReadU64()
	ks, _ := r.ReadArray(nameSlotSize)
	vs, _ := r.ReadArray(valueSlotSize)
	var e rawEntry
	e.flag = flag
	e.expiration = exp
	copy(e.keySlot[:], ks)
	copy(e.valueSlot[:], vs)
	return e
}

// slotNode is the raw decode of a nodeSlotSize allocation: valid as either
// a head node (only height/nextsRaw meaningful) or a body node (all
// fields meaningful).
type slotNode struct {
	height     uint8
	nextsRaw   uint64
	entryCount uint8
	entries    [maxEntries]rawEntry
}

func encodeSlotNode(n slotNode) []byte {
	buf := make([]byte, nodeSlotSize)
	w := bincodec.NewWriter(buf)
	_ = w.WriteU8(n.height)
	_ = w.WriteU64(n.nextsRaw)
	_ = w.WriteU8(n.entryCount)
	for i := 0; i < maxEntries; i++ {
		eb := make([]byte, entryRecordSize)
		encodeRawEntry(eb, n.entries[i])
		_ = w.WriteFrom(eb, entryRecordSize)
	}
	return buf
}

func decodeSlotNode(buf []byte) slotNode {
	r := bincodec.NewReader(buf)
	h, _ := r.ReadU8()
	nr, _ := r.ReadU64()
	ec, _ := r.ReadU8()
	var n slotNode
	n.height = h
	n.nextsRaw = nr
	n.entryCount = ec
	for i := 0; i < maxEntries; i++ {
		eb, _ := r.ReadArray(entryRecordSize)
		n.entries[i] = decodeRawEntry(eb)
	}
	return n
}
