package bgfs

import (
	"github.com/kvexpr/phkv/lib/bincodec"
	"github.com/kvexpr/phkv/lib/pherr"
	"github.com/kvexpr/phkv/lib/rafile"
)

const (
	pageSize       = 512
	pageHeaderSize = 8
	payloadSize    = pageSize - pageHeaderSize // 504

	headerFirstFreePageOff = 8
	headerSize             = pageSize
)

var magic = [4]byte{'B', 'G', 'F', 'S'}

const (
	versionMajor = 1
	versionMinor = 0
)

// BigFile is an open BGFS file.
type BigFile struct {
	f             rafile.File
	firstFreePage uint64
	size          int64
}

// Create initializes a fresh BGFS file at path and opens it.
func Create(path string) (*BigFile, error) {
	f, err := rafile.Open(path, true)
	if err != nil {
		return nil, err
	}
	if err := f.Seek(0); err != nil {
		f.Close()
		return nil, err
	}
	hdr := make([]byte, headerSize)
	w := bincodec.NewWriter(hdr)
	_ = w.WriteFrom(magic[:], 4)
	_ = w.WriteU16(versionMajor)
	_ = w.WriteU16(versionMinor)
	_ = w.WriteU64(0) // firstFreePage
	if err := f.Write(hdr); err != nil {
		f.Close()
		return nil, err
	}
	return &BigFile{f: f, firstFreePage: 0, size: headerSize}, nil
}

// Open opens an existing BGFS file, validating its magic, version and size.
func Open(path string) (*BigFile, error) {
	f, err := rafile.Open(path, false)
	if err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		f.Close()
		return nil, err
	}
	if size < headerSize || size%pageSize != 0 {
		f.Close()
		return nil, pherr.Newf(pherr.InvalidFile, "bgfs: size %d is not a multiple of %d", size, pageSize)
	}
	if err := f.Seek(0); err != nil {
		f.Close()
		return nil, err
	}
	hdr := make([]byte, headerSize)
	if err := f.Read(hdr); err != nil {
		f.Close()
		return nil, err
	}
	r := bincodec.NewReader(hdr)
	m, _ := r.ReadArray(4)
	major, _ := r.ReadU16()
	minor, _ := r.ReadU16()
	firstFree, _ := r.ReadU64()
	if string(m) != string(magic[:]) || major != versionMajor || minor != versionMinor {
		f.Close()
		return nil, pherr.New(pherr.InvalidFile, "bgfs: bad magic or version")
	}
	return &BigFile{f: f, firstFreePage: firstFree, size: size}, nil
}

// Close releases the underlying file handle.
func (b *BigFile) Close() error {
	return b.f.Close()
}

func validateOffset(off uint64) error {
	if off == 0 || off%pageSize != 0 {
		return pherr.Newf(pherr.InvalidOffset, "bgfs: offset %d is not a 512-aligned, non-zero page offset", off)
	}
	return nil
}

func (b *BigFile) writeFirstFreePage(v uint64) error {
	b.firstFreePage = v
	buf := make([]byte, 8)
	bincodec.NewWriter(buf).WriteU64(v)
	if err := b.f.Seek(headerFirstFreePageOff); err != nil {
		return err
	}
	return b.f.Write(buf)
}

// popFreePage removes and returns a page offset from the freelist, or 0 if
// the freelist is empty.
func (b *BigFile) popFreePage() (uint64, error) {
	if b.firstFreePage == 0 {
		return 0, nil
	}
	off := b.firstFreePage
	next, err := b.readNextPtr(off)
	if err != nil {
		return 0, err
	}
	if err := b.writeFirstFreePage(next); err != nil {
		return 0, err
	}
	return off, nil
}

func (b *BigFile) appendPage() (uint64, error) {
	off := uint64(b.size)
	if err := b.f.Seek(b.size); err != nil {
		return 0, err
	}
	blank := make([]byte, pageSize)
	if err := b.f.Write(blank); err != nil {
		return 0, err
	}
	b.size += pageSize
	return off, nil
}

func (b *BigFile) readNextPtr(off uint64) (uint64, error) {
	if err := b.f.Seek(int64(off)); err != nil {
		return 0, err
	}
	buf := make([]byte, pageHeaderSize)
	if err := b.f.Read(buf); err != nil {
		return 0, err
	}
	v, _ := bincodec.NewReader(buf).ReadU64()
	return v, nil
}

func (b *BigFile) writeNextPtr(off uint64, next uint64) error {
	if err := b.f.Seek(int64(off)); err != nil {
		return err
	}
	buf := make([]byte, pageHeaderSize)
	bincodec.NewWriter(buf).WriteU64(next)
	return b.f.Write(buf)
}

func (b *BigFile) writePagePayload(off uint64, payload []byte) error {
	if len(payload) > payloadSize {
		payload = payload[:payloadSize]
	}
	buf := make([]byte, payloadSize)
	copy(buf, payload)
	if err := b.f.Seek(int64(off) + pageHeaderSize); err != nil {
		return err
	}
	return b.f.Write(buf)
}

func (b *BigFile) readPagePayload(off uint64) ([]byte, error) {
	if err := b.f.Seek(int64(off) + pageHeaderSize); err != nil {
		return nil, err
	}
	buf := make([]byte, payloadSize)
	if err := b.f.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// pageCount returns ceil(n/payloadSize), with a minimum of 1 for n == 0.
func pageCount(n int) int {
	if n == 0 {
		return 1
	}
	return (n + payloadSize - 1) / payloadSize
}

// allocChain returns count page offsets, reusing freelist pages first (LIFO)
// and appending fresh pages for the rest.
func (b *BigFile) allocChain(count int) ([]uint64, error) {
	offsets := make([]uint64, 0, count)
	for len(offsets) < count {
		off, err := b.popFreePage()
		if err != nil {
			return nil, err
		}
		if off == 0 {
			off, err = b.appendPage()
			if err != nil {
				return nil, err
			}
		}
		offsets = append(offsets, off)
	}
	return offsets, nil
}

// AllocateAndWrite writes bytes into a freshly allocated page chain and
// returns the offset of the first page.
func (b *BigFile) AllocateAndWrite(bytes []byte) (uint64, error) {
	count := pageCount(len(bytes))
	offsets, err := b.allocChain(count)
	if err != nil {
		return 0, err
	}
	for i, off := range offsets {
		start := i * payloadSize
		end := start + payloadSize
		if end > len(bytes) {
			end = len(bytes)
		}
		if err := b.writePagePayload(off, bytes[start:end]); err != nil {
			return 0, err
		}
		var next uint64
		if i+1 < len(offsets) {
			next = offsets[i+1]
		}
		if err := b.writeNextPtr(off, next); err != nil {
			return 0, err
		}
	}
	return offsets[0], nil
}

// Read walks the chain starting at offset until outBuf is filled, ignoring
// any trailing pages beyond that.
func (b *BigFile) Read(offset uint64, outBuf []byte) error {
	if err := validateOffset(offset); err != nil {
		return err
	}
	remaining := len(outBuf)
	pos := 0
	cur := offset
	for remaining > 0 {
		if cur == 0 {
			return pherr.New(pherr.CorruptData, "bgfs: chain ended before outBuf was filled")
		}
		payload, err := b.readPagePayload(cur)
		if err != nil {
			return err
		}
		n := payloadSize
		if n > remaining {
			n = remaining
		}
		copy(outBuf[pos:pos+n], payload[:n])
		pos += n
		remaining -= n
		if remaining == 0 {
			break
		}
		cur, err = b.readNextPtr(cur)
		if err != nil {
			return err
		}
	}
	return nil
}

// chainOffsets walks a chain from offset to its terminator, returning every
// page offset visited in order.
func (b *BigFile) chainOffsets(offset uint64) ([]uint64, error) {
	var out []uint64
	cur := offset
	for cur != 0 {
		out = append(out, cur)
		next, err := b.readNextPtr(cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return out, nil
}

// Overwrite replaces the content of the chain at offset with bytes,
// extending the chain with fresh pages if bytes is longer than the current
// chain's capacity, and freeing the unused tail if it is shorter.
func (b *BigFile) Overwrite(offset uint64, bytes []byte) error {
	if err := validateOffset(offset); err != nil {
		return err
	}
	existing, err := b.chainOffsets(offset)
	if err != nil {
		return err
	}
	needed := pageCount(len(bytes))

	var offsets []uint64
	if needed <= len(existing) {
		offsets = existing[:needed]
		if needed < len(existing) {
			if err := b.free(existing[needed]); err != nil {
				return err
			}
		}
	} else {
		extra, err := b.allocChain(needed - len(existing))
		if err != nil {
			return err
		}
		offsets = append(append([]uint64{}, existing...), extra...)
	}

	for i, off := range offsets {
		start := i * payloadSize
		end := start + payloadSize
		if end > len(bytes) {
			end = len(bytes)
		}
		if err := b.writePagePayload(off, bytes[start:end]); err != nil {
			return err
		}
		var next uint64
		if i+1 < len(offsets) {
			next = offsets[i+1]
		}
		if err := b.writeNextPtr(off, next); err != nil {
			return err
		}
	}
	return nil
}

// Free prepends the chain starting at offset onto the freelist.
func (b *BigFile) Free(offset uint64) error {
	if err := validateOffset(offset); err != nil {
		return err
	}
	return b.free(offset)
}

func (b *BigFile) free(offset uint64) error {
	tail := offset
	for {
		next, err := b.readNextPtr(tail)
		if err != nil {
			return err
		}
		if next == 0 {
			break
		}
		tail = next
	}
	if err := b.writeNextPtr(tail, b.firstFreePage); err != nil {
		return err
	}
	return b.writeFirstFreePage(offset)
}

// Size returns the current file size in bytes (always a multiple of 512).
func (b *BigFile) Size() int64 {
	return b.size
}
