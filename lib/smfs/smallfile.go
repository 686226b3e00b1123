package smfs

import (
	"github.com/kvexpr/phkv/lib/bincodec"
	"github.com/kvexpr/phkv/lib/pherr"
	"github.com/kvexpr/phkv/lib/rafile"
)

const (
	numClasses    = 31
	headerSize    = 256
	freeHeadsOff  = 8
	maxPayload    = 256
	minSlotSize   = 16
)

var magic = [4]byte{'S', 'M', 'F', 'S'}

const (
	versionMajor = 1
	versionMinor = 0
)

// ClassOf returns the slot class for a payload of the given size, per
// spec §4.3. Panics are never raised; callers must check size against
// maxPayload first via the SizeTooBig error from AllocateAndWrite.
func ClassOf(size int) int {
	if size <= 8 {
		return 0
	}
	mod := 0
	if size%8 == 0 {
		mod = 1
	}
	return size/8 - 1 - mod
}

// SlotSize returns the slot size in bytes for a given class.
func SlotSize(class int) int {
	return class*8 + minSlotSize
}

// SmallFile is an open SMFS file.
type SmallFile struct {
	f         rafile.File
	freeHeads [numClasses]uint64
	size      int64
}

// Create initializes a fresh SMFS file at path and opens it.
func Create(path string) (*SmallFile, error) {
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
	for i := 0; i < numClasses; i++ {
		_ = w.WriteU64(0)
	}
	if err := f.Write(hdr); err != nil {
		f.Close()
		return nil, err
	}
	return &SmallFile{f: f, size: headerSize}, nil
}

// Open opens an existing SMFS file, validating its magic and version.
func Open(path string) (*SmallFile, error) {
	f, err := rafile.Open(path, false)
	if err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		f.Close()
		return nil, err
	}
	if size < headerSize {
		f.Close()
		return nil, pherr.Newf(pherr.InvalidFile, "smfs: size %d smaller than header", size)
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
	if string(m) != string(magic[:]) || major != versionMajor || minor != versionMinor {
		f.Close()
		return nil, pherr.New(pherr.InvalidFile, "smfs: bad magic or version")
	}
	sf := &SmallFile{f: f, size: size}
	for i := 0; i < numClasses; i++ {
		v, _ := r.ReadU64()
		sf.freeHeads[i] = v
	}
	return sf, nil
}

// Close releases the underlying file handle.
func (s *SmallFile) Close() error {
	return s.f.Close()
}

func validateOffset(off uint64) error {
	if off == 0 {
		return pherr.New(pherr.InvalidOffset, "smfs: 0 is never a valid offset")
	}
	return nil
}

func (s *SmallFile) writeFreeHead(class int, v uint64) error {
	s.freeHeads[class] = v
	buf := make([]byte, 8)
	bincodec.NewWriter(buf).WriteU64(v)
	if err := s.f.Seek(int64(freeHeadsOff + class*8)); err != nil {
		return err
	}
	return s.f.Write(buf)
}

// AllocateAndWrite writes bytes into a slot of the appropriate class,
// reusing a freed slot if one exists for that class, or appending a fresh
// one at end-of-file otherwise. The slot is zero-padded to its full size.
func (s *SmallFile) AllocateAndWrite(bytes []byte) (uint64, error) {
	if len(bytes) > maxPayload {
		return 0, pherr.Newf(pherr.SizeTooBig, "smfs: payload of %d bytes exceeds max %d", len(bytes), maxPayload)
	}
	class := ClassOf(len(bytes))
	slotSize := SlotSize(class)

	var off uint64
	if head := s.freeHeads[class]; head != 0 {
		next, err := s.readNextFree(head)
		if err != nil {
			return 0, err
		}
		if err := s.writeFreeHead(class, next); err != nil {
			return 0, err
		}
		off = head
	} else {
		off = uint64(s.size)
		if err := s.f.Seek(s.size); err != nil {
			return 0, err
		}
		if err := s.f.Write(make([]byte, slotSize)); err != nil {
			return 0, err
		}
		s.size += int64(slotSize)
	}

	buf := make([]byte, slotSize)
	copy(buf, bytes)
	if err := s.f.Seek(int64(off)); err != nil {
		return 0, err
	}
	if err := s.f.Write(buf); err != nil {
		return 0, err
	}
	return off, nil
}

// Read reads len(outBuf) raw bytes starting at offset.
func (s *SmallFile) Read(offset uint64, outBuf []byte) error {
	if err := validateOffset(offset); err != nil {
		return err
	}
	if err := s.f.Seek(int64(offset)); err != nil {
		return err
	}
	return s.f.Read(outBuf)
}

func (s *SmallFile) readNextFree(offset uint64) (uint64, error) {
	buf := make([]byte, 8)
	if err := s.f.Seek(int64(offset)); err != nil {
		return 0, err
	}
	if err := s.f.Read(buf); err != nil {
		return 0, err
	}
	v, _ := bincodec.NewReader(buf).ReadU64()
	return v, nil
}

// Overwrite updates the slot at offset (previously allocated with oldSize)
// to hold bytes. If the size class is unchanged the write happens in place
// and offset is returned; otherwise the old slot is freed and a new one is
// allocated in the new size's class.
func (s *SmallFile) Overwrite(offset uint64, oldSize int, bytes []byte) (uint64, error) {
	if err := validateOffset(offset); err != nil {
		return 0, err
	}
	if len(bytes) > maxPayload {
		return 0, pherr.Newf(pherr.SizeTooBig, "smfs: payload of %d bytes exceeds max %d", len(bytes), maxPayload)
	}
	if ClassOf(oldSize) == ClassOf(len(bytes)) {
		slotSize := SlotSize(ClassOf(len(bytes)))
		buf := make([]byte, slotSize)
		copy(buf, bytes)
		if err := s.f.Seek(int64(offset)); err != nil {
			return 0, err
		}
		if err := s.f.Write(buf); err != nil {
			return 0, err
		}
		return offset, nil
	}
	if err := s.FreeSlot(offset, oldSize); err != nil {
		return 0, err
	}
	return s.AllocateAndWrite(bytes)
}

// FreeSlot returns the slot at offset (previously allocated with
// size oldSize) to its class's freelist.
func (s *SmallFile) FreeSlot(offset uint64, oldSize int) error {
	if err := validateOffset(offset); err != nil {
		return err
	}
	class := ClassOf(oldSize)
	head := s.freeHeads[class]
	buf := make([]byte, 8)
	bincodec.NewWriter(buf).WriteU64(head)
	if err := s.f.Seek(int64(offset)); err != nil {
		return err
	}
	if err := s.f.Write(buf); err != nil {
		return err
	}
	return s.writeFreeHead(class, offset)
}

// Size returns the current file size in bytes.
func (s *SmallFile) Size() int64 {
	return s.size
}
