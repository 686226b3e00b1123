package bincodec

import (
	"encoding/binary"
	"math"

	"github.com/kvexpr/phkv/lib/pherr"
)

// Writer encodes little-endian fixed-width fields into a fixed byte slice.
type Writer struct {
	buf []byte
	pos int
}

// NewWriter creates a Writer that writes into buf starting at offset 0.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Remaining returns the number of bytes still writable.
func (w *Writer) Remaining() int {
	return len(w.buf) - w.pos
}

// Pos returns the current write offset within the backing slice.
func (w *Writer) Pos() int {
	return w.pos
}

func (w *Writer) need(n int) error {
	if w.Remaining() < n {
		return pherr.Newf(pherr.OutOfRange, "write of %d bytes exceeds remaining %d", n, w.Remaining())
	}
	return nil
}

// WriteU8 writes one byte.
func (w *Writer) WriteU8(v uint8) error {
	if err := w.need(1); err != nil {
		return err
	}
	w.buf[w.pos] = v
	w.pos++
	return nil
}

// WriteU16 writes a little-endian uint16.
func (w *Writer) WriteU16(v uint16) error {
	if err := w.need(2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(w.buf[w.pos:], v)
	w.pos += 2
	return nil
}

// WriteU32 writes a little-endian uint32.
func (w *Writer) WriteU32(v uint32) error {
	if err := w.need(4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(w.buf[w.pos:], v)
	w.pos += 4
	return nil
}

// WriteU64 writes a little-endian uint64.
func (w *Writer) WriteU64(v uint64) error {
	if err := w.need(8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(w.buf[w.pos:], v)
	w.pos += 8
	return nil
}

// WriteF32 writes v as a little-endian IEEE-754 binary32 bit pattern.
func (w *Writer) WriteF32(v float32) error {
	return w.WriteU32(math.Float32bits(v))
}

// WriteF64 writes v as a little-endian IEEE-754 binary64 bit pattern.
func (w *Writer) WriteF64(v float64) error {
	return w.WriteU64(math.Float64bits(v))
}

// WriteFrom copies src[:n] into the buffer.
func (w *Writer) WriteFrom(src []byte, n int) error {
	if err := w.need(n); err != nil {
		return err
	}
	copy(w.buf[w.pos:w.pos+n], src[:n])
	w.pos += n
	return nil
}

// Fill writes n copies of b.
func (w *Writer) Fill(n int, b byte) error {
	if err := w.need(n); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		w.buf[w.pos+i] = b
	}
	w.pos += n
	return nil
}
