package bincodec

import (
	"testing"

	"github.com/kvexpr/phkv/lib/pherr"
)

func TestRoundTripIntegers(t *testing.T) {
	buf := make([]byte, 64)
	w := NewWriter(buf)

	if err := w.WriteU8(0xAB); err != nil {
		t.Fatalf("WriteU8: %v", err)
	}
	if err := w.WriteU16(0x1234); err != nil {
		t.Fatalf("WriteU16: %v", err)
	}
	if err := w.WriteU32(0xDEADBEEF); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	if err := w.WriteU64(0x0102030405060708); err != nil {
		t.Fatalf("WriteU64: %v", err)
	}
	if err := w.WriteF32(3.5); err != nil {
		t.Fatalf("WriteF32: %v", err)
	}
	if err := w.WriteF64(-2.25); err != nil {
		t.Fatalf("WriteF64: %v", err)
	}

	r := NewReader(buf)
	if v, err := r.ReadU8(); err != nil || v != 0xAB {
		t.Fatalf("ReadU8 = %v, %v", v, err)
	}
	if v, err := r.ReadU16(); err != nil || v != 0x1234 {
		t.Fatalf("ReadU16 = %v, %v", v, err)
	}
	if v, err := r.ReadU32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("ReadU32 = %v, %v", v, err)
	}
	if v, err := r.ReadU64(); err != nil || v != 0x0102030405060708 {
		t.Fatalf("ReadU64 = %v, %v", v, err)
	}
	if v, err := r.ReadF32(); err != nil || v != 3.5 {
		t.Fatalf("ReadF32 = %v, %v", v, err)
	}
	if v, err := r.ReadF64(); err != nil || v != -2.25 {
		t.Fatalf("ReadF64 = %v, %v", v, err)
	}
}

func TestWriterOutOfRange(t *testing.T) {
	buf := make([]byte, 2)
	w := NewWriter(buf)
	if err := w.WriteU32(1); !pherr.Is(err, pherr.OutOfRange) {
		t.Fatalf("expected OutOfRange, got %v", err)
	}
}

func TestReaderOutOfRange(t *testing.T) {
	buf := make([]byte, 2)
	r := NewReader(buf)
	if _, err := r.ReadU64(); !pherr.Is(err, pherr.OutOfRange) {
		t.Fatalf("expected OutOfRange, got %v", err)
	}
}

func TestArrayAndSkip(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5, 6}
	r := NewReader(buf)
	if err := r.Skip(2); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	arr, err := r.ReadArray(3)
	if err != nil {
		t.Fatalf("ReadArray: %v", err)
	}
	if string(arr) != string([]byte{3, 4, 5}) {
		t.Fatalf("unexpected array: %v", arr)
	}
	if r.Remaining() != 1 {
		t.Fatalf("remaining = %d, want 1", r.Remaining())
	}
}

func TestFillAndWriteFrom(t *testing.T) {
	buf := make([]byte, 8)
	w := NewWriter(buf)
	if err := w.Fill(4, 0xFF); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if err := w.WriteFrom([]byte{9, 9, 9, 9}, 4); err != nil {
		t.Fatalf("WriteFrom: %v", err)
	}
	want := []byte{0xFF, 0xFF, 0xFF, 0xFF, 9, 9, 9, 9}
	for i, b := range want {
		if buf[i] != b {
			t.Fatalf("buf[%d] = %x, want %x", i, buf[i], b)
		}
	}
}
