package smfs

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"
)

func mustCreate(t *testing.T) *SmallFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.stm")
	sf, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { sf.Close() })
	return sf
}

func TestClassBoundaries(t *testing.T) {
	cases := []struct {
		size  int
		class int
		slot  int
	}{
		{1, 0, 16},
		{8, 0, 16},
		{9, 0, 16},
		{16, 0, 16},
		{17, 1, 24},
		{24, 1, 24},
		{25, 2, 32},
		{256, 30, 256},
	}
	for _, c := range cases {
		if got := ClassOf(c.size); got != c.class {
			t.Errorf("ClassOf(%d) = %d, want %d", c.size, got, c.class)
		}
		if got := SlotSize(ClassOf(c.size)); got != c.slot {
			t.Errorf("SlotSize(ClassOf(%d)) = %d, want %d", c.size, got, c.slot)
		}
	}
}

func TestSizeTooBig(t *testing.T) {
	sf := mustCreate(t)
	if _, err := sf.AllocateAndWrite(make([]byte, 257)); err == nil {
		t.Fatalf("expected SizeTooBig error")
	}
}

func TestRoundTripAllClasses(t *testing.T) {
	sf := mustCreate(t)
	for size := 1; size <= 256; size++ {
		b := bytes.Repeat([]byte{byte(size)}, size)
		off, err := sf.AllocateAndWrite(b)
		if err != nil {
			t.Fatalf("AllocateAndWrite(%d): %v", size, err)
		}
		out := make([]byte, size)
		if err := sf.Read(off, out); err != nil {
			t.Fatalf("Read(%d): %v", size, err)
		}
		if !bytes.Equal(out, b) {
			t.Fatalf("mismatch at size %d", size)
		}
	}
}

func TestClassBoundaryScenario(t *testing.T) {
	sf := mustCreate(t)

	b8 := bytes.Repeat([]byte{1}, 8)
	o1, err := sf.AllocateAndWrite(b8)
	if err != nil {
		t.Fatalf("AllocateAndWrite: %v", err)
	}

	b16 := bytes.Repeat([]byte{2}, 16)
	o1b, err := sf.Overwrite(o1, 8, b16)
	if err != nil {
		t.Fatalf("Overwrite(8->16): %v", err)
	}
	if o1b != o1 {
		t.Fatalf("expected same offset for unchanged class, got %d want %d", o1b, o1)
	}

	b17 := bytes.Repeat([]byte{3}, 17)
	o2, err := sf.Overwrite(o1, 16, b17)
	if err != nil {
		t.Fatalf("Overwrite(16->17): %v", err)
	}
	if o2 == o1 {
		t.Fatalf("expected a new offset for class change")
	}
}

func TestFreeSlotLIFOReuse(t *testing.T) {
	sf := mustCreate(t)

	b := bytes.Repeat([]byte{4}, 20) // class 1, slot 24
	o1, err := sf.AllocateAndWrite(b)
	if err != nil {
		t.Fatalf("AllocateAndWrite: %v", err)
	}
	o2, err := sf.AllocateAndWrite(b)
	if err != nil {
		t.Fatalf("AllocateAndWrite: %v", err)
	}

	if err := sf.FreeSlot(o2, 20); err != nil {
		t.Fatalf("FreeSlot o2: %v", err)
	}
	if err := sf.FreeSlot(o1, 20); err != nil {
		t.Fatalf("FreeSlot o1: %v", err)
	}

	// LIFO: the most recently freed slot (o1) comes back first.
	o3, err := sf.AllocateAndWrite(b)
	if err != nil {
		t.Fatalf("AllocateAndWrite: %v", err)
	}
	if o3 != o1 {
		t.Fatalf("expected LIFO reuse of o1, got %d", o3)
	}

	o4, err := sf.AllocateAndWrite(b)
	if err != nil {
		t.Fatalf("AllocateAndWrite: %v", err)
	}
	if o4 != o2 {
		t.Fatalf("expected LIFO reuse of o2, got %d", o4)
	}
}

func TestZeroOffsetInvalid(t *testing.T) {
	sf := mustCreate(t)
	if err := sf.Read(0, make([]byte, 8)); err == nil {
		t.Fatalf("expected InvalidOffset for offset 0")
	}
}

// trackingSmallFile wraps a SmallFile to catch double-frees in tests and
// to free each slot with the size it was allocated with, as described in
// spec §8.
type trackingSmallFile struct {
	*SmallFile
	live map[uint64]int // offset -> size at allocation/overwrite time
}

func newTracking(t *testing.T) *trackingSmallFile {
	return &trackingSmallFile{SmallFile: mustCreate(t), live: map[uint64]int{}}
}

func (tr *trackingSmallFile) Alloc(b []byte) (uint64, error) {
	off, err := tr.AllocateAndWrite(b)
	if err != nil {
		return 0, err
	}
	tr.live[off] = len(b)
	return off, nil
}

func (tr *trackingSmallFile) Free(off uint64) error {
	size, ok := tr.live[off]
	if !ok {
		return fmt.Errorf("double free or unknown offset %d", off)
	}
	delete(tr.live, off)
	return tr.FreeSlot(off, size)
}

func TestTrackingWrapperCatchesDoubleFree(t *testing.T) {
	tr := newTracking(t)
	b := bytes.Repeat([]byte{5}, 10)
	off, err := tr.Alloc(b)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := tr.Free(off); err != nil {
		t.Fatalf("first Free: %v", err)
	}
	if err := tr.Free(off); err == nil {
		t.Fatalf("expected double-free to be caught")
	}
}
