package bgfs

import (
	"bytes"
	"path/filepath"
	"testing"
)

func mustCreate(t *testing.T) *BigFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.big")
	bf, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { bf.Close() })
	return bf
}

func TestChainScenario(t *testing.T) {
	bf := mustCreate(t)

	b1 := bytes.Repeat([]byte{0xAA}, 504)
	o1, err := bf.AllocateAndWrite(b1)
	if err != nil {
		t.Fatalf("AllocateAndWrite 1: %v", err)
	}
	if o1 != 512 {
		t.Fatalf("o1 = %d, want 512", o1)
	}

	b2 := bytes.Repeat([]byte{0xBB}, 505)
	o2, err := bf.AllocateAndWrite(b2)
	if err != nil {
		t.Fatalf("AllocateAndWrite 2: %v", err)
	}
	if o2 != 1024 {
		t.Fatalf("o2 = %d, want 1024", o2)
	}

	if bf.Size() != 2048 {
		t.Fatalf("size = %d, want 2048", bf.Size())
	}

	out := make([]byte, 505)
	if err := bf.Read(o2, out); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(out, b2) {
		t.Fatalf("read back mismatch")
	}
}

func TestOverwriteShrinkAndGrow(t *testing.T) {
	bf := mustCreate(t)

	orig := bytes.Repeat([]byte{1}, 1000) // 2 pages
	off, err := bf.AllocateAndWrite(orig)
	if err != nil {
		t.Fatalf("AllocateAndWrite: %v", err)
	}

	shrunk := bytes.Repeat([]byte{2}, 10) // 1 page
	if err := bf.Overwrite(off, shrunk); err != nil {
		t.Fatalf("Overwrite shrink: %v", err)
	}
	out := make([]byte, 10)
	if err := bf.Read(off, out); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(out, shrunk) {
		t.Fatalf("shrunk mismatch")
	}

	sizeAfterShrink := bf.Size()

	grown := bytes.Repeat([]byte{3}, 2000) // 4 pages
	if err := bf.Overwrite(off, grown); err != nil {
		t.Fatalf("Overwrite grow: %v", err)
	}
	out2 := make([]byte, 2000)
	if err := bf.Read(off, out2); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(out2, grown) {
		t.Fatalf("grown mismatch")
	}

	// growth should reuse the page freed by the shrink before appending new ones.
	if bf.Size() > sizeAfterShrink+2*pageSize {
		t.Fatalf("growth did not reuse freed page: size=%d sizeAfterShrink=%d", bf.Size(), sizeAfterShrink)
	}
}

func TestFreeAndReuse(t *testing.T) {
	bf := mustCreate(t)

	payload := bytes.Repeat([]byte{7}, 504)
	o1, err := bf.AllocateAndWrite(payload)
	if err != nil {
		t.Fatalf("AllocateAndWrite: %v", err)
	}
	sizeBefore := bf.Size()

	if err := bf.Free(o1); err != nil {
		t.Fatalf("Free: %v", err)
	}

	o2, err := bf.AllocateAndWrite(payload)
	if err != nil {
		t.Fatalf("AllocateAndWrite 2: %v", err)
	}
	if o2 != o1 {
		t.Fatalf("expected reuse of freed page, got o2=%d o1=%d", o2, o1)
	}
	if bf.Size() != sizeBefore {
		t.Fatalf("size grew despite reuse: %d != %d", bf.Size(), sizeBefore)
	}
}

func TestInvalidOffset(t *testing.T) {
	bf := mustCreate(t)
	if err := bf.Read(513, make([]byte, 4)); err == nil {
		t.Fatalf("expected InvalidOffset error")
	}
	if err := bf.Read(0, make([]byte, 4)); err == nil {
		t.Fatalf("expected InvalidOffset error for 0")
	}
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.big")

	bf, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	payload := bytes.Repeat([]byte{9}, 600)
	off, err := bf.AllocateAndWrite(payload)
	if err != nil {
		t.Fatalf("AllocateAndWrite: %v", err)
	}
	if err := bf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	bf2, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer bf2.Close()
	out := make([]byte, 600)
	if err := bf2.Read(off, out); err != nil {
		t.Fatalf("Read after reopen: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("mismatch after reopen")
	}
}
