package phvl

import (
	"fmt"
	"math/rand"
	"testing"
	"time"
)

func mustCreateVolume(t *testing.T) *Volume {
	t.Helper()
	dir := t.TempDir()
	v, err := CreateVolume(dir, "v")
	if err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + n)
	}
	return b
}

// TestVolumeMixedTypesScenario matches spec §8 scenario 3: a volume holding
// one key of each scalar/blob kind under /foo, round-tripped and listed.
func TestVolumeMixedTypesScenario(t *testing.T) {
	v := mustCreateVolume(t)

	values := []Value{
		NewU8(1),
		NewU16(2),
		NewU32(3),
		NewU64(4),
		NewF32(5.0),
		NewF64(6.0),
		NewString("hello world"),
		NewBytes(randomBytes(100)),
	}

	for i, val := range values {
		path := fmt.Sprintf("/foo/test-%d", i)
		if err := v.Store(path, val, 0); err != nil {
			t.Fatalf("Store(%s): %v", path, err)
		}
	}

	for i, val := range values {
		path := fmt.Sprintf("/foo/test-%d", i)
		got, found, err := v.Lookup(path)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", path, err)
		}
		if !found {
			t.Fatalf("Lookup(%s): not found", path)
		}
		if !got.Equal(val) {
			t.Fatalf("Lookup(%s) = %+v, want %+v", path, got, val)
		}
	}

	entries, err := v.GetDirEntries("/foo")
	if err != nil {
		t.Fatalf("GetDirEntries: %v", err)
	}
	if len(entries) != len(values) {
		t.Fatalf("GetDirEntries len = %d, want %d", len(entries), len(values))
	}
	for _, e := range entries {
		if e.Kind != DirEntryKey {
			t.Fatalf("entry %q is not a key", e.Name)
		}
	}
}

func TestVolumeLargeExternalValues(t *testing.T) {
	v := mustCreateVolume(t)

	cases := []Value{
		NewBytes(randomBytes(300)),
		NewBytes(randomBytes(1024)),
	}
	for i, val := range cases {
		path := fmt.Sprintf("/big/v%d", i)
		if err := v.Store(path, val, 0); err != nil {
			t.Fatalf("Store: %v", err)
		}
		got, found, err := v.Lookup(path)
		if err != nil || !found {
			t.Fatalf("Lookup(%s): found=%v err=%v", path, found, err)
		}
		if !got.Equal(val) {
			t.Fatalf("Lookup(%s) mismatch", path)
		}
	}
}

func TestVolumeNonInlineKeyAndValue(t *testing.T) {
	v := mustCreateVolume(t)

	longKey := string(randomBytes(40))
	longVal := NewBytes(randomBytes(40))
	path := "/dir/" + longKey

	if err := v.Store(path, longVal, 0); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, found, err := v.Lookup(path)
	if err != nil || !found {
		t.Fatalf("Lookup: found=%v err=%v", found, err)
	}
	if !got.Equal(longVal) {
		t.Fatalf("mismatch for non-inline key/value round-trip")
	}
}

func TestSkipListCorrectnessManyKeys(t *testing.T) {
	v := mustCreateVolume(t)

	const n = 2000
	want := make(map[string]uint32, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("/many/k%06d", i)
		val := uint32(i * 31)
		want[key] = val
		if err := v.Store(key, NewU32(val), 0); err != nil {
			t.Fatalf("Store(%s): %v", key, err)
		}
	}
	for key, val := range want {
		got, found, err := v.Lookup(key)
		if err != nil || !found {
			t.Fatalf("Lookup(%s): found=%v err=%v", key, found, err)
		}
		if got.U32() != val {
			t.Fatalf("Lookup(%s) = %d, want %d", key, got.U32(), val)
		}
	}
	for key := range want {
		if err := v.EraseKey(key); err != nil {
			t.Fatalf("EraseKey(%s): %v", key, err)
		}
	}
	entries, err := v.GetDirEntries("/many")
	if err != nil {
		t.Fatalf("GetDirEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("GetDirEntries after erasing all keys: len = %d, want 0", len(entries))
	}
}

func TestSkipListSplitUnderLoad(t *testing.T) {
	v := mustCreateVolume(t)

	// Insert in a shuffled order to exercise mid-node splits, not just
	// append-at-the-tail growth.
	const n = 500
	order := rand.New(rand.NewSource(1)).Perm(n)
	for _, i := range order {
		key := fmt.Sprintf("/split/k%06d", i)
		if err := v.Store(key, NewU32(uint32(i)), 0); err != nil {
			t.Fatalf("Store(%s): %v", key, err)
		}
	}
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("/split/k%06d", i)
		got, found, err := v.Lookup(key)
		if err != nil || !found {
			t.Fatalf("Lookup(%s): found=%v err=%v", key, found, err)
		}
		if got.U32() != uint32(i) {
			t.Fatalf("Lookup(%s) = %d, want %d", key, got.U32(), i)
		}
	}
}

func TestKindCollision(t *testing.T) {
	v := mustCreateVolume(t)

	if err := v.Store("/d/k", NewU8(1), 0); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := v.Store("/d/k/x", NewU8(2), 0); err == nil {
		t.Fatalf("expected KindMismatch storing under an existing key")
	}
}

func TestEraseDirRecursive(t *testing.T) {
	v := mustCreateVolume(t)

	paths := []string{"/foo/key1", "/foo/key2", "/foo/bar/key1", "/foo/bar/key2"}
	for _, p := range paths {
		if err := v.Store(p, NewString(p), 0); err != nil {
			t.Fatalf("Store(%s): %v", p, err)
		}
	}
	if err := v.EraseDirRecursive("/foo"); err != nil {
		t.Fatalf("EraseDirRecursive: %v", err)
	}
	for _, p := range paths {
		_, found, err := v.Lookup(p)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", p, err)
		}
		if found {
			t.Fatalf("Lookup(%s) still found after recursive erase", p)
		}
	}
}

func TestExpirationScenario(t *testing.T) {
	v := mustCreateVolume(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	v.now = func() time.Time { return now }

	if err := v.Store("/a", NewString("a"), time.Second); err != nil {
		t.Fatalf("Store a: %v", err)
	}
	if err := v.Store("/b", NewString("b"), 2*time.Second); err != nil {
		t.Fatalf("Store b: %v", err)
	}

	entries, err := v.GetDirEntries("/")
	if err != nil || len(entries) != 2 {
		t.Fatalf("GetDirEntries before expiry: %v entries=%d", err, len(entries))
	}

	now = base.Add(1200 * time.Millisecond)
	if _, found, _ := v.Lookup("/a"); found {
		t.Fatalf("/a should have expired")
	}
	if _, found, _ := v.Lookup("/b"); !found {
		t.Fatalf("/b should still be present")
	}
	entries, err = v.GetDirEntries("/")
	if err != nil || len(entries) != 1 {
		t.Fatalf("GetDirEntries after first expiry: %v entries=%d", err, len(entries))
	}

	now = base.Add(2200 * time.Millisecond)
	if _, found, _ := v.Lookup("/b"); found {
		t.Fatalf("/b should have expired")
	}
	entries, err = v.GetDirEntries("/")
	if err != nil || len(entries) != 0 {
		t.Fatalf("GetDirEntries after second expiry: %v entries=%d", err, len(entries))
	}
}

func TestReopenVolumePreservesData(t *testing.T) {
	dir := t.TempDir()
	v, err := CreateVolume(dir, "v")
	if err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}
	if err := v.Store("/a/b/c", NewString("preserved"), 0); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	v2, err := OpenVolume(dir, "v")
	if err != nil {
		t.Fatalf("OpenVolume: %v", err)
	}
	defer v2.Close()
	got, found, err := v2.Lookup("/a/b/c")
	if err != nil || !found {
		t.Fatalf("Lookup after reopen: found=%v err=%v", found, err)
	}
	if got.String() != "preserved" {
		t.Fatalf("Lookup after reopen = %q", got.String())
	}
}

func TestDeleteVolumeRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	v, err := CreateVolume(dir, "gone")
	if err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := DeleteVolume(dir, "gone"); err != nil {
		t.Fatalf("DeleteVolume: %v", err)
	}
	if _, err := OpenVolume(dir, "gone"); err == nil {
		t.Fatalf("expected OpenVolume to fail after delete")
	}
}

func TestUpdateValuePlacementClassChange(t *testing.T) {
	v := mustCreateVolume(t)

	if err := v.Store("/x", NewU8(1), 0); err != nil {
		t.Fatalf("Store scalar: %v", err)
	}
	if err := v.Store("/x", NewBytes(randomBytes(300)), 0); err != nil {
		t.Fatalf("Store external: %v", err)
	}
	got, found, err := v.Lookup("/x")
	if err != nil || !found {
		t.Fatalf("Lookup: found=%v err=%v", found, err)
	}
	if !got.Equal(NewBytes(randomBytes(300))) {
		t.Fatalf("value mismatch after placement-class change")
	}

	if err := v.Store("/x", NewU16(7), 0); err != nil {
		t.Fatalf("Store shrink back to scalar: %v", err)
	}
	got, found, err = v.Lookup("/x")
	if err != nil || !found || got.U16() != 7 {
		t.Fatalf("Lookup after shrink: got=%+v found=%v err=%v", got, found, err)
	}
}
