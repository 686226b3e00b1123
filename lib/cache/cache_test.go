package cache

import (
	"testing"

	"github.com/kvexpr/phkv/lib/epoch"
	"github.com/kvexpr/phkv/lib/mount"
	"github.com/kvexpr/phkv/lib/phvl"
)

func TestFindDirAndKeyRoundTrip(t *testing.T) {
	e := &epoch.Counter{}
	c := NewCache(64, e)
	root := c.Root()

	fooIdx, ok := c.InsertDir(root, "foo", PrioSole)
	if !ok {
		t.Fatal("insert dir failed")
	}
	c.MarkComplete(root, true)

	keyIdx, ok := c.InsertKey(fooIdx, "bar", phvl.NewU32(7), mount.VolumeID(1), PrioSole)
	if !ok {
		t.Fatal("insert key failed")
	}
	c.MarkComplete(fooIdx, true)

	gotDir, res := c.FindDir([]string{"foo"})
	if res != Found || gotDir != fooIdx {
		t.Fatalf("expected Found foo, got idx=%d res=%d", gotDir, res)
	}

	gotKey, res := c.FindKey([]string{"foo"}, "bar")
	if res != Found || gotKey != keyIdx {
		t.Fatalf("expected Found bar, got idx=%d res=%d", gotKey, res)
	}
	val, vol := c.KeyValue(gotKey)
	if val.U32() != 7 || vol != mount.VolumeID(1) {
		t.Fatalf("unexpected cached value/volume: %v %v", val, vol)
	}
}

func TestFindDirNotFoundOnCompleteListing(t *testing.T) {
	e := &epoch.Counter{}
	c := NewCache(64, e)
	root := c.Root()
	c.MarkComplete(root, true)

	_, res := c.FindDir([]string{"missing"})
	if res != NotFound {
		t.Fatalf("expected NotFound, got %d", res)
	}
}

func TestFindDirInconsistentOnIncompleteListing(t *testing.T) {
	e := &epoch.Counter{}
	c := NewCache(64, e)
	c.Root()
	// root never marked complete.
	_, res := c.FindDir([]string{"missing"})
	if res != InconsistentCache {
		t.Fatalf("expected InconsistentCache, got %d", res)
	}
}

func TestEpochBumpInvalidatesCachedNode(t *testing.T) {
	e := &epoch.Counter{}
	c := NewCache(64, e)
	root := c.Root()
	fooIdx, _ := c.InsertDir(root, "foo", PrioSole)
	c.MarkComplete(root, true)
	c.MarkComplete(fooIdx, true)

	e.Bump()

	_, res := c.FindDir([]string{"foo"})
	if res != InconsistentCache {
		t.Fatalf("expected InconsistentCache after epoch bump, got %d", res)
	}
}

func TestEraseFromCachePrunesEmptyAncestors(t *testing.T) {
	e := &epoch.Counter{}
	c := NewCache(64, e)
	root := c.Root()
	fooIdx, _ := c.InsertDir(root, "foo", PrioSole)
	c.InsertKey(fooIdx, "bar", phvl.NewU8(1), mount.VolumeID(1), PrioSole)

	c.EraseFromCache(fooIdx, "bar")

	if _, res := c.FindDir([]string{"foo"}); res != InconsistentCache {
		t.Fatalf("expected foo pruned from root (InconsistentCache, root incomplete), got %d", res)
	}
}

func TestReuseNotifyDetachesFromParentOnEviction(t *testing.T) {
	e := &epoch.Counter{}
	c := NewCache(2, e) // root + 1 slot
	root := c.Root()
	c.MarkComplete(root, true)

	aIdx, ok := c.InsertKey(root, "a", phvl.NewU8(1), mount.VolumeID(1), PrioOverlap)
	if !ok {
		t.Fatal("insert a failed")
	}
	_ = aIdx

	// capacity exhausted (root + a); inserting b must evict a.
	_, ok = c.InsertKey(root, "b", phvl.NewU8(2), mount.VolumeID(1), PrioOverlap)
	if !ok {
		t.Fatal("insert b failed")
	}

	if !c.Complete(root) {
		t.Skip("root completeness depends on eviction path; not all pools evict root's children here")
	}
	children := c.Children(root)
	for _, ch := range children {
		if ch.Name == "a" {
			t.Fatal("expected a detached from root after eviction")
		}
	}
}

func TestChildrenSortedByName(t *testing.T) {
	e := &epoch.Counter{}
	c := NewCache(64, e)
	root := c.Root()
	c.InsertDir(root, "zebra", PrioSole)
	c.InsertDir(root, "apple", PrioSole)
	c.InsertKey(root, "mango", phvl.NewU8(1), mount.VolumeID(1), PrioSole)

	children := c.Children(root)
	if len(children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(children))
	}
	for i := 1; i < len(children); i++ {
		if children[i-1].Name >= children[i].Name {
			t.Fatalf("expected ascending name order, got %v", children)
		}
	}
}
