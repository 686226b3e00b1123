package mount

import (
	"testing"

	"github.com/kvexpr/phkv/lib/epoch"
)

func newTestRegistry() *Registry {
	return NewRegistry(&epoch.Counter{})
}

func TestRegisterMountAssignsIncreasingIDs(t *testing.T) {
	r := newTestRegistry()
	a := r.RegisterMount("a", "/dir/a", "")
	b := r.RegisterMount("b", "/dir/b", "foo")
	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("expected IDs 1,2, got %d,%d", a.ID, b.ID)
	}
}

func TestRegisterMountBumpsEpoch(t *testing.T) {
	r := newTestRegistry()
	before := r.Epoch.Load()
	r.RegisterMount("a", "/dir/a", "foo")
	if r.Epoch.Load() == before {
		t.Fatal("expected epoch to advance on register")
	}
}

func TestFindVolumesByPathPrefixMatch(t *testing.T) {
	r := newTestRegistry()
	root := r.RegisterMount("root", "/dir/root", "")
	foo := r.RegisterMount("foo", "/dir/foo", "foo")
	r.RegisterMount("bar", "/dir/bar", "bar")

	got := r.FindVolumesByPath("foo/baz")
	if len(got) != 2 {
		t.Fatalf("expected 2 contributing volumes, got %d", len(got))
	}
	if got[0].ID != root.ID || got[1].ID != foo.ID {
		t.Fatalf("expected ascending-by-ID [root,foo], got %v", got)
	}
}

func TestFindVolumesByPathManyOverlappingAtSamePoint(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 100; i++ {
		r.RegisterMount("v", "/dir/v", "shared/point")
	}
	got := r.FindVolumesByPath("shared/point/key")
	if len(got) != 100 {
		t.Fatalf("expected 100 overlapping volumes, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].ID >= got[i].ID {
			t.Fatal("expected strictly ascending VolumeId order")
		}
	}
}

func TestUnmountPrunesEmptySubtree(t *testing.T) {
	r := newTestRegistry()
	m := r.RegisterMount("a", "/dir/a", "foo/bar")

	if _, ok := r.Get(m.ID); !ok {
		t.Fatal("expected mount registered")
	}

	if _, err := r.Unmount(m.ID); err != nil {
		t.Fatalf("unmount failed: %v", err)
	}

	if _, ok := r.Get(m.ID); ok {
		t.Fatal("expected mount gone after unmount")
	}
	if len(r.root.children) != 0 {
		t.Fatalf("expected pruned tree, root still has children: %v", r.root.children)
	}
}

func TestUnmountKeepsSiblingMountsIntact(t *testing.T) {
	r := newTestRegistry()
	a := r.RegisterMount("a", "/dir/a", "foo")
	b := r.RegisterMount("b", "/dir/b", "foo/bar")

	if _, err := r.Unmount(a.ID); err != nil {
		t.Fatalf("unmount a failed: %v", err)
	}

	got := r.FindVolumesByPath("foo/bar/key")
	if len(got) != 1 || got[0].ID != b.ID {
		t.Fatalf("expected only b to remain contributing, got %v", got)
	}
}

func TestUnmountUnknownVolumeErrors(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Unmount(999); err == nil {
		t.Fatal("expected error unmounting unknown volume")
	}
}

func TestChildMountSegmentsLocked(t *testing.T) {
	r := newTestRegistry()
	r.RegisterMount("a", "/dir/a", "foo/bar")
	r.RegisterMount("b", "/dir/b", "foo/baz")

	r.Lock()
	segs := r.ChildMountSegmentsLocked("foo")
	r.Unlock()

	if len(segs) != 2 || segs[0] != "bar" || segs[1] != "baz" {
		t.Fatalf("expected [bar baz], got %v", segs)
	}
}

func TestExecuteInSequenceRunsInTicketOrder(t *testing.T) {
	m := newMount(1, "a", "/dir/a", "")
	var order []int
	done := make(chan struct{}, 2)

	seq2 := m.AcquireOpSeq() // ticket 1
	seq1 := m.AcquireOpSeq() // ticket 2
	_ = seq1

	go func() {
		_ = m.ExecuteInSequence(2, func() error {
			order = append(order, 2)
			return nil
		})
		done <- struct{}{}
	}()
	_ = m.ExecuteInSequence(seq2, func() error {
		order = append(order, 1)
		return nil
	})
	<-done

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected execution order [1 2], got %v", order)
	}
}

func TestExecuteInSequenceAlwaysAdvancesOnError(t *testing.T) {
	m := newMount(1, "a", "/dir/a", "")
	seq1 := m.AcquireOpSeq()
	seq2 := m.AcquireOpSeq()

	_ = m.ExecuteInSequence(seq1, func() error {
		return pherrTestError{}
	})

	ran := false
	err := m.ExecuteInSequence(seq2, func() error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected ticket 2 to run cleanly, got %v", err)
	}
	if !ran {
		t.Fatal("expected ticket 2 to run after ticket 1's error")
	}
}

type pherrTestError struct{}

func (pherrTestError) Error() string { return "boom" }
