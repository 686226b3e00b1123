package lrupool

import "testing"

func TestAllocateReusesFreeBeforeGrowing(t *testing.T) {
	p := NewPool[string](4, 2, nil)
	a, ok := p.Allocate(0, "a")
	if !ok {
		t.Fatal("allocate a failed")
	}
	p.Free(a)
	b, ok := p.Allocate(0, "b")
	if !ok || b != a {
		t.Fatalf("expected free-node reuse, got idx=%d ok=%v", b, ok)
	}
	if *p.At(b) != "b" {
		t.Fatalf("expected value b, got %q", *p.At(b))
	}
}

func TestAllocateGrowsToCapacity(t *testing.T) {
	p := NewPool[int](3, 1, nil)
	seen := map[Index]bool{}
	for i := 0; i < 3; i++ {
		idx, ok := p.Allocate(0, i)
		if !ok {
			t.Fatalf("allocate %d failed before reaching capacity", i)
		}
		seen[idx] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct indices, got %d", len(seen))
	}
	if p.Len() != 3 {
		t.Fatalf("expected Len()==3, got %d", p.Len())
	}
}

func TestAllocateEvictsHighestNonEmptyPriorityFirst(t *testing.T) {
	var evicted []Index
	p := NewPool[int](2, 3, func(idx Index) { evicted = append(evicted, idx) })

	lowPrio, _ := p.Allocate(0, 100)
	_, _ = p.Allocate(2, 200)

	// pool is full (cap=2); next allocate must evict from priority 2, the
	// highest-numbered non-empty list, leaving the priority-0 node intact.
	next, ok := p.Allocate(1, 300)
	if !ok {
		t.Fatal("allocate after full failed unexpectedly")
	}
	if len(evicted) != 1 {
		t.Fatalf("expected exactly one reuseNotify call, got %d", len(evicted))
	}
	if *p.At(lowPrio) != 100 {
		t.Fatalf("priority-0 node was evicted instead of priority-2 node")
	}
	if *p.At(next) != 300 {
		t.Fatalf("expected reused node to hold new value, got %d", *p.At(next))
	}
}

func TestAllocateExhaustedWithNothingToEvict(t *testing.T) {
	p := NewPool[int](0, 1, nil)
	_, ok := p.Allocate(0, 1)
	if ok {
		t.Fatal("expected allocate on zero-capacity pool to fail")
	}
}

func TestTouchMovesToMRU(t *testing.T) {
	var evicted []Index
	p := NewPool[int](2, 1, func(idx Index) { evicted = append(evicted, idx) })
	a, _ := p.Allocate(0, 1) // LRU end
	b, _ := p.Allocate(0, 2) // MRU end

	p.Touch(a) // a is now MRU, b becomes LRU

	_, ok := p.Allocate(0, 3)
	if !ok {
		t.Fatal("allocate on full pool failed")
	}
	if len(evicted) != 1 || evicted[0] != b {
		t.Fatalf("expected b (idx=%d) evicted after touching a, got %v", b, evicted)
	}
}

func TestFreeDoesNotNotify(t *testing.T) {
	calls := 0
	p := NewPool[int](1, 1, func(Index) { calls++ })
	a, _ := p.Allocate(0, 1)
	p.Free(a)
	if calls != 0 {
		t.Fatalf("expected Free to skip reuseNotify, got %d calls", calls)
	}
}

func TestDrainNotifiesAndEmptiesPool(t *testing.T) {
	var notified []Index
	p := NewPool[int](3, 2, func(idx Index) { notified = append(notified, idx) })
	a, _ := p.Allocate(0, 1)
	b, _ := p.Allocate(1, 2)

	p.Drain()

	if len(notified) != 2 {
		t.Fatalf("expected 2 drain notifications, got %d", len(notified))
	}
	if p.Len() != 0 {
		t.Fatalf("expected pool empty after drain, got Len()=%d", p.Len())
	}
	// indices are free now; a fresh allocate should reuse them.
	c, ok := p.Allocate(0, 9)
	if !ok || (c != a && c != b) {
		t.Fatalf("expected drained node reuse, got idx=%d", c)
	}
}

func TestAllocateOrErrorReturnsErrFull(t *testing.T) {
	p := NewPool[int](0, 1, nil)
	_, err := p.AllocateOrError(0, 1)
	if err == nil {
		t.Fatal("expected error on exhausted pool")
	}
}
