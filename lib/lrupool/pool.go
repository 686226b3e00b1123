package lrupool

import "github.com/kvexpr/phkv/lib/pherr"

// Index addresses one node in a Pool's arena. Nil is never a valid node.
type Index int32

// Nil is the not-a-node sentinel, also used as a list's empty head/tail and
// an entry's empty prev/next.
const Nil Index = -1

type entry[T any] struct {
	value T
	prio  int
	prev  Index
	next  Index
	inUse bool
}

type list struct {
	head, tail Index
}

// Pool is a fixed-capacity arena of T values, each tracked by exactly one
// of a free list or one of numPriorities LRU lists. reuseNotify is invoked
// on a node immediately before it is repurposed by an eviction-driven
// Allocate, so the owner can detach it from whatever structure referenced
// it (spec §4.6's cache-node detach-on-evict requirement).
type Pool[T any] struct {
	capacity    int
	nodes       []entry[T]
	lists       []list
	freeHead    Index
	reuseNotify func(Index)
}

// NewPool creates a pool with room for up to capacity nodes across
// numPriorities priority classes (0 .. numPriorities-1, higher evicts
// first). reuseNotify may be nil.
func NewPool[T any](capacity, numPriorities int, reuseNotify func(Index)) *Pool[T] {
	p := &Pool[T]{
		capacity:    capacity,
		lists:       make([]list, numPriorities),
		freeHead:    Nil,
		reuseNotify: reuseNotify,
	}
	for i := range p.lists {
		p.lists[i] = list{head: Nil, tail: Nil}
	}
	return p
}

func (p *Pool[T]) unlink(idx Index) {
	e := &p.nodes[idx]
	l := &p.lists[e.prio]
	if e.prev != Nil {
		p.nodes[e.prev].next = e.next
	} else {
		l.head = e.next
	}
	if e.next != Nil {
		p.nodes[e.next].prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev, e.next = Nil, Nil
}

func (p *Pool[T]) pushTail(idx Index, prio int) {
	e := &p.nodes[idx]
	e.prio = prio
	l := &p.lists[prio]
	e.prev = l.tail
	e.next = Nil
	if l.tail != Nil {
		p.nodes[l.tail].next = idx
	} else {
		l.head = idx
	}
	l.tail = idx
}

// Allocate reuses a free node, grows the arena, or evicts the LRU node of
// the highest-numbered non-empty priority list, in that order (spec §4.5).
// ok is false only if the pool is exhausted and has nothing to evict.
func (p *Pool[T]) Allocate(prio int, value T) (idx Index, ok bool) {
	if p.freeHead != Nil {
		idx = p.freeHead
		p.freeHead = p.nodes[idx].next
		e := &p.nodes[idx]
		e.inUse = true
		e.value = value
		e.prev, e.next = Nil, Nil
		p.pushTail(idx, prio)
		return idx, true
	}
	if len(p.nodes) < p.capacity {
		idx = Index(len(p.nodes))
		p.nodes = append(p.nodes, entry[T]{inUse: true, value: value, prev: Nil, next: Nil})
		p.pushTail(idx, prio)
		return idx, true
	}
	for evictPrio := len(p.lists) - 1; evictPrio >= 0; evictPrio-- {
		if p.lists[evictPrio].head == Nil {
			continue
		}
		victim := p.lists[evictPrio].head
		if p.reuseNotify != nil {
			p.reuseNotify(victim)
		}
		p.unlink(victim)
		e := &p.nodes[victim]
		e.value = value
		p.pushTail(victim, prio)
		return victim, true
	}
	return Nil, false
}

// Touch moves idx to the MRU end of its current priority list.
func (p *Pool[T]) Touch(idx Index) {
	prio := p.nodes[idx].prio
	p.unlink(idx)
	p.pushTail(idx, prio)
}

// Free removes idx from its priority list and returns it to the free list.
// reuseNotify is not called; the owner already knows it is discarding idx.
func (p *Pool[T]) Free(idx Index) {
	p.unlink(idx)
	e := &p.nodes[idx]
	e.inUse = false
	e.next = p.freeHead
	p.freeHead = idx
}

// At returns a pointer into the arena for idx, valid until the next
// Allocate call grows the backing slice. Callers are expected to serialize
// access externally (the store façade's cacheMtx), the same contract
// lib/phvl's Volume places on its own callers.
func (p *Pool[T]) At(idx Index) *T {
	return &p.nodes[idx].value
}

// Prio reports the priority list idx currently belongs to.
func (p *Pool[T]) Prio(idx Index) int {
	return p.nodes[idx].prio
}

// Len reports how many nodes are currently allocated (not free).
func (p *Pool[T]) Len() int {
	n := 0
	for _, e := range p.nodes {
		if e.inUse {
			n++
		}
	}
	return n
}

// Cap reports the pool's fixed capacity.
func (p *Pool[T]) Cap() int {
	return p.capacity
}

// Drain evicts every allocated node via reuseNotify and frees it, the
// pool's destructor-equivalent (spec §4.5: "destructor must drain lists
// before the backing storage is released").
func (p *Pool[T]) Drain() {
	for prio := range p.lists {
		for p.lists[prio].head != Nil {
			idx := p.lists[prio].head
			if p.reuseNotify != nil {
				p.reuseNotify(idx)
			}
			p.Free(idx)
		}
	}
}

// errFull is returned by callers that need an error rather than a bool;
// Allocate itself never returns an error since exhaustion is an expected,
// handled outcome, not a fault.
var errFull = pherr.New(pherr.OutOfRange, "lrupool: pool exhausted")

// ErrFull is returned by AllocateOrError.
var ErrFull = errFull

// AllocateOrError is Allocate with an error return for callers that treat
// exhaustion as exceptional rather than as a normal partial-fill signal.
func (p *Pool[T]) AllocateOrError(prio int, value T) (Index, error) {
	idx, ok := p.Allocate(prio, value)
	if !ok {
		return Nil, errFull
	}
	return idx, nil
}
