// Package timerheap implements the indexed min-heap used by the reactor to
// enforce per-connection idle timeouts.
//
// The parent node always expires no later than its children:
//
//	          node<0, t0>
//	           /        \
//	   node<1, t1>    node<2, t2>     t0 <= t1, t0 <= t2
package timerheap

import (
	"container/heap"
	"time"
)

// Callback fires when a node expires or is explicitly worked.
type Callback func()

type node struct {
	id      int
	expires time.Time
	cb      Callback
}

// innerHeap implements container/heap.Interface. Swap keeps the owning
// Heap's ref map in sync, which is why it is a method on *innerHeap with a
// back-pointer to the ref map rather than a free-standing slice type.
type innerHeap struct {
	nodes []*node
	ref   map[int]int
}

func (h *innerHeap) Len() int            { return len(h.nodes) }
func (h *innerHeap) Less(i, j int) bool  { return h.nodes[i].expires.Before(h.nodes[j].expires) }
func (h *innerHeap) Swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.ref[h.nodes[i].id] = i
	h.ref[h.nodes[j].id] = j
}

func (h *innerHeap) Push(x interface{}) {
	n := x.(*node)
	h.ref[n.id] = len(h.nodes)
	h.nodes = append(h.nodes, n)
}

func (h *innerHeap) Pop() interface{} {
	old := h.nodes
	last := old[len(old)-1]
	h.nodes = old[:len(old)-1]
	delete(h.ref, last.id)
	return last
}

// Heap is a min-heap of timer nodes keyed by expiry, with O(log n)
// update/delete by connection id.
type Heap struct {
	h *innerHeap
}

// New returns an empty Heap.
func New() *Heap {
	return &Heap{h: &innerHeap{ref: make(map[int]int)}}
}

// Len reports the number of live timers.
func (t *Heap) Len() int { return t.h.Len() }

// Add registers id to fire cb after timeout elapses. If id is already
// tracked, its expiry and callback are replaced (spec 4.B: "update,
// then sift down; if sift-down did not move it, sift up").
func (t *Heap) Add(id int, timeout time.Duration, cb Callback) {
	expires := time.Now().Add(timeout)
	if i, ok := t.h.ref[id]; ok {
		t.h.nodes[i].expires = expires
		t.h.nodes[i].cb = cb
		heap.Fix(t.h, i)
		return
	}
	heap.Push(t.h, &node{id: id, expires: expires, cb: cb})
}

// Adjust updates the expiry of an already-tracked id. Superseded by Add,
// kept for parity with the source's deprecated-but-present operation.
func (t *Heap) Adjust(id int, timeout time.Duration) {
	i, ok := t.h.ref[id]
	if !ok {
		return
	}
	t.h.nodes[i].expires = time.Now().Add(timeout)
	heap.Fix(t.h, i)
}

// DoWork fires id's callback immediately and removes it, if tracked.
func (t *Heap) DoWork(id int) {
	i, ok := t.h.ref[id]
	if !ok {
		return
	}
	cb := t.h.nodes[i].cb
	heap.Remove(t.h, i)
	cb()
}

// Cancel removes id without invoking its callback, if tracked. This is
// what the reactor uses to retire a timer ahead of its deadline — when a
// connection becomes active again or is closed through some other path —
// where DoWork's "fire now" semantics would be wrong.
func (t *Heap) Cancel(id int) {
	i, ok := t.h.ref[id]
	if !ok {
		return
	}
	heap.Remove(t.h, i)
}

// Tick fires and removes every node whose expiry has already passed.
func (t *Heap) Tick() {
	now := time.Now()
	for t.h.Len() > 0 && !t.h.nodes[0].expires.After(now) {
		cb := t.h.nodes[0].cb
		heap.Remove(t.h, 0)
		cb()
	}
}

// Pop removes the root node without firing its callback.
func (t *Heap) Pop() {
	if t.h.Len() == 0 {
		return
	}
	heap.Remove(t.h, 0)
}

// NextTickMS ticks due timers, then reports milliseconds until the next
// expiry. ok is false when no timers remain, meaning "wait indefinitely" —
// the Go-native resolution of the source's signed-into-unsigned sentinel
// (spec.md Open Question ii).
func (t *Heap) NextTickMS() (ms int64, ok bool) {
	t.Tick()
	if t.h.Len() == 0 {
		return 0, false
	}
	d := time.Until(t.h.nodes[0].expires)
	if d < 0 {
		d = 0
	}
	return d.Milliseconds(), true
}

// PopExpired removes and returns the callbacks of every node whose expiry
// has already passed, without invoking them. Callers that need to run
// those callbacks outside whatever lock guards the heap (to avoid a
// reentrant Cancel/DoWork from within a callback) use this instead of
// Tick.
func (t *Heap) PopExpired() []Callback {
	now := time.Now()
	var cbs []Callback
	for t.h.Len() > 0 && !t.h.nodes[0].expires.After(now) {
		cbs = append(cbs, t.h.nodes[0].cb)
		heap.Remove(t.h, 0)
	}
	return cbs
}

// NextDelayMS reports milliseconds until the next expiry without ticking.
// ok is false when no timers remain.
func (t *Heap) NextDelayMS() (ms int64, ok bool) {
	if t.h.Len() == 0 {
		return 0, false
	}
	d := time.Until(t.h.nodes[0].expires)
	if d < 0 {
		d = 0
	}
	return d.Milliseconds(), true
}

// Clear empties the heap.
func (t *Heap) Clear() {
	t.h.nodes = nil
	t.h.ref = make(map[int]int)
}
