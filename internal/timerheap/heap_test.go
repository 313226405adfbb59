package timerheap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func (t *Heap) minExpires() time.Time { return t.h.nodes[0].expires }

func (t *Heap) refConsistent() bool {
	for id, idx := range t.h.ref {
		if t.h.nodes[idx].id != id {
			return false
		}
	}
	return len(t.h.ref) == len(t.h.nodes)
}

func TestAddNewNodeIsRoot(t *testing.T) {
	h := New()
	fired := false
	h.Add(1, time.Hour, func() { fired = true })
	require.Equal(t, 1, h.Len())
	require.True(t, h.refConsistent())
	require.False(t, fired)
}

func TestAddSameIDUpdatesInPlace(t *testing.T) {
	h := New()
	h.Add(7, time.Hour, func() {})
	h.Add(7, time.Millisecond, func() {})
	require.Equal(t, 1, h.Len(), "re-adding the same id must not grow the heap")
	require.True(t, h.refConsistent())
}

func TestRepeatedAddDecreasingTimeoutStaysSizeOne(t *testing.T) {
	h := New()
	prev := time.Duration(0)
	for i := 10; i >= 1; i-- {
		h.Add(42, time.Duration(i)*time.Millisecond, func() {})
		require.Equal(t, 1, h.Len())
		if prev != 0 {
			require.True(t, h.minExpires().Before(time.Now().Add(prev)))
		}
		prev = time.Duration(i) * time.Millisecond
	}
}

func TestRootIsAlwaysMinimum(t *testing.T) {
	h := New()
	h.Add(1, 50*time.Millisecond, func() {})
	h.Add(2, 10*time.Millisecond, func() {})
	h.Add(3, 30*time.Millisecond, func() {})
	require.Equal(t, 3, h.Len())

	min := h.minExpires()
	for _, n := range h.h.nodes {
		require.False(t, n.expires.Before(min))
	}
	require.True(t, h.refConsistent())
}

func TestDoWorkFiresAndRemoves(t *testing.T) {
	h := New()
	called := 0
	h.Add(1, time.Hour, func() { called++ })
	h.DoWork(1)
	require.Equal(t, 1, called)
	require.Equal(t, 0, h.Len())

	// DoWork on an untracked id is a no-op
	h.DoWork(999)
	require.Equal(t, 0, h.Len())
}

func TestTickFiresOnlyExpired(t *testing.T) {
	h := New()
	var order []int
	h.Add(1, -time.Millisecond, func() { order = append(order, 1) })
	h.Add(2, time.Hour, func() { order = append(order, 2) })
	h.Tick()
	require.Equal(t, []int{1}, order)
	require.Equal(t, 1, h.Len())
}

func TestNextTickMSEmptyIsNotOK(t *testing.T) {
	h := New()
	_, ok := h.NextTickMS()
	require.False(t, ok)
}

func TestNextTickMSNonEmpty(t *testing.T) {
	h := New()
	h.Add(1, 200*time.Millisecond, func() {})
	ms, ok := h.NextTickMS()
	require.True(t, ok)
	require.Greater(t, ms, int64(0))
	require.LessOrEqual(t, ms, int64(200))
}

func TestDeletingTailNeverSiftsRootStable(t *testing.T) {
	h := New()
	h.Add(1, 10*time.Millisecond, func() {})
	h.Add(2, time.Hour, func() {})
	h.Add(3, 2*time.Hour, func() {})

	root := h.h.nodes[0].id
	// remove the node known to be the heap's tail (largest expiry)
	h.DoWork(3)
	require.Equal(t, root, h.h.nodes[0].id, "removing the tail must not disturb the root")
	require.True(t, h.refConsistent())
}

func TestDeletingRootSiftsDown(t *testing.T) {
	h := New()
	h.Add(1, 10*time.Millisecond, func() {})
	h.Add(2, 20*time.Millisecond, func() {})
	h.Add(3, 30*time.Millisecond, func() {})

	h.Pop() // removes id 1, the current root
	require.Equal(t, 2, h.Len())
	require.True(t, h.refConsistent())
	min := h.minExpires()
	for _, n := range h.h.nodes {
		require.False(t, n.expires.Before(min))
	}
}

func TestCancelRemovesWithoutFiring(t *testing.T) {
	h := New()
	fired := false
	h.Add(1, time.Hour, func() { fired = true })
	h.Cancel(1)
	require.Equal(t, 0, h.Len())
	require.False(t, fired)

	// Cancel on an untracked id is a no-op.
	h.Cancel(999)
	require.Equal(t, 0, h.Len())
}

func TestPopExpiredReturnsWithoutFiring(t *testing.T) {
	h := New()
	var fired []int
	h.Add(1, -time.Millisecond, func() { fired = append(fired, 1) })
	h.Add(2, -time.Millisecond, func() { fired = append(fired, 2) })
	h.Add(3, time.Hour, func() { fired = append(fired, 3) })

	cbs := h.PopExpired()
	require.Len(t, cbs, 2)
	require.Nil(t, fired, "PopExpired must not invoke callbacks itself")
	require.Equal(t, 1, h.Len())

	for _, cb := range cbs {
		cb()
	}
	require.ElementsMatch(t, []int{1, 2}, fired)
}

func TestNextDelayMSDoesNotTick(t *testing.T) {
	h := New()
	called := false
	h.Add(1, -time.Millisecond, func() { called = true })

	ms, ok := h.NextDelayMS()
	require.True(t, ok)
	require.Equal(t, int64(0), ms)
	require.Equal(t, 1, h.Len(), "NextDelayMS must leave expired nodes in place")
	require.False(t, called)
}

func TestNextDelayMSEmptyIsNotOK(t *testing.T) {
	h := New()
	_, ok := h.NextDelayMS()
	require.False(t, ok)
}

func TestClearEmptiesHeap(t *testing.T) {
	h := New()
	h.Add(1, time.Hour, func() {})
	h.Add(2, time.Hour, func() {})
	h.Clear()
	require.Equal(t, 0, h.Len())
	_, ok := h.NextTickMS()
	require.False(t, ok)
}
