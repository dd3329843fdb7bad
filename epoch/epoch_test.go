package epoch

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeferWaitsForPinnedGuards(t *testing.T) {
	c := NewCollector()
	reader := c.Pin()

	w := c.Pin()
	var ran atomic.Bool
	w.Defer(func() { ran.Store(true) })
	w.Unpin()
	require.Equal(t, 1, c.Pending())

	c.Flush()
	require.False(t, ran.Load())
	require.Equal(t, 1, c.Pending())

	reader.Unpin()
	c.Flush()
	require.True(t, ran.Load())
	require.Zero(t, c.Pending())
}

func TestDeferNeverRunsSynchronously(t *testing.T) {
	c := NewCollector()
	g := c.Pin()
	ran := false
	g.Defer(func() { ran = true })
	require.False(t, ran)
	g.Unpin()
	c.Flush()
	require.True(t, ran)
}

func TestGuardPinnedInRetirementEpochHoldsBack(t *testing.T) {
	c := NewCollector()
	w := c.Pin()
	ran := false
	w.Defer(func() { ran = true })
	w.Unpin()

	// Advance once so a later pin observes a newer epoch.
	c.Flush()
	require.True(t, ran)

	w = c.Pin()
	w.Defer(func() { ran = false })
	w.Unpin()
	late := c.Pin()
	defer late.Unpin()
	c.collect(true)
	c.collect(true)
	// late pinned in the retirement epoch, so it holds the function back.
	require.True(t, ran)
}

func TestUnprotected(t *testing.T) {
	g := Unprotected()
	ran := false
	g.Defer(func() { ran = true })
	require.True(t, ran)
	require.False(t, g.Pinned())
	g.Unpin()
	g.Defer(nil)
}

func TestEpochAdvance(t *testing.T) {
	c := NewCollector()
	e := c.Epoch()
	g := c.Pin()
	c.Flush()
	// One advance to e+1 is allowed; the next one waits for g.
	require.Equal(t, e+1, c.Epoch())
	g.Unpin()
	c.Flush()
	require.Equal(t, e+4, c.Epoch())
}

func TestNestedPins(t *testing.T) {
	c := NewCollector()
	outer := c.Pin()
	inner := c.Pin()
	require.NotSame(t, outer.p, inner.p)
	require.True(t, inner.Pinned())

	var ran atomic.Bool
	inner.Defer(func() { ran.Store(true) })
	inner.Unpin()
	require.False(t, inner.Pinned())
	inner.Unpin() // second Unpin is a no-op
	c.Flush()
	require.False(t, ran.Load())

	outer.Unpin()
	c.Flush()
	require.True(t, ran.Load())

	// Released slots are reused.
	g := c.Pin()
	require.Len(t, *c.participants.Load(), 2)
	g.Unpin()
}

func TestDefaultCollector(t *testing.T) {
	require.Same(t, Default(), Default())
	g := Pin()
	require.Same(t, Default(), g.c)
	g.Unpin()
}

func TestConcurrentPinDefer(t *testing.T) {
	const (
		workers    = 8
		iterations = 2000
	)
	c := NewCollector()
	var ran atomic.Int64
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range iterations {
				g := c.Pin()
				g.Defer(func() { ran.Add(1) })
				g.Unpin()
			}
		}()
	}
	wg.Wait()
	c.Flush()
	require.Equal(t, int64(workers*iterations), ran.Load())
	require.Zero(t, c.Pending())
}

func BenchmarkPinUnpin(b *testing.B) {
	c := NewCollector()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			c.Pin().Unpin()
		}
	})
}
