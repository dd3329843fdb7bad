// Package epoch implements epoch-based deferred reclamation.
//
// A goroutine that is about to read shared nodes pins a Guard. Memory that a
// writer unlinks while readers may still hold references to it is handed to
// Guard.Defer instead of being recycled on the spot; the deferred function
// runs only once every guard that was pinned at the time of retirement has
// been unpinned.
//
// Go's garbage collector already keeps unlinked objects alive for as long as
// anything references them, so the deferred functions here are about
// semantic destruction: returning objects to pools, invoking user value
// destructors, or scrubbing node links so that a stale reference is
// detectable.
//
// The scheme is the classic three-epoch one. The global epoch advances from
// e to e+1 only when every pinned participant has observed e. A function
// retired while the global epoch was e runs once the global epoch reaches
// e+2, at which point no participant pinned before the retirement can still
// be active.
package epoch

import (
	"sync"
	"sync/atomic"
)

const (
	// activeBit marks a participant as pinned; the epoch it observed is
	// stored in the remaining bits.
	activeBit uint64 = 1

	// collectEvery is how many Unpin calls pass between opportunistic
	// collection attempts.
	collectEvery = 16
)

// participant is one registered pin slot. Slots are recycled across pins
// but never removed from the registry.
type participant struct {
	state atomic.Uint64 // epoch<<1 | activeBit while pinned, 0 otherwise
	owned atomic.Bool
}

type deferred struct {
	epoch uint64
	fn    func()
}

// Collector owns a global epoch, a registry of participants and the
// functions waiting for their grace period to end.
//
// The zero value is ready to use.
type Collector struct {
	global       atomic.Uint64
	participants atomic.Pointer[[]*participant]
	regMu        sync.Mutex

	mu      sync.Mutex
	garbage []deferred
	pending atomic.Int64
	unpins  atomic.Uint32
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

var defaultCollector Collector

// Default returns the process-wide collector used by Pin.
func Default() *Collector {
	return &defaultCollector
}

// Pin pins a guard on the default collector.
func Pin() *Guard {
	return defaultCollector.Pin()
}

// Guard is a pinned participant. Nodes loaded from shared links while the
// guard is pinned stay valid until Unpin.
//
// A Guard is not safe for concurrent use by multiple goroutines.
type Guard struct {
	c *Collector
	p *participant
}

var unprotected = &Guard{}

// Unprotected returns a guard that provides no protection. Functions
// deferred through it run immediately, so it must only be used for data
// that no other goroutine can observe.
func Unprotected() *Guard {
	return unprotected
}

// Pin registers the caller as active in the current epoch.
func (c *Collector) Pin() *Guard {
	p := c.acquire()
	for {
		e := c.global.Load()
		p.state.Store(e<<1 | activeBit)
		// A concurrent advance may have happened between loading the epoch
		// and publishing it; in that case it did not account for us.
		if c.global.Load() == e {
			break
		}
	}
	return &Guard{c: c, p: p}
}

func (c *Collector) acquire() *participant {
	if ps := c.participants.Load(); ps != nil {
		for _, p := range *ps {
			if !p.owned.Load() && p.owned.CompareAndSwap(false, true) {
				return p
			}
		}
	}
	p := &participant{}
	p.owned.Store(true)

	c.regMu.Lock()
	var next []*participant
	if ps := c.participants.Load(); ps != nil {
		next = make([]*participant, len(*ps), len(*ps)+1)
		copy(next, *ps)
	}
	next = append(next, p)
	c.participants.Store(&next)
	c.regMu.Unlock()
	return p
}

// Unpin ends the guard's critical section. The guard must not be used
// afterwards.
func (g *Guard) Unpin() {
	if g.c == nil || g.p == nil {
		return
	}
	c, p := g.c, g.p
	g.p = nil
	p.state.Store(0)
	p.owned.Store(false)

	if c.pending.Load() > 0 && c.unpins.Add(1)%collectEvery == 0 {
		c.collect(false)
	}
}

// Pinned reports whether the guard still protects its caller.
func (g *Guard) Pinned() bool {
	return g.c != nil && g.p != nil
}

// Defer schedules fn to run after every currently pinned guard has been
// unpinned. On an unprotected guard fn runs immediately.
func (g *Guard) Defer(fn func()) {
	if fn == nil {
		return
	}
	if g.c == nil {
		fn()
		return
	}
	g.c.retire(fn)
}

func (c *Collector) retire(fn func()) {
	c.mu.Lock()
	c.garbage = append(c.garbage, deferred{epoch: c.global.Load(), fn: fn})
	c.mu.Unlock()
	c.pending.Add(1)
}

// Flush makes a best-effort attempt to end the current grace period and run
// everything that has become safe to run. Pinned guards may keep some
// functions pending.
func (c *Collector) Flush() {
	// Two advances are needed before the most recent retirements are safe.
	for range 3 {
		c.collect(true)
	}
}

// Pending returns the number of deferred functions that have not run yet.
func (c *Collector) Pending() int {
	return int(c.pending.Load())
}

// Epoch returns the current global epoch.
func (c *Collector) Epoch() uint64 {
	return c.global.Load()
}

// tryAdvance bumps the global epoch if every pinned participant has
// observed it.
func (c *Collector) tryAdvance() uint64 {
	e := c.global.Load()
	if ps := c.participants.Load(); ps != nil {
		for _, p := range *ps {
			s := p.state.Load()
			if s&activeBit != 0 && s>>1 != e {
				return e
			}
		}
	}
	if c.global.CompareAndSwap(e, e+1) {
		return e + 1
	}
	return c.global.Load()
}

func (c *Collector) collect(wait bool) {
	if wait {
		c.mu.Lock()
	} else if !c.mu.TryLock() {
		return
	}
	e := c.tryAdvance()
	var ready []deferred
	kept := c.garbage[:0]
	for _, d := range c.garbage {
		if d.epoch+2 <= e {
			ready = append(ready, d)
		} else {
			kept = append(kept, d)
		}
	}
	for i := len(kept); i < len(c.garbage); i++ {
		c.garbage[i] = deferred{}
	}
	c.garbage = kept
	c.mu.Unlock()

	for _, d := range ready {
		d.fn()
	}
	c.pending.Add(-int64(len(ready)))
}
