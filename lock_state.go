package treebin

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/llxisdsh/treebin/epoch"
)

// Root lock state bits. The reader count occupies every bit above
// lockWaiter, so the three fields never alias.
const (
	lockWriter uint64 = 1 << 0 // set while holding the root lock
	lockWaiter uint64 = 1 << 1 // set when a writer is parked for readers
	lockReader uint64 = 1 << 2 // increment value for a tree-search reader
)

// parker is a park/unpark permit. An unpark that arrives before the park
// is kept, so a waiter cannot miss its wakeup.
type parker struct {
	ch chan struct{}
}

var parkerPool = sync.Pool{
	New: func() any {
		return &parker{ch: make(chan struct{}, 1)}
	},
}

func acquireParker() *parker {
	return parkerPool.Get().(*parker)
}

// release drains a leftover permit and recycles the parker. It runs
// deferred, since a reader may still be unparking it.
func (p *parker) release() {
	select {
	case <-p.ch:
	default:
	}
	parkerPool.Put(p)
}

func (p *parker) park() {
	<-p.ch
}

func (p *parker) unpark() {
	select {
	case p.ch <- struct{}{}:
	default:
	}
}

// lockRoot acquires the write lock used for tree restructuring.
func (b *TreeBin[K, V]) lockRoot(g *epoch.Guard) {
	if !atomic.CompareAndSwapUint64(&b.lockState, 0, lockWriter) {
		b.contendedLock(g)
	}
}

// unlockRoot releases the write lock. Readers that are counted in while a
// writer waits unpark it themselves on their way out.
func (b *TreeBin[K, V]) unlockRoot() {
	storeOp(&b.lockState, lockWriter, false)
}

// contendedLock waits until tree-search readers have drained. Writers are
// serialized by b.mu, so at most one goroutine is ever registered here.
func (b *TreeBin[K, V]) contendedLock(g *epoch.Guard) {
	spins := 0
	var w *parker
	for {
		s := atomic.LoadUint64(&b.lockState)
		if s&^lockWaiter == 0 {
			if atomic.CompareAndSwapUint64(&b.lockState, s, lockWriter) {
				if w != nil {
					old := (*parker)(atomic.SwapPointer(&b.waiter, nil))
					g.Defer(old.release)
				}
				return
			}
		} else if !getOp(s, lockWaiter) {
			if atomic.CompareAndSwapUint64(&b.lockState, s, setOp(s, lockWaiter, true)) {
				w = acquireParker()
				if prev := atomic.SwapPointer(&b.waiter, unsafe.Pointer(w)); prev != nil {
					panic(errors.AssertionFailedf("treebin: a second writer registered as waiter"))
				}
			}
		} else if w != nil {
			w.park()
			continue
		}
		delay(&spins)
	}
}

// readerDone leaves the tree-search section and hands the lock over to a
// parked writer if this was the last reader.
func (b *TreeBin[K, V]) readerDone() {
	if atomic.AddUint64(&b.lockState, ^(lockReader-1)) == lockWaiter {
		if w := (*parker)(atomic.LoadPointer(&b.waiter)); w != nil {
			w.unpark()
		}
	}
}
