package treebin

import (
	"runtime"
	"sync/atomic"
	_ "unsafe"
)

// enableSpin controls whether contended lock acquisition spins with the
// CPU's PAUSE instruction before yielding the processor.
const enableSpin = true

// delay backs off one round of a spin-wait loop.
func delay(spins *int) {
	//goland:noinspection ALL
	if enableSpin && runtime_canSpin(*spins) {
		runtime_doSpin()
		*spins++
	} else {
		runtime.Gosched()
		*spins = 0
	}
}

// nolint:all
//
//go:linkname runtime_canSpin sync.runtime_canSpin
//go:nosplit
func runtime_canSpin(i int) bool

// nolint:all
//
//go:linkname runtime_doSpin sync.runtime_doSpin
//go:nosplit
func runtime_doSpin()

func setOp(state uint64, mask uint64, value bool) uint64 {
	if value {
		return state | mask
	} else {
		return state & ^mask
	}
}

func getOp(state uint64, mask uint64) bool {
	return state&mask != 0
}

func storeOp(addr *uint64, mask uint64, value bool) {
	if value {
		atomic.OrUint64(addr, mask)
	} else {
		atomic.AndUint64(addr, ^mask)
	}
}
