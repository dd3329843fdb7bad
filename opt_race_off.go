//go:build !race

package treebin

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

// Detect TSO architectures; on TSO, plain reads/writes are safe for
// pointers and native word-sized integers
const isTSO = runtime.GOARCH == "amd64" ||
	runtime.GOARCH == "386" ||
	runtime.GOARCH == "s390x"

// TSO: plain pointer load; non-TSO: use atomic.LoadPointer
//
//go:nosplit
func loadPtr(addr *unsafe.Pointer) unsafe.Pointer {
	//goland:noinspection ALL
	if isTSO {
		return *addr
	} else {
		return atomic.LoadPointer(addr)
	}
}

// TSO: plain pointer store; non-TSO: use atomic.StorePointer
//
//go:nosplit
func storePtr(addr *unsafe.Pointer, val unsafe.Pointer) {
	//goland:noinspection ALL
	if isTSO {
		*addr = val
	} else {
		atomic.StorePointer(addr, val)
	}
}

