package treebin

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/llxisdsh/treebin/epoch"
)

// Node is an entry of a plain collision chain.
//
// The hash and key never change after construction. The value may be
// replaced at any time by the owning map; readers that loaded the old value
// keep a valid copy until their guard is unpinned. The embedded mutex
// belongs to the owning map's update path and is never taken here.
type Node[K any, V any] struct {
	sync.Mutex

	self  BinEntry[K, V]
	hash  uint64
	key   K
	value atomic.Pointer[V]
	next  unsafe.Pointer // *BinEntry[K, V]
}

// NewNode returns a chain node that links to next, which may be nil.
func NewNode[K any, V any](hash uint64, key K, value V, next *BinEntry[K, V]) *Node[K, V] {
	n := &Node[K, V]{hash: hash, key: key}
	n.self = BinEntry[K, V]{kind: KindNode, ptr: unsafe.Pointer(n)}
	n.value.Store(&value)
	n.next = unsafe.Pointer(next)
	return n
}

// Entry returns the bucket slot value that refers to n.
func (n *Node[K, V]) Entry() *BinEntry[K, V] {
	return &n.self
}

func (n *Node[K, V]) Hash() uint64 {
	return n.hash
}

func (n *Node[K, V]) Key() K {
	return n.key
}

// Value returns the current value, or the zero value once the node has
// been reclaimed.
func (n *Node[K, V]) Value() V {
	if v := n.value.Load(); v != nil {
		return *v
	}
	return *new(V)
}

// StoreValue replaces the value. The old value is handed to destroy, if
// non-nil, once no guard pinned before the swap is still active.
func (n *Node[K, V]) StoreValue(value V, g *epoch.Guard, destroy func(V)) {
	old := n.value.Swap(&value)
	if old != nil && destroy != nil {
		g.Defer(func() { destroy(*old) })
	}
}

// Next returns the following entry of the chain, or nil at its end.
func (n *Node[K, V]) Next() *BinEntry[K, V] {
	return (*BinEntry[K, V])(loadPtr(&n.next))
}

// SetNext relinks the chain. Callers serialize through the node lock.
func (n *Node[K, V]) SetNext(next *BinEntry[K, V]) {
	storePtr(&n.next, unsafe.Pointer(next))
}

// newNodeShared builds a chain node that reuses an existing value cell
// content instead of copying it.
func newNodeShared[K any, V any](hash uint64, key K, value *V) *Node[K, V] {
	n := &Node[K, V]{hash: hash, key: key}
	n.self = BinEntry[K, V]{kind: KindNode, ptr: unsafe.Pointer(n)}
	n.value.Store(value)
	return n
}
