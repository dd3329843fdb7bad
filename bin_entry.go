package treebin

import (
	"unsafe"
)

// BinKind tags what a bucket slot currently references.
type BinKind uint8

const (
	// KindNode is a plain collision chain of Nodes.
	KindNode BinKind = iota
	// KindTree is a TreeBin header.
	KindTree
	// KindTreeNode is a node owned by a TreeBin. It only shows up as a
	// bucket element transiently, or as the next link inside a bin.
	KindTreeNode
	// KindMoved marks a bucket that has been relocated by a resize.
	KindMoved
)

func (k BinKind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindTree:
		return "tree"
	case KindTreeNode:
		return "treenode"
	case KindMoved:
		return "moved"
	default:
		return "unknown"
	}
}

// BinEntry is the value a bucket slot points at: exactly one of a chain
// node, a tree bin, a tree node, or the moved marker.
//
// Entries are immutable once built. Every Node, TreeNode and TreeBin embeds
// its own entry, so taking Entry() never allocates and two entries for the
// same object compare equal by pointer.
type BinEntry[K any, V any] struct {
	kind BinKind
	ptr  unsafe.Pointer
}

// NewMovedEntry returns a forwarding marker. The resize protocol that
// produces and consumes it lives with the owning map.
func NewMovedEntry[K any, V any]() *BinEntry[K, V] {
	return &BinEntry[K, V]{kind: KindMoved}
}

// Kind returns the variant tag.
func (e *BinEntry[K, V]) Kind() BinKind {
	return e.kind
}

// IsMoved reports whether e is the forwarding marker.
func (e *BinEntry[K, V]) IsMoved() bool {
	return e != nil && e.kind == KindMoved
}

// AsNode returns the chain node, or nil if e is not a KindNode entry.
func (e *BinEntry[K, V]) AsNode() *Node[K, V] {
	if e == nil || e.kind != KindNode {
		return nil
	}
	return (*Node[K, V])(e.ptr)
}

// AsTreeNode returns the tree node, or nil if e is not a KindTreeNode entry.
func (e *BinEntry[K, V]) AsTreeNode() *TreeNode[K, V] {
	if e == nil || e.kind != KindTreeNode {
		return nil
	}
	return (*TreeNode[K, V])(e.ptr)
}

// AsTreeBin returns the tree bin, or nil if e is not a KindTree entry.
func (e *BinEntry[K, V]) AsTreeBin() *TreeBin[K, V] {
	if e == nil || e.kind != KindTree {
		return nil
	}
	return (*TreeBin[K, V])(e.ptr)
}

func (e *BinEntry[K, V]) String() string {
	if e == nil {
		return "<nil>"
	}
	return e.kind.String()
}
