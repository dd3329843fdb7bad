package treebin

import (
	"sync/atomic"
	"unsafe"
)

// TreeNode is a Node that belongs to a TreeBin.
//
// Every tree node is reachable two ways: through the red-black links
// (parent, left, right) and through the doubly linked list (prev, next)
// that threads all nodes of the bin in insertion order. Both views are
// rewritten only by the writer holding the bin's root lock, except that new
// nodes are pushed at the head of the list and leaves attached to the tree
// before the lock is taken for rebalancing.
type TreeNode[K any, V any] struct {
	Node[K, V]

	parent unsafe.Pointer // *TreeNode[K, V]
	left   unsafe.Pointer // *TreeNode[K, V]
	right  unsafe.Pointer // *TreeNode[K, V]
	prev   unsafe.Pointer // *TreeNode[K, V]
	red    bool

	removed   bool // guarded by TreeBin.mu
	reclaimed atomic.Bool
}

// NewTreeNode returns an unlinked tree node.
func NewTreeNode[K any, V any](hash uint64, key K, value V) *TreeNode[K, V] {
	t := &TreeNode[K, V]{}
	t.hash, t.key = hash, key
	t.self = BinEntry[K, V]{kind: KindTreeNode, ptr: unsafe.Pointer(t)}
	t.value.Store(&value)
	return t
}

// newTreeNodeShared builds a tree node that shares the value cell content
// of an existing node instead of copying it.
func newTreeNodeShared[K any, V any](hash uint64, key K, value *V) *TreeNode[K, V] {
	t := &TreeNode[K, V]{}
	t.hash, t.key = hash, key
	t.self = BinEntry[K, V]{kind: KindTreeNode, ptr: unsafe.Pointer(t)}
	t.value.Store(value)
	return t
}

// LinkTreeNodes chains nodes through next/prev in the given order and
// returns the head, ready to be handed to NewTreeBin.
func LinkTreeNodes[K any, V any](nodes ...*TreeNode[K, V]) *TreeNode[K, V] {
	var prev *TreeNode[K, V]
	for _, x := range nodes {
		x.setPrev(prev)
		x.setNext(nil)
		if prev != nil {
			prev.setNext(x)
		}
		prev = x
	}
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// TreeNodesFromChain converts a plain chain into linked tree nodes,
// preserving order. Values are shared with the source nodes.
func TreeNodesFromChain[K any, V any](head *Node[K, V]) *TreeNode[K, V] {
	var hd, tl *TreeNode[K, V]
	for e := head; e != nil; e = e.Next().AsNode() {
		v := e.value.Load()
		if v == nil {
			v = new(V)
		}
		x := newTreeNodeShared[K, V](e.hash, e.key, v)
		if tl == nil {
			hd = x
		} else {
			x.setPrev(tl)
			tl.setNext(x)
		}
		tl = x
	}
	return hd
}

// Next returns the following node in list order.
func (t *TreeNode[K, V]) Next() *TreeNode[K, V] {
	return t.Node.Next().AsTreeNode()
}

// Prev returns the preceding node in list order.
func (t *TreeNode[K, V]) Prev() *TreeNode[K, V] {
	return (*TreeNode[K, V])(loadPtr(&t.prev))
}

func (t *TreeNode[K, V]) Parent() *TreeNode[K, V] {
	return (*TreeNode[K, V])(loadPtr(&t.parent))
}

func (t *TreeNode[K, V]) Left() *TreeNode[K, V] {
	return (*TreeNode[K, V])(loadPtr(&t.left))
}

func (t *TreeNode[K, V]) Right() *TreeNode[K, V] {
	return (*TreeNode[K, V])(loadPtr(&t.right))
}

// Red reports the node color. Only meaningful while no writer is active.
func (t *TreeNode[K, V]) Red() bool {
	return t.red
}

func (t *TreeNode[K, V]) setNext(x *TreeNode[K, V]) {
	if x == nil {
		storePtr(&t.next, nil)
		return
	}
	storePtr(&t.next, unsafe.Pointer(&x.self))
}

func (t *TreeNode[K, V]) setPrev(x *TreeNode[K, V]) {
	storePtr(&t.prev, unsafe.Pointer(x))
}

func (t *TreeNode[K, V]) setParent(x *TreeNode[K, V]) {
	storePtr(&t.parent, unsafe.Pointer(x))
}

func (t *TreeNode[K, V]) setLeft(x *TreeNode[K, V]) {
	storePtr(&t.left, unsafe.Pointer(x))
}

func (t *TreeNode[K, V]) setRight(x *TreeNode[K, V]) {
	storePtr(&t.right, unsafe.Pointer(x))
}

// isRed treats nil as black.
func isRed[K any, V any](t *TreeNode[K, V]) bool {
	return t != nil && t.red
}

// reclaim scrubs a retired node once its grace period has ended. A reader
// that still reaches it afterwards sees Reclaimed() and empty links.
func (t *TreeNode[K, V]) reclaim() {
	storePtr(&t.parent, nil)
	storePtr(&t.left, nil)
	storePtr(&t.right, nil)
	storePtr(&t.prev, nil)
	storePtr(&t.next, nil)
	t.value.Store(nil)
	t.reclaimed.Store(true)
}

// Reclaimed reports whether the node's grace period has ended after its
// removal from a bin.
func (t *TreeNode[K, V]) Reclaimed() bool {
	return t.reclaimed.Load()
}

// findTreeNode descends from p looking for (hash, key). Ordering is by hash
// first; among equal hashes keys decide, except that a node with a single
// child is always descended into that child.
func findTreeNode[K any, V any](p *TreeNode[K, V], hash uint64, key K, compare func(a, b K) int) *TreeNode[K, V] {
	for p != nil {
		if ph := p.hash; ph > hash {
			p = p.Left()
			continue
		} else if ph < hash {
			p = p.Right()
			continue
		}
		dir := compare(p.key, key)
		if dir == 0 {
			return p
		}
		pl, pr := p.Left(), p.Right()
		switch {
		case pl == nil:
			p = pr
		case pr == nil:
			p = pl
		case dir > 0:
			p = pl
		default:
			p = pr
		}
	}
	return nil
}

// rotateLeft rotates around p, promoting its right child. It returns the
// possibly new root.
func rotateLeft[K any, V any](root, p *TreeNode[K, V]) *TreeNode[K, V] {
	if p == nil {
		return root
	}
	r := p.Right()
	if r == nil {
		return root
	}
	rl := r.Left()
	p.setRight(rl)
	if rl != nil {
		rl.setParent(p)
	}
	pp := p.Parent()
	r.setParent(pp)
	if pp == nil {
		root = r
		r.red = false
	} else if pp.Left() == p {
		pp.setLeft(r)
	} else {
		pp.setRight(r)
	}
	r.setLeft(p)
	p.setParent(r)
	return root
}

// rotateRight rotates around p, promoting its left child. It returns the
// possibly new root.
func rotateRight[K any, V any](root, p *TreeNode[K, V]) *TreeNode[K, V] {
	if p == nil {
		return root
	}
	l := p.Left()
	if l == nil {
		return root
	}
	lr := l.Right()
	p.setLeft(lr)
	if lr != nil {
		lr.setParent(p)
	}
	pp := p.Parent()
	l.setParent(pp)
	if pp == nil {
		root = l
		l.red = false
	} else if pp.Right() == p {
		pp.setRight(l)
	} else {
		pp.setLeft(l)
	}
	l.setRight(p)
	p.setParent(l)
	return root
}

// balanceInsertion restores the red-black properties after x has been
// attached as a leaf, and returns the new root.
func balanceInsertion[K any, V any](root, x *TreeNode[K, V]) *TreeNode[K, V] {
	x.red = true
	for {
		xp := x.Parent()
		if xp == nil {
			x.red = false
			return x
		}
		xpp := xp.Parent()
		if !xp.red || xpp == nil {
			return root
		}
		if xppl := xpp.Left(); xp == xppl {
			if xppr := xpp.Right(); isRed(xppr) {
				xppr.red = false
				xp.red = false
				xpp.red = true
				x = xpp
				continue
			}
			if x == xp.Right() {
				x = xp
				root = rotateLeft(root, x)
				if xp = x.Parent(); xp != nil {
					xpp = xp.Parent()
				} else {
					xpp = nil
				}
			}
			if xp != nil {
				xp.red = false
				if xpp != nil {
					xpp.red = true
					root = rotateRight(root, xpp)
				}
			}
		} else {
			if isRed(xppl) {
				xppl.red = false
				xp.red = false
				xpp.red = true
				x = xpp
				continue
			}
			if x == xp.Left() {
				x = xp
				root = rotateRight(root, x)
				if xp = x.Parent(); xp != nil {
					xpp = xp.Parent()
				} else {
					xpp = nil
				}
			}
			if xp != nil {
				xp.red = false
				if xpp != nil {
					xpp.red = true
					root = rotateLeft(root, xpp)
				}
			}
		}
	}
}

// balanceDeletion restores the red-black properties after a black node has
// been taken out above x, and returns the new root. x may still be the
// removed node itself when it had no child to promote; it is detached by
// the caller afterwards.
func balanceDeletion[K any, V any](root, x *TreeNode[K, V]) *TreeNode[K, V] {
	for {
		if x == nil || x == root {
			return root
		}
		xp := x.Parent()
		if xp == nil {
			x.red = false
			return x
		}
		if x.red {
			x.red = false
			return root
		}
		if xpl := xp.Left(); xpl == x {
			xpr := xp.Right()
			if isRed(xpr) {
				xpr.red = false
				xp.red = true
				root = rotateLeft(root, xp)
				if xp = x.Parent(); xp != nil {
					xpr = xp.Right()
				} else {
					xpr = nil
				}
			}
			if xpr == nil {
				x = xp
				continue
			}
			sl, sr := xpr.Left(), xpr.Right()
			if !isRed(sr) && !isRed(sl) {
				xpr.red = true
				x = xp
				continue
			}
			if !isRed(sr) {
				if sl != nil {
					sl.red = false
				}
				xpr.red = true
				root = rotateRight(root, xpr)
				if xp = x.Parent(); xp != nil {
					xpr = xp.Right()
				} else {
					xpr = nil
				}
			}
			if xpr != nil {
				xpr.red = xp != nil && xp.red
				if sr = xpr.Right(); sr != nil {
					sr.red = false
				}
			}
			if xp != nil {
				xp.red = false
				root = rotateLeft(root, xp)
			}
			x = root
		} else {
			if isRed(xpl) {
				xpl.red = false
				xp.red = true
				root = rotateRight(root, xp)
				if xp = x.Parent(); xp != nil {
					xpl = xp.Left()
				} else {
					xpl = nil
				}
			}
			if xpl == nil {
				x = xp
				continue
			}
			sl, sr := xpl.Left(), xpl.Right()
			if !isRed(sl) && !isRed(sr) {
				xpl.red = true
				x = xp
				continue
			}
			if !isRed(sl) {
				if sr != nil {
					sr.red = false
				}
				xpl.red = true
				root = rotateLeft(root, xpl)
				if xp = x.Parent(); xp != nil {
					xpl = xp.Left()
				} else {
					xpl = nil
				}
			}
			if xpl != nil {
				xpl.red = xp != nil && xp.red
				if sl = xpl.Left(); sl != nil {
					sl.red = false
				}
			}
			if xp != nil {
				xp.red = false
				root = rotateRight(root, xp)
			}
			x = root
		}
	}
}
