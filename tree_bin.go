// Package treebin implements the tree-shaped bucket of a concurrent hash
// map.
//
// When a bucket's collision chain grows too long, the owning map converts
// it into a TreeBin: the same entries, additionally organized as a
// red-black tree ordered by (hash, key), so lookups inside the bucket stay
// logarithmic even under adversarial hashing.
//
// Readers never block. A reader walks the doubly linked list of the bin
// while a writer holds or awaits the root lock, and otherwise registers in
// the lock word's reader count and descends the tree. A writer that wants
// to restructure the tree waits for counted readers to drain; the last one
// out unparks it. Removed nodes are retired through an epoch.Guard and
// reclaimed only after every reader that could still reach them has left.
//
// The bucket array, its resize protocol, key hashing and the promotion and
// demotion policy belong to the owning map. This package provides the
// BinEntry slot type, chain and tree nodes, and the TreeBin itself.
package treebin

import (
	"cmp"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/llxisdsh/treebin/epoch"
)

// TreeBin is the header of a tree-shaped bucket.
//
// A TreeBin must not be copied after first use.
type TreeBin[K any, V any] struct {
	lockState uint64 // writer bit, waiter bit and reader count, must be 64-bit aligned

	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(uint64(0))%CacheLineSize) % CacheLineSize]byte

	self   BinEntry[K, V]
	root   unsafe.Pointer // *TreeNode[K, V]
	first  unsafe.Pointer // *TreeNode[K, V]
	waiter unsafe.Pointer // *parker

	// mu serializes structural writers. Readers never take it.
	mu sync.Mutex

	compare      func(a, b K) int
	destroyValue func(V)               // WithValueDestructor
	destroyNode  func(*TreeNode[K, V]) // WithNodeDestructor
}

// NewTreeBin builds a bin over the chain starting at first, ordering keys
// of equal hash with cmp.Compare.
func NewTreeBin[K cmp.Ordered, V any](first *TreeNode[K, V], opts ...Option[K, V]) *TreeBin[K, V] {
	return NewTreeBinFunc(first, cmp.Compare[K], opts...)
}

// NewTreeBinFunc builds a bin over the chain starting at first, ordering
// keys of equal hash with compare, which must be a total order.
//
// The list order of the chain is kept as is; only tree links are built.
// The chain must not contain two nodes with equal hash and key, and must
// not yet be visible to other goroutines.
func NewTreeBinFunc[K any, V any](
	first *TreeNode[K, V],
	compare func(a, b K) int,
	opts ...Option[K, V],
) *TreeBin[K, V] {
	b := &TreeBin[K, V]{compare: compare}
	b.self = BinEntry[K, V]{kind: KindTree, ptr: unsafe.Pointer(b)}
	for _, op := range opts {
		op.apply(b)
	}

	var root, prev *TreeNode[K, V]
	for x := first; x != nil; {
		next := x.Next()
		x.setLeft(nil)
		x.setRight(nil)
		x.setPrev(prev)
		prev = x
		if root == nil {
			x.setParent(nil)
			x.red = false
			root = x
			x = next
			continue
		}
		for p := root; ; {
			dir := b.order(p, x.hash, x.key)
			if dir == 0 {
				panic(errors.AssertionFailedf("treebin: duplicate key in chain (hash %d)", x.hash))
			}
			xp := p
			if dir > 0 {
				p = p.Left()
			} else {
				p = p.Right()
			}
			if p == nil {
				x.setParent(xp)
				if dir > 0 {
					xp.setLeft(x)
				} else {
					xp.setRight(x)
				}
				root = balanceInsertion(root, x)
				break
			}
		}
		x = next
	}
	b.root = unsafe.Pointer(root)
	b.first = unsafe.Pointer(first)

	if debug {
		b.mustVerify()
	}
	return b
}

// Entry returns the bucket slot value that refers to b.
func (b *TreeBin[K, V]) Entry() *BinEntry[K, V] {
	return &b.self
}

// Root returns the current tree root.
func (b *TreeBin[K, V]) Root() *TreeNode[K, V] {
	return (*TreeNode[K, V])(loadPtr(&b.root))
}

// First returns the head of the linked list.
func (b *TreeBin[K, V]) First() *TreeNode[K, V] {
	return (*TreeNode[K, V])(loadPtr(&b.first))
}

func (b *TreeBin[K, V]) setRoot(x *TreeNode[K, V]) {
	storePtr(&b.root, unsafe.Pointer(x))
}

func (b *TreeBin[K, V]) setFirst(x *TreeNode[K, V]) {
	storePtr(&b.first, unsafe.Pointer(x))
}

// order compares p against (hash, key): positive when p sorts after it.
func (b *TreeBin[K, V]) order(p *TreeNode[K, V], hash uint64, key K) int {
	if p.hash > hash {
		return 1
	} else if p.hash < hash {
		return -1
	}
	return b.compare(p.key, key)
}

// Find looks up (hash, key) in the tree bin that bin refers to. It panics
// if bin is not a KindTree entry.
//
// g must stay pinned for as long as the returned node is used.
func Find[K any, V any](bin *BinEntry[K, V], hash uint64, key K, g *epoch.Guard) *TreeNode[K, V] {
	b := bin.AsTreeBin()
	if b == nil {
		panic(errors.AssertionFailedf("treebin: Find on a %s entry", bin))
	}
	return b.Find(hash, key, g)
}

// Find returns the node with the given hash and key, or nil.
//
// While a writer holds or awaits the root lock, Find scans the linked
// list. Otherwise it counts itself in as a reader and searches the tree;
// leaving the reader count may unpark a writer waiting for it.
func (b *TreeBin[K, V]) Find(hash uint64, key K, g *epoch.Guard) *TreeNode[K, V] {
	for e := b.First(); e != nil; {
		s := atomic.LoadUint64(&b.lockState)
		if s&(lockWaiter|lockWriter) != 0 {
			if e.hash == hash && b.compare(e.key, key) == 0 {
				return e
			}
			e = e.Next()
		} else if atomic.CompareAndSwapUint64(&b.lockState, s, s+lockReader) {
			var p *TreeNode[K, V]
			if r := b.Root(); r != nil {
				p = findTreeNode(r, hash, key, b.compare)
			}
			b.readerDone()
			return p
		}
	}
	return nil
}

// PutTreeVal returns the node for (hash, key) with loaded set if it
// already exists. Otherwise it inserts a new node at the head of the list,
// attaches it to the tree and rebalances under the root lock.
func (b *TreeBin[K, V]) PutTreeVal(hash uint64, key K, value V, g *epoch.Guard) (node *TreeNode[K, V], loaded bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.Root()
	if p == nil {
		x := NewTreeNode(hash, key, value)
		b.setFirst(x)
		b.setRoot(x)
		return x, false
	}
	for {
		dir := b.order(p, hash, key)
		if dir == 0 {
			return p, true
		}
		xp := p
		if dir > 0 {
			p = p.Left()
		} else {
			p = p.Right()
		}
		if p != nil {
			continue
		}

		x := NewTreeNode(hash, key, value)
		f := b.First()
		x.setNext(f)
		x.setParent(xp)
		if f != nil {
			f.setPrev(x)
		}
		b.setFirst(x)
		if !xp.red {
			x.red = true
		}
		if dir > 0 {
			xp.setLeft(x)
		} else {
			xp.setRight(x)
		}
		if xp.red {
			b.lockRoot(g)
			b.setRoot(balanceInsertion(b.Root(), x))
			b.unlockRoot()
		}

		if debug {
			b.mustVerify()
		}
		return x, false
	}
}

// RemoveTreeNode unlinks p from both the list and the tree, and retires it
// through g. If dropValue is set, the value is passed to the value
// destructor once the node is reclaimed.
//
// It reports whether the bin is now empty, in which case the caller should
// replace the bucket slot. Removing a node that was already removed is a
// no-op.
func (b *TreeBin[K, V]) RemoveTreeNode(p *TreeNode[K, V], dropValue bool, g *epoch.Guard) (collapsed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p.removed {
		return b.First() == nil
	}
	p.removed = true

	next, prev := p.Next(), p.Prev()
	if prev == nil {
		b.setFirst(next)
	} else {
		prev.setNext(next)
	}
	if next != nil {
		next.setPrev(prev)
	}
	if b.First() == nil {
		b.setRoot(nil)
		b.retire(p, dropValue, g)
		return true
	}

	b.lockRoot(g)
	root := b.Root()
	var replacement *TreeNode[K, V]
	pl, pr := p.Left(), p.Right()
	if pl != nil && pr != nil {
		s := pr
		for sl := s.Left(); sl != nil; sl = s.Left() {
			s = sl
		}
		s.red, p.red = p.red, s.red
		sr := s.Right()
		pp := p.Parent()
		if s == pr {
			p.setParent(s)
			s.setRight(p)
		} else {
			sp := s.Parent()
			p.setParent(sp)
			if sp != nil {
				if s == sp.Left() {
					sp.setLeft(p)
				} else {
					sp.setRight(p)
				}
			}
			s.setRight(pr)
			pr.setParent(s)
		}
		p.setLeft(nil)
		p.setRight(sr)
		if sr != nil {
			sr.setParent(p)
		}
		s.setLeft(pl)
		pl.setParent(s)
		s.setParent(pp)
		if pp == nil {
			root = s
		} else if p == pp.Left() {
			pp.setLeft(s)
		} else {
			pp.setRight(s)
		}
		if sr != nil {
			replacement = sr
		} else {
			replacement = p
		}
	} else if pl != nil {
		replacement = pl
	} else if pr != nil {
		replacement = pr
	} else {
		replacement = p
	}

	if replacement != p {
		pp := p.Parent()
		replacement.setParent(pp)
		if pp == nil {
			root = replacement
			replacement.red = false
		} else if p == pp.Left() {
			pp.setLeft(replacement)
		} else {
			pp.setRight(replacement)
		}
		p.setLeft(nil)
		p.setRight(nil)
		p.setParent(nil)
	}

	if !p.red {
		root = balanceDeletion(root, replacement)
	}
	b.setRoot(root)

	if p == replacement {
		if pp := p.Parent(); pp != nil {
			if p == pp.Left() {
				pp.setLeft(nil)
			} else if p == pp.Right() {
				pp.setRight(nil)
			}
			p.setParent(nil)
		}
	}
	b.unlockRoot()

	b.retire(p, dropValue, g)
	if debug {
		b.mustVerify()
	}
	return false
}

// retire schedules p, and its value if dropValue is set, for destruction
// once no guard pinned now can still observe it.
func (b *TreeBin[K, V]) retire(p *TreeNode[K, V], dropValue bool, g *epoch.Guard) {
	destroyValue, destroyNode := b.destroyValue, b.destroyNode
	g.Defer(func() {
		if dropValue && destroyValue != nil {
			if v := p.value.Load(); v != nil {
				destroyValue(*v)
			}
		}
		if destroyNode != nil {
			destroyNode(p)
		}
		p.reclaim()
	})
}

// Small reports whether the tree is too shallow to be worth keeping; an
// owning map typically demotes such a bin to a plain chain.
func (b *TreeBin[K, V]) Small() bool {
	r := b.Root()
	if r == nil || r.Right() == nil {
		return true
	}
	rl := r.Left()
	return rl == nil || rl.Left() == nil
}

// Untreeify returns a plain chain holding the bin's entries in list order.
// Values are shared with the tree nodes, not copied.
func (b *TreeBin[K, V]) Untreeify() *Node[K, V] {
	var hd, tl *Node[K, V]
	for q := b.First(); q != nil; q = q.Next() {
		v := q.value.Load()
		if v == nil {
			v = new(V)
		}
		n := newNodeShared(q.hash, q.key, v)
		if tl == nil {
			hd = n
		} else {
			tl.SetNext(n.Entry())
		}
		tl = n
	}
	return hd
}

// Len returns the number of nodes in list order.
func (b *TreeBin[K, V]) Len() int {
	n := 0
	for q := b.First(); q != nil; q = q.Next() {
		n++
	}
	return n
}

// Range calls f sequentially for each node in list order. If f returns
// false, Range stops the iteration.
func (b *TreeBin[K, V]) Range(f func(n *TreeNode[K, V]) bool) {
	for q := b.First(); q != nil; q = q.Next() {
		if !f(q) {
			return
		}
	}
}

// String renders the tree shape, e.g. "(b 5 (r 3) (r 8))". It must not run
// concurrently with writers.
func (b *TreeBin[K, V]) String() string {
	var sb strings.Builder
	var walk func(t *TreeNode[K, V])
	walk = func(t *TreeNode[K, V]) {
		if t == nil {
			sb.WriteString("-")
			return
		}
		c := "b"
		if t.red {
			c = "r"
		}
		fmt.Fprintf(&sb, "(%s %v", c, t.key)
		if l, r := t.Left(), t.Right(); l != nil || r != nil {
			sb.WriteByte(' ')
			walk(l)
			sb.WriteByte(' ')
			walk(r)
		}
		sb.WriteByte(')')
	}
	walk(b.Root())
	return sb.String()
}

// Verify checks every structural invariant of the bin and returns the
// first violation found. It must not run concurrently with writers.
func (b *TreeBin[K, V]) Verify() error {
	root, first := b.Root(), b.First()
	if (root == nil) != (first == nil) {
		return errors.Newf("root is %v but first is %v", root != nil, first != nil)
	}

	listed := make(map[*TreeNode[K, V]]struct{})
	var prev *TreeNode[K, V]
	for q := first; q != nil; q = q.Next() {
		if _, ok := listed[q]; ok {
			return errors.Newf("list cycle at hash %d", q.hash)
		}
		if q.Prev() != prev {
			return errors.Newf("broken prev link at hash %d", q.hash)
		}
		if q.removed || q.Reclaimed() {
			return errors.Newf("removed node with hash %d still listed", q.hash)
		}
		listed[q] = struct{}{}
		prev = q
	}
	if root == nil {
		return nil
	}
	if root.Parent() != nil {
		return errors.New("root has a parent")
	}
	if root.red {
		return errors.New("root is red")
	}

	seen := 0
	var last *TreeNode[K, V]
	var walk func(t *TreeNode[K, V]) (int, error)
	walk = func(t *TreeNode[K, V]) (int, error) {
		if t == nil {
			return 1, nil
		}
		if seen++; seen > len(listed) {
			return 0, errors.New("tree has more nodes than the list")
		}
		if _, ok := listed[t]; !ok {
			return 0, errors.Newf("tree node with hash %d is not listed", t.hash)
		}
		l, r := t.Left(), t.Right()
		if l != nil && l.Parent() != t || r != nil && r.Parent() != t {
			return 0, errors.Newf("child of hash %d has a wrong parent link", t.hash)
		}
		if t.red && (isRed(l) || isRed(r)) {
			return 0, errors.Newf("red node with hash %d has a red child", t.hash)
		}
		lh, err := walk(l)
		if err != nil {
			return 0, err
		}
		if last != nil && b.order(last, t.hash, t.key) >= 0 {
			return 0, errors.Newf("hash %d out of order", t.hash)
		}
		last = t
		rh, err := walk(r)
		if err != nil {
			return 0, err
		}
		if lh != rh {
			return 0, errors.Newf("black height %d != %d below hash %d", lh, rh, t.hash)
		}
		if !t.red {
			lh++
		}
		return lh, nil
	}
	if _, err := walk(root); err != nil {
		return err
	}
	if seen != len(listed) {
		return errors.Newf("tree has %d nodes, list has %d", seen, len(listed))
	}
	return nil
}

func (b *TreeBin[K, V]) mustVerify() {
	if err := b.Verify(); err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "treebin: invariant violated: %s", b))
	}
}
