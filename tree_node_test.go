package treebin

import (
	"cmp"
	"testing"

	"github.com/stretchr/testify/require"
)

// link builds parent/child links by hand. Keys double as hashes.
func link(p, l, r *TreeNode[int, int]) *TreeNode[int, int] {
	p.setLeft(l)
	p.setRight(r)
	if l != nil {
		l.setParent(p)
	}
	if r != nil {
		r.setParent(p)
	}
	return p
}

func tnode(k int) *TreeNode[int, int] {
	return NewTreeNode(uint64(k), k, k)
}

func shape(root *TreeNode[int, int]) string {
	b := &TreeBin[int, int]{compare: cmp.Compare[int]}
	b.setRoot(root)
	return b.String()
}

func TestRotateLeft(t *testing.T) {
	n1, n2, n3, n4, n5 := tnode(1), tnode(2), tnode(3), tnode(4), tnode(5)
	root := link(n2, n1, link(n4, n3, n5))

	root = rotateLeft(root, n2)
	require.Same(t, n4, root)
	require.Nil(t, n4.Parent())
	require.Same(t, n2, n4.Left())
	require.Same(t, n5, n4.Right())
	require.Same(t, n3, n2.Right())
	require.Same(t, n2, n3.Parent())
	require.Equal(t, "(b 4 (b 2 (b 1) (b 3)) (b 5))", shape(root))
}

func TestRotateRight(t *testing.T) {
	n1, n2, n3, n4, n5 := tnode(1), tnode(2), tnode(3), tnode(4), tnode(5)
	root := link(n4, link(n2, n1, n3), n5)

	root = rotateRight(root, n4)
	require.Same(t, n2, root)
	require.Same(t, n4, n2.Right())
	require.Same(t, n3, n4.Left())
	require.Same(t, n4, n3.Parent())
	require.Equal(t, "(b 2 (b 1) (b 4 (b 3) (b 5)))", shape(root))
}

func TestRotateInnerNode(t *testing.T) {
	n1, n2, n3, n4 := tnode(1), tnode(2), tnode(3), tnode(4)
	root := link(n4, link(n1, nil, link(n2, nil, n3)), nil)

	root = rotateLeft(root, n1)
	require.Same(t, n4, root)
	require.Same(t, n2, n4.Left())
	require.Same(t, n4, n2.Parent())
	require.Same(t, n1, n2.Left())
	require.Equal(t, "(b 4 (b 2 (b 1) (b 3)) -)", shape(root))
}

func TestRotateMissingChild(t *testing.T) {
	n1 := tnode(1)
	require.Same(t, n1, rotateLeft(n1, n1))
	require.Same(t, n1, rotateRight(n1, n1))
	require.Same(t, n1, rotateLeft[int, int](n1, nil))
}

func TestBalanceInsertionAscending(t *testing.T) {
	var root *TreeNode[int, int]
	var last *TreeNode[int, int]
	for k := 1; k <= 3; k++ {
		x := tnode(k)
		if root == nil {
			root = balanceInsertion(nil, x)
		} else {
			link(last, last.Left(), x)
			root = balanceInsertion(root, x)
		}
		last = x
	}
	// 1-2-3 as a right spine is rotated into a balanced triple.
	require.Equal(t, "(b 2 (r 1) (r 3))", shape(root))
}

func TestFindTreeNodeSingleChild(t *testing.T) {
	// Equal hashes with a single child descend that child regardless of
	// key order.
	a := NewTreeNode(uint64(7), 10, 0)
	c := NewTreeNode(uint64(7), 5, 0)
	link(a, nil, c)

	require.Same(t, a, findTreeNode(a, 7, 10, cmp.Compare[int]))
	require.Same(t, c, findTreeNode(a, 7, 5, cmp.Compare[int]))
	require.Nil(t, findTreeNode(a, 7, 6, cmp.Compare[int]))
	require.Nil(t, findTreeNode(a, 8, 10, cmp.Compare[int]))
	require.Nil(t, findTreeNode[int, int](nil, 7, 10, cmp.Compare[int]))
}

func TestLinkTreeNodes(t *testing.T) {
	require.Nil(t, LinkTreeNodes[int, int]())

	n1, n2, n3 := tnode(1), tnode(2), tnode(3)
	head := LinkTreeNodes(n1, n2, n3)
	require.Same(t, n1, head)
	require.Same(t, n2, n1.Next())
	require.Same(t, n3, n2.Next())
	require.Nil(t, n3.Next())
	require.Nil(t, n1.Prev())
	require.Same(t, n1, n2.Prev())
	require.Same(t, n2, n3.Prev())
	require.Equal(t, KindTreeNode, n1.Node.Next().Kind())
}

func TestTreeNodesFromChain(t *testing.T) {
	c := NewNode(uint64(3), 3, 30, nil)
	a := NewNode(uint64(1), 1, 10, NewNode(uint64(2), 2, 20, c.Entry()).Entry())

	var keys, values []int
	var prev *TreeNode[int, int]
	for x := TreeNodesFromChain(a); x != nil; x = x.Next() {
		require.Same(t, prev, x.Prev())
		keys = append(keys, x.Key())
		values = append(values, x.Value())
		prev = x
	}
	require.Equal(t, []int{1, 2, 3}, keys)
	require.Equal(t, []int{10, 20, 30}, values)
	require.Nil(t, TreeNodesFromChain[int, int](nil))
}

func TestReclaim(t *testing.T) {
	n1, n2, n3 := tnode(1), tnode(2), tnode(3)
	LinkTreeNodes(n1, n2, n3)
	link(n2, n1, n3)

	n2.reclaim()
	require.True(t, n2.Reclaimed())
	require.Nil(t, n2.Left())
	require.Nil(t, n2.Right())
	require.Nil(t, n2.Next())
	require.Nil(t, n2.Prev())
	require.Zero(t, n2.Value())
	require.False(t, n1.Reclaimed())
}
