package treebin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBinEntryKinds(t *testing.T) {
	n := NewNode(uint64(1), "a", 1, nil)
	tn := NewTreeNode(uint64(2), "b", 2)
	b := NewTreeBin(LinkTreeNodes(NewTreeNode(uint64(3), "c", 3)))
	moved := NewMovedEntry[string, int]()

	for _, tt := range []struct {
		e    *BinEntry[string, int]
		kind BinKind
		name string
	}{
		{n.Entry(), KindNode, "node"},
		{tn.Entry(), KindTreeNode, "treenode"},
		{b.Entry(), KindTree, "tree"},
		{moved, KindMoved, "moved"},
	} {
		require.Equal(t, tt.kind, tt.e.Kind())
		require.Equal(t, tt.name, tt.e.String())
		require.Equal(t, tt.kind == KindMoved, tt.e.IsMoved())
		require.Equal(t, tt.kind == KindNode, tt.e.AsNode() != nil)
		require.Equal(t, tt.kind == KindTreeNode, tt.e.AsTreeNode() != nil)
		require.Equal(t, tt.kind == KindTree, tt.e.AsTreeBin() != nil)
	}

	require.Same(t, n, n.Entry().AsNode())
	require.Same(t, tn, tn.Entry().AsTreeNode())
	require.Same(t, n.Entry(), n.Entry())
	require.Equal(t, "unknown", BinKind(42).String())
}

func TestBinEntryNil(t *testing.T) {
	var e *BinEntry[int, int]
	require.Nil(t, e.AsNode())
	require.Nil(t, e.AsTreeNode())
	require.Nil(t, e.AsTreeBin())
	require.False(t, e.IsMoved())
	require.Equal(t, "<nil>", e.String())
}

func TestNodeChain(t *testing.T) {
	c := NewNode(uint64(3), 3, 30, nil)
	b := NewNode(uint64(2), 2, 20, c.Entry())
	a := NewNode(uint64(1), 1, 10, b.Entry())

	var keys []int
	for n := a; n != nil; n = n.Next().AsNode() {
		keys = append(keys, n.Key())
	}
	require.Equal(t, []int{1, 2, 3}, keys)

	a.SetNext(c.Entry())
	require.Same(t, c, a.Next().AsNode())
	require.Equal(t, uint64(1), a.Hash())
	require.Equal(t, 10, a.Value())

	a.Lock()
	a.Unlock()
}
