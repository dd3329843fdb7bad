package treebin_test

import (
	"fmt"

	"github.com/llxisdsh/treebin"
	"github.com/llxisdsh/treebin/epoch"
)

func ExampleTreeBin() {
	var nodes []*treebin.TreeNode[string, int]
	for i, k := range []string{"m", "c", "x", "a"} {
		nodes = append(nodes, treebin.NewTreeNode(uint64(7), k, i))
	}
	b := treebin.NewTreeBin(treebin.LinkTreeNodes(nodes...))

	g := epoch.Pin()
	defer g.Unpin()

	if n := treebin.Find(b.Entry(), 7, "x", g); n != nil {
		fmt.Println(n.Key(), n.Value())
	}
	b.RemoveTreeNode(b.Find(7, "c", g), true, g)
	fmt.Println(b.String(), b.Len())
	// Output:
	// x 2
	// (b m (b a) (b x)) 3
}
