package treebin

// Option configures a TreeBin while it is being built.
type Option[K any, V any] interface {
	apply(b *TreeBin[K, V])
}

type valueDestructorOption[K any, V any] struct {
	destroy func(V)
}

func (op valueDestructorOption[K, V]) apply(b *TreeBin[K, V]) {
	b.destroyValue = op.destroy
}

// WithValueDestructor registers a function called with the value of every
// node removed with dropValue set, once the removal's grace period ends.
func WithValueDestructor[K any, V any](destroy func(V)) Option[K, V] {
	return valueDestructorOption[K, V]{destroy}
}

type nodeDestructorOption[K any, V any] struct {
	destroy func(*TreeNode[K, V])
}

func (op nodeDestructorOption[K, V]) apply(b *TreeBin[K, V]) {
	b.destroyNode = op.destroy
}

// WithNodeDestructor registers a function called with every removed node
// right before it is scrubbed, once the removal's grace period ends.
func WithNodeDestructor[K any, V any](destroy func(*TreeNode[K, V])) Option[K, V] {
	return nodeDestructorOption[K, V]{destroy}
}
