package tdb

// KeyStore is a persistent hierarchical mapping from sequences of string
// path components to either a nested mapping (Node) or a leaf value (bytes).
// All access happens inside View or Update; the Tree and the Nodes obtained
// from it must not be used after the callback returns.
type KeyStore interface {
	View(fn func(tree Tree) error) error
	Update(fn func(tree Tree) error) error
	Close() error
}

// Tree is the entry point of a KeyStore transaction.
type Tree interface {
	// Writable returns true inside Update.
	Writable() bool

	// Root returns the top-level mapping for the given name. Inside Update,
	// the root is created on first use. Inside View, a root that was never
	// created is returned as nil.
	Root(name string) (Node, error)

	// Roots lists the names of existing roots in ascending order.
	Roots() []string
}

// Node is a nested mapping.
type Node interface {
	// Get returns the entry stored under comp; the zero Entry if absent.
	Get(comp string) Entry

	// Sub returns the nested mapping under comp, creating it when absent.
	// A leaf stored under comp is discarded and replaced by an empty mapping.
	Sub(comp string) (Node, error)

	// Put stores a leaf under comp, replacing any previous leaf or subtree.
	Put(comp string, leaf []byte) error

	// Delete removes whatever is stored under comp. Deleting an absent entry
	// is not an error.
	Delete(comp string) error

	// ForEach calls fn for every child in ascending byte order of components.
	// fn must not modify the node.
	ForEach(fn func(comp string, e Entry) error) error

	// Len returns the number of children.
	Len() int
}

// Entry is one child of a Node: a nested mapping, a leaf, or nothing.
type Entry struct {
	Node Node
	Leaf []byte
}

func (e Entry) Exists() bool { return e.Node != nil || e.Leaf != nil }
func (e Entry) IsNode() bool { return e.Node != nil }
func (e Entry) IsLeaf() bool { return e.Node == nil && e.Leaf != nil }
