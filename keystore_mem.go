package tdb

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

var (
	errStoreClosed = errors.New("tdb: key store closed")
	errReadOnly    = errors.New("tdb: tree not writable")
)

type memKeyStore struct {
	mu     sync.Mutex
	cond   *sync.Cond
	roots  map[string]*memNode
	closed bool
	writer bool
}

// NewMemKeyStore returns a transient in-memory KeyStore. Update works on a
// private copy of the whole tree which replaces the shared one on success,
// so a failed Update leaves no trace; committed trees are never mutated, so
// View reads them without copying.
func NewMemKeyStore() KeyStore {
	s := &memKeyStore{roots: make(map[string]*memNode)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memKeyStore) View(fn func(tree Tree) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errStoreClosed
	}
	roots := s.roots
	s.mu.Unlock()
	return fn(&memTree{roots: roots})
}

func (s *memKeyStore) Update(fn func(tree Tree) error) error {
	s.mu.Lock()
	for s.writer && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		s.mu.Unlock()
		return errStoreClosed
	}
	s.writer = true
	snap := make(map[string]*memNode, len(s.roots))
	for k, n := range s.roots {
		snap[k] = n.clone()
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.writer = false
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	tree := &memTree{roots: snap, writable: true}
	if err := fn(tree); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}
	s.roots = snap
	return nil
}

func (s *memKeyStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.roots = nil
	s.cond.Broadcast()
	return nil
}

type memTree struct {
	roots    map[string]*memNode
	writable bool
}

func (tree *memTree) Writable() bool { return tree.writable }

func (tree *memTree) Root(name string) (Node, error) {
	if name == "" {
		return nil, fmt.Errorf("tdb: empty root name")
	}
	n := tree.roots[name]
	if n == nil {
		if !tree.writable {
			return nil, nil
		}
		n = &memNode{}
		tree.roots[name] = n
	}
	return memNodeHandle{tree: tree, n: n}, nil
}

func (tree *memTree) Roots() []string {
	names := make([]string, 0, len(tree.roots))
	for name := range tree.roots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type memNode struct {
	children map[string]*memEntry
}

type memEntry struct {
	node *memNode
	leaf []byte
}

func (n *memNode) clone() *memNode {
	if n == nil {
		return nil
	}
	out := &memNode{}
	if len(n.children) > 0 {
		out.children = make(map[string]*memEntry, len(n.children))
		for k, e := range n.children {
			if e.node != nil {
				out.children[k] = &memEntry{node: e.node.clone()}
			} else {
				out.children[k] = &memEntry{leaf: slices.Clone(e.leaf)}
			}
		}
	}
	return out
}

func (n *memNode) set(comp string, e *memEntry) {
	if n.children == nil {
		n.children = make(map[string]*memEntry)
	}
	n.children[comp] = e
}

type memNodeHandle struct {
	tree *memTree
	n    *memNode
}

func (h memNodeHandle) entry(e *memEntry) Entry {
	if e == nil {
		return Entry{}
	}
	if e.node != nil {
		return Entry{Node: memNodeHandle{tree: h.tree, n: e.node}}
	}
	return Entry{Leaf: e.leaf}
}

func (h memNodeHandle) Get(comp string) Entry {
	return h.entry(h.n.children[comp])
}

func (h memNodeHandle) Sub(comp string) (Node, error) {
	if !h.tree.writable {
		return nil, errReadOnly
	}
	if comp == "" {
		return nil, errEmptyComponent
	}
	e := h.n.children[comp]
	if e == nil || e.node == nil {
		e = &memEntry{node: &memNode{}}
		h.n.set(comp, e)
	}
	return memNodeHandle{tree: h.tree, n: e.node}, nil
}

func (h memNodeHandle) Put(comp string, leaf []byte) error {
	if !h.tree.writable {
		return errReadOnly
	}
	if comp == "" {
		return errEmptyComponent
	}
	if leaf == nil {
		leaf = []byte{}
	}
	h.n.set(comp, &memEntry{leaf: slices.Clone(leaf)})
	return nil
}

func (h memNodeHandle) Delete(comp string) error {
	if !h.tree.writable {
		return errReadOnly
	}
	delete(h.n.children, comp)
	return nil
}

func (h memNodeHandle) ForEach(fn func(comp string, e Entry) error) error {
	comps := make([]string, 0, len(h.n.children))
	for k := range h.n.children {
		comps = append(comps, k)
	}
	sort.Strings(comps)
	for _, k := range comps {
		if err := fn(k, h.entry(h.n.children[k])); err != nil {
			return err
		}
	}
	return nil
}

func (h memNodeHandle) Len() int {
	return len(h.n.children)
}
