package tdb

import (
	"errors"
	"fmt"
	"unsafe"

	"go.etcd.io/bbolt"
)

// boltKeyStore maps the tree onto Bolt: every nested mapping is a nested
// bucket, every leaf is a key/value pair inside its parent bucket.
type boltKeyStore struct {
	bdb *bbolt.DB
}

func newBoltKeyStore(bdb *bbolt.DB) KeyStore {
	return &boltKeyStore{bdb: bdb}
}

func (s *boltKeyStore) View(fn func(tree Tree) error) error {
	return s.bdb.View(func(btx *bbolt.Tx) error {
		return fn(boltTree{btx})
	})
}

func (s *boltKeyStore) Update(fn func(tree Tree) error) error {
	return s.bdb.Update(func(btx *bbolt.Tx) error {
		return fn(boltTree{btx})
	})
}

func (s *boltKeyStore) Close() error {
	return s.bdb.Close()
}

type boltTree struct {
	btx *bbolt.Tx
}

func (tree boltTree) Writable() bool { return tree.btx.Writable() }

func (tree boltTree) Root(name string) (Node, error) {
	if name == "" {
		return nil, fmt.Errorf("tdb: empty root name")
	}
	if !tree.btx.Writable() {
		b := tree.btx.Bucket(unsafeBytesFromString(name))
		if b == nil {
			return nil, nil
		}
		return boltNode{b}, nil
	}
	b, err := tree.btx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("tdb: creating root %q: %w", name, err)
	}
	return boltNode{b}, nil
}

func (tree boltTree) Roots() []string {
	var names []string
	ensure(tree.btx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
		names = append(names, string(name))
		return nil
	}))
	return names
}

type boltNode struct {
	b *bbolt.Bucket
}

func (n boltNode) Get(comp string) Entry {
	if comp == "" {
		return Entry{}
	}
	key := unsafeBytesFromString(comp)
	if sub := n.b.Bucket(key); sub != nil {
		return Entry{Node: boltNode{sub}}
	}
	if v := n.b.Get(key); v != nil {
		return Entry{Leaf: v}
	}
	return Entry{}
}

func (n boltNode) Sub(comp string) (Node, error) {
	if comp == "" {
		return nil, errEmptyComponent
	}
	key := []byte(comp)
	if sub := n.b.Bucket(key); sub != nil {
		return boltNode{sub}, nil
	}
	if v := n.b.Get(key); v != nil {
		if err := n.b.Delete(key); err != nil {
			return nil, err
		}
	}
	sub, err := n.b.CreateBucket(key)
	if err != nil {
		return nil, err
	}
	return boltNode{sub}, nil
}

func (n boltNode) Put(comp string, leaf []byte) error {
	if comp == "" {
		return errEmptyComponent
	}
	key := []byte(comp)
	if n.b.Bucket(key) != nil {
		if err := n.b.DeleteBucket(key); err != nil {
			return err
		}
	}
	if leaf == nil {
		leaf = []byte{}
	}
	return n.b.Put(key, leaf)
}

func (n boltNode) Delete(comp string) error {
	if comp == "" {
		return nil
	}
	key := unsafeBytesFromString(comp)
	if n.b.Bucket(key) != nil {
		return n.b.DeleteBucket(key)
	}
	err := n.b.Delete(key)
	if errors.Is(err, bbolt.ErrIncompatibleValue) {
		return nil
	}
	return err
}

func (n boltNode) ForEach(fn func(comp string, e Entry) error) error {
	return n.b.ForEach(func(k, v []byte) error {
		if v == nil {
			return fn(string(k), Entry{Node: boltNode{n.b.Bucket(k)}})
		}
		return fn(string(k), Entry{Leaf: v})
	})
}

func (n boltNode) Len() int {
	var count int
	c := n.b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		count++
	}
	return count
}

var errEmptyComponent = errors.New("tdb: empty path component")

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
