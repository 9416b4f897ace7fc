package tdb

import (
	"sync/atomic"
)

// Ref is a deferred reference to a record of another (or the same) schema,
// created by Load in place of a stored reference. Nothing is read until
// Resolve is called, which is what makes loading cyclic record graphs
// terminate.
type Ref struct {
	store    *Store
	schema   *Schema
	key      KeyMap
	resolved atomic.Pointer[Record]
}

func newRef(store *Store, key KeyMap) *Ref {
	return &Ref{store: store, schema: store.schema, key: key}
}

func (ref *Ref) Schema() *Schema { return ref.schema }
func (ref *Ref) Key() KeyMap     { return ref.key }

// Resolved returns the record if Resolve has already succeeded, nil otherwise.
func (ref *Ref) Resolved() *Record {
	return ref.resolved.Load()
}

// Resolve loads the referenced record once; later calls return the same
// instance. Concurrent calls may both load, but only one result is kept and
// returned to everyone. A dangling reference resolves to nil and is retried
// on the next call.
func (ref *Ref) Resolve() (*Record, error) {
	if rec := ref.resolved.Load(); rec != nil {
		return rec, nil
	}
	rec, err := ref.store.Load(ref.key)
	if err != nil || rec == nil {
		return nil, err
	}
	if ref.resolved.CompareAndSwap(nil, rec) {
		return rec, nil
	}
	return ref.resolved.Load(), nil
}

func (ref *Ref) String() string {
	return ref.schema.name + "/" + ref.schema.Primary().KeyString(ref.key)
}
