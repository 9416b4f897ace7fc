package tdb

import (
	"fmt"
	"slices"
)

// Store saves, loads, deletes and lists the records of one schema. Obtain it
// from DB.Store; it is safe to share.
//
// Records live at <schema>/<k1>/.../<kN> where k1..kN are the stringified
// primary-key values in declaration order: the first N-1 levels are nested
// mappings and the last one holds the StoredLeaf.
type Store struct {
	db     *DB
	schema *Schema
}

func (s *Store) Schema() *Schema { return s.schema }
func (s *Store) DB() *DB         { return s.db }

// New returns an empty record of this schema.
func (s *Store) New() *Record {
	return newRecord(s)
}

// Construct returns a record with the given values, type-checked.
func (s *Store) Construct(values map[string]any) (*Record, error) {
	rec := newRecord(s)
	for name, v := range values {
		if err := rec.Set(name, v); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// MustConstruct is Construct that panics on error.
func (s *Store) MustConstruct(values map[string]any) *Record {
	return must(s.Construct(values))
}

// Save writes the record and returns its primary key. Records referenced by
// the record are saved first and stored as references. All primary-key
// attributes must be bound, otherwise ErrIncompleteKey is returned and
// nothing is written.
//
// Intermediate path levels are created as needed. A leaf found where a
// nested mapping is needed, which happens when keys of different arity
// share a prefix, is discarded and replaced; key arity is fixed per schema,
// so this only occurs with data written under an older declaration.
func (s *Store) Save(rec *Record) (KeyMap, error) {
	if rec.schema != s.schema {
		return nil, schemaErrf(s.schema, "", ErrTypeMismatch, "cannot save a %s record", rec.schema.name)
	}
	var km KeyMap
	sc := &saveCtx{db: s.db, visited: make(map[*Record]KeyMap)}
	err := s.db.ks.Update(func(tree Tree) error {
		sc.tree = tree
		sc.changes = sc.changes[:0]
		clear(sc.visited)
		var err error
		km, err = sc.save(rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return km, s.db.publish(sc.changes)
}

type saveCtx struct {
	db      *DB
	tree    Tree
	visited map[*Record]KeyMap
	changes []*Change
}

func (sc *saveCtx) save(rec *Record) (KeyMap, error) {
	if km, ok := sc.visited[rec]; ok {
		return km, nil
	}
	scm := rec.schema
	pk := scm.Primary()
	km, err := rec.Key()
	if err != nil {
		return nil, err
	}
	sc.visited[rec] = km

	leaf := make(StoredLeaf, len(scm.attrs))
	for _, attr := range scm.attrs {
		if attr.isKey {
			continue
		}
		switch v := rec.slots[attr.pos].(type) {
		case nil:
			continue
		case *Record:
			refKey, err := sc.save(v)
			if err != nil {
				return nil, fmt.Errorf("%v: %w", attr, err)
			}
			leaf[attr.name] = RefValue(v.schema.name, refKey)
		case *Ref:
			leaf[attr.name] = RefValue(v.schema.name, v.key)
		default:
			enc, err := attr.Encode(v)
			if err != nil {
				return nil, fmt.Errorf("%v: encoding: %w", attr, err)
			}
			leaf[attr.name] = ScalarValue(enc)
		}
	}

	que := pk.BuildQue(km)
	parent, err := sc.tree.Root(scm.name)
	if err != nil {
		return nil, err
	}
	for _, comp := range que[:len(que)-1] {
		parent, err = parent.Sub(comp)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", scm.name, pk.KeyString(km), err)
		}
	}
	leafKey := que[len(que)-1]

	if len(scm.indices) > 1 {
		var oldSlots []any
		if old := parent.Get(leafKey); old.IsLeaf() {
			oldSlots, err = sc.db.storeOf(scm).decodeSlots(km, old.Leaf)
			if err != nil {
				return nil, err
			}
		}
		if err := updateSecondaryEntries(sc.tree, scm, km, oldSlots, rec.slots); err != nil {
			return nil, err
		}
	}

	data := leaf.encode()
	if err := parent.Put(leafKey, data); err != nil {
		return nil, fmt.Errorf("%s/%s: %w", scm.name, pk.KeyString(km), err)
	}
	if sc.db.verbose {
		sc.db.logf("db: SAVE %s/%s => %v", scm.name, pk.KeyString(km), rec)
	}
	sc.changes = append(sc.changes, &Change{schema: scm, op: OpSave, key: km, record: rec})
	return km, nil
}

// updateSecondaryEntries moves the record's secondary index entries from
// the values in oldSlots (nil for a new record) to those in newSlots (nil
// when deleting).
func updateSecondaryEntries(tree Tree, scm *Schema, pk KeyMap, oldSlots, newSlots []any) error {
	for _, idx := range scm.indices[1:] {
		var oldQue, newQue []string
		var hadOld, hasNew bool
		if oldSlots != nil {
			oldQue, hadOld = idx.entryQue(oldSlots)
		}
		if newSlots != nil {
			newQue, hasNew = idx.entryQue(newSlots)
		}
		if hadOld && (!hasNew || !slices.Equal(oldQue, newQue)) {
			if err := idx.deleteEntry(tree, oldQue, pk); err != nil {
				return fmt.Errorf("%s: %w", idx.FullName(), err)
			}
		}
		if hasNew {
			if err := idx.putEntry(tree, newQue, pk); err != nil {
				return fmt.Errorf("%s: %w", idx.FullName(), err)
			}
		}
	}
	return nil
}

func (s *Store) completeKey(params any) (KeyMap, error) {
	pk := s.schema.Primary()
	km, err := pk.BuildKey(params)
	if err != nil {
		return nil, err
	}
	if err := pk.requireComplete(km); err != nil {
		return nil, err
	}
	return km, nil
}

// Load returns the record with the given complete primary key, or nil if
// there is none. params is anything Index.BuildKey accepts. Stored references
// to other records come back as unresolved *Ref values.
func (s *Store) Load(params any) (*Record, error) {
	km, err := s.completeKey(params)
	if err != nil {
		return nil, err
	}
	var rec *Record
	err = s.db.ks.View(func(tree Tree) error {
		var err error
		rec, err = s.loadIn(tree, km)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.db.verbose {
		if rec != nil {
			s.db.logf("db: LOAD %s/%s => %v", s.schema.name, s.schema.Primary().KeyString(km), rec)
		} else {
			s.db.logf("db: LOAD.NOTFOUND %s/%s", s.schema.name, s.schema.Primary().KeyString(km))
		}
	}
	return rec, nil
}

// findParent navigates to the mapping holding a record's leaf. Returns nil if any
// step is absent or not a nested mapping.
func (s *Store) findParent(tree Tree, km KeyMap) (Node, string, error) {
	node, err := tree.Root(s.schema.name)
	if err != nil || node == nil {
		return nil, "", err
	}
	que := s.schema.Primary().BuildQue(km)
	for _, comp := range que[:len(que)-1] {
		e := node.Get(comp)
		if !e.IsNode() {
			return nil, "", nil
		}
		node = e.Node
	}
	return node, que[len(que)-1], nil
}

func (s *Store) loadIn(tree Tree, km KeyMap) (*Record, error) {
	parent, leafKey, err := s.findParent(tree, km)
	if err != nil || parent == nil {
		return nil, err
	}
	e := parent.Get(leafKey)
	if !e.IsLeaf() {
		return nil, nil
	}
	return s.decodeRecord(km, e.Leaf)
}

func (s *Store) decodeRecord(km KeyMap, data []byte) (*Record, error) {
	slots, err := s.decodeSlots(km, data)
	if err != nil {
		return nil, err
	}
	rec := newRecord(s)
	rec.slots = slots
	return rec, nil
}

func (s *Store) decodeSlots(km KeyMap, data []byte) ([]any, error) {
	leaf, err := decodeLeaf(data)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", s.schema.name, s.schema.Primary().KeyString(km), err)
	}
	slots := make([]any, len(s.schema.attrs))
	for _, attr := range s.schema.attrs {
		if attr.isKey {
			v, err := attr.Parse(km[attr.name])
			if err != nil {
				return nil, fmt.Errorf("%v: parsing key component %q: %w", attr, km[attr.name], err)
			}
			slots[attr.pos] = v
			continue
		}
		sv := leaf[attr.name]
		switch sv.Kind {
		case ForeignRef:
			target := s.schema.catalog.SchemaNamed(sv.ClassName)
			if target == nil {
				return nil, fmt.Errorf("%v: reference to unknown schema %q", attr, sv.ClassName)
			}
			slots[attr.pos] = newRef(s.db.storeOf(target), sv.Key)
		case Scalar:
			v, err := attr.Decode(sv.Scalar)
			if err != nil {
				return nil, fmt.Errorf("%v: decoding: %w", attr, err)
			}
			slots[attr.pos] = v
		}
	}
	return slots, nil
}

// Delete removes the record with the given complete primary key and
// returns false if there was none. Now-empty intermediate mappings are left
// in place; they cost a little space but do not affect lookups.
func (s *Store) Delete(params any) (bool, error) {
	km, err := s.completeKey(params)
	if err != nil {
		return false, err
	}
	var found bool
	err = s.db.ks.Update(func(tree Tree) error {
		found = false
		parent, leafKey, err := s.findParent(tree, km)
		if err != nil || parent == nil {
			return err
		}
		e := parent.Get(leafKey)
		if !e.IsLeaf() {
			return nil
		}
		if len(s.schema.indices) > 1 {
			oldSlots, err := s.decodeSlots(km, e.Leaf)
			if err != nil {
				return err
			}
			if err := updateSecondaryEntries(tree, s.schema, km, oldSlots, nil); err != nil {
				return err
			}
		}
		found = true
		return parent.Delete(leafKey)
	})
	if err != nil {
		return false, err
	}
	if s.db.verbose {
		s.db.logf("db: DELETE%s %s/%s", map[bool]string{false: ".NOTFOUND", true: ""}[found], s.schema.name, s.schema.Primary().KeyString(km))
	}
	if !found {
		return false, nil
	}
	return true, s.db.publish([]*Change{{schema: s.schema, op: OpDelete, key: km}})
}

// ListAll returns every record of the schema, in key store order.
func (s *Store) ListAll() ([]*Record, error) {
	var recs []*Record
	err := s.db.ks.View(func(tree Tree) error {
		var err error
		recs, err = s.listAllIn(tree)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.db.verbose {
		s.db.logf("db: LIST %s => %d", s.schema.name, len(recs))
	}
	return recs, nil
}

func (s *Store) listAllIn(tree Tree) ([]*Record, error) {
	root, err := tree.Root(s.schema.name)
	if err != nil || root == nil {
		return nil, err
	}
	pk := s.schema.Primary()
	frontier := []keyWalk{{KeyMap{}, root}}
	for _, attr := range pk.attrs[:len(pk.attrs)-1] {
		var next []keyWalk
		for _, w := range frontier {
			err := w.node.ForEach(func(comp string, e Entry) error {
				if e.IsNode() {
					next = append(next, keyWalk{w.key.with(attr.name, comp), e.Node})
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
		frontier = next
	}

	last := pk.attrs[len(pk.attrs)-1]
	var recs []*Record
	for _, w := range frontier {
		err := w.node.ForEach(func(comp string, e Entry) error {
			if !e.IsLeaf() {
				return nil
			}
			rec, err := s.decodeRecord(w.key.with(last.name, comp), e.Leaf)
			if err != nil {
				return err
			}
			recs = append(recs, rec)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// LookupKeys completes a partial key on the named index into the primary
// keys of all matching records.
func (s *Store) LookupKeys(indexName string, params any) ([]KeyMap, error) {
	idx := s.schema.IndexNamed(indexName)
	if idx == nil {
		return nil, &SchemaError{Schema: s.schema, Msg: fmt.Sprintf("no index named %q", indexName)}
	}
	km, err := idx.BuildKey(params)
	if err != nil {
		return nil, err
	}
	var keys []KeyMap
	err = s.db.ks.View(func(tree Tree) error {
		var err error
		keys, err = idx.lookupKeys(tree, km)
		return err
	})
	return keys, err
}

// Query starts a new query against this store.
func (s *Store) Query() *Query {
	return &Query{store: s}
}

// All returns a collection of every record of the schema.
func (s *Store) All() (*Collection, error) {
	recs, err := s.ListAll()
	if err != nil {
		return nil, err
	}
	return newCollection(s, recs), nil
}

// Filter returns a collection of the records matching spec; see
// Collection.Filter.
func (s *Store) Filter(spec any) (*Collection, error) {
	c := newCollection(s, nil)
	if err := c.Filter(spec); err != nil {
		return nil, err
	}
	return c, nil
}

func (km KeyMap) with(name, comp string) KeyMap {
	out := make(KeyMap, len(km)+1)
	for k, v := range km {
		out[k] = v
	}
	out[name] = comp
	return out
}
