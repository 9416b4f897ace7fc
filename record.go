package tdb

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Record is a live instance of a schema: current attribute values plus the
// store it belongs to. A reference attribute holds either a *Record or an
// unresolved *Ref; use Ref to get the record either way.
//
// Records are not safe for concurrent mutation.
type Record struct {
	store  *Store
	schema *Schema
	slots  []any
}

func newRecord(store *Store) *Record {
	return &Record{
		store:  store,
		schema: store.schema,
		slots:  make([]any, len(store.schema.attrs)),
	}
}

func (r *Record) Schema() *Schema { return r.schema }
func (r *Record) Store() *Store   { return r.store }

func (r *Record) mustAttr(name string) *Attribute {
	attr := r.schema.attrsByName[name]
	if attr == nil {
		panic(fmt.Errorf("%s has no attribute %q", r.schema.name, name))
	}
	return attr
}

// Get returns the current value of the named attribute; nil when missing.
// For a reference attribute the value may be an unresolved *Ref.
// Panics if the schema has no such attribute.
func (r *Record) Get(name string) any {
	return r.slots[r.mustAttr(name).pos]
}

// Set type-checks and stores a value. Setting nil clears the attribute.
func (r *Record) Set(name string, v any) error {
	attr, err := r.schema.requireAttr(name)
	if err != nil {
		return err
	}
	v, err = attr.Check(v)
	if err != nil {
		return err
	}
	r.slots[attr.pos] = v
	return nil
}

// MustSet is Set that panics on error, for tests and static data.
func (r *Record) MustSet(name string, v any) *Record {
	ensure(r.Set(name, v))
	return r
}

// Ref returns the record referenced by the named attribute, resolving a
// deferred reference on first access and replacing it in the slot, so that
// repeated calls return the same instance. Returns nil if the attribute is
// missing or the referenced record does not exist.
func (r *Record) Ref(name string) (*Record, error) {
	attr := r.mustAttr(name)
	switch v := r.slots[attr.pos].(type) {
	case nil:
		return nil, nil
	case *Record:
		return v, nil
	case *Ref:
		rec, err := v.Resolve()
		if err != nil {
			return nil, fmt.Errorf("%v: resolving %v: %w", attr, v, err)
		}
		if rec != nil {
			r.slots[attr.pos] = rec
		}
		return rec, nil
	default:
		return nil, schemaErrf(r.schema, name, ErrTypeMismatch, "not a reference")
	}
}

// IsResolved returns false if the named attribute holds an unresolved
// deferred reference.
func (r *Record) IsResolved(name string) bool {
	_, deferred := r.slots[r.mustAttr(name).pos].(*Ref)
	return !deferred
}

// Key returns the record's primary key; fails with ErrIncompleteKey if any
// key attribute is missing.
func (r *Record) Key() (KeyMap, error) {
	pk := r.schema.Primary()
	km, err := pk.BuildKey(r)
	if err != nil {
		return nil, err
	}
	if err := pk.requireComplete(km); err != nil {
		return nil, err
	}
	return km, nil
}

func (r *Record) keyString() string {
	km, _ := r.schema.Primary().BuildKey(r)
	return r.schema.Primary().KeyString(km)
}

func (r *Record) Save() (KeyMap, error) {
	return r.store.Save(r)
}

func (r *Record) Delete() (bool, error) {
	return r.store.Delete(r)
}

// Values returns the non-missing attribute values by name.
func (r *Record) Values() map[string]any {
	m := make(map[string]any, len(r.slots))
	for _, attr := range r.schema.attrs {
		if v := r.slots[attr.pos]; v != nil {
			m[attr.name] = v
		}
	}
	return m
}

// MarshalJSON renders the record as an object of its non-missing values.
// References are rendered the way they are stored: an object with class_name
// and the primary-key fields of the referenced record.
func (r *Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.slots))
	for _, attr := range r.schema.attrs {
		switch v := r.slots[attr.pos].(type) {
		case nil:
			continue
		case *Record:
			km, err := v.Key()
			if err != nil {
				return nil, fmt.Errorf("%v: %w", attr, err)
			}
			m[attr.name] = refJSON(v.schema, km)
		case *Ref:
			m[attr.name] = refJSON(v.schema, v.key)
		default:
			m[attr.name] = v
		}
	}
	return json.Marshal(m)
}

func refJSON(scm *Schema, km KeyMap) map[string]string {
	m := make(map[string]string, len(km)+1)
	for k, v := range km {
		m[k] = v
	}
	m[classNameField] = scm.name
	return m
}

func (r *Record) String() string {
	var buf strings.Builder
	buf.WriteString(r.schema.name)
	buf.WriteByte('{')
	first := true
	for _, attr := range r.schema.attrs {
		v := r.slots[attr.pos]
		if v == nil {
			continue
		}
		if !first {
			buf.WriteString(", ")
		}
		first = false
		buf.WriteString(attr.name)
		buf.WriteString(": ")
		switch v := v.(type) {
		case *Record:
			buf.WriteString(v.schema.name + "/" + v.keyString())
		case *Ref:
			buf.WriteString(v.String() + "?")
		default:
			buf.WriteString(attr.Stringify(v))
		}
	}
	buf.WriteByte('}')
	return buf.String()
}
