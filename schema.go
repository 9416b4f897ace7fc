package tdb

import (
	"fmt"
	"strings"
)

// PrimaryKeyIndexName is the name of every schema's index 0.
const PrimaryKeyIndexName = "primary_key"

// Schema describes one record type: its ordered attributes and its ordered
// indexes, the first of which is always the primary-key index over the key
// attributes in declaration order.
type Schema struct {
	catalog       *Catalog
	name          string
	pos           int // index in catalog.schemas
	attrs         []*Attribute
	attrsByName   map[string]*Attribute
	indices       []*Index
	indicesByName map[string]*Index
	predicates    map[string]func(rec *Record) bool
}

// AddSchema declares a record type. At least one attribute must be a key.
// Panics on invalid declarations.
func AddSchema(cat *Catalog, name string, attrs ...*Attribute) *Schema {
	if name == "" {
		panic("schema name must not be empty")
	}
	scm := &Schema{
		catalog:       cat,
		name:          name,
		attrsByName:   make(map[string]*Attribute),
		indicesByName: make(map[string]*Index),
		predicates:    make(map[string]func(rec *Record) bool),
	}

	var keyAttrs []*Attribute
	for _, attr := range attrs {
		if attr.schema != nil {
			panic(fmt.Errorf("%s: attribute %s already belongs to schema %s", name, attr.name, attr.schema.name))
		}
		if attr.name == "" {
			panic(fmt.Errorf("%s: attribute name must not be empty", name))
		}
		if attr.name == classNameField {
			panic(fmt.Errorf("%s: attribute name %q is reserved", name, classNameField))
		}
		if scm.attrsByName[attr.name] != nil {
			panic(fmt.Errorf("%s: duplicate attribute %q", name, attr.name))
		}
		if attr.typ == Reference && attr.target == "" {
			panic(fmt.Errorf("%s: reference attribute %q has no target schema", name, attr.name))
		}
		attr.schema = scm
		attr.pos = len(scm.attrs)
		scm.attrs = append(scm.attrs, attr)
		scm.attrsByName[attr.name] = attr
		if attr.isKey {
			keyAttrs = append(keyAttrs, attr)
		}
	}
	if len(keyAttrs) == 0 {
		panic(fmt.Errorf("%s: at least one key attribute is required", name))
	}

	scm.addIndex(newIndex(scm, PrimaryKeyIndexName, keyAttrs, true))
	cat.addSchema(scm)
	return scm
}

// AddIndex declares a secondary index over the given fields, in order.
func (scm *Schema) AddIndex(name string, fields ...string) *Schema {
	scm.catalog.requireMutable()
	if len(fields) == 0 {
		panic(fmt.Errorf("%s: index %q has no fields", scm.name, name))
	}
	if strings.ContainsRune(name, indexRootSep) || name == "" {
		panic(fmt.Errorf("%s: invalid index name %q", scm.name, name))
	}
	attrs := make([]*Attribute, 0, len(fields))
	seen := make(map[string]bool)
	for _, f := range fields {
		attr := scm.attrsByName[f]
		if attr == nil {
			panic(fmt.Errorf("%s: index %q references unknown field %q", scm.name, name, f))
		}
		if attr.typ == Reference {
			panic(fmt.Errorf("%s: index %q cannot include reference field %q", scm.name, name, f))
		}
		if seen[f] {
			panic(fmt.Errorf("%s: index %q lists field %q twice", scm.name, name, f))
		}
		seen[f] = true
		attrs = append(attrs, attr)
	}
	scm.addIndex(newIndex(scm, name, attrs, false))
	return scm
}

func (scm *Schema) addIndex(idx *Index) {
	if scm.indicesByName[idx.name] != nil {
		panic(fmt.Errorf("schema %s already has index named %q", scm.name, idx.name))
	}
	idx.pos = len(scm.indices)
	scm.indices = append(scm.indices, idx)
	scm.indicesByName[idx.name] = idx
}

// AddPredicate registers a named predicate usable as a Collection filter.
func (scm *Schema) AddPredicate(name string, pred func(rec *Record) bool) *Schema {
	scm.catalog.requireMutable()
	if pred == nil {
		panic(fmt.Errorf("%s: nil predicate %q", scm.name, name))
	}
	if scm.predicates[name] != nil {
		panic(fmt.Errorf("%s: duplicate predicate %q", scm.name, name))
	}
	scm.predicates[name] = pred
	return scm
}

func (scm *Schema) Name() string {
	return scm.name
}

func (scm *Schema) Catalog() *Catalog {
	return scm.catalog
}

func (scm *Schema) Attributes() []*Attribute {
	return append([]*Attribute(nil), scm.attrs...)
}

func (scm *Schema) Attribute(name string) *Attribute {
	return scm.attrsByName[name]
}

func (scm *Schema) Indexes() []*Index {
	return append([]*Index(nil), scm.indices...)
}

func (scm *Schema) IndexNamed(name string) *Index {
	return scm.indicesByName[name]
}

// Primary returns the primary-key index.
func (scm *Schema) Primary() *Index {
	return scm.indices[0]
}

func (scm *Schema) Predicate(name string) func(rec *Record) bool {
	return scm.predicates[name]
}

func (scm *Schema) String() string {
	return scm.name
}

func (scm *Schema) requireAttr(name string) (*Attribute, error) {
	attr := scm.attrsByName[name]
	if attr == nil {
		return nil, schemaErrf(scm, name, ErrUnknownField, "")
	}
	return attr, nil
}
