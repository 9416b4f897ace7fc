package tdb

import (
	"fmt"
	"strconv"
	"strings"
)

// KeyMap maps index field names to stringified key components. The order of
// components is the order of the index's fields.
type KeyMap map[string]string

// Params is a set of named field values, used for partial or complete keys.
type Params map[string]any

// indexRootSep separates the schema name from the index name in the root
// name of a secondary index tree.
const indexRootSep = '.'

const keyStringSep = "|"

// Index owns an ordered subset of a schema's attributes. The field order is
// the path order in the key store: an index can only serve a bound prefix of
// its fields.
//
// The primary-key index stores records at <schema>/<k1>/.../<kN>. A secondary
// index stores, at <schema>.<index>/<v1>/.../<vM>/<record>, a leaf holding the
// record's primary KeyMap.
type Index struct {
	schema  *Schema
	pos     int // index in schema.indices
	name    string
	attrs   []*Attribute
	primary bool
}

func newIndex(scm *Schema, name string, attrs []*Attribute, primary bool) *Index {
	return &Index{
		schema:  scm,
		name:    name,
		attrs:   attrs,
		primary: primary,
	}
}

func (idx *Index) Name() string     { return idx.name }
func (idx *Index) Schema() *Schema  { return idx.schema }
func (idx *Index) IsPrimary() bool  { return idx.primary }
func (idx *Index) FullName() string { return idx.schema.name + "." + idx.name }
func (idx *Index) String() string   { return idx.FullName() }
func (idx *Index) Attributes() []*Attribute {
	return append([]*Attribute(nil), idx.attrs...)
}

func (idx *Index) Fields() []string {
	names := make([]string, len(idx.attrs))
	for i, attr := range idx.attrs {
		names[i] = attr.name
	}
	return names
}

func (idx *Index) rootName() string {
	if idx.primary {
		return idx.schema.name
	}
	return idx.schema.name + string(indexRootSep) + idx.name
}

// BuildKey builds a (possibly partial) key for this index from a record of
// the owning schema, from a single scalar when the index has exactly one
// field, or from Params / map[string]any / KeyMap, in which case only the
// fields present are included. Missing values are left out of the key.
func (idx *Index) BuildKey(src any) (KeyMap, error) {
	km := make(KeyMap, len(idx.attrs))
	switch src := src.(type) {
	case *Record:
		if src.schema != idx.schema {
			return nil, schemaErrf(idx.schema, "", ErrTypeMismatch, "cannot build a key from a %s record", src.schema.name)
		}
		for _, attr := range idx.attrs {
			if s := attr.Stringify(src.slots[attr.pos]); s != "" {
				km[attr.name] = s
			}
		}
	case KeyMap:
		for _, attr := range idx.attrs {
			if s, ok := src[attr.name]; ok && s != "" {
				km[attr.name] = s
			}
		}
	case Params:
		return idx.buildKeyFromMap(src)
	case map[string]any:
		return idx.buildKeyFromMap(src)
	default:
		if len(idx.attrs) != 1 {
			return nil, schemaErrf(idx.schema, "", ErrTypeMismatch, "a single %T value cannot key index %s with %d fields", src, idx.name, len(idx.attrs))
		}
		attr := idx.attrs[0]
		v, err := attr.Check(src)
		if err != nil {
			return nil, err
		}
		if s := attr.Stringify(v); s != "" {
			km[attr.name] = s
		}
	}
	return km, nil
}

func (idx *Index) buildKeyFromMap(params map[string]any) (KeyMap, error) {
	for name := range params {
		if idx.schema.attrsByName[name] == nil {
			return nil, schemaErrf(idx.schema, name, ErrUnknownField, "")
		}
	}
	km := make(KeyMap, len(idx.attrs))
	for _, attr := range idx.attrs {
		raw, ok := params[attr.name]
		if !ok {
			continue
		}
		v, err := attr.Check(raw)
		if err != nil {
			return nil, err
		}
		if s := attr.Stringify(v); s != "" {
			km[attr.name] = s
		}
	}
	return km, nil
}

// BuildQue returns the longest bound prefix of the key in field order: it
// stops at the first field missing from km.
func (idx *Index) BuildQue(km KeyMap) []string {
	que := make([]string, 0, len(idx.attrs))
	for _, attr := range idx.attrs {
		s, ok := km[attr.name]
		if !ok || s == "" {
			break
		}
		que = append(que, s)
	}
	return que
}

// CompleteKey returns true if names covers every field of the index.
func (idx *Index) CompleteKey(names []string) bool {
	for _, attr := range idx.attrs {
		found := false
		for _, n := range names {
			if n == attr.name {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (idx *Index) isComplete(km KeyMap) bool {
	for _, attr := range idx.attrs {
		if km[attr.name] == "" {
			return false
		}
	}
	return true
}

func (idx *Index) missingFields(km KeyMap) []string {
	var missing []string
	for _, attr := range idx.attrs {
		if km[attr.name] == "" {
			missing = append(missing, attr.name)
		}
	}
	return missing
}

func (idx *Index) requireComplete(km KeyMap) error {
	if missing := idx.missingFields(km); len(missing) > 0 {
		return &KeyError{Index: idx, Key: km, Missing: missing, Err: ErrIncompleteKey}
	}
	return nil
}

// KeyString renders the bound prefix of km for logs and messages.
func (idx *Index) KeyString(km KeyMap) string {
	return strings.Join(idx.BuildQue(km), keyStringSep)
}

// ParseKeyString is the inverse of KeyString for the primary index. Keys
// whose components contain '|' cannot round-trip through KeyString; write
// them in the quoted form "x|y"/"z" instead, one Go-quoted string per
// component joined by '/'.
func (idx *Index) ParseKeyString(s string) KeyMap {
	comps, ok := parseEntryName(s)
	if !ok {
		comps = strings.Split(s, keyStringSep)
	}
	km := make(KeyMap, len(comps))
	for i, attr := range idx.attrs {
		if i >= len(comps) {
			break
		}
		km[attr.name] = comps[i]
	}
	return km
}

// entryName is the unambiguous path component naming a record inside a
// secondary index.
func entryName(primary *Index, pk KeyMap) string {
	var buf strings.Builder
	for i, comp := range primary.BuildQue(pk) {
		if i > 0 {
			buf.WriteByte('/')
		}
		buf.WriteString(strconv.Quote(comp))
	}
	return buf.String()
}

func parseEntryName(s string) ([]string, bool) {
	if !strings.HasPrefix(s, `"`) {
		return nil, false
	}
	var comps []string
	for {
		q, err := strconv.QuotedPrefix(s)
		if err != nil {
			return nil, false
		}
		comp, err := strconv.Unquote(q)
		if err != nil {
			return nil, false
		}
		comps = append(comps, comp)
		s = s[len(q):]
		if s == "" {
			return comps, true
		}
		if s[0] != '/' {
			return nil, false
		}
		s = s[1:]
	}
}

type keyWalk struct {
	key  KeyMap
	node Node
}

// lookupKeys completes a partial key into every complete primary key stored
// under its bound prefix. For the primary index a complete key is returned
// as is without touching the store. Results follow the store's child order;
// callers must not rely on it.
func (idx *Index) lookupKeys(tree Tree, km KeyMap) ([]KeyMap, error) {
	if idx.primary && idx.isComplete(km) {
		out := make(KeyMap, len(idx.attrs))
		for _, attr := range idx.attrs {
			out[attr.name] = km[attr.name]
		}
		return []KeyMap{out}, nil
	}

	root, err := tree.Root(idx.rootName())
	if err != nil || root == nil {
		return nil, err
	}

	que := idx.BuildQue(km)
	node := root
	prefix := make(KeyMap, len(idx.attrs))
	for i, comp := range que {
		e := node.Get(comp)
		if !e.IsNode() {
			return nil, nil
		}
		node = e.Node
		prefix[idx.attrs[i].name] = comp
	}

	walk := []keyWalk{{prefix, node}}
	remaining := idx.attrs[len(que):]
	for i, attr := range remaining {
		last := idx.primary && i == len(remaining)-1
		want, bound := km[attr.name]
		var next []keyWalk
		for _, w := range walk {
			err := w.node.ForEach(func(comp string, e Entry) error {
				if bound && comp != want {
					return nil
				}
				if last != e.IsLeaf() {
					// a leaf at an intermediate level or a mapping at the
					// leaf level is left over from a colliding key
					return nil
				}
				next = append(next, keyWalk{w.key.with(attr.name, comp), e.Node})
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
		walk = next
		if len(walk) == 0 {
			return nil, nil
		}
	}

	if idx.primary {
		keys := make([]KeyMap, len(walk))
		for i, w := range walk {
			keys[i] = w.key
		}
		return keys, nil
	}

	var keys []KeyMap
	for _, w := range walk {
		err := w.node.ForEach(func(comp string, e Entry) error {
			if !e.IsLeaf() {
				return nil
			}
			pk, err := decodeKeyLeaf(e.Leaf)
			if err != nil {
				return fmt.Errorf("%s/%s: %w", idx.FullName(), comp, err)
			}
			keys = append(keys, pk)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// entryQue returns the path of a record inside a secondary index, or false
// when one of the indexed values is missing.
func (idx *Index) entryQue(slots []any) ([]string, bool) {
	que := make([]string, len(idx.attrs))
	for i, attr := range idx.attrs {
		s := attr.Stringify(slots[attr.pos])
		if s == "" {
			return nil, false
		}
		que[i] = s
	}
	return que, true
}

func (idx *Index) putEntry(tree Tree, que []string, pk KeyMap) error {
	node, err := tree.Root(idx.rootName())
	if err != nil {
		return err
	}
	for _, comp := range que {
		node, err = node.Sub(comp)
		if err != nil {
			return err
		}
	}
	return node.Put(entryName(idx.schema.Primary(), pk), encodeKeyLeaf(pk))
}

func (idx *Index) deleteEntry(tree Tree, que []string, pk KeyMap) error {
	node, err := tree.Root(idx.rootName())
	if err != nil || node == nil {
		return err
	}
	for _, comp := range que {
		e := node.Get(comp)
		if !e.IsNode() {
			return nil
		}
		node = e.Node
	}
	return node.Delete(entryName(idx.schema.Primary(), pk))
}
