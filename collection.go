package tdb

import (
	"fmt"
	"iter"
	"regexp"
	"sort"
)

// Collection is a materialized list of records of one schema with a cursor.
// It is not safe for concurrent use.
type Collection struct {
	store   *Store
	records []*Record
	cursor  int
}

func newCollection(store *Store, records []*Record) *Collection {
	return &Collection{store: store, records: records}
}

func (c *Collection) Store() *Store { return c.store }

// Filter replaces the contents of the collection with every record of the
// schema that matches spec. Filters do not compose: a new filter starts from
// all records again. spec is one of:
//
//   - map[string]any or Params: field → value. A *regexp.Regexp matches the
//     stringified field value; any other value must equal the field value,
//     numerically for numeric fields.
//   - string: the name of a predicate registered with Schema.AddPredicate.
//   - func(*Record) bool.
func (c *Collection) Filter(spec any) error {
	pred, err := c.compileFilter(spec)
	if err != nil {
		return err
	}
	all, err := c.store.ListAll()
	if err != nil {
		return err
	}
	var matched []*Record
	for _, rec := range all {
		if pred(rec) {
			matched = append(matched, rec)
		}
	}
	c.records = matched
	c.cursor = 0
	if c.store.db.verbose {
		c.store.db.logf("db: FILTER %s %v => %d/%d", c.store.schema.name, filterSpecString(spec), len(matched), len(all))
	}
	return nil
}

func (c *Collection) compileFilter(spec any) (func(rec *Record) bool, error) {
	scm := c.store.schema
	switch spec := spec.(type) {
	case Params:
		return compileFieldFilter(scm, spec)
	case map[string]any:
		return compileFieldFilter(scm, spec)
	case string:
		pred := scm.Predicate(spec)
		if pred == nil {
			return nil, schemaErrf(scm, "", ErrAmbiguousFilterSpec, "no predicate named %q", spec)
		}
		return pred, nil
	case func(rec *Record) bool:
		if spec == nil {
			return nil, schemaErrf(scm, "", ErrAmbiguousFilterSpec, "nil predicate")
		}
		return spec, nil
	default:
		return nil, schemaErrf(scm, "", ErrAmbiguousFilterSpec, "%T", spec)
	}
}

type fieldMatcher struct {
	attr    *Attribute
	pattern *regexp.Regexp
	value   any
}

func compileFieldFilter(scm *Schema, spec map[string]any) (func(rec *Record) bool, error) {
	matchers := make([]fieldMatcher, 0, len(spec))
	for name, raw := range spec {
		attr, err := scm.requireAttr(name)
		if err != nil {
			return nil, err
		}
		if re, ok := raw.(*regexp.Regexp); ok {
			matchers = append(matchers, fieldMatcher{attr: attr, pattern: re})
			continue
		}
		v, err := attr.Check(raw)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, fieldMatcher{attr: attr, value: v})
	}
	return func(rec *Record) bool {
		for _, m := range matchers {
			v := rec.slots[m.attr.pos]
			if m.pattern != nil {
				if v == nil || !m.pattern.MatchString(m.attr.Stringify(v)) {
					return false
				}
			} else if !m.attr.valuesEqual(v, m.value) {
				return false
			}
		}
		return true
	}, nil
}

func filterSpecString(spec any) string {
	switch spec := spec.(type) {
	case Params:
		return filterSpecString(map[string]any(spec))
	case map[string]any:
		names := make([]string, 0, len(spec))
		for name := range spec {
			names = append(names, name)
		}
		sort.Strings(names)
		s := ""
		for i, name := range names {
			if i > 0 {
				s += " "
			}
			s += fmt.Sprintf("%s=%v", name, spec[name])
		}
		return s
	case string:
		return spec
	default:
		return fmt.Sprintf("%T", spec)
	}
}

func (c *Collection) Count() int {
	return len(c.records)
}

// First returns the first record, or nil if the collection is empty.
func (c *Collection) First() *Record {
	if len(c.records) == 0 {
		return nil
	}
	return c.records[0]
}

// Last returns the last record, or nil if the collection is empty.
func (c *Collection) Last() *Record {
	if len(c.records) == 0 {
		return nil
	}
	return c.records[len(c.records)-1]
}

func (c *Collection) Records() []*Record {
	return append([]*Record(nil), c.records...)
}

// Next returns the record under the cursor and advances it. After the last
// record it returns false once and rewinds, so the following call starts
// over from the first record.
func (c *Collection) Next() (*Record, bool) {
	if c.cursor >= len(c.records) {
		c.cursor = 0
		return nil, false
	}
	rec := c.records[c.cursor]
	c.cursor++
	return rec, true
}

// Reset rewinds the cursor without changing the records.
func (c *Collection) Reset() {
	c.cursor = 0
}

// All iterates over the records without touching the cursor.
func (c *Collection) All() iter.Seq[*Record] {
	return func(yield func(*Record) bool) {
		for _, rec := range c.records {
			if !yield(rec) {
				return
			}
		}
	}
}
