package tdb

import (
	"fmt"
	"sort"
	"strings"
)

const opEqual = "="

// Triple is one predicate of a query clause. Only equality is supported.
type Triple struct {
	Field string
	Op    string
	Value any
}

func (t Triple) String() string {
	return fmt.Sprintf("%s %s %v", t.Field, t.Op, t.Value)
}

// PlanEntry is the plan for one clause: the indexes to search, each with the
// triples it serves in index field order, and the triples to check on every
// loaded record. Filter holds at most one group, sorted by field name.
type PlanEntry struct {
	Search map[string][]Triple
	Filter [][]Triple
}

// Plan has one entry per clause, in clause order.
type Plan []PlanEntry

func (e PlanEntry) String() string {
	var buf strings.Builder
	names := make([]string, 0, len(e.Search))
	for name := range e.Search {
		names = append(names, name)
	}
	sort.Strings(names)
	buf.WriteString("search")
	if len(names) == 0 {
		buf.WriteString(" -")
	}
	for _, name := range names {
		buf.WriteByte(' ')
		buf.WriteString(name)
		writeTriples(&buf, e.Search[name])
	}
	if len(e.Filter) > 0 {
		buf.WriteString(" filter")
		for _, group := range e.Filter {
			buf.WriteByte(' ')
			writeTriples(&buf, group)
		}
	}
	return buf.String()
}

func writeTriples(buf *strings.Builder, triples []Triple) {
	buf.WriteByte('[')
	for i, t := range triples {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(t.String())
	}
	buf.WriteByte(']')
}

func (p Plan) String() string {
	lines := make([]string, len(p))
	for i, e := range p {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}

// indexUse is a candidate index for a clause together with the fields it
// would serve. A nil index marks a signature already served by a longer
// winner's prefix.
type indexUse struct {
	index  *Index
	fields []*Attribute
}

func fieldSignature(attrs []*Attribute) string {
	names := make([]string, len(attrs))
	for i, attr := range attrs {
		names[i] = attr.name
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// planClause picks, for every distinct set of fields some index can serve as
// a prefix, the first index serving it. Proper prefixes of a winner are
// reserved so that a shorter match cannot steal fields a longer one serves.
// Fields no winner claims go to the filter group.
func planClause(scm *Schema, clause []Triple) PlanEntry {
	bound := make(map[string]Triple, len(clause))
	for _, t := range clause {
		bound[t.Field] = t
	}

	uses := make(map[string]*indexUse)
	var winners []*indexUse
	for _, idx := range scm.indices {
		n := 0
		for _, attr := range idx.attrs {
			if _, ok := bound[attr.name]; !ok {
				break
			}
			n++
		}
		if n == 0 {
			continue
		}
		applicable := idx.attrs[:n]
		sig := fieldSignature(applicable)
		if uses[sig] != nil {
			continue
		}
		use := &indexUse{index: idx, fields: applicable}
		uses[sig] = use
		winners = append(winners, use)
		for i := 1; i < n; i++ {
			psig := fieldSignature(applicable[:i])
			if uses[psig] == nil {
				uses[psig] = &indexUse{}
			}
		}
	}

	entry := PlanEntry{Search: make(map[string][]Triple)}
	consumed := make(map[string]bool)
	for _, use := range winners {
		triples := make([]Triple, len(use.fields))
		for i, attr := range use.fields {
			triples[i] = bound[attr.name]
			consumed[attr.name] = true
		}
		entry.Search[use.index.name] = triples
	}

	var filter []Triple
	for name, t := range bound {
		if !consumed[name] {
			filter = append(filter, t)
		}
	}
	if len(filter) > 0 {
		sort.Slice(filter, func(i, j int) bool {
			return filter[i].Field < filter[j].Field
		})
		entry.Filter = [][]Triple{filter}
	}
	return entry
}

func (e PlanEntry) matches(rec *Record) bool {
	for _, group := range e.Filter {
		for _, t := range group {
			attr := rec.schema.attrsByName[t.Field]
			if !attr.valuesEqual(rec.slots[attr.pos], t.Value) {
				return false
			}
		}
	}
	return true
}
