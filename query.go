package tdb

import (
	"fmt"
	"sort"
)

// Query is a disjunction of clauses, each a conjunction of equality
// predicates. Every Where call adds one clause.
type Query struct {
	store   *Store
	clauses [][]Triple
}

func (q *Query) Store() *Store { return q.store }

// Where adds a clause of field, operator, value triples, which must all hold
// for a record to match the clause:
//
//	q.Where("last_name", "=", "Johnson", "age", "=", 90)
//
// Fields must exist and values must fit the field types. Only "=" is
// supported.
func (q *Query) Where(args ...any) error {
	scm := q.store.schema
	if len(args) == 0 || len(args)%3 != 0 {
		return fmt.Errorf("%s: Where wants field, op, value triples, got %d arguments", scm.name, len(args))
	}
	clause := make([]Triple, 0, len(args)/3)
	for i := 0; i < len(args); i += 3 {
		field, ok := args[i].(string)
		if !ok {
			return fmt.Errorf("%s: Where argument %d: field name must be a string, got %T", scm.name, i, args[i])
		}
		op, ok := args[i+1].(string)
		if !ok {
			return schemaErrf(scm, field, ErrUnsupportedOperator, "%v", args[i+1])
		}
		if op != opEqual {
			return schemaErrf(scm, field, ErrUnsupportedOperator, "%q", op)
		}
		attr, err := scm.requireAttr(field)
		if err != nil {
			return err
		}
		v, err := attr.Check(args[i+2])
		if err != nil {
			return err
		}
		clause = append(clause, Triple{Field: field, Op: op, Value: v})
	}
	q.clauses = append(q.clauses, clause)
	return nil
}

// WhereParams adds a clause of equality predicates, one per entry.
func (q *Query) WhereParams(params Params) error {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	args := make([]any, 0, 3*len(names))
	for _, name := range names {
		args = append(args, name, opEqual, params[name])
	}
	return q.Where(args...)
}

// Explain returns the plan Execute would follow. A query without clauses
// plans as a single empty primary-key scan.
func (q *Query) Explain() Plan {
	if len(q.clauses) == 0 {
		return Plan{{Search: map[string][]Triple{PrimaryKeyIndexName: {}}}}
	}
	plan := make(Plan, len(q.clauses))
	for i, clause := range q.clauses {
		plan[i] = planClause(q.store.schema, clause)
	}
	return plan
}

// Execute runs the plan and returns the matching records, clause by clause.
// A record matching several clauses appears once per clause.
//
// Within a clause, the key sets found via each searched index are
// intersected. A clause that no index can serve scans every record and
// relies on its filter.
func (q *Query) Execute() (*Collection, error) {
	plan := q.Explain()
	s := q.store
	var recs []*Record
	err := s.db.ks.View(func(tree Tree) error {
		recs = recs[:0]
		for _, entry := range plan {
			keys, err := s.searchKeys(tree, entry.Search)
			if err != nil {
				return err
			}
			for _, km := range keys {
				rec, err := s.loadIn(tree, km)
				if err != nil {
					return err
				}
				if rec == nil || !entry.matches(rec) {
					continue
				}
				recs = append(recs, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.db.verbose {
		s.db.logf("db: QUERY %s %v => %d", s.schema.name, plan, len(recs))
	}
	return newCollection(s, recs), nil
}

func (s *Store) searchKeys(tree Tree, search map[string][]Triple) ([]KeyMap, error) {
	if len(search) == 0 {
		return s.schema.Primary().lookupKeys(tree, KeyMap{})
	}

	indices := make([]*Index, 0, len(search))
	for name := range search {
		idx := s.schema.IndexNamed(name)
		if idx == nil {
			return nil, &SchemaError{Schema: s.schema, Msg: fmt.Sprintf("no index named %q", name)}
		}
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool {
		return indices[i].pos < indices[j].pos
	})

	pk := s.schema.Primary()
	var result []KeyMap
	for i, idx := range indices {
		params := make(Params, len(search[idx.name]))
		for _, t := range search[idx.name] {
			params[t.Field] = t.Value
		}
		km, err := idx.BuildKey(params)
		if err != nil {
			return nil, err
		}
		keys, err := idx.lookupKeys(tree, km)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			result = keys
			continue
		}
		found := make(map[string]bool, len(keys))
		for _, k := range keys {
			found[entryName(pk, k)] = true
		}
		kept := result[:0]
		for _, k := range result {
			if found[entryName(pk, k)] {
				kept = append(kept, k)
			}
		}
		result = kept
		if len(result) == 0 {
			break
		}
	}
	return result, nil
}

func (q *Query) String() string {
	return fmt.Sprintf("%s %v", q.store.schema.name, q.clauses)
}
