package tdb

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpSchemaHeaders = DumpFlags(1 << iota)
	DumpRecords
	DumpStats
	DumpIndices
	DumpIndexEntries

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the contents of every schema for debugging and tests.
func (db *DB) Dump(f DumpFlags) (string, error) {
	var buf strings.Builder
	for _, scm := range db.catalog.schemas {
		if err := db.dumpSchema(&buf, f, scm); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func (db *DB) dumpSchema(w *strings.Builder, f DumpFlags, scm *Schema) error {
	prefix := scm.name
	s, err := db.SchemaStats(scm)
	if err != nil {
		return err
	}

	if f.Contains(DumpSchemaHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d records)\n", prefix, s.Records)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: index_entries = %d, nodes = %d, empty_nodes = %d, data_size = %d, index_size = %d\n", prefix, s.IndexEntries, s.Nodes, s.EmptyNodes, s.DataSize, s.IndexSize)
	}

	return db.ks.View(func(tree Tree) error {
		if f.Contains(DumpRecords) {
			if f.Contains(DumpStats) {
				fmt.Fprintln(w, dumpSep2)
			}
			recs, err := db.storeOf(scm).listAllIn(tree)
			if err != nil {
				fmt.Fprintf(w, "%s ** ERROR: %v\n", prefix, err)
			}
			for i, rec := range recs {
				dumpRecord(w, prefix, i+1, rec)
			}
		}
		if f.Contains(DumpIndices) {
			for _, idx := range scm.indices[1:] {
				if err := dumpIndex(w, prefix, f, tree, idx); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func dumpRecord(w *strings.Builder, prefix string, pos int, rec *Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		fmt.Fprintf(w, "%s.%d = %s ** ERROR: %v\n", prefix, pos, rec.keyString(), err)
		return
	}
	fmt.Fprintf(w, "%s.%d = %s %s\n", prefix, pos, rec.keyString(), data)
}

func dumpIndex(w *strings.Builder, prefix string, f DumpFlags, tree Tree, idx *Index) error {
	fmt.Fprintln(w, dumpSep2)
	prefix = prefix + ".i." + idx.name
	fmt.Fprintf(w, "%s (%s)\n", prefix, strings.Join(idx.Fields(), ", "))
	if !f.Contains(DumpIndexEntries) {
		return nil
	}

	root, err := tree.Root(idx.rootName())
	if err != nil || root == nil {
		return err
	}
	var pos int
	pk := idx.schema.Primary()
	var walk func(node Node, que []string) error
	walk = func(node Node, que []string) error {
		return node.ForEach(func(comp string, e Entry) error {
			if e.IsNode() {
				return walk(e.Node, append(que, comp))
			}
			pos++
			km, err := decodeKeyLeaf(e.Leaf)
			if err != nil {
				fmt.Fprintf(w, "%s.%d: %s ** ERROR: %v\n", prefix, pos, strings.Join(que, keyStringSep), err)
				return nil
			}
			fmt.Fprintf(w, "%s.%d: %s => %s\n", prefix, pos, strings.Join(que, keyStringSep), pk.KeyString(km))
			return nil
		})
	}
	return walk(root, nil)
}
