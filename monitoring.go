package tdb

// SchemaStats describes how much of the key store a schema occupies.
type SchemaStats struct {
	Schema       string
	Records      int
	IndexEntries int

	// Nodes counts nested mappings below the schema root, EmptyNodes those
	// with no children left, typically after deletes.
	Nodes      int
	EmptyNodes int

	DataSize  int
	IndexSize int
}

func (ss *SchemaStats) TotalSize() int {
	return ss.DataSize + ss.IndexSize
}

type treeStats struct {
	leaves int
	nodes  int
	empty  int
	size   int
}

func (ts *treeStats) add(node Node) error {
	if node.Len() == 0 {
		ts.empty++
	}
	return node.ForEach(func(comp string, e Entry) error {
		if e.IsNode() {
			ts.nodes++
			return ts.add(e.Node)
		}
		ts.leaves++
		ts.size += len(comp) + len(e.Leaf)
		return nil
	})
}

// SchemaStats walks the trees of the schema and its secondary indexes.
func (db *DB) SchemaStats(scm *Schema) (SchemaStats, error) {
	result := SchemaStats{Schema: scm.name}
	err := db.ks.View(func(tree Tree) error {
		result = SchemaStats{Schema: scm.name}
		for _, idx := range scm.indices {
			root, err := tree.Root(idx.rootName())
			if err != nil {
				return err
			}
			if root == nil {
				continue
			}
			var ts treeStats
			if err := ts.add(root); err != nil {
				return err
			}
			if idx.primary {
				result.Records = ts.leaves
				result.Nodes = ts.nodes
				result.EmptyNodes = ts.empty
				if root.Len() == 0 {
					result.EmptyNodes--
				}
				result.DataSize = ts.size
			} else {
				result.IndexEntries += ts.leaves
				result.IndexSize += ts.size
			}
		}
		return nil
	})
	return result, err
}

// Stats returns SchemaStats for every schema in catalog order.
func (db *DB) Stats() ([]SchemaStats, error) {
	result := make([]SchemaStats, 0, len(db.catalog.schemas))
	for _, scm := range db.catalog.schemas {
		ss, err := db.SchemaStats(scm)
		if err != nil {
			return nil, err
		}
		result = append(result, ss)
	}
	return result, nil
}
