package tdb

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func eachKeyStore(t *testing.T, f func(t *testing.T, ks KeyStore)) {
	t.Run("bolt", func(t *testing.T) {
		db := setup(t, peopleCatalog)
		f(t, db.KeyStore())
	})
	t.Run("mem", func(t *testing.T) {
		ks := NewMemKeyStore()
		t.Cleanup(func() { ks.Close() })
		f(t, ks)
	})
}

type treeItem struct {
	Comp string
	Leaf string
	Node bool
}

func listNode(n Node) []treeItem {
	var items []treeItem
	ensure(n.ForEach(func(comp string, e Entry) error {
		items = append(items, treeItem{Comp: comp, Leaf: string(e.Leaf), Node: e.IsNode()})
		return nil
	}))
	return items
}

func TestKeyStoreBasics(t *testing.T) {
	eachKeyStore(t, func(t *testing.T, ks KeyStore) {
		ensure(ks.Update(func(tree Tree) error {
			deepEqual(t, tree.Writable(), true)
			root := must(tree.Root("t"))
			ensure(root.Put("b", []byte("2")))
			ensure(root.Put("a", []byte("1")))
			sub := must(root.Sub("c"))
			ensure(sub.Put("x", []byte("3")))
			deepEqual(t, root.Len(), 3)

			// Sub on an existing mapping returns it
			deepEqual(t, must(root.Sub("c")).Len(), 1)
			return nil
		}))

		ensure(ks.View(func(tree Tree) error {
			deepEqual(t, tree.Writable(), false)
			root := must(tree.Root("t"))
			want := []treeItem{{Comp: "a", Leaf: "1"}, {Comp: "b", Leaf: "2"}, {Comp: "c", Node: true}}
			if diff := cmp.Diff(want, listNode(root)); diff != "" {
				t.Errorf("ForEach (-want +got):\n%s", diff)
			}
			deepEqual(t, string(root.Get("a").Leaf), "1")
			deepEqual(t, root.Get("c").IsNode(), true)
			deepEqual(t, root.Get("zzz").Exists(), false)

			if n := must(tree.Root("missing")); n != nil {
				t.Errorf("Root(missing) = %v, wanted nil inside View", n)
			}
			if _, err := root.Sub("d"); err == nil {
				t.Errorf("Sub succeeded inside View")
			}
			return nil
		}))
	})
}

func TestKeyStoreReplacesAcrossKinds(t *testing.T) {
	eachKeyStore(t, func(t *testing.T, ks KeyStore) {
		ensure(ks.Update(func(tree Tree) error {
			root := must(tree.Root("t"))
			ensure(root.Put("leaf", []byte("old")))
			sub := must(root.Sub("leaf"))
			ensure(sub.Put("inner", []byte("v")))

			sub = must(root.Sub("tree"))
			ensure(must(sub.Sub("deep")).Put("x", []byte("y")))
			ensure(root.Put("tree", []byte("flat")))

			ensure(root.Delete("nothing"))
			return nil
		}))
		ensure(ks.View(func(tree Tree) error {
			root := must(tree.Root("t"))
			want := []treeItem{{Comp: "leaf", Node: true}, {Comp: "tree", Leaf: "flat"}}
			if diff := cmp.Diff(want, listNode(root)); diff != "" {
				t.Errorf("ForEach (-want +got):\n%s", diff)
			}
			deepEqual(t, string(root.Get("leaf").Node.Get("inner").Leaf), "v")
			return nil
		}))
	})
}

func TestKeyStoreFailedUpdateRollsBack(t *testing.T) {
	eachKeyStore(t, func(t *testing.T, ks KeyStore) {
		errBoom := errors.New("boom")
		err := ks.Update(func(tree Tree) error {
			ensure(must(tree.Root("t")).Put("a", []byte("1")))
			return errBoom
		})
		if !errors.Is(err, errBoom) {
			t.Fatalf("Update err = %v, wanted boom", err)
		}
		ensure(ks.View(func(tree Tree) error {
			if root := must(tree.Root("t")); root != nil {
				deepEqual(t, root.Get("a").Exists(), false)
			}
			return nil
		}))
	})
}

func TestMemKeyStoreClose(t *testing.T) {
	ks := NewMemKeyStore()
	ensure(ks.Close())
	if err := ks.View(func(Tree) error { return nil }); !errors.Is(err, errStoreClosed) {
		t.Errorf("View after Close: %v", err)
	}
	if err := ks.Update(func(Tree) error { return nil }); !errors.Is(err, errStoreClosed) {
		t.Errorf("Update after Close: %v", err)
	}
}

// Two declarations of the same schema with different key arity sharing one
// key store: the later write wins and the other record is discarded.
func TestKeyArityCollisionOverwrites(t *testing.T) {
	shortCat := NewCatalog()
	AddSchema(shortCat, "Tag", Key("a", String), Attr("note", String))
	longCat := NewCatalog()
	AddSchema(longCat, "Tag", Key("a", String), Key("b", String), Attr("note", String))

	ks := NewMemKeyStore()
	short := must(OpenKeyStore(ks, shortCat, Options{IsTesting: true}))
	long := must(OpenKeyStore(ks, longCat, Options{IsTesting: true}))
	t.Cleanup(func() { long.Close() })

	shortTags, longTags := short.Store("Tag"), long.Store("Tag")
	must(shortTags.MustConstruct(map[string]any{"a": "x", "note": "short"}).Save())
	must(shortTags.MustConstruct(map[string]any{"a": "z", "note": "stray"}).Save())

	// the short record's leaf is replaced by a mapping
	must(longTags.MustConstruct(map[string]any{"a": "x", "b": "y", "note": "long"}).Save())
	isnil(t, must(shortTags.Load(Params{"a": "x"})))
	rec := must(longTags.Load(Params{"a": "x", "b": "y"}))
	deepEqual(t, rec.Get("note"), any("long"))

	// leaves at the wrong depth are skipped
	deepEqual(t, recordKeys(must(longTags.ListAll())), []string{"x|y"})
	keys := must(longTags.LookupKeys(PrimaryKeyIndexName, Params{}))
	deepEqual(t, keyStrings(long.Catalog().SchemaNamed("Tag").Primary(), keys), []string{"x|y"})
	deepEqual(t, recordKeys(must(shortTags.ListAll())), []string{"z"})

	// and the other way around
	must(shortTags.MustConstruct(map[string]any{"a": "x", "note": "short again"}).Save())
	isnil(t, must(longTags.Load(Params{"a": "x", "b": "y"})))
	isempty(t, must(longTags.LookupKeys(PrimaryKeyIndexName, Params{"a": "x"})))
	deepEqual(t, must(shortTags.Load(Params{"a": "x"})).Get("note"), any("short again"))
}

func TestBoltReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	db := must(Open(path, peopleCatalog, Options{IsTesting: true}))
	seedPeople(t, db)
	ensure(db.Close())

	db = must(Open(path, peopleCatalog, Options{IsTesting: true}))
	defer db.Close()
	deepEqual(t, recordKeys(must(db.Store("Person").ListAll())), []string{"Johnson|Alice", "Johnson|Dilbert", "Smith|Bob"})
	isnonnil(t, db.Bolt())
}
