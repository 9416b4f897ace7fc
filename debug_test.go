package tdb

import (
	"strings"
	"testing"
)

func assertContains(t testing.TB, content, substr string) {
	t.Helper()
	if !strings.Contains(content, substr) {
		t.Errorf("** content should contain %q\ncontent:\n%s", substr, content)
	}
}

func assertNotContains(t testing.TB, content, substr string) {
	t.Helper()
	if strings.Contains(content, substr) {
		t.Errorf("** content should NOT contain %q\ncontent:\n%s", substr, content)
	}
}

func TestDump(t *testing.T) {
	eachBackend(t, staffCatalog, func(t *testing.T, db *DB) {
		seedStaff(t, db)
		s := must(db.Dump(DumpAll))
		t.Logf("dump:\n%s", s)

		assertContains(t, s, "Employee (5 records)\n")
		assertContains(t, s, "Employee.stats: index_entries = 15, nodes = 5, empty_nodes = 0")
		assertContains(t, s, `Employee.1 = eng|core|alice {"city":"Berlin","dept":"eng","level":3,"name":"alice","role":"dev","team":"core"}`)
		assertContains(t, s, "Employee.5 = ops|infra|erin ")
		assertContains(t, s, "Employee.i.by_role (role)\n")
		assertContains(t, s, "Employee.i.by_role.1: dev => eng|core|alice\n")
		assertContains(t, s, "Employee.i.by_role.5: sre => ops|infra|erin\n")
		assertContains(t, s, "Employee.i.by_city_level (city, level)\n")
		assertContains(t, s, "Employee.i.by_city_level.1: Berlin|1 => eng|web|dave\n")
	})
}

func TestDumpFlags(t *testing.T) {
	db := setupMem(t, staffCatalog)
	seedStaff(t, db)

	s := must(db.Dump(DumpSchemaHeaders | DumpIndices))
	assertContains(t, s, "Employee (5 records)")
	assertContains(t, s, "Employee.i.by_city (city)")
	assertNotContains(t, s, "Employee.1 =")
	assertNotContains(t, s, "Employee.i.by_city.1:")
	assertNotContains(t, s, ".stats:")

	deepEqual(t, DumpAll.Contains(DumpRecords|DumpStats), true)
	deepEqual(t, DumpRecords.Contains(DumpRecords|DumpStats), false)
}

func TestDumpReferences(t *testing.T) {
	db := setupMem(t, peopleCatalog)
	dilbert := person(db, "Johnson", "Dilbert", 0, "")
	dilbert.MustSet("best_friend", person(db, "Smith", "Bob", 0, ""))
	savePeople(t, db, dilbert)

	s := must(db.Dump(DumpRecords))
	assertContains(t, s, `Person.1 = Johnson|Dilbert {"best_friend":{"class_name":"Person","first_name":"Bob","last_name":"Smith"},"first_name":"Dilbert","last_name":"Johnson"}`)
}

func TestStats(t *testing.T) {
	eachBackend(t, staffCatalog, func(t *testing.T, db *DB) {
		stats := must(db.Stats())
		deepEqual(t, stats, []SchemaStats{{Schema: "Employee"}})

		seedStaff(t, db)
		must(db.Store("Employee").Delete(Params{"dept": "ops", "team": "infra", "name": "erin"}))

		ss := must(db.Stats())[0]
		deepEqual(t, ss.Records, 4)
		deepEqual(t, ss.IndexEntries, 12)
		deepEqual(t, ss.Nodes, 5)
		// ops/infra is left behind empty
		deepEqual(t, ss.EmptyNodes, 1)
		if ss.DataSize == 0 || ss.IndexSize == 0 {
			t.Errorf("sizes not counted: %+v", ss)
		}
		deepEqual(t, ss.TotalSize(), ss.DataSize+ss.IndexSize)
	})
}
