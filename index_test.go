package tdb

import (
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func employee(db *DB, dept, team, name, role string, level int, city string) *Record {
	return db.Store("Employee").MustConstruct(map[string]any{
		"dept":  dept,
		"team":  team,
		"name":  name,
		"role":  role,
		"level": level,
		"city":  city,
	})
}

func seedStaff(t testing.TB, db *DB) {
	t.Helper()
	savePeople(t, db,
		employee(db, "eng", "core", "alice", "dev", 3, "Berlin"),
		employee(db, "eng", "core", "bob", "dev", 2, "Paris"),
		employee(db, "eng", "web", "carol", "lead", 3, "Berlin"),
		employee(db, "eng", "web", "dave", "dev", 1, "Berlin"),
		employee(db, "ops", "infra", "erin", "sre", 2, "Paris"),
	)
}

func sortedKeyStrings(idx *Index, keys []KeyMap) []string {
	out := keyStrings(idx, keys)
	sort.Strings(out)
	return out
}

func TestBuildKey(t *testing.T) {
	db := setupMem(t, staffCatalog)
	pk := employeeSchema.Primary()

	tests := []struct {
		src  any
		want KeyMap
	}{
		{Params{"dept": "eng"}, KeyMap{"dept": "eng"}},
		{Params{"team": "web", "role": "dev"}, KeyMap{"team": "web"}},
		{map[string]any{"dept": "eng", "team": "web", "name": "carol"}, KeyMap{"dept": "eng", "team": "web", "name": "carol"}},
		{KeyMap{"dept": "ops", "name": ""}, KeyMap{"dept": "ops"}},
		{employee(db, "eng", "core", "alice", "dev", 3, "Berlin"), KeyMap{"dept": "eng", "team": "core", "name": "alice"}},
	}
	for _, tt := range tests {
		got, err := pk.BuildKey(tt.src)
		if err != nil {
			t.Errorf("BuildKey(%v) failed: %v", tt.src, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("BuildKey(%v) (-want +got):\n%s", tt.src, diff)
		}
	}

	byCity := employeeSchema.IndexNamed("by_city")
	deepEqual(t, must(byCity.BuildKey("Berlin")), KeyMap{"city": "Berlin"})
	deepEqual(t, must(employeeSchema.IndexNamed("by_city_level").BuildKey(Params{"level": 3})), KeyMap{"level": "3"})

	if _, err := pk.BuildKey("eng"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("BuildKey(scalar) on a 3-field index: err = %v, wanted ErrTypeMismatch", err)
	}
	if _, err := byCity.BuildKey(42); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("BuildKey(42) on a string index: err = %v, wanted ErrTypeMismatch", err)
	}
	if _, err := pk.BuildKey(Params{"salary": 1}); !errors.Is(err, ErrUnknownField) {
		t.Errorf("BuildKey(unknown) err = %v, wanted ErrUnknownField", err)
	}
	if _, err := pk.BuildKey(db.Store("Employee").New()); err != nil {
		t.Errorf("BuildKey(empty record) failed: %v", err)
	}
}

func TestBuildQueStopsAtFirstGap(t *testing.T) {
	pk := employeeSchema.Primary()
	deepEqual(t, pk.BuildQue(KeyMap{"dept": "eng", "team": "core", "name": "alice"}), []string{"eng", "core", "alice"})
	deepEqual(t, pk.BuildQue(KeyMap{"dept": "eng", "name": "alice"}), []string{"eng"})
	deepEqual(t, pk.BuildQue(KeyMap{"team": "core", "name": "alice"}), []string{})
	deepEqual(t, pk.BuildQue(KeyMap{"dept": "eng", "team": "", "name": "alice"}), []string{"eng"})
}

func TestCompleteKey(t *testing.T) {
	pk := employeeSchema.Primary()
	deepEqual(t, pk.CompleteKey([]string{"name", "dept", "team"}), true)
	deepEqual(t, pk.CompleteKey([]string{"name", "dept", "team", "role"}), true)
	deepEqual(t, pk.CompleteKey([]string{"dept", "team"}), false)
	deepEqual(t, pk.CompleteKey(nil), false)
}

func TestKeyString(t *testing.T) {
	pk := employeeSchema.Primary()
	km := KeyMap{"dept": "eng", "team": "core", "name": "alice"}
	s := pk.KeyString(km)
	deepEqual(t, s, "eng|core|alice")
	deepEqual(t, pk.ParseKeyString(s), km)
	deepEqual(t, pk.KeyString(KeyMap{"team": "core"}), "")

	quoted := KeyMap{"dept": "r|d", "team": "lab", "name": "o'neil"}
	deepEqual(t, pk.ParseKeyString(entryName(pk, quoted)), quoted)
	deepEqual(t, pk.ParseKeyString(`"r|d"/"lab"/"o'neil"`), quoted)
	deepEqual(t, pk.ParseKeyString(`"eng"`), KeyMap{"dept": "eng"})
	// not a valid quoted form, so split on '|'
	deepEqual(t, pk.ParseKeyString(`"eng|core`), KeyMap{"dept": `"eng`, "team": "core"})
}

func TestLookupKeysCompletesPrefixes(t *testing.T) {
	eachBackend(t, staffCatalog, func(t *testing.T, db *DB) {
		seedStaff(t, db)
		staff := db.Store("Employee")
		pk := employeeSchema.Primary()

		tests := []struct {
			params Params
			want   []string
		}{
			{Params{}, []string{"eng|core|alice", "eng|core|bob", "eng|web|carol", "eng|web|dave", "ops|infra|erin"}},
			{Params{"dept": "eng"}, []string{"eng|core|alice", "eng|core|bob", "eng|web|carol", "eng|web|dave"}},
			{Params{"dept": "eng", "team": "web"}, []string{"eng|web|carol", "eng|web|dave"}},
			{Params{"dept": "eng", "team": "web", "name": "dave"}, []string{"eng|web|dave"}},
			{Params{"dept": "eng", "name": "bob"}, []string{"eng|core|bob"}},
			{Params{"dept": "hr"}, nil},
			{Params{"dept": "eng", "team": "mobile"}, nil},
		}
		for _, tt := range tests {
			keys, err := staff.LookupKeys(PrimaryKeyIndexName, tt.params)
			if err != nil {
				t.Errorf("LookupKeys(%v) failed: %v", tt.params, err)
				continue
			}
			got := sortedKeyStrings(pk, keys)
			if len(tt.want) == 0 {
				isempty(t, got)
			} else if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("LookupKeys(%v) (-want +got):\n%s", tt.params, diff)
			}
		}
	})
}

func TestLookupKeysOnEmptyStore(t *testing.T) {
	eachBackend(t, staffCatalog, func(t *testing.T, db *DB) {
		isempty(t, must(db.Store("Employee").LookupKeys(PrimaryKeyIndexName, Params{"dept": "eng"})))
		isempty(t, must(db.Store("Employee").LookupKeys("by_city", "Berlin")))
	})
}

func TestLookupKeysIgnoresInsertionOrder(t *testing.T) {
	eachBackend(t, staffCatalog, func(t *testing.T, db *DB) {
		names := []string{"mia", "ann", "zoe", "bea", "kim"}
		for _, name := range names {
			savePeople(t, db, employee(db, "eng", "core", name, "dev", 1, "Oslo"))
		}
		keys := must(db.Store("Employee").LookupKeys(PrimaryKeyIndexName, Params{"dept": "eng", "team": "core"}))
		got := sortedKeyStrings(employeeSchema.Primary(), keys)
		deepEqual(t, got, []string{"eng|core|ann", "eng|core|bea", "eng|core|kim", "eng|core|mia", "eng|core|zoe"})
	})
}

func TestSecondaryIndexLookup(t *testing.T) {
	eachBackend(t, staffCatalog, func(t *testing.T, db *DB) {
		seedStaff(t, db)
		staff := db.Store("Employee")
		pk := employeeSchema.Primary()

		deepEqual(t, sortedKeyStrings(pk, must(staff.LookupKeys("by_city", "Berlin"))),
			[]string{"eng|core|alice", "eng|web|carol", "eng|web|dave"})
		deepEqual(t, sortedKeyStrings(pk, must(staff.LookupKeys("by_city_level", Params{"city": "Berlin", "level": 3}))),
			[]string{"eng|core|alice", "eng|web|carol"})
		deepEqual(t, sortedKeyStrings(pk, must(staff.LookupKeys("by_city_level", Params{"city": "Paris"}))),
			[]string{"eng|core|bob", "ops|infra|erin"})

		if _, err := staff.LookupKeys("by_salary", "x"); err == nil {
			t.Errorf("LookupKeys on an unknown index succeeded")
		}
	})
}

func TestSecondaryIndexFollowsUpdates(t *testing.T) {
	eachBackend(t, staffCatalog, func(t *testing.T, db *DB) {
		seedStaff(t, db)
		staff := db.Store("Employee")
		pk := employeeSchema.Primary()

		bob := must(staff.Load(Params{"dept": "eng", "team": "core", "name": "bob"}))
		bob.MustSet("city", "Berlin")
		savePeople(t, db, bob)
		deepEqual(t, sortedKeyStrings(pk, must(staff.LookupKeys("by_city", "Paris"))), []string{"ops|infra|erin"})
		deepEqual(t, len(must(staff.LookupKeys("by_city", "Berlin"))), 4)

		// a missing value drops the entry
		bob.MustSet("city", nil)
		savePeople(t, db, bob)
		deepEqual(t, len(must(staff.LookupKeys("by_city", "Berlin"))), 3)

		must(staff.Delete(Params{"dept": "ops", "team": "infra", "name": "erin"}))
		isempty(t, must(staff.LookupKeys("by_city", "Paris")))
		isempty(t, must(staff.LookupKeys("by_role", "sre")))

		stats := must(db.SchemaStats(employeeSchema))
		deepEqual(t, stats.Records, 4)
		// by_role 4 + by_city_level 3 + by_city 3
		deepEqual(t, stats.IndexEntries, 10)
	})
}
