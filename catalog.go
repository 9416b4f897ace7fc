package tdb

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Catalog is the set of schemas a DB stores. Build it once at startup; it is
// frozen when the first DB is opened on it.
type Catalog struct {
	schemas            []*Schema
	schemasByLowerName map[string]*Schema
	frozen             atomic.Bool
}

func NewCatalog() *Catalog {
	return &Catalog{
		schemasByLowerName: make(map[string]*Schema),
	}
}

func (cat *Catalog) Schemas() []*Schema {
	return append([]*Schema(nil), cat.schemas...)
}

// SchemaNamed returns the schema with the given case-insensitive name, or nil.
func (cat *Catalog) SchemaNamed(name string) *Schema {
	return cat.schemasByLowerName[strings.ToLower(name)]
}

func (cat *Catalog) mustSchema(name string) *Schema {
	scm := cat.SchemaNamed(name)
	if scm == nil {
		panic(fmt.Errorf("no schema named %q", name))
	}
	return scm
}

func (cat *Catalog) requireMutable() {
	if cat.frozen.Load() {
		panic("catalog is already in use by a DB and cannot be changed")
	}
}

func (cat *Catalog) addSchema(scm *Schema) {
	cat.requireMutable()
	lower := strings.ToLower(scm.name)
	if cat.schemasByLowerName[lower] != nil {
		panic(fmt.Errorf("schema %s already defined", scm.name))
	}
	if strings.ContainsRune(scm.name, indexRootSep) {
		panic(fmt.Errorf("schema name %q must not contain %q", scm.name, indexRootSep))
	}
	scm.pos = len(cat.schemas)
	cat.schemas = append(cat.schemas, scm)
	cat.schemasByLowerName[lower] = scm
}

func (cat *Catalog) validateRefs() error {
	for _, scm := range cat.schemas {
		for _, attr := range scm.attrs {
			if attr.typ == Reference && cat.SchemaNamed(attr.target) == nil {
				return fmt.Errorf("%v references unknown schema %q", attr, attr.target)
			}
		}
	}
	return nil
}

// freeze validates cross-schema references and prevents further changes.
func (cat *Catalog) freeze() error {
	if err := cat.validateRefs(); err != nil {
		return err
	}
	cat.frozen.Store(true)
	return nil
}
