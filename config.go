package tdb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

var ErrConfigInvalid = errors.New("invalid catalog config")

// CatalogConfig is the JSON form of a catalog. Comments and trailing commas
// are allowed:
//
//	{
//	  "schemas": [
//	    {
//	      "name": "Person",
//	      "attributes": [
//	        {"name": "last_name", "type": "string", "key": true},
//	        {"name": "first_name", "type": "string", "key": true},
//	        {"name": "age", "type": "int"},
//	        {"name": "friend", "type": "ref", "target": "Person"},
//	      ],
//	      "indexes": [{"name": "by_age", "fields": ["age"]}],
//	    },
//	  ],
//	}
type CatalogConfig struct {
	Schemas []SchemaConfig `json:"schemas"`
}

type SchemaConfig struct {
	Name       string            `json:"name"`
	Attributes []AttributeConfig `json:"attributes"`
	Indexes    []IndexConfig     `json:"indexes,omitempty"`
}

type AttributeConfig struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Key    bool   `json:"key,omitempty"`
	Target string `json:"target,omitempty"`
}

type IndexConfig struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// ParseCatalogConfig parses JSON with comments into a CatalogConfig.
func ParseCatalogConfig(data []byte) (*CatalogConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid JSONC: %w", ErrConfigInvalid, err)
	}
	var cfg CatalogConfig
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %w", ErrConfigInvalid, err)
	}
	return &cfg, nil
}

// LoadCatalog reads a catalog config file and builds the catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseCatalogConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cat, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// Build declares every configured schema in a new catalog. Declaration
// mistakes that the Go API reports by panicking are returned as errors.
func (cfg *CatalogConfig) Build() (cat *Catalog, err error) {
	defer func() {
		if e := recover(); e != nil {
			cat = nil
			err = fmt.Errorf("%w: %v", ErrConfigInvalid, e)
		}
	}()

	if len(cfg.Schemas) == 0 {
		return nil, fmt.Errorf("%w: no schemas", ErrConfigInvalid)
	}
	cat = NewCatalog()
	for _, sc := range cfg.Schemas {
		attrs := make([]*Attribute, 0, len(sc.Attributes))
		for _, ac := range sc.Attributes {
			typ, ok := ParseType(ac.Type)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s: unknown type %q", ErrConfigInvalid, sc.Name, ac.Name, ac.Type)
			}
			switch {
			case typ == Reference:
				if ac.Key {
					return nil, fmt.Errorf("%w: %s.%s: a reference cannot be a key", ErrConfigInvalid, sc.Name, ac.Name)
				}
				attrs = append(attrs, RefTo(ac.Name, ac.Target))
			case ac.Target != "":
				return nil, fmt.Errorf("%w: %s.%s: target is only allowed on references", ErrConfigInvalid, sc.Name, ac.Name)
			case ac.Key:
				attrs = append(attrs, Key(ac.Name, typ))
			default:
				attrs = append(attrs, Attr(ac.Name, typ))
			}
		}
		scm := AddSchema(cat, sc.Name, attrs...)
		for _, ic := range sc.Indexes {
			scm.AddIndex(ic.Name, ic.Fields...)
		}
	}
	if err := cat.validateRefs(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	return cat, nil
}
