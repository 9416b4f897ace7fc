package tdb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/andreyvit/tdb/oplog"
	"go.etcd.io/bbolt"
)

// DB stores the records of a catalog's schemas in a KeyStore.
type DB struct {
	ks       KeyStore
	bdb      *bbolt.DB
	catalog  *Catalog
	stores   []*Store
	logf     func(format string, args ...any)
	verbose  bool
	noSync   bool
	onChange func(chg *Change)
	oplog    *oplog.Log
	nowFunc  func() time.Time
}

type Options struct {
	// Logf receives verbose operation lines and warnings. Defaults to
	// slog.Default at Info level.
	Logf      func(format string, args ...any)
	Verbose   bool
	IsTesting bool
	MmapSize  int

	// OnChange is called after every committed save or delete, once per
	// record written or removed.
	OnChange func(chg *Change)

	// OpLogPath, if set, appends every committed change to an op log file.
	OpLogPath string

	Now func() time.Time
}

// Open opens or creates a Bolt database file.
func Open(path string, cat *Catalog, opt Options) (*DB, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 64
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("tdb: %w", err)
	}
	db, err := OpenKeyStore(newBoltKeyStore(bdb), cat, opt)
	if err != nil {
		bdb.Close()
		return nil, err
	}
	db.bdb = bdb
	return db, nil
}

// OpenMem returns a DB backed by a fresh in-memory key store.
func OpenMem(cat *Catalog, opt Options) (*DB, error) {
	return OpenKeyStore(NewMemKeyStore(), cat, opt)
}

// OpenKeyStore returns a DB on top of an arbitrary KeyStore. The catalog is
// validated and frozen.
func OpenKeyStore(ks KeyStore, cat *Catalog, opt Options) (*DB, error) {
	if err := cat.freeze(); err != nil {
		return nil, fmt.Errorf("tdb: %w", err)
	}
	if opt.Logf == nil {
		logger := slog.Default()
		opt.Logf = func(format string, args ...any) {
			logger.Log(context.Background(), slog.LevelInfo, fmt.Sprintf(format, args...))
		}
	}
	db := &DB{
		ks:       ks,
		catalog:  cat,
		logf:     opt.Logf,
		verbose:  opt.Verbose,
		noSync:   opt.IsTesting,
		onChange: opt.OnChange,
		nowFunc:  opt.Now,
	}
	db.stores = make([]*Store, len(cat.schemas))
	for i, scm := range cat.schemas {
		db.stores[i] = &Store{db: db, schema: scm}
	}
	if opt.OpLogPath != "" {
		l, err := oplog.Open(opt.OpLogPath, oplog.Options{})
		if err != nil {
			return nil, fmt.Errorf("tdb: %w", err)
		}
		db.oplog = l
	}
	return db, nil
}

// Bolt returns the underlying Bolt database, or nil for other key stores.
func (db *DB) Bolt() *bbolt.DB {
	return db.bdb
}

func (db *DB) KeyStore() KeyStore {
	return db.ks
}

func (db *DB) Catalog() *Catalog {
	return db.catalog
}

// Store returns the store of the named schema. Panics if there is no such
// schema.
func (db *DB) Store(name string) *Store {
	return db.storeOf(db.catalog.mustSchema(name))
}

func (db *DB) storeOf(scm *Schema) *Store {
	if scm.catalog != db.catalog {
		panic(fmt.Errorf("schema %s is not part of this DB's catalog", scm.name))
	}
	return db.stores[scm.pos]
}

// StoreOf returns the store of the given schema.
func (db *DB) StoreOf(scm *Schema) *Store {
	return db.storeOf(scm)
}

func (db *DB) Close() error {
	var logErr error
	if db.oplog != nil {
		logErr = db.oplog.Close()
	}
	err := db.ks.Close()
	if err != nil {
		return fmt.Errorf("tdb: closing: %w", err)
	}
	return logErr
}
