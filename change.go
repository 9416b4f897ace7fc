package tdb

import (
	"fmt"
	"time"

	"github.com/andreyvit/tdb/oplog"
)

type (
	// Change describes one record written or removed by a Store operation.
	// Saving a record that references unsaved records produces one change
	// per record written.
	Change struct {
		schema *Schema
		op     Op
		key    KeyMap
		record *Record
	}

	Op int
)

const (
	OpNone   Op = 0
	OpSave   Op = 1
	OpDelete Op = 2
)

func (chg *Change) Schema() *Schema {
	return chg.schema
}
func (chg *Change) Op() Op {
	return chg.op
}
func (chg *Change) Key() KeyMap {
	return chg.key
}

// Record returns the saved record; nil for deletions.
func (chg *Change) Record() *Record {
	return chg.record
}

func (chg *Change) String() string {
	return fmt.Sprintf("%v %s/%s", chg.op, chg.schema.name, chg.schema.Primary().KeyString(chg.key))
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpSave:
		return "save"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

func (v Op) oplogOp() oplog.Op {
	switch v {
	case OpSave:
		return oplog.OpSave
	case OpDelete:
		return oplog.OpDelete
	default:
		panic(fmt.Errorf("invalid op %d", int(v)))
	}
}

// publish reports committed changes to the change handler and the op log.
func (db *DB) publish(changes []*Change) error {
	if len(changes) == 0 {
		return nil
	}
	if db.onChange != nil {
		for _, chg := range changes {
			db.onChange(chg)
		}
	}
	if db.oplog == nil {
		return nil
	}
	now := db.now()
	for _, chg := range changes {
		err := db.oplog.Append(oplog.Entry{
			Op:     chg.op.oplogOp(),
			Schema: chg.schema.name,
			Key:    chg.key,
			Time:   now,
		})
		if err != nil {
			return fmt.Errorf("tdb: %v committed but not logged: %w", chg, err)
		}
	}
	if !db.noSync {
		if err := db.oplog.Sync(); err != nil {
			return fmt.Errorf("tdb: syncing op log: %w", err)
		}
	}
	return nil
}

func (db *DB) now() time.Time {
	if db.nowFunc != nil {
		return db.nowFunc()
	}
	return time.Now()
}
