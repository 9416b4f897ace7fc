package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/andreyvit/tdb"
	"github.com/andreyvit/tdb/oplog"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"
)

var errFileRequired = errors.New("file name is required")

// DumpCmd returns the dump command.
func DumpCmd(e *env) *Command {
	flags := flag.NewFlagSet("dump", flag.ContinueOnError)
	noRecords := flags.Bool("no-records", false, "Omit records")
	noIndices := flags.Bool("no-indices", false, "Omit secondary index entries")

	return &Command{
		Flags: flags,
		Usage: "dump [flags]",
		Short: "Print every schema, record and index entry",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			db, err := e.open()
			if err != nil {
				return err
			}
			f := tdb.DumpAll
			if *noRecords {
				f &^= tdb.DumpRecords
			}
			if *noIndices {
				f &^= tdb.DumpIndexEntries
			}
			s, err := db.Dump(f)
			if err != nil {
				return err
			}
			o.Printf("%s", s)
			return nil
		},
	}
}

// StatsCmd returns the stats command.
func StatsCmd(e *env) *Command {
	return &Command{
		Flags: flag.NewFlagSet("stats", flag.ContinueOnError),
		Usage: "stats",
		Short: "Print record and index entry counts per schema",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			db, err := e.open()
			if err != nil {
				return err
			}
			stats, err := db.Stats()
			if err != nil {
				return err
			}
			for _, s := range stats {
				o.Printf("%s: records=%d index_entries=%d nodes=%d empty_nodes=%d size=%d\n", s.Schema, s.Records, s.IndexEntries, s.Nodes, s.EmptyNodes, s.TotalSize())
			}
			return nil
		},
	}
}

// ExportCmd returns the export command.
func ExportCmd(e *env) *Command {
	return &Command{
		Flags:     flag.NewFlagSet("export", flag.ContinueOnError),
		Usage:     "export <schema> <file>",
		SchemaArg: true,
		Short:     "Write every record of a schema to a JSON file",
		Long: "Write every record of a schema to a JSON array file. The file is replaced\n" +
			"atomically, so readers never see a partial export.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) < 2 {
				return errFileRequired
			}
			store, err := e.store(args[0])
			if err != nil {
				return err
			}
			recs, err := store.ListAll()
			if err != nil {
				return err
			}
			if recs == nil {
				recs = []*tdb.Record{}
			}
			data, err := json.MarshalIndent(recs, "", "  ")
			if err != nil {
				return err
			}
			data = append(data, '\n')
			if err := atomic.WriteFile(args[1], bytes.NewReader(data)); err != nil {
				return fmt.Errorf("writing %s: %w", args[1], err)
			}
			o.Printf("exported %d %s records to %s\n", len(recs), store.Schema().Name(), args[1])
			return nil
		},
	}
}

// OpLogCmd returns the oplog command.
func OpLogCmd(_ *env) *Command {
	flags := flag.NewFlagSet("oplog", flag.ContinueOnError)
	truncate := flags.Bool("truncate", false, "Trim a torn or corrupted tail")

	return &Command{
		Flags: flags,
		Usage: "oplog <file> [flags]",
		Short: "Print the entries of an op log",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errFileRequired
			}
			res, err := oplog.Replay(args[0], func(ent oplog.Entry) error {
				o.Println(ent.String())
				return nil
			})
			if err != nil {
				return err
			}
			if res.Torn() {
				o.ErrPrintf("warning: %s: %d bytes after the last intact entry\n", args[0], res.Size-res.Valid)
				if *truncate {
					if err := oplog.Truncate(args[0], res.Valid); err != nil {
						return err
					}
					o.ErrPrintf("truncated %s to %d bytes\n", args[0], res.Valid)
				}
			}
			return nil
		},
	}
}
