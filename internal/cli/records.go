package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/andreyvit/tdb"

	flag "github.com/spf13/pflag"
)

var (
	errSchemaRequired = errors.New("schema name is required")
	errBadAssignment  = errors.New("invalid assignment")
	errNotFound       = errors.New("not found")
)

// PutCmd returns the put command.
func PutCmd(e *env) *Command {
	return &Command{
		Flags:     flag.NewFlagSet("put", flag.ContinueOnError),
		Usage:     "put <schema> field=value...",
		SchemaArg: true,
		Short:     "Save a record, prints its key",
		Long: "Save a record built from the given values. All key fields are required.\n" +
			"A reference field takes the key of the referenced record, with key\n" +
			"components joined by '|'.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			store, params, err := e.storeAndValues(args)
			if err != nil {
				return err
			}
			rec, err := store.Construct(params)
			if err != nil {
				return err
			}
			km, err := rec.Save()
			if err != nil {
				return err
			}
			o.Println(store.Schema().Primary().KeyString(km))
			return nil
		},
	}
}

// GetCmd returns the get command.
func GetCmd(e *env) *Command {
	return &Command{
		Flags:     flag.NewFlagSet("get", flag.ContinueOnError),
		Usage:     "get <schema> field=value...",
		SchemaArg: true,
		Short:     "Print the record with the given key as JSON",
		Exec: func(_ context.Context, o *IO, args []string) error {
			store, params, err := e.storeAndValues(args)
			if err != nil {
				return err
			}
			rec, err := store.Load(params)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("%s %s: %w", store.Schema().Name(), strings.Join(args[1:], " "), errNotFound)
			}
			return printRecord(o, rec)
		},
	}
}

// DeleteCmd returns the delete command.
func DeleteCmd(e *env) *Command {
	return &Command{
		Flags:     flag.NewFlagSet("delete", flag.ContinueOnError),
		Usage:     "delete <schema> field=value...",
		SchemaArg: true,
		Short:     "Delete the record with the given key",
		Exec: func(_ context.Context, o *IO, args []string) error {
			store, params, err := e.storeAndValues(args)
			if err != nil {
				return err
			}
			found, err := store.Delete(params)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%s %s: %w", store.Schema().Name(), strings.Join(args[1:], " "), errNotFound)
			}
			o.Println("deleted")
			return nil
		},
	}
}

// ListCmd returns the list command.
func ListCmd(e *env) *Command {
	flags := flag.NewFlagSet("list", flag.ContinueOnError)
	match := flags.StringArrayP("match", "m", nil, "Keep records whose field matches a regexp, as field=regexp (repeatable)")
	count := flags.Bool("count", false, "Print only the number of records")

	return &Command{
		Flags:     flags,
		Usage:     "list <schema> [flags]",
		SchemaArg: true,
		Short:     "Print every record of a schema as JSON lines",
		Exec: func(_ context.Context, o *IO, args []string) error {
			store, err := e.store(args[0])
			if err != nil {
				return err
			}
			var coll *tdb.Collection
			if len(*match) == 0 {
				coll, err = store.All()
			} else {
				spec := make(map[string]any, len(*match))
				for _, m := range *match {
					name, pattern, ok := strings.Cut(m, "=")
					if !ok {
						return fmt.Errorf("%w: %q, wanted field=regexp", errBadAssignment, m)
					}
					re, err := regexp.Compile(pattern)
					if err != nil {
						return fmt.Errorf("%s: %w", name, err)
					}
					spec[name] = re
				}
				coll, err = store.Filter(spec)
			}
			if err != nil {
				return err
			}
			if *count {
				o.Println(coll.Count())
				return nil
			}
			return printCollection(o, coll)
		},
	}
}

// QueryCmd returns the query command.
func QueryCmd(e *env) *Command {
	flags := flag.NewFlagSet("query", flag.ContinueOnError)
	or := flags.StringArray("or", nil, "Another clause, as space-separated field=value pairs (repeatable)")

	return &Command{
		Flags:     flags,
		Usage:     "query <schema> field=value... [--or 'field=value ...']...",
		SchemaArg: true,
		Short:     "Run an equality query and print matches as JSON lines",
		Long: "Run an equality query. Positional field=value pairs form the first clause\n" +
			"and each --or adds another; a record matches if it matches any clause.\n" +
			"Without any pairs, every record matches.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			q, err := e.buildQuery(args, *or)
			if err != nil {
				return err
			}
			coll, err := q.Execute()
			if err != nil {
				return err
			}
			return printCollection(o, coll)
		},
	}
}

// ExplainCmd returns the explain command.
func ExplainCmd(e *env) *Command {
	flags := flag.NewFlagSet("explain", flag.ContinueOnError)
	or := flags.StringArray("or", nil, "Another clause, as space-separated field=value pairs (repeatable)")

	return &Command{
		Flags:     flags,
		Usage:     "explain <schema> field=value... [--or 'field=value ...']...",
		SchemaArg: true,
		Short:     "Print the plan of a query, one line per clause",
		Exec: func(_ context.Context, o *IO, args []string) error {
			q, err := e.buildQuery(args, *or)
			if err != nil {
				return err
			}
			o.Println(q.Explain().String())
			return nil
		},
	}
}

func (e *env) buildQuery(args []string, or []string) (*tdb.Query, error) {
	store, err := e.store(args[0])
	if err != nil {
		return nil, err
	}
	q := store.Query()
	clauses := make([][]string, 0, 1+len(or))
	if len(args) > 1 {
		clauses = append(clauses, args[1:])
	}
	for _, c := range or {
		clauses = append(clauses, strings.Fields(c))
	}
	for _, clause := range clauses {
		params, err := e.parseValues(store.Schema(), clause)
		if err != nil {
			return nil, err
		}
		if err := q.WhereParams(params); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (e *env) storeAndValues(args []string) (*tdb.Store, tdb.Params, error) {
	store, err := e.store(args[0])
	if err != nil {
		return nil, nil, err
	}
	params, err := e.parseValues(store.Schema(), args[1:])
	if err != nil {
		return nil, nil, err
	}
	return store, params, nil
}

// parseValues parses field=value arguments with each attribute's Parse hook.
func (e *env) parseValues(scm *tdb.Schema, args []string) (tdb.Params, error) {
	params := make(tdb.Params, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q, wanted field=value", errBadAssignment, arg)
		}
		attr := scm.Attribute(name)
		if attr == nil {
			return nil, fmt.Errorf("%s.%s: %w", scm.Name(), name, tdb.ErrUnknownField)
		}
		v, err := e.parseValue(attr, raw)
		if err != nil {
			return nil, err
		}
		params[name] = v
	}
	return params, nil
}

func (e *env) parseValue(attr *tdb.Attribute, raw string) (any, error) {
	if attr.Type() != tdb.Reference {
		v, err := attr.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", attr, err)
		}
		return v, nil
	}
	target, err := e.store(attr.Target())
	if err != nil {
		return nil, err
	}
	rec, err := target.Load(target.Schema().Primary().ParseKeyString(raw))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", attr, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%v: %s %q: %w", attr, attr.Target(), raw, errNotFound)
	}
	return rec, nil
}

func printRecord(o *IO, rec *tdb.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	o.Println(string(data))
	return nil
}

func printCollection(o *IO, coll *tdb.Collection) error {
	for rec := range coll.All() {
		if err := printRecord(o, rec); err != nil {
			return err
		}
	}
	return nil
}
