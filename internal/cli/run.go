package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andreyvit/tdb"

	flag "github.com/spf13/pflag"
)

const (
	defaultDBPath     = "tdb.db"
	defaultConfigPath = "tdb.jsonc"
)

var errUnknownSchema = errors.New("unknown schema")

// env holds global options and the lazily opened database shared by the
// commands of one invocation.
type env struct {
	dbPath     string
	configPath string
	opLogPath  string
	verbose    bool

	in     io.Reader
	errOut io.Writer
	db     *tdb.DB
}

func (e *env) open() (*tdb.DB, error) {
	if e.db != nil {
		return e.db, nil
	}
	cat, err := tdb.LoadCatalog(e.configPath)
	if err != nil {
		return nil, err
	}
	db, err := tdb.Open(e.dbPath, cat, tdb.Options{
		Verbose:   e.verbose,
		OpLogPath: e.opLogPath,
		Logf: func(format string, args ...any) {
			fmt.Fprintf(e.errOut, format+"\n", args...)
		},
	})
	if err != nil {
		return nil, err
	}
	e.db = db
	return db, nil
}

func (e *env) store(name string) (*tdb.Store, error) {
	db, err := e.open()
	if err != nil {
		return nil, err
	}
	scm := db.Catalog().SchemaNamed(name)
	if scm == nil {
		return nil, fmt.Errorf("%w: %s", errUnknownSchema, name)
	}
	return db.StoreOf(scm), nil
}

func (e *env) close() error {
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

func commands(e *env) []*Command {
	return []*Command{
		PutCmd(e),
		GetCmd(e),
		DeleteCmd(e),
		ListCmd(e),
		QueryCmd(e),
		ExplainCmd(e),
		DumpCmd(e),
		StatsCmd(e),
		ExportCmd(e),
		OpLogCmd(e),
		ShellCmd(e),
	}
}

func findCommand(cmds []*Command, name string) *Command {
	for _, c := range cmds {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// Run is the main entry point. args[0] is the program name. Returns exit code.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string) int {
	o := NewIO(out, errOut)
	e := &env{in: in, errOut: errOut}

	globals := flag.NewFlagSet("tdb", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(io.Discard)
	globals.StringVar(&e.dbPath, "db", defaultDBPath, "Database file")
	globals.StringVarP(&e.configPath, "config", "c", defaultConfigPath, "Catalog config file (JSON with comments)")
	globals.StringVar(&e.opLogPath, "oplog", "", "Append every change to this op log file")
	globals.BoolVarP(&e.verbose, "verbose", "v", false, "Log every database operation to stderr")

	cmds := commands(e)

	var rest []string
	if len(args) > 1 {
		if err := globals.Parse(args[1:]); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				printUsage(o, globals, cmds)
				return 0
			}
			o.ErrPrintln("error:", err)
			return 1
		}
		rest = globals.Args()
	}
	if len(rest) == 0 || rest[0] == "help" {
		printUsage(o, globals, cmds)
		return 0
	}

	cmd := findCommand(cmds, rest[0])
	if cmd == nil {
		o.ErrPrintln("error: unknown command:", rest[0])
		printUsage(NewIO(errOut, errOut), globals, cmds)
		return 1
	}

	code := cmd.Run(context.Background(), o, rest[1:])
	if err := e.close(); err != nil {
		o.ErrPrintln("error:", err)
		code = 1
	}
	return code
}

func printUsage(o *IO, globals *flag.FlagSet, cmds []*Command) {
	o.Println("Usage: tdb [flags] <command> [args]")
	o.Println()
	o.Println("Commands:")
	for _, c := range cmds {
		o.Println(c.HelpLine())
	}
	o.Println()
	o.Println("Flags:")
	var buf strings.Builder
	globals.SetOutput(&buf)
	globals.PrintDefaults()
	globals.SetOutput(io.Discard)
	o.Printf("%s", buf.String())
}
