package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command is one tdb subcommand. The same value serves the command line and
// the shell.
type Command struct {
	Flags *flag.FlagSet

	// Usage starts with the command name, e.g. "get <schema> field=value...".
	Usage string
	Short string
	Long  string

	// SchemaArg means the first argument names a schema. Run rejects a
	// missing one and the shell completes it.
	SchemaArg bool

	// Interactive commands own the terminal and are not offered inside the
	// shell.
	Interactive bool

	Exec func(ctx context.Context, o *IO, args []string) error
}

func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-40s %s", c.Usage, c.Short)
}

func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: tdb", c.Usage)
	o.Println()
	if c.Long != "" {
		o.Println(c.Long)
	} else {
		o.Println(c.Short)
	}

	if c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")
		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		o.Printf("%s", buf.String())
	}
}

// Run parses flags, checks the schema argument and executes the command.
// Usage mistakes print the command help after the error; failures of Exec
// print the error alone. Returns exit code.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{})

	err := c.Flags.Parse(args)
	if errors.Is(err, flag.ErrHelp) {
		c.PrintHelp(o)
		return 0
	}
	if err == nil && c.SchemaArg && c.Flags.NArg() == 0 {
		err = errSchemaRequired
	}
	if err != nil {
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o)
		return 1
	}

	if err := c.Exec(ctx, o, c.Flags.Args()); err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}
	return 0
}
