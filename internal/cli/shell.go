package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	flag "github.com/spf13/pflag"
)

const shellPrompt = "tdb> "

// ShellCmd returns the shell command.
func ShellCmd(e *env) *Command {
	return &Command{
		Flags:       flag.NewFlagSet("shell", flag.ContinueOnError),
		Usage:       "shell",
		Interactive: true,
		Short:       "Run commands interactively against one open database",
		Long: "Read commands line by line and run them against the same open database.\n" +
			"Type 'help' for commands, 'exit' to quit. On a terminal, lines are edited\n" +
			"with history and tab completion of command and schema names.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			if _, err := e.open(); err != nil {
				return err
			}
			r := &shell{env: e, io: o}
			if f, ok := e.in.(*os.File); ok && f == os.Stdin && liner.TerminalSupported() {
				return r.runInteractive(ctx)
			}
			return r.runScript(ctx, e.in)
		},
	}
}

type shell struct {
	env   *env
	io    *IO
	liner *liner.State
	fails int
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".tdb_history")
}

func (r *shell) runInteractive(ctx context.Context) error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}
	defer r.saveHistory()

	r.io.Println("Type 'help' for available commands.")
	for {
		line, err := r.liner.Prompt(shellPrompt)
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				r.io.Println()
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)
		if !r.exec(ctx, line) {
			return nil
		}
	}
}

// runScript runs commands read from a non-terminal input, such as a pipe.
func (r *shell) runScript(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !r.exec(ctx, line) {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	if r.fails > 0 {
		return fmt.Errorf("%d commands failed", r.fails)
	}
	return nil
}

// exec runs one line and returns false when the shell should exit.
func (r *shell) exec(ctx context.Context, line string) bool {
	args, err := splitShellLine(line)
	if err != nil {
		r.io.ErrPrintln("error:", err)
		r.fails++
		return true
	}
	switch args[0] {
	case "exit", "quit":
		return false
	case "help", "?":
		for _, c := range commands(r.env) {
			if !c.Interactive {
				r.io.Println(c.HelpLine())
			}
		}
		return true
	}

	// commands are rebuilt for every line so that flag values do not
	// carry over
	cmd := findCommand(commands(r.env), args[0])
	if cmd == nil || cmd.Interactive {
		r.io.ErrPrintln("error: unknown command:", args[0])
		r.fails++
		return true
	}
	if cmd.Run(ctx, r.io, args[1:]) != 0 {
		r.fails++
	}
	return true
}

func (r *shell) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

// completer completes command names, then schema names.
func (r *shell) completer(line string) []string {
	fields := strings.Fields(line)
	var candidates []string
	var prefix string
	switch {
	case len(fields) == 0 || (len(fields) == 1 && !strings.HasSuffix(line, " ")):
		for _, c := range commands(r.env) {
			if !c.Interactive {
				candidates = append(candidates, c.Name())
			}
		}
		if len(fields) == 1 {
			prefix = fields[0]
		}
		var out []string
		for _, c := range candidates {
			if strings.HasPrefix(c, prefix) {
				out = append(out, c+" ")
			}
		}
		return out
	case len(fields) == 1 || (len(fields) == 2 && !strings.HasSuffix(line, " ")):
		if r.env.db == nil {
			return nil
		}
		if cmd := findCommand(commands(r.env), fields[0]); cmd == nil || !cmd.SchemaArg {
			return nil
		}
		if len(fields) == 2 {
			prefix = fields[1]
		}
		var out []string
		for _, scm := range r.env.db.Catalog().Schemas() {
			if strings.HasPrefix(strings.ToLower(scm.Name()), strings.ToLower(prefix)) {
				out = append(out, fields[0]+" "+scm.Name()+" ")
			}
		}
		return out
	}
	return nil
}

// splitShellLine splits a line into words, honoring single and double
// quotes so that --or clauses can contain spaces.
func splitShellLine(line string) ([]string, error) {
	var args []string
	var cur strings.Builder
	var quote rune
	inWord := false
	for _, c := range line {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteRune(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inWord = true
		case c == ' ' || c == '\t':
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(c)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if inWord {
		args = append(args, cur.String())
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return args, nil
}
