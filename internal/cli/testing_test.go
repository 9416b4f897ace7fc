package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testConfig = `{
  // people and their pets
  "schemas": [
    {
      "name": "Person",
      "attributes": [
        {"name": "last_name", "type": "string", "key": true},
        {"name": "first_name", "type": "string", "key": true},
        {"name": "age", "type": "int"},
        {"name": "favorite_color", "type": "string"},
      ],
      "indexes": [{"name": "by_color", "fields": ["favorite_color"]}],
    },
    {
      "name": "Pet",
      "attributes": [
        {"name": "name", "type": "string", "key": true},
        {"name": "owner", "type": "ref", "target": "Person"},
      ],
    },
  ],
}
`

// CLI runs the tdb command against a database and config in a temp
// directory.
type CLI struct {
	t   *testing.T
	Dir string
}

func NewCLI(t *testing.T) *CLI {
	t.Helper()
	r := &CLI{t: t, Dir: t.TempDir()}
	if err := os.WriteFile(r.Path("tdb.jsonc"), []byte(testConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	return r
}

func (r *CLI) Path(name string) string {
	return filepath.Join(r.Dir, name)
}

func (r *CLI) globalArgs() []string {
	return []string{"tdb", "--db", r.Path("test.db"), "--config", r.Path("tdb.jsonc")}
}

// Run executes the CLI and returns stdout, stderr and the exit code.
func (r *CLI) Run(args ...string) (string, string, int) {
	return r.RunWithInput("", args...)
}

func (r *CLI) RunWithInput(stdin string, args ...string) (string, string, int) {
	var outBuf, errBuf bytes.Buffer
	fullArgs := append(r.globalArgs(), args...)
	code := Run(strings.NewReader(stdin), &outBuf, &errBuf, fullArgs)
	return outBuf.String(), errBuf.String(), code
}

// MustRun fails the test if the command returns non-zero. Returns trimmed
// stdout.
func (r *CLI) MustRun(args ...string) string {
	r.t.Helper()
	stdout, stderr, code := r.Run(args...)
	if code != 0 {
		r.t.Fatalf("command %v failed with exit code %d\nstderr: %s", args, code, stderr)
	}
	return strings.TrimSpace(stdout)
}

// MustFail fails the test if the command succeeds. Returns trimmed stderr.
func (r *CLI) MustFail(args ...string) string {
	r.t.Helper()
	stdout, stderr, code := r.Run(args...)
	if code == 0 {
		r.t.Fatalf("command %v should have failed but succeeded\nstdout: %s", args, stdout)
	}
	return strings.TrimSpace(stderr)
}

func AssertContains(t *testing.T, content, substr string) {
	t.Helper()
	if !strings.Contains(content, substr) {
		t.Errorf("content should contain %q\ncontent:\n%s", substr, content)
	}
}

func AssertNotContains(t *testing.T, content, substr string) {
	t.Helper()
	if strings.Contains(content, substr) {
		t.Errorf("content should NOT contain %q\ncontent:\n%s", substr, content)
	}
}
