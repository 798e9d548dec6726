//go:build integration

package tier1

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/gitcom/internal/testutil"
)

const defaultTimeout = 5 * time.Minute

// Harness builds the gitcom binary once and runs it against throwaway
// repositories
type Harness struct {
	t       *testing.T
	workDir string
	binary  string
}

// NewHarness creates a new test harness
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	dir := t.TempDir()
	return &Harness{
		t:       t,
		workDir: dir,
		binary:  filepath.Join(dir, "gitcom"),
	}
}

// Build compiles cmd/gitcom into the harness work directory
func (h *Harness) Build(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/gitcom")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	h.t.Logf("binary built at %s", h.binary)
	return nil
}

// Run executes the binary with args
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()
	cmd := exec.CommandContext(ctx, h.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}
	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun executes the binary and fails the test on a non-zero exit
func (h *Harness) MustRun(ctx context.Context, args ...string) (string, string) {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout, stderr
}

// Fixture is one simulated project: a bare remote seeded with a README and
// a config whose checkout does not exist yet
type Fixture struct {
	Remote   string
	Checkout string
	StateDir string
	Config   string
}

// NewFixture creates a remote and writes a config for it. extra is appended
// verbatim to the YAML.
func (h *Harness) NewFixture(name, extra string) Fixture {
	h.t.Helper()
	base := filepath.Join(h.workDir, name)

	seed := filepath.Join(base, "seed")
	testutil.InitRepo(h.t, seed, "main")
	testutil.CommitFiles(h.t, seed, "initial", map[string]string{
		"README.md":      "# " + name + "\n",
		"src/.gitkeep":   "",
		"notes/start.md": "first\n",
	})

	f := Fixture{
		Remote:   filepath.Join(base, "remote.git"),
		Checkout: filepath.Join(base, "checkout"),
		StateDir: filepath.Join(base, "state"),
		Config:   filepath.Join(base, "config.yaml"),
	}
	if out, err := exec.Command("git", "clone", "-q", "--bare", seed, f.Remote).CombinedOutput(); err != nil {
		h.t.Fatalf("clone bare: %v: %s", err, out)
	}

	content := fmt.Sprintf(`repo:
  path: %q
  url: %q
  branch: main
paths:
  state_dir: %q
identity:
  name: "Integration Bot"
  email: "bot@example.com"
%s`, f.Checkout, f.Remote, f.StateDir, extra)
	if err := os.WriteFile(f.Config, []byte(content), 0o600); err != nil {
		h.t.Fatalf("write config: %v", err)
	}
	return f
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
