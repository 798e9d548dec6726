package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/gitcom/internal/config"
	"github.com/schaermu/gitcom/internal/drift"
	"github.com/schaermu/gitcom/internal/fault"
	"github.com/schaermu/gitcom/internal/simulate"
	"github.com/schaermu/gitcom/internal/snapshot"
	"github.com/schaermu/gitcom/internal/structure"
	"github.com/schaermu/gitcom/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSetupLogger(t *testing.T) {
	// Save original globals.
	origLevel := logLevel
	origFormat := logFormat
	t.Cleanup(func() {
		logLevel = origLevel
		logFormat = origFormat
	})

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text"},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			logger := setupLogger()
			if logger == nil {
				t.Fatal("setupLogger returned nil")
			}
		})
	}
}

// writeConfig writes a minimal config for repoDir and returns its path
func writeConfig(t *testing.T, repoDir, stateDir string) string {
	t.Helper()
	content := []byte(`repo:
  path: "` + repoDir + `"
paths:
  state_dir: "` + stateDir + `"
identity:
  name: "Ada Lovelace"
  email: "ada@example.com"
  allowed_emails: ["ada@example.com"]
schedule:
  timezone: "Europe/Zurich"
`)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, content, 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return cfgPath
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	tmpDir := t.TempDir()
	cfgFile = writeConfig(t, filepath.Join(tmpDir, "repo"), filepath.Join(tmpDir, "state"))

	cfg, err := loadConfig(testLogger())
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg == nil {
		t.Fatal("loadConfig returned nil config")
	}
	if cfg.Identity.Email != "ada@example.com" {
		t.Errorf("identity.email = %q", cfg.Identity.Email)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	cfgFile = filepath.Join(t.TempDir(), "nonexistent.yaml")

	_, err := loadConfig(testLogger())
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestLoadConfig_DefaultPath(t *testing.T) {
	origCfgFile := cfgFile
	defer func() { cfgFile = origCfgFile }()
	cfgFile = ""
	t.Setenv("HOME", t.TempDir())

	_, err := loadConfig(testLogger())
	// Expect error because the default config file doesn't exist
	if err == nil {
		t.Error("expected error when default config file doesn't exist")
	}
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	if ctx == nil {
		t.Fatal("setupSignalHandler returned nil context")
	}

	cancel()

	<-ctx.Done()
	if err := ctx.Err(); err == nil {
		t.Fatal("expected context error after cancel, got nil")
	}
}

func TestVersionCmd(t *testing.T) {
	t.Helper()
	// versionCmd.Run simply prints version info; should not panic.
	versionCmd.Run(versionCmd, []string{})
}

func TestResolveRange(t *testing.T) {
	tests := []struct {
		name      string
		rangeFlag string
		start     string
		end       string
		wantStart string
		wantEnd   string
		wantErr   bool
	}{
		{name: "range", rangeFlag: "2024-03-01__2024-03-03", wantStart: "2024-03-01", wantEnd: "2024-03-03"},
		{name: "start and end", start: "2024-03-01", end: "2024-03-02", wantStart: "2024-03-01", wantEnd: "2024-03-02"},
		{name: "single day", start: "2024-03-01", end: "2024-03-01", wantStart: "2024-03-01", wantEnd: "2024-03-01"},
		{name: "end before start", start: "2024-03-02", end: "2024-03-01", wantErr: true},
		{name: "inverted range", rangeFlag: "2024-03-02__2024-03-01", wantErr: true},
		{name: "missing end", start: "2024-03-01", wantErr: true},
		{name: "nothing", wantErr: true},
		{name: "bad date", start: "03/01/2024", end: "2024-03-02", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := resolveRange(tt.rangeFlag, tt.start, tt.end)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, fault.ErrPrecondition) {
					t.Errorf("expected precondition error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := start.Format(simulate.DateLayout); got != tt.wantStart {
				t.Errorf("start = %s, want %s", got, tt.wantStart)
			}
			if got := end.Format(simulate.DateLayout); got != tt.wantEnd {
				t.Errorf("end = %s, want %s", got, tt.wantEnd)
			}
		})
	}
}

// setupRun creates a seeded repository and a loaded config pointing at it
func setupRun(t *testing.T) *config.Config {
	t.Helper()
	tmpDir := t.TempDir()
	repoDir := filepath.Join(tmpDir, "repo")
	testutil.InitRepo(t, repoDir, "main")
	testutil.CommitFiles(t, repoDir, "initial", map[string]string{"README.md": "# notes\n"})

	cfg, err := config.Load(writeConfig(t, repoDir, filepath.Join(tmpDir, "state")))
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := simulate.ParseDate(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestRunSimulationLive(t *testing.T) {
	cfg := setupRun(t)
	seed := uint64(21)
	var out bytes.Buffer

	err := runSimulation(context.Background(), &out, testLogger(), cfg,
		mustDate(t, "2024-03-01"), mustDate(t, "2024-03-03"),
		runFlags{forceWork: true, seed: &seed})
	if err != nil {
		t.Fatalf("runSimulation: %v", err)
	}

	count, err := strconv.Atoi(testutil.GitOutput(t, cfg.Repo.Path, "rev-list", "--count", "HEAD"))
	if err != nil {
		t.Fatal(err)
	}
	if count < 4 {
		t.Fatalf("expected at least one commit per day on top of the initial commit, got %d commits", count)
	}

	authors := testutil.GitOutput(t, cfg.Repo.Path, "log", "--format=%ae")
	for _, a := range strings.Split(authors, "\n") {
		if a != "ada@example.com" && a != "test@test.com" {
			t.Errorf("unexpected author %q", a)
		}
	}

	var prev int64
	for _, line := range strings.Split(testutil.GitOutput(t, cfg.Repo.Path, "log", "--reverse", "--format=%at", "HEAD~"+strconv.Itoa(count-1)+"..HEAD"), "\n") {
		ts, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			t.Fatal(err)
		}
		if ts <= prev {
			t.Errorf("commit timestamps not strictly increasing: %d after %d", ts, prev)
		}
		prev = ts
	}

	// The snapshot tracks exactly the simulated paths
	store, err := snapshot.NewFileStore(cfg.SnapshotPath())
	if err != nil {
		t.Fatal(err)
	}
	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	head := structure.New(strings.Split(testutil.GitOutput(t, cfg.Repo.Path, "ls-files"), "\n")...)
	if want := head.Without("README.md"); !state.Equal(want) {
		t.Errorf("snapshot = %s, want %s", state, want)
	}

	if _, err := os.Stat(filepath.Join(cfg.StoriesDir(), "story_2024-03-01__2024-03-03.md")); err != nil {
		t.Errorf("story not written: %v", err)
	}
	if !strings.Contains(out.String(), "3 days") {
		t.Errorf("summary missing day count:\n%s", out.String())
	}

	report, err := checkDrift(context.Background(), testLogger(), cfg)
	if err != nil {
		t.Fatalf("checkDrift: %v", err)
	}
	if len(report.Missing) != 0 || strings.Join(report.Untracked, ",") != "README.md" {
		t.Errorf("unexpected drift report: %+v", report)
	}
}

func TestRunSimulationDryRun(t *testing.T) {
	cfg := setupRun(t)
	seed := uint64(5)
	var out bytes.Buffer
	before := testutil.GitOutput(t, cfg.Repo.Path, "rev-parse", "HEAD")

	err := runSimulation(context.Background(), &out, testLogger(), cfg,
		mustDate(t, "2024-03-01"), mustDate(t, "2024-03-02"),
		runFlags{dryRun: true, forceWork: true, seed: &seed})
	if err != nil {
		t.Fatalf("runSimulation: %v", err)
	}

	if after := testutil.GitOutput(t, cfg.Repo.Path, "rev-parse", "HEAD"); after != before {
		t.Errorf("dry run moved HEAD from %s to %s", before, after)
	}
	if status := testutil.GitOutput(t, cfg.Repo.Path, "status", "--porcelain"); status != "" {
		t.Errorf("dry run left changes in the working tree:\n%s", status)
	}
	if _, err := os.Stat(cfg.SnapshotPath()); !os.IsNotExist(err) {
		t.Errorf("dry run must not write the snapshot, stat err = %v", err)
	}
	story, err := os.ReadFile(filepath.Join(cfg.StoriesDir(), "story_2024-03-01__2024-03-02.md"))
	if err != nil {
		t.Fatalf("story not written: %v", err)
	}
	if !strings.Contains(string(story), "- mode: dry-run") {
		t.Errorf("story does not mention dry-run mode:\n%s", story)
	}
}

func TestRunSimulationIdentityNotAllowed(t *testing.T) {
	t.Run("existing repository", func(t *testing.T) {
		cfg := setupRun(t)
		cfg.Identity.Email = "eve@example.com"
		before := testutil.GitOutput(t, cfg.Repo.Path, "rev-parse", "HEAD")

		err := runSimulation(context.Background(), &bytes.Buffer{}, testLogger(), cfg,
			mustDate(t, "2024-03-01"), mustDate(t, "2024-03-01"), runFlags{forceWork: true})
		if !errors.Is(err, fault.ErrPrecondition) {
			t.Fatalf("expected precondition error, got %v", err)
		}
		if after := testutil.GitOutput(t, cfg.Repo.Path, "rev-parse", "HEAD"); after != before {
			t.Error("no commit may be created when the identity is rejected")
		}
	})

	t.Run("repository not created yet", func(t *testing.T) {
		cfg := setupRun(t)
		cfg.Repo.Path = filepath.Join(t.TempDir(), "fresh-repo")
		cfg.Repo.URL = ""
		cfg.Identity.Email = "eve@example.com"

		err := runSimulation(context.Background(), &bytes.Buffer{}, testLogger(), cfg,
			mustDate(t, "2024-03-01"), mustDate(t, "2024-03-01"), runFlags{forceWork: true})
		if !errors.Is(err, fault.ErrPrecondition) {
			t.Fatalf("expected precondition error, got %v", err)
		}
		if _, err := os.Stat(cfg.Repo.Path); !os.IsNotExist(err) {
			t.Errorf("rejected identity must not create %s, stat err = %v", cfg.Repo.Path, err)
		}
		if _, err := os.Stat(cfg.SnapshotPath()); !os.IsNotExist(err) {
			t.Errorf("rejected identity must not write the snapshot, stat err = %v", err)
		}
	})
}

func TestSummarize(t *testing.T) {
	d1 := mustDate(t, "2024-03-01")
	d2 := mustDate(t, "2024-03-02")
	d3 := mustDate(t, "2024-03-03")
	res := &simulate.RunResult{
		Final: structure.New("src/a.md"),
		Days: []simulate.DayResult{
			{Date: d1, Mode: "single", Actions: structure.Sequence{structure.Add("src/a.md")}, Commits: []simulate.Commit{{ID: "x"}}},
			{Date: d2, Mode: "single", Rest: true},
			{Date: d3, Mode: "multiple", Actions: structure.Sequence{structure.Edit("src/a.md")}},
		},
	}
	runErr := &simulate.DayError{Date: d3, Phase: simulate.PhaseCommitted, Err: errors.New("boom")}

	s := summarize(res, runErr, d1, d3)
	if len(s.Rows) != 3 {
		t.Fatalf("rows = %d", len(s.Rows))
	}
	if s.Rows[0].State != "work" || s.Rows[0].Commits != 1 {
		t.Errorf("row 0 = %+v", s.Rows[0])
	}
	if s.Rows[1].State != "rest" {
		t.Errorf("row 1 = %+v", s.Rows[1])
	}
	if s.Rows[2].State != "failed" || !strings.Contains(s.Rows[2].Note, "committed") {
		t.Errorf("row 2 = %+v", s.Rows[2])
	}
	if s.Paths != 1 {
		t.Errorf("paths = %d", s.Paths)
	}
}

func TestPrintDrift(t *testing.T) {
	var buf bytes.Buffer
	printDrift(&buf, drift.Report{Missing: []string{"src/a.md"}, Untracked: []string{"src/b.md"}}, drift.PolicyWarn)

	want := "drift: 1 missing from repository, 1 unknown to snapshot (policy: warn)\n  - src/a.md\n  + src/b.md\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}
