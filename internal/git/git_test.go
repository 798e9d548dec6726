package git

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/gitcom/internal/fault"
	"github.com/schaermu/gitcom/internal/identity"
	"github.com/schaermu/gitcom/internal/structure"
	"github.com/schaermu/gitcom/internal/testutil"
)

var testAuthor = identity.Identity{Name: "Ada Lovelace", Email: "ada@example.com"}

func commitCtx(when time.Time) CommitContext {
	return CommitContext{Author: testAuthor, When: when}
}

func TestCommitAppliesMutationsInOrder(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	testutil.InitRepo(t, dir, "main")
	client := NewShellClient(Options{RepoDir: dir})

	loc := time.FixedZone("CET", 3600)
	first := time.Date(2024, 3, 4, 10, 30, 0, 0, loc)

	id1, err := client.Commit(ctx, CommitRequest{
		Message: "start notes",
		Context: commitCtx(first),
		Mutations: []Mutation{
			{Kind: structure.KindAdd, Path: "src/a.md", Content: []byte("# a\n")},
			{Kind: structure.KindAdd, Path: "notes/b.md", Content: []byte("# b\n")},
		},
	})
	if err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if len(id1) != 40 {
		t.Errorf("expected a full commit id, got %q", id1)
	}

	second := first.Add(17 * time.Minute)
	id2, err := client.Commit(ctx, CommitRequest{
		Message: "rework notes",
		Context: commitCtx(second),
		Mutations: []Mutation{
			{Kind: structure.KindEdit, Path: "src/a.md", Content: []byte("more\n")},
			{Kind: structure.KindRename, Path: "notes/b.md", NewPath: "notes/b_v2.md"},
			{Kind: structure.KindAdd, Path: "src/c.md", Content: []byte("# c\n")},
			{Kind: structure.KindDelete, Path: "src/c.md"},
		},
	})
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if id1 == id2 {
		t.Fatal("expected a new commit")
	}

	got, err := os.ReadFile(filepath.Join(dir, "src", "a.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "# a\nmore\n" {
		t.Errorf("edit should append, got %q", got)
	}

	paths, err := client.HeadPaths(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"notes/b_v2.md", "src/a.md"}
	if strings.Join(paths.Paths(), ",") != strings.Join(want, ",") {
		t.Errorf("HeadPaths = %v, want %v", paths.Paths(), want)
	}

	if status := testutil.GitOutput(t, dir, "status", "--porcelain"); status != "" {
		t.Errorf("working tree should be clean, got:\n%s", status)
	}
}

func TestCommitForgesAuthorAndCommitter(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	testutil.InitRepo(t, dir, "main")
	client := NewShellClient(Options{RepoDir: dir})

	when := time.Date(2021, 7, 1, 10, 47, 0, 0, time.FixedZone("", -5*3600))
	if _, err := client.Commit(ctx, CommitRequest{
		Message:   "forged",
		Context:   commitCtx(when),
		Mutations: []Mutation{{Kind: structure.KindAdd, Path: "x.md", Content: []byte("x\n")}},
	}); err != nil {
		t.Fatal(err)
	}

	got := testutil.GitOutput(t, dir, "log", "-1", "--format=%an|%ae|%at|%ai|%cn|%ce|%ct|%s")
	want := "Ada Lovelace|ada@example.com|1625154420|2021-07-01 10:47:00 -0500|Ada Lovelace|ada@example.com|1625154420|forged"
	if got != want {
		t.Errorf("log = %q, want %q", got, want)
	}
}

func TestCommitUnstagedFilesAreLeftAlone(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	testutil.InitRepo(t, dir, "main")
	client := NewShellClient(Options{RepoDir: dir})

	if err := os.WriteFile(filepath.Join(dir, "local.txt"), []byte("mine"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Commit(ctx, CommitRequest{
		Message:   "only touched",
		Context:   commitCtx(time.Now()),
		Mutations: []Mutation{{Kind: structure.KindAdd, Path: "src/n.md"}},
	}); err != nil {
		t.Fatal(err)
	}

	if files := testutil.GitOutput(t, dir, "ls-files"); files != "src/n.md" {
		t.Errorf("expected only the touched path to be tracked, got %q", files)
	}
}

func TestCommitRejectsNonLocalPaths(t *testing.T) {
	dir := t.TempDir()
	testutil.InitRepo(t, dir, "main")
	client := NewShellClient(Options{RepoDir: dir})

	for _, m := range []Mutation{
		{Kind: structure.KindAdd, Path: "../escape.md"},
		{Kind: structure.KindAdd, Path: "/abs.md"},
		{Kind: structure.KindAdd, Path: ".git/hooks/pre-commit"},
		{Kind: structure.KindRename, Path: "a.md", NewPath: "../b.md"},
		{Kind: structure.KindAdd, Path: ""},
	} {
		_, err := client.Commit(context.Background(), CommitRequest{
			Message:   "bad",
			Context:   commitCtx(time.Now()),
			Mutations: []Mutation{m},
		})
		if err == nil {
			t.Errorf("expected error for %+v", m)
			continue
		}
		if !errors.Is(err, fault.ErrExecutor) {
			t.Errorf("expected executor error for %+v, got %v", m, err)
		}
	}
}

func TestCommitRenameOfMissingFileFails(t *testing.T) {
	dir := t.TempDir()
	testutil.InitRepo(t, dir, "main")
	client := NewShellClient(Options{RepoDir: dir})

	_, err := client.Commit(context.Background(), CommitRequest{
		Message:   "rename",
		Context:   commitCtx(time.Now()),
		Mutations: []Mutation{{Kind: structure.KindRename, Path: "gone.md", NewPath: "new.md"}},
	})
	if !errors.Is(err, fault.ErrExecutor) {
		t.Fatalf("expected executor error, got %v", err)
	}
}

func TestHeadPathsEmptyRepo(t *testing.T) {
	dir := t.TempDir()
	testutil.InitRepo(t, dir, "main")

	paths, err := NewShellClient(Options{RepoDir: dir}).HeadPaths(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !paths.Empty() {
		t.Errorf("expected empty state, got %v", paths)
	}
}

func TestHeadPathsUnusualNames(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	testutil.InitRepo(t, dir, "main")
	client := NewShellClient(Options{RepoDir: dir})

	name := "notes/with space \"quoted\".md"
	if _, err := client.Commit(ctx, CommitRequest{
		Message:   "odd name",
		Context:   commitCtx(time.Now()),
		Mutations: []Mutation{{Kind: structure.KindAdd, Path: name, Content: []byte("x")}},
	}); err != nil {
		t.Fatal(err)
	}

	paths, err := client.HeadPaths(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !paths.Has(name) {
		t.Errorf("expected %q in %v", name, paths.Paths())
	}
}

func TestEnsureRepoAndPush(t *testing.T) {
	ctx := context.Background()

	seedDir := t.TempDir()
	testutil.InitRepo(t, seedDir, "main")
	if _, err := NewShellClient(Options{RepoDir: seedDir}).Commit(ctx, CommitRequest{
		Message:   "seed",
		Context:   commitCtx(time.Date(2023, 12, 31, 10, 30, 0, 0, time.UTC)),
		Mutations: []Mutation{{Kind: structure.KindAdd, Path: "README.md", Content: []byte("seed")}},
	}); err != nil {
		t.Fatal(err)
	}
	remoteDir := filepath.Join(t.TempDir(), "remote.git")
	if out, err := exec.Command("git", "clone", "-q", "--bare", seedDir, remoteDir).CombinedOutput(); err != nil {
		t.Fatalf("%v: %s", err, out)
	}

	cloneDir := filepath.Join(t.TempDir(), "work")
	client := NewShellClient(Options{RepoDir: cloneDir, Branch: "main"})
	if err := client.EnsureRepo(ctx, remoteDir); err != nil {
		t.Fatalf("EnsureRepo: %v", err)
	}
	// second call is a no-op
	if err := client.EnsureRepo(ctx, remoteDir); err != nil {
		t.Fatalf("EnsureRepo again: %v", err)
	}

	id, err := client.Commit(ctx, CommitRequest{
		Message:   "first",
		Context:   commitCtx(time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)),
		Mutations: []Mutation{{Kind: structure.KindAdd, Path: "src/a.md", Content: []byte("a")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Push(ctx); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if got := testutil.GitOutput(t, remoteDir, "rev-parse", "main"); got != id {
		t.Errorf("remote main = %s, want %s", got, id)
	}
}

func TestEnsureRepoInitsWithoutURL(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fresh")
	client := NewShellClient(Options{RepoDir: dir})
	if err := client.EnsureRepo(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		t.Errorf("expected initialized repository: %v", err)
	}
}

func TestPushWithoutRemoteFails(t *testing.T) {
	dir := t.TempDir()
	testutil.InitRepo(t, dir, "main")
	err := NewShellClient(Options{RepoDir: dir}).Push(context.Background())
	if !errors.Is(err, fault.ErrExecutor) {
		t.Errorf("expected executor error, got %v", err)
	}
}

func TestDryRun(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	d := NewDryRun(logger, nil)

	req := CommitRequest{
		Message:   "plan",
		Context:   commitCtx(time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)),
		Mutations: []Mutation{{Kind: structure.KindRename, Path: "a.md", NewPath: "a_v2.md"}},
	}
	id1, err := d.Commit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	id2, _ := d.Commit(context.Background(), req)
	if id1 == id2 {
		t.Error("chained dry-run ids should differ")
	}
	if len(d.Commits()) != 2 {
		t.Errorf("expected 2 recorded commits, got %d", len(d.Commits()))
	}
	if !strings.Contains(buf.String(), "rename a.md -> a_v2.md") {
		t.Errorf("expected mutation in log, got:\n%s", buf.String())
	}

	paths, err := d.HeadPaths(context.Background())
	if err != nil || !paths.Empty() {
		t.Errorf("HeadPaths = %v, %v", paths, err)
	}
}

func TestDryRunDelegatesTruth(t *testing.T) {
	truth := &fakeTruth{state: structure.New("a.md")}
	d := NewDryRun(slog.New(slog.NewTextHandler(io.Discard, nil)), truth)
	paths, err := d.HeadPaths(context.Background())
	if err != nil || !paths.Has("a.md") {
		t.Errorf("HeadPaths = %v, %v", paths, err)
	}
}

type fakeTruth struct {
	state structure.State
}

func (f *fakeTruth) HeadPaths(context.Context) (structure.State, error) { return f.state, nil }

func TestFormatDate(t *testing.T) {
	when := time.Date(2024, 2, 29, 23, 59, 0, 0, time.FixedZone("", 5*3600+1800))
	if got, want := formatDate(when), "@1709231340 +0530"; got != want {
		t.Errorf("formatDate = %q, want %q", got, want)
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple path", input: "/home/user/.ssh/key", want: "'/home/user/.ssh/key'"},
		{name: "path with spaces", input: "/home/my user/key", want: "'/home/my user/key'"},
		{name: "path with single quote", input: "/home/user's/key", want: "'/home/user'\\''s/key'"},
		{name: "empty string", input: "", want: "''"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shellQuote(tt.input)
			if got != tt.want {
				t.Errorf("shellQuote(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestInsertGitFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		flags []string
		want  []string
	}{
		{
			name:  "insert before subcommand",
			args:  []string{"git", "clone", "url", "dest"},
			flags: []string{"-c", "key=value"},
			want:  []string{"git", "-c", "key=value", "clone", "url", "dest"},
		},
		{
			name:  "insert before push",
			args:  []string{"git", "-C", "/dir", "push", "origin"},
			flags: []string{"-c", "cred=helper"},
			want:  []string{"git", "-c", "cred=helper", "-C", "/dir", "push", "origin"},
		},
		{
			name:  "empty args",
			args:  []string{},
			flags: []string{"-c", "key=value"},
			want:  []string{"-c", "key=value"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := insertGitFlags(tt.args, tt.flags...)
			if strings.Join(got, "\x00") != strings.Join(tt.want, "\x00") {
				t.Errorf("insertGitFlags() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigureAuth(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenFile, []byte("s3cret\n"), 0600); err != nil {
		t.Fatal(err)
	}

	t.Run("ssh", func(t *testing.T) {
		c := NewShellClient(Options{SSHKeyFile: "/keys/id ed"})
		cmd := exec.Command("git", "push")
		if err := c.configureAuth(cmd, "git@github.com:o/r.git"); err != nil {
			t.Fatal(err)
		}
		if !containsEnv(cmd.Env, "GIT_SSH_COMMAND=ssh -i '/keys/id ed'") {
			t.Error("expected GIT_SSH_COMMAND with quoted key")
		}
	})

	t.Run("https token", func(t *testing.T) {
		c := NewShellClient(Options{HTTPSTokenFile: tokenFile})
		cmd := exec.Command("git", "push")
		if err := c.configureAuth(cmd, "https://github.com/o/r.git"); err != nil {
			t.Fatal(err)
		}
		if !containsEnv(cmd.Env, "GITCOM_GIT_TOKEN=s3cret") {
			t.Error("expected trimmed token in env")
		}
		if cmd.Args[1] != "-c" {
			t.Errorf("expected credential helper flag, got %v", cmd.Args)
		}
	})

	t.Run("token ignored for ssh url", func(t *testing.T) {
		c := NewShellClient(Options{HTTPSTokenFile: tokenFile})
		cmd := exec.Command("git", "push")
		if err := c.configureAuth(cmd, "git@github.com:o/r.git"); err != nil {
			t.Fatal(err)
		}
		if containsEnv(cmd.Env, "GITCOM_GIT_TOKEN=") {
			t.Error("token must not be set for ssh remotes")
		}
	})
}

func containsEnv(env []string, prefix string) bool {
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}
