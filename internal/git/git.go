package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/schaermu/gitcom/internal/fault"
	"github.com/schaermu/gitcom/internal/identity"
	"github.com/schaermu/gitcom/internal/structure"
)

// CommitContext carries the forged authorship of one commit. It is passed
// explicitly into every commit call; the process environment is never
// modified.
type CommitContext struct {
	Author identity.Identity
	When   time.Time
}

// Mutation is one working-tree change. Content is written for adds and
// appended for edits.
type Mutation struct {
	Kind    structure.Kind
	Path    string
	NewPath string
	Content []byte
}

// CommitRequest is one batch materialized as a single commit
type CommitRequest struct {
	Mutations []Mutation
	Message   string
	Context   CommitContext
}

// Executor applies batches to the real repository
type Executor interface {
	// Commit applies the mutations in order and creates one commit, returning its id
	Commit(ctx context.Context, req CommitRequest) (string, error)
	// Push publishes the branch to the configured remote
	Push(ctx context.Context) error
}

// TruthReader reads the authoritative set of tracked paths
type TruthReader interface {
	// HeadPaths returns the paths tracked at HEAD, or an empty state when the
	// repository has no commits yet
	HeadPaths(ctx context.Context) (structure.State, error)
}

// Options configure a ShellClient
type Options struct {
	RepoDir        string
	Remote         string
	Branch         string
	SSHKeyFile     string
	HTTPSTokenFile string
}

// ShellClient implements Executor and TruthReader by shelling out to the git command
type ShellClient struct {
	repoDir        string
	remote         string
	branch         string
	sshKeyFile     string
	httpsTokenFile string
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient(opts Options) *ShellClient {
	remote := opts.Remote
	if remote == "" {
		remote = "origin"
	}
	return &ShellClient{
		repoDir:        opts.RepoDir,
		remote:         remote,
		branch:         opts.Branch,
		sshKeyFile:     opts.SSHKeyFile,
		httpsTokenFile: opts.HTTPSTokenFile,
	}
}

// RepoDir returns the working tree the client operates on
func (c *ShellClient) RepoDir() string {
	return c.repoDir
}

// EnsureRepo makes sure the working tree exists. When it has no .git
// directory and url is set the repository is cloned; without a url an empty
// repository is initialized.
func (c *ShellClient) EnsureRepo(ctx context.Context, url string) error {
	gitDir := filepath.Join(c.repoDir, ".git")
	if _, err := os.Stat(gitDir); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.repoDir), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	if url == "" {
		cmd := exec.CommandContext(ctx, "git", "init", c.repoDir)
		if err := c.runCommand(cmd); err != nil {
			return fmt.Errorf("git init failed: %w", err)
		}
		return nil
	}

	args := []string{"git", "clone"}
	if c.branch != "" {
		args = append(args, "--branch", c.branch)
	}
	args = append(args, url, c.repoDir)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if err := c.configureAuth(cmd, url); err != nil {
		return err
	}
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git clone failed: %w", err)
	}
	return nil
}

// Commit applies req.Mutations to the working tree strictly in order, stages
// exactly the touched paths and commits with author and committer forged from
// req.Context.
func (c *ShellClient) Commit(ctx context.Context, req CommitRequest) (string, error) {
	if err := checkMutations(req.Mutations); err != nil {
		return "", fault.Executor("commit", err)
	}

	var present, removed []string
	for _, m := range req.Mutations {
		if err := c.apply(m); err != nil {
			return "", fault.Executor("commit", err)
		}
		switch m.Kind {
		case structure.KindDelete:
			removed = append(removed, m.Path)
		case structure.KindRename:
			removed = append(removed, m.Path)
			present = append(present, m.NewPath)
		default:
			present = append(present, m.Path)
		}
	}

	// a path can be re-created later in the batch; stage by what is on disk now
	var add, rm []string
	for _, p := range append(present, removed...) {
		if _, err := os.Lstat(c.abs(p)); err == nil {
			add = append(add, p)
		} else {
			rm = append(rm, p)
		}
	}

	if len(rm) > 0 {
		cmd := c.gitCommand(ctx, append([]string{"rm", "-r", "--cached", "--ignore-unmatch", "--quiet", "--"}, rm...)...)
		if err := c.runCommand(cmd); err != nil {
			return "", fault.Executor("commit", fmt.Errorf("git rm failed: %w", err))
		}
	}
	if len(add) > 0 {
		cmd := c.gitCommand(ctx, append([]string{"add", "--"}, add...)...)
		if err := c.runCommand(cmd); err != nil {
			return "", fault.Executor("commit", fmt.Errorf("git add failed: %w", err))
		}
	}

	cmd := c.gitCommand(ctx, "-c", "commit.gpgsign=false", "commit", "--allow-empty", "--no-verify", "--quiet", "-m", req.Message)
	cmd.Env = append(os.Environ(), commitEnv(req.Context)...)
	if err := c.runCommand(cmd); err != nil {
		return "", fault.Executor("commit", fmt.Errorf("git commit failed: %w", err))
	}

	output, err := c.gitCommand(ctx, "rev-parse", "HEAD").Output()
	if err != nil {
		return "", fault.Executor("commit", fmt.Errorf("git rev-parse failed: %w", err))
	}
	return strings.TrimSpace(string(output)), nil
}

// Push pushes HEAD (or the configured branch) to the remote.
func (c *ShellClient) Push(ctx context.Context) error {
	args := []string{"push", c.remote}
	if c.branch != "" {
		args = append(args, "HEAD:"+c.branch)
	}
	cmd := c.gitCommand(ctx, args...)

	url, err := c.remoteURL(ctx)
	if err != nil {
		return fault.Executor("push", err)
	}
	if err := c.configureAuth(cmd, url); err != nil {
		return fault.Executor("push", err)
	}
	if err := c.runCommand(cmd); err != nil {
		return fault.Executor("push", fmt.Errorf("git push failed: %w", err))
	}
	return nil
}

// HeadPaths lists the paths tracked at HEAD
func (c *ShellClient) HeadPaths(ctx context.Context) (structure.State, error) {
	if err := c.gitCommand(ctx, "rev-parse", "--verify", "--quiet", "HEAD").Run(); err != nil {
		// no commits yet
		return structure.New(), nil
	}

	output, err := c.gitCommand(ctx, "ls-tree", "-r", "-z", "--name-only", "HEAD").Output()
	if err != nil {
		return structure.New(), fmt.Errorf("git ls-tree failed: %w", err)
	}

	var paths []string
	for _, p := range strings.Split(string(output), "\x00") {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return structure.New(paths...), nil
}

func (c *ShellClient) remoteURL(ctx context.Context) (string, error) {
	output, err := c.gitCommand(ctx, "remote", "get-url", c.remote).Output()
	if err != nil {
		return "", fmt.Errorf("git remote get-url %s failed: %w", c.remote, err)
	}
	return strings.TrimSpace(string(output)), nil
}

func (c *ShellClient) apply(m Mutation) error {
	switch m.Kind {
	case structure.KindAdd, structure.KindEdit:
		target := c.abs(m.Path)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("%s %s: %w", m.Kind, m.Path, err)
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("%s %s: %w", m.Kind, m.Path, err)
		}
		if _, err := f.Write(m.Content); err != nil {
			f.Close()
			return fmt.Errorf("%s %s: %w", m.Kind, m.Path, err)
		}
		return f.Close()

	case structure.KindDelete:
		if err := os.Remove(c.abs(m.Path)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete %s: %w", m.Path, err)
		}
		return nil

	case structure.KindRename:
		target := c.abs(m.NewPath)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("rename %s: %w", m.Path, err)
		}
		if err := os.Rename(c.abs(m.Path), target); err != nil {
			return fmt.Errorf("rename %s -> %s: %w", m.Path, m.NewPath, err)
		}
		return nil
	}
	return fmt.Errorf("unknown mutation kind %q", m.Kind)
}

func (c *ShellClient) abs(p string) string {
	return filepath.Join(c.repoDir, filepath.FromSlash(p))
}

func (c *ShellClient) gitCommand(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "git", append([]string{"-C", c.repoDir}, args...)...)
}

// checkMutations rejects paths that would leave the working tree or reach
// into the repository internals.
func checkMutations(muts []Mutation) error {
	for _, m := range muts {
		paths := []string{m.Path}
		if m.Kind == structure.KindRename {
			paths = append(paths, m.NewPath)
		}
		for _, p := range paths {
			local := filepath.FromSlash(p)
			if p == "" || !filepath.IsLocal(local) {
				return fmt.Errorf("mutation path %q is not local to the repository", p)
			}
			if first, _, _ := strings.Cut(filepath.ToSlash(filepath.Clean(local)), "/"); first == ".git" {
				return fmt.Errorf("mutation path %q is inside .git", p)
			}
		}
	}
	return nil
}

// commitEnv forges both author and committer from the context.
func commitEnv(cc CommitContext) []string {
	date := formatDate(cc.When)
	return []string{
		"GIT_AUTHOR_NAME=" + cc.Author.Name,
		"GIT_AUTHOR_EMAIL=" + cc.Author.Email,
		"GIT_AUTHOR_DATE=" + date,
		"GIT_COMMITTER_NAME=" + cc.Author.Name,
		"GIT_COMMITTER_EMAIL=" + cc.Author.Email,
		"GIT_COMMITTER_DATE=" + date,
	}
}

// formatDate renders t in git's raw "@<unix> <offset>" form.
func formatDate(t time.Time) string {
	return fmt.Sprintf("@%d %s", t.Unix(), t.Format("-0700"))
}

// configureAuth sets up authentication for git operations
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	// SSH authentication
	if c.sshKeyFile != "" && (strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")) {
		// The key path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	// HTTPS authentication with token
	if c.httpsTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := os.ReadFile(c.httpsTokenFile)
		if err != nil {
			return fmt.Errorf("failed to read HTTPS token file: %w", err)
		}

		// The token travels in the environment and a credential helper echoes
		// it, so it never appears in a shell expression.
		cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")
		cmd.Env = append(cmd.Env, "GITCOM_GIT_TOKEN="+strings.TrimSpace(string(token)))
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$GITCOM_GIT_TOKEN"; }; f`,
		)
	}

	return nil
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "push", "clone").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// runCommand executes a command and returns an error with its output on failure
func (c *ShellClient) runCommand(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
