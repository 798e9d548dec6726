// Package identity resolves the author identity commits are forged with.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/schaermu/gitcom/internal/fault"
)

// Identity is an author name and email pair
type Identity struct {
	Name  string `validate:"required"`
	Email string `validate:"required,email"`
}

func (i Identity) String() string {
	return fmt.Sprintf("%s <%s>", i.Name, i.Email)
}

// ConfigReader reads git configuration values. ok is false when the key is
// not set.
type ConfigReader interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
}

// ShellConfigReader implements ConfigReader by shelling out to git config
// inside a repository.
type ShellConfigReader struct {
	repoDir string
}

// NewShellConfigReader creates a reader for the repository at repoDir
func NewShellConfigReader(repoDir string) *ShellConfigReader {
	return &ShellConfigReader{repoDir: repoDir}
}

// Get returns the effective value of key as git resolves it for the
// repository (local, global and system scopes).
func (r *ShellConfigReader) Get(ctx context.Context, key string) (string, bool, error) {
	args := []string{"config", "--get", key}
	if r.repoDir != "" {
		args = append([]string{"-C", r.repoDir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		// git config exits with 1 when the key is missing
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("git config --get %s failed: %w", key, err)
	}
	return strings.TrimSpace(string(output)), true, nil
}

// Resolver produces the identity for a run: configured values win, git
// configuration fills the gaps, and the result must pass the allow-list.
type Resolver struct {
	Configured Identity
	// AllowedEmails, when non-empty, lists the only permitted author emails
	// (compared case-insensitively).
	AllowedEmails []string
	Reader        ConfigReader

	validate *validator.Validate
}

// NewResolver creates a resolver
func NewResolver(configured Identity, allowed []string, reader ConfigReader) *Resolver {
	return &Resolver{
		Configured:    configured,
		AllowedEmails: allowed,
		Reader:        reader,
		validate:      validator.New(),
	}
}

// Resolve returns the author identity or a precondition error.
func (r *Resolver) Resolve(ctx context.Context) (Identity, error) {
	id := Identity{
		Name:  strings.TrimSpace(r.Configured.Name),
		Email: strings.TrimSpace(r.Configured.Email),
	}

	if r.Reader != nil {
		if id.Name == "" {
			v, _, err := r.Reader.Get(ctx, "user.name")
			if err != nil {
				return Identity{}, fault.Preconditionf("identity", "read user.name: %v", err)
			}
			id.Name = v
		}
		if id.Email == "" {
			v, _, err := r.Reader.Get(ctx, "user.email")
			if err != nil {
				return Identity{}, fault.Preconditionf("identity", "read user.email: %v", err)
			}
			id.Email = v
		}
	}

	if id.Name == "" || id.Email == "" {
		return Identity{}, fault.Preconditionf("identity", "author name and email must be configured (identity.name/identity.email or git user.name/user.email)")
	}

	v := r.validate
	if v == nil {
		v = validator.New()
	}
	if err := v.Struct(id); err != nil {
		return Identity{}, fault.Preconditionf("identity", "invalid author identity %s: %v", id, err)
	}

	if !r.allowed(id.Email) {
		return Identity{}, fault.Preconditionf("identity", "author email %q is not in the allow-list", id.Email)
	}
	return id, nil
}

func (r *Resolver) allowed(email string) bool {
	if len(r.AllowedEmails) == 0 {
		return true
	}
	return slices.ContainsFunc(r.AllowedEmails, func(a string) bool {
		return strings.EqualFold(strings.TrimSpace(a), email)
	})
}
