package git

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/schaermu/gitcom/internal/structure"
)

// DryRun is an Executor that only logs. Commit ids are derived from the
// request so repeated dry runs with the same seed print the same ids.
type DryRun struct {
	logger *slog.Logger
	truth  TruthReader

	mu      sync.Mutex
	commits []CommitRequest
	parent  string
}

// NewDryRun creates a dry-run executor. truth, when non-nil, answers
// HeadPaths; otherwise HeadPaths reports an empty repository.
func NewDryRun(logger *slog.Logger, truth TruthReader) *DryRun {
	return &DryRun{logger: logger, truth: truth}
}

func (d *DryRun) Commit(_ context.Context, req CommitRequest) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := sha1.New()
	fmt.Fprintf(h, "%s\n%s\n%d\n", d.parent, req.Message, req.Context.When.Unix())
	for _, m := range req.Mutations {
		fmt.Fprintf(h, "%s %s %s\n", m.Kind, m.Path, m.NewPath)
	}
	id := hex.EncodeToString(h.Sum(nil))

	for _, m := range req.Mutations {
		d.logger.Info("[dry-run] would apply", "mutation", describe(m))
	}
	d.logger.Info("[dry-run] would commit",
		"id", id[:12],
		"message", req.Message,
		"author", req.Context.Author.String(),
		"date", req.Context.When.Format("2006-01-02T15:04:05-07:00"))

	d.parent = id
	d.commits = append(d.commits, req)
	return id, nil
}

func (d *DryRun) Push(_ context.Context) error {
	d.logger.Info("[dry-run] would push")
	return nil
}

func (d *DryRun) HeadPaths(ctx context.Context) (structure.State, error) {
	if d.truth == nil {
		return structure.New(), nil
	}
	return d.truth.HeadPaths(ctx)
}

// Commits returns the requests seen so far
func (d *DryRun) Commits() []CommitRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]CommitRequest, len(d.commits))
	copy(out, d.commits)
	return out
}

func describe(m Mutation) string {
	if m.Kind == structure.KindRename {
		return fmt.Sprintf("rename %s -> %s", m.Path, m.NewPath)
	}
	return fmt.Sprintf("%s %s", m.Kind, m.Path)
}
