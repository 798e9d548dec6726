package simulate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schaermu/gitcom/internal/structure"
)

// Story is the human-readable narrative of a run. It only projects what
// already happened and is never read back.
type Story struct {
	RunID   string
	Repo    string
	Mode    string
	Seed    uint64
	Start   time.Time
	End     time.Time
	Initial structure.State
	Days    []DayResult
	// Aborted is the error that stopped the run early, if any
	Aborted error
}

// NewStory builds the story of a (possibly partial) run
func NewStory(res *RunResult, repo, mode string, seed uint64, runErr error) *Story {
	s := &Story{Repo: repo, Mode: mode, Seed: seed, Aborted: runErr}
	if res != nil {
		s.RunID = res.RunID
		s.Start = res.Start
		s.End = res.End
		s.Initial = res.Initial
		s.Days = res.Days
	}
	return s
}

// FileName returns story_<start>__<end>.md
func (s *Story) FileName() string {
	return fmt.Sprintf("story_%s%s%s.md", s.Start.Format(DateLayout), rangeSeparator, s.End.Format(DateLayout))
}

// Render formats the story as markdown
func (s *Story) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Story %s → %s\n\n", s.Start.Format(DateLayout), s.End.Format(DateLayout))
	fmt.Fprintf(&b, "- run: %s\n", s.RunID)
	fmt.Fprintf(&b, "- repository: %s\n", s.Repo)
	fmt.Fprintf(&b, "- mode: %s\n", s.Mode)
	fmt.Fprintf(&b, "- seed: %d\n", s.Seed)

	b.WriteString("\n## Initial structure\n\n")
	if s.Initial.Empty() {
		b.WriteString("- (empty)\n")
	}
	for _, p := range s.Initial.Paths() {
		fmt.Fprintf(&b, "- `%s`\n", p)
	}

	for i, day := range s.Days {
		fmt.Fprintf(&b, "\n## %s\n\n", day.Date.Format(DateLayout))
		if len(day.Actions) == 0 {
			b.WriteString("- (no actions)\n")
		}
		for _, a := range day.Actions {
			b.WriteString(storyLine(a))
			b.WriteByte('\n')
		}
		if de, ok := IsDayError(s.Aborted); ok && i == len(s.Days)-1 && de.Date.Equal(day.Date) {
			fmt.Fprintf(&b, "\n> day aborted: %v\n", de.Err)
		}
	}

	if _, ok := IsDayError(s.Aborted); s.Aborted != nil && !ok {
		fmt.Fprintf(&b, "\n> run stopped: %v\n", s.Aborted)
	}
	return b.String()
}

func storyLine(a structure.Action) string {
	reason := a.Reason
	if reason == "" {
		reason = "no reason given"
	}
	if a.Kind == structure.KindRename {
		return fmt.Sprintf("- rename `%s` → `%s` — %s", a.Path, a.NewPath, reason)
	}
	return fmt.Sprintf("- %s `%s` — %s", a.Kind, a.Path, reason)
}

// Write renders the story into dir and returns the written file's path
func (s *Story) Write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create story directory: %w", err)
	}
	p := filepath.Join(dir, s.FileName())
	if err := os.WriteFile(p, []byte(s.Render()), 0644); err != nil {
		return "", fmt.Errorf("failed to write story: %w", err)
	}
	return p, nil
}
