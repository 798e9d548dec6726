package simulate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/gitcom/internal/chance"
	"github.com/schaermu/gitcom/internal/fault"
	"github.com/schaermu/gitcom/internal/snapshot"
	"github.com/schaermu/gitcom/internal/structure"
)

func TestStoryRender(t *testing.T) {
	d1 := mustDate(t, "2024-03-01")
	d2 := mustDate(t, "2024-03-02")
	res := &RunResult{
		RunID:   "run-1",
		Start:   d1,
		End:     d2,
		Initial: structure.New("src/a.md"),
		Days: []DayResult{
			{
				Date: d1,
				Actions: structure.Sequence{
					structure.Add("src/note_1234.md").WithReason("exploratory notes"),
					structure.Rename("src/a.md", "src/a_v2.md").WithReason("naming refinement"),
					structure.Edit("src/note_1234.md"),
				},
			},
			{Date: d2, Rest: true},
		},
	}

	got := NewStory(res, "/srv/repo", "live", 7, nil).Render()

	for _, want := range []string{
		"# Story 2024-03-01 → 2024-03-02",
		"- run: run-1",
		"- repository: /srv/repo",
		"- mode: live",
		"- seed: 7",
		"- `src/a.md`",
		"## 2024-03-01\n\n- add `src/note_1234.md` — exploratory notes\n- rename `src/a.md` → `src/a_v2.md` — naming refinement\n- edit `src/note_1234.md` — no reason given\n",
		"## 2024-03-02\n\n- (no actions)\n",
	} {
		assert.Contains(t, got, want)
	}
	assert.NotContains(t, got, "aborted")
}

func TestStoryRenderAbortedDay(t *testing.T) {
	d1 := mustDate(t, "2024-03-01")
	res := &RunResult{
		Start: d1,
		End:   mustDate(t, "2024-03-04"),
		Days:  []DayResult{{Date: d1, Actions: structure.Sequence{structure.Delete("src/x.md").WithReason("temporary cleanup")}}},
	}
	runErr := &DayError{Date: d1, Phase: PhaseCommitted, Err: errors.New("exit status 1")}

	got := NewStory(res, "repo", "live", 1, runErr).Render()
	assert.Contains(t, got, "- delete `src/x.md` — temporary cleanup\n\n> day aborted: exit status 1\n")
	assert.Contains(t, got, "- (empty)")
}

func TestStoryRenderStoppedRun(t *testing.T) {
	res := &RunResult{Start: mustDate(t, "2024-03-01"), End: mustDate(t, "2024-03-02")}
	got := NewStory(res, "repo", "dry-run", 1, fault.Preconditionf("drift", "snapshot drifted")).Render()
	assert.Contains(t, got, "> run stopped: ")
	assert.Contains(t, got, "snapshot drifted")
}

func TestStoryWrite(t *testing.T) {
	opts := testOptions()
	opts.Decisions.ForceWork = true
	e := newTestEngine(t, opts, newMockExecutor(), snapshot.NewMemoryStore(structure.New()), nil)

	res, err := e.RunRange(context.Background(), mustDate(t, "2024-03-01"), mustDate(t, "2024-03-03"), chance.New(11))
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "stories")
	p, err := NewStory(res, "repo", "live", 11, nil).Write(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "story_2024-03-01__2024-03-03.md"), p)

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n## 2024-03-0"))
	for _, day := range res.Days {
		for _, a := range day.Actions {
			assert.Contains(t, string(data), a.Path)
		}
	}
}
