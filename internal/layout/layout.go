package layout

import (
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"github.com/schaermu/gitcom/internal/chance"
	"github.com/schaermu/gitcom/internal/fault"
	"github.com/schaermu/gitcom/internal/paradox"
	"github.com/schaermu/gitcom/internal/structure"
)

// Config bounds and shapes the generated sequences
type Config struct {
	MinActions int
	MaxActions int
	// Weights are relative draw weights per action kind.
	Weights map[structure.Kind]int
	// Directories are the folders new notes are minted in.
	Directories []string
	// SparseBelow doubles the add weight while the state holds fewer paths.
	SparseBelow int
	// AttemptFactor caps total draws at AttemptFactor * target length.
	AttemptFactor int
}

// DefaultConfig returns the stock generator settings
func DefaultConfig() Config {
	return Config{
		MinActions: 1,
		MaxActions: 5,
		Weights: map[structure.Kind]int{
			structure.KindAdd:    45,
			structure.KindEdit:   30,
			structure.KindDelete: 10,
			structure.KindRename: 15,
		},
		Directories:   []string{"src", "notes"},
		SparseBelow:   3,
		AttemptFactor: 10,
	}
}

var reasons = map[structure.Kind][]string{
	structure.KindAdd:    {"exploratory notes", "rough idea capture", "reading log", "scratch draft"},
	structure.KindEdit:   {"incremental revision", "small fixes", "expanded section", "tidied wording"},
	structure.KindDelete: {"temporary cleanup", "dropped dead end", "removed duplicate"},
	structure.KindRename: {"naming refinement", "clearer title", "version bump"},
}

// Layout is one generated day of actions
type Layout struct {
	Actions structure.Sequence
	// Final is the structure after all actions, as seen by the generator.
	Final    structure.State
	Target   int
	Attempts int
	Rejected int
}

// Generator draws feasible action sequences. It never mutates the state it is
// given; all exploration happens on a private working copy.
type Generator struct {
	cfg       Config
	validator *paradox.Validator
	logger    *slog.Logger
}

// NewGenerator validates cfg and creates a generator
func NewGenerator(cfg Config, validator *paradox.Validator, logger *slog.Logger) (*Generator, error) {
	if cfg.MinActions < 1 {
		return nil, fault.Preconditionf("layout", "min_actions must be >= 1, got %d", cfg.MinActions)
	}
	if cfg.MaxActions < cfg.MinActions {
		return nil, fault.Preconditionf("layout", "max_actions (%d) must be >= min_actions (%d)", cfg.MaxActions, cfg.MinActions)
	}
	if cfg.AttemptFactor < 1 {
		cfg.AttemptFactor = 1
	}
	total := 0
	for k, w := range cfg.Weights {
		if !k.Valid() {
			return nil, fault.Preconditionf("layout", "unknown action kind %q in weights", k)
		}
		if w < 0 {
			return nil, fault.Preconditionf("layout", "weight for %s must not be negative", k)
		}
		total += w
	}
	if total == 0 {
		return nil, fault.Preconditionf("layout", "at least one action weight must be positive")
	}
	if len(cfg.Directories) == 0 {
		cfg.Directories = []string{"src"}
	}
	if validator == nil {
		validator = paradox.New(paradox.DefaultRules(), logger)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Generator{cfg: cfg, validator: validator, logger: logger}, nil
}

// Generate draws a sequence whose every action is admissible at its position
// starting from s. The sequence may be shorter than the drawn target when the
// attempt budget runs out.
func (g *Generator) Generate(s structure.State, src chance.Source) Layout {
	target := chance.Between(src, g.cfg.MinActions, g.cfg.MaxActions)
	maxAttempts := target * g.cfg.AttemptFactor

	g.logger.Info("generating layout", "paths", s.Len(), "target", target)

	out := Layout{Target: target, Actions: make(structure.Sequence, 0, target)}
	current := s

	for len(out.Actions) < target {
		if out.Attempts >= maxAttempts {
			g.logger.Warn("attempt budget exhausted",
				"attempts", out.Attempts,
				"accepted", len(out.Actions),
				"target", target)
			break
		}
		out.Attempts++

		kind := g.drawKind(current, src)
		action := g.synthesize(kind, current, src)

		if err := g.validator.Check(current, action); err != nil {
			out.Rejected++
			g.logger.Debug("rejected draw", "attempt", out.Attempts, "action", action.String(), "reason", err)
			continue
		}

		current = g.validator.Apply(current, action)
		out.Actions = append(out.Actions, action)
		g.logger.Info("accepted draw",
			"attempt", out.Attempts,
			"action", action.String(),
			"reason", action.Reason,
			"paths", current.Len())
	}

	out.Final = current
	return out
}

func (g *Generator) drawKind(s structure.State, src chance.Source) structure.Kind {
	if s.Empty() {
		return structure.KindAdd
	}
	weights := make([]int, len(structure.Kinds))
	for i, k := range structure.Kinds {
		weights[i] = g.cfg.Weights[k]
		if k == structure.KindAdd && s.Len() < g.cfg.SparseBelow {
			weights[i] *= 2
		}
	}
	idx := chance.Weighted(src, weights)
	if idx < 0 {
		return structure.KindAdd
	}
	return structure.Kinds[idx]
}

func (g *Generator) synthesize(kind structure.Kind, s structure.State, src chance.Source) structure.Action {
	reason := chance.Pick(src, reasons[kind])

	switch kind {
	case structure.KindAdd:
		return structure.Add(g.mintPath(s, src)).WithReason(reason)
	case structure.KindEdit:
		return structure.Edit(chance.Pick(src, s.Paths())).WithReason(reason)
	case structure.KindDelete:
		return structure.Delete(chance.Pick(src, s.Paths())).WithReason(reason)
	default:
		old := chance.Pick(src, s.Paths())
		return structure.Rename(old, RenameTarget(old)).WithReason(reason)
	}
}

// mintPath proposes a new note path, retrying a few times to avoid paths
// already present.
func (g *Generator) mintPath(s structure.State, src chance.Source) string {
	var p string
	for i := 0; i < 5; i++ {
		dir := chance.Pick(src, g.cfg.Directories)
		p = path.Join(dir, fmt.Sprintf("note_%04d.md", chance.Between(src, 1000, 9999)))
		if !s.Has(p) {
			return p
		}
	}
	return p
}

// RenameTarget derives the refined name for p: note.md -> note_v2.md,
// note_v2.md -> note_v3.md.
func RenameTarget(p string) string {
	dir, base := path.Split(p)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem, ext = base, ""
	}

	version := 2
	if i := strings.LastIndex(stem, "_v"); i >= 0 {
		if n, err := strconv.Atoi(stem[i+2:]); err == nil && n >= 1 {
			version = n + 1
			stem = stem[:i]
		}
	}
	return dir + fmt.Sprintf("%s_v%d%s", stem, version, ext)
}
