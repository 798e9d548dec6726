// Package commitplan partitions a validated day of actions into commit
// batches.
package commitplan

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/schaermu/gitcom/internal/chance"
	"github.com/schaermu/gitcom/internal/fault"
	"github.com/schaermu/gitcom/internal/structure"
)

// Mode is the commit mode drawn for a day
type Mode string

const (
	ModeSingle   Mode = "single"
	ModeMultiple Mode = "multiple"
)

// Policy splits a sequence into ordered, non-empty batches whose
// concatenation is the input sequence.
type Policy interface {
	Plan(seq structure.Sequence, src chance.Source) []structure.Sequence
}

// Config holds the knobs of both policies
type Config struct {
	ThresholdMin int
	ThresholdMax int
	BaseProb     float64
	StepProb     float64
	MaxProb      float64
	MinSplits    int
}

// DefaultConfig returns the stock planner settings
func DefaultConfig() Config {
	return Config{
		ThresholdMin: 3,
		ThresholdMax: 5,
		BaseProb:     0.25,
		StepProb:     0.15,
		MaxProb:      0.75,
		MinSplits:    2,
	}
}

// Validate checks the planner settings
func (c Config) Validate() error {
	if c.ThresholdMin < 1 || c.ThresholdMax < c.ThresholdMin {
		return fault.Preconditionf("commitplan", "invalid threshold range [%d, %d]", c.ThresholdMin, c.ThresholdMax)
	}
	for name, p := range map[string]float64{"base": c.BaseProb, "step": c.StepProb, "max": c.MaxProb} {
		if p < 0 || p > 1 {
			return fault.Preconditionf("commitplan", "%s probability %v outside [0, 1]", name, p)
		}
	}
	if c.MinSplits < 2 {
		return fault.Preconditionf("commitplan", "min_splits must be >= 2, got %d", c.MinSplits)
	}
	return nil
}

// ForMode returns the policy used for the given commit mode.
func ForMode(mode Mode, cfg Config, logger *slog.Logger) Policy {
	if mode == ModeMultiple {
		return &ForcedMulti{MinSplits: cfg.MinSplits, Logger: logger}
	}
	return &SingleBiased{
		ThresholdMin: cfg.ThresholdMin,
		ThresholdMax: cfg.ThresholdMax,
		BaseProb:     cfg.BaseProb,
		StepProb:     cfg.StepProb,
		MaxProb:      cfg.MaxProb,
		Logger:       logger,
	}
}

// SingleBiased keeps most days in one commit. Sequences at or above a drawn
// threshold split in two with a probability that grows with their length.
type SingleBiased struct {
	ThresholdMin int
	ThresholdMax int
	BaseProb     float64
	StepProb     float64
	MaxProb      float64
	Logger       *slog.Logger
}

// SplitProbability returns the chance that a sequence of length n splits
// under threshold t.
func (p *SingleBiased) SplitProbability(n, t int) float64 {
	return min(p.BaseProb+p.StepProb*float64(n-t+1), p.MaxProb)
}

func (p *SingleBiased) Plan(seq structure.Sequence, src chance.Source) []structure.Sequence {
	logger := loggerOrDiscard(p.Logger)
	n := len(seq)
	threshold := chance.Between(src, p.ThresholdMin, p.ThresholdMax)

	if n < 2 || n < threshold {
		logger.Info("commit plan: single batch", "actions", n, "threshold", threshold)
		return single(seq)
	}

	prob := p.SplitProbability(n, threshold)
	split, roll := chance.Roll(src, prob)
	if !split {
		logger.Info("commit plan: single batch",
			"actions", n,
			"threshold", threshold,
			"trigger_prob", prob,
			"roll", roll)
		return single(seq)
	}

	cut := chance.Between(src, 1, n-1)
	logger.Info("commit plan: split",
		"actions", n,
		"threshold", threshold,
		"trigger_prob", prob,
		"roll", roll,
		"cut", cut)
	return slice(seq, []int{cut})
}

// ForcedMulti always produces at least MinSplits batches when the sequence is
// long enough to allow it.
type ForcedMulti struct {
	MinSplits int
	Logger    *slog.Logger
}

func (p *ForcedMulti) Plan(seq structure.Sequence, src chance.Source) []structure.Sequence {
	logger := loggerOrDiscard(p.Logger)
	n := len(seq)
	if n < 2 {
		logger.Info("commit plan: too short to split", "actions", n)
		return single(seq)
	}

	k := max(p.MinSplits, 2)
	count := chance.Between(src, min(k, n), min(n, k+1))
	cuts := chance.Sample(src, 1, n-1, count-1)
	slices.Sort(cuts)

	logger.Info("commit plan: forced split", "actions", n, "min_splits", k, "batches", count, "cuts", fmt.Sprint(cuts))
	return slice(seq, cuts)
}

func single(seq structure.Sequence) []structure.Sequence {
	if len(seq) == 0 {
		return nil
	}
	return []structure.Sequence{slices.Clone(seq)}
}

// slice cuts seq at the given sorted interior positions.
func slice(seq structure.Sequence, cuts []int) []structure.Sequence {
	out := make([]structure.Sequence, 0, len(cuts)+1)
	prev := 0
	for _, c := range cuts {
		out = append(out, slices.Clone(seq[prev:c]))
		prev = c
	}
	return append(out, slices.Clone(seq[prev:]))
}

func loggerOrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}
