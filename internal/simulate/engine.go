// Package simulate drives the day-by-day simulation: it loads the snapshot,
// plans a day of structural actions, materializes them as commits and
// persists the resulting state.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/schaermu/gitcom/internal/chance"
	"github.com/schaermu/gitcom/internal/commitplan"
	"github.com/schaermu/gitcom/internal/drift"
	"github.com/schaermu/gitcom/internal/fault"
	"github.com/schaermu/gitcom/internal/git"
	"github.com/schaermu/gitcom/internal/identity"
	"github.com/schaermu/gitcom/internal/layout"
	"github.com/schaermu/gitcom/internal/message"
	"github.com/schaermu/gitcom/internal/paradox"
	"github.com/schaermu/gitcom/internal/snapshot"
	"github.com/schaermu/gitcom/internal/structure"
)

// Phase is a step of the per-day state machine
type Phase string

const (
	PhaseLoaded    Phase = "loaded"
	PhaseDecided   Phase = "decided"
	PhasePlanned   Phase = "planned"
	PhaseValidated Phase = "validated"
	PhaseBatched   Phase = "batched"
	PhaseCommitted Phase = "committed"
	PhasePersisted Phase = "persisted"
)

// DayError reports a day that aborted. Phase is the phase the day failed to
// reach.
type DayError struct {
	Date  time.Time
	Phase Phase
	Err   error
}

func (e *DayError) Error() string {
	return fmt.Sprintf("day %s aborted before %s: %v", e.Date.Format(DateLayout), e.Phase, e.Err)
}

func (e *DayError) Unwrap() error { return e.Err }

// Decisions holds the probabilities of the two per-day draws
type Decisions struct {
	WorkProbability        float64
	MultiCommitProbability float64
	ForceWork              bool
	ForceMulti             bool
}

// Schedule places the commits of a day on the clock. Commit i lands at
// midnight + Start + i*Spacing + jitter with jitter in [0, Jitter).
type Schedule struct {
	Location *time.Location
	Start    time.Duration
	Spacing  time.Duration
	Jitter   time.Duration
}

// At returns the timestamp of commit i on the calendar day of date
func (s Schedule) At(date time.Time, i int, src chance.Source) time.Time {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	when := time.Date(y, m, d, 0, 0, 0, 0, loc).Add(s.Start + time.Duration(i)*s.Spacing)
	if secs := int(s.Jitter / time.Second); secs > 0 {
		when = when.Add(time.Duration(src.IntN(secs)) * time.Second)
	}
	return when
}

// Options configure an Engine
type Options struct {
	Generator     layout.Config
	Rules         paradox.Rules
	Planner       commitplan.Config
	Decisions     Decisions
	Schedule      Schedule
	Author        identity.Identity
	Lexicon       *message.Lexicon
	RecentWindow  int
	BootstrapDays int
	Drift         drift.Policy
	// RunID labels logs, snapshots and the story. A random one is used when empty.
	RunID string
}

// Commit is one created commit
type Commit struct {
	ID      string
	When    time.Time
	Message string
	Actions structure.Sequence
}

// DayResult is what happened on one simulated day
type DayResult struct {
	Date  time.Time
	Index int
	// Phase is the last phase the day reached
	Phase Phase
	Rest  bool
	Mode  commitplan.Mode

	Target   int
	Attempts int
	Rejected int

	// Actions is the validated sequence, in order
	Actions    structure.Sequence
	Rejections []paradox.Rejection
	Fallback   bool
	Batches    []structure.Sequence
	Commits    []Commit

	Before structure.State
	After  structure.State
}

// Engine orchestrates simulated days
type Engine struct {
	opts      Options
	runID     string
	validator *paradox.Validator
	generator *layout.Generator
	selector  *message.Selector
	executor  git.Executor
	store     snapshot.Store
	truth     git.TruthReader
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates a new simulation engine. truth may be nil, in which case
// drift detection is skipped.
func NewEngine(opts Options, executor git.Executor, store snapshot.Store, truth git.TruthReader, logger *slog.Logger) (*Engine, error) {
	if executor == nil || store == nil {
		return nil, fault.Preconditionf("simulate", "executor and snapshot store are required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Author.Name == "" || opts.Author.Email == "" {
		return nil, fault.Preconditionf("simulate", "commit author is not set")
	}
	if err := opts.Planner.Validate(); err != nil {
		return nil, err
	}
	if opts.Schedule.Spacing <= 0 {
		return nil, fault.Preconditionf("simulate", "commit spacing must be positive")
	}
	if opts.Schedule.Jitter < 0 || opts.Schedule.Jitter >= opts.Schedule.Spacing {
		return nil, fault.Preconditionf("simulate", "jitter %s must be within [0, %s)", opts.Schedule.Jitter, opts.Schedule.Spacing)
	}
	if opts.Schedule.Location == nil {
		opts.Schedule.Location = time.UTC
	}
	if opts.Drift == "" {
		opts.Drift = drift.PolicyReconcile
	}

	validator := paradox.New(opts.Rules, logger)
	generator, err := layout.NewGenerator(opts.Generator, validator, logger)
	if err != nil {
		return nil, err
	}

	lex := opts.Lexicon
	if lex == nil {
		if lex, err = message.DefaultLexicon(); err != nil {
			return nil, fmt.Errorf("failed to load default lexicon: %w", err)
		}
	}
	selector, err := message.NewSelector(lex, opts.RecentWindow)
	if err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	return &Engine{
		opts:      opts,
		runID:     runID,
		validator: validator,
		generator: generator,
		selector:  selector,
		executor:  executor,
		store:     store,
		truth:     truth,
		logger:    logger.With("run", runID),
		now:       time.Now,
	}, nil
}

// RunID returns the identifier of this engine's run
func (e *Engine) RunID() string {
	return e.runID
}

// RunDay simulates the calendar day of date. dayIndex is the 0-based position
// of the day within the run. Once planning starts the day runs to completion;
// cancellation of ctx is only observed while loading the snapshot.
func (e *Engine) RunDay(ctx context.Context, date time.Time, dayIndex int, src chance.Source) (DayResult, error) {
	started := time.Now()
	result := DayResult{Date: date, Index: dayIndex}
	logger := e.logger.With("date", date.Format(DateLayout))

	state, err := snapshot.LoadOrEmpty(ctx, e.store, logger)
	if err != nil {
		return result, &DayError{Date: date, Phase: PhaseLoaded, Err: err}
	}
	ctx = context.WithoutCancel(ctx)
	result.Phase = PhaseLoaded
	result.Before = state
	result.After = state

	work, mode := e.decide(src, logger)
	result.Phase = PhaseDecided
	result.Mode = mode
	if !work {
		result.Rest = true
		logger.Info("rest day, nothing to do")
		recordDay(ctx, "rest", time.Since(started))
		return result, nil
	}

	lay := e.generator.Generate(state, src)
	result.Phase = PhasePlanned
	result.Target = lay.Target
	result.Attempts = lay.Attempts
	result.Rejected = lay.Rejected

	batch := e.validator.ValidateBatch(state, lay.Actions)
	result.Phase = PhaseValidated
	result.Actions = batch.Actions
	result.Rejections = batch.Rejections
	result.Fallback = batch.Fallback
	recordBatch(ctx, batch)
	if batch.Fallback {
		logger.Warn("no action survived validation, using fallback", "path", batch.Actions[0].Path)
	}

	batches := commitplan.ForMode(mode, e.opts.Planner, logger).Plan(batch.Actions, src)
	result.Phase = PhaseBatched
	result.Batches = batches
	logger.Info("day planned",
		"actions", len(batch.Actions),
		"rejected", len(batch.Rejections),
		"batches", len(batches))

	tempo := message.TempoFor(dayIndex, e.opts.BootstrapDays, len(batch.Actions))
	for i, b := range batches {
		req := git.CommitRequest{
			Mutations: mutations(b, date),
			Message:   e.selector.BatchMessage(b, tempo, src),
			Context: git.CommitContext{
				Author: e.opts.Author,
				When:   e.opts.Schedule.At(date, i, src),
			},
		}

		id, err := e.executor.Commit(ctx, req)
		if err != nil {
			logger.Error("commit failed, aborting day", "batch", i, "error", err)
			recordDay(ctx, "aborted", time.Since(started))
			return result, &DayError{Date: date, Phase: PhaseCommitted, Err: err}
		}

		result.Commits = append(result.Commits, Commit{
			ID:      id,
			When:    req.Context.When,
			Message: req.Message,
			Actions: b,
		})
		recordCommit(ctx, b)
		logger.Info("committed batch",
			"batch", i,
			"actions", len(b),
			"timestamp", req.Context.When.Format(time.RFC3339),
			"commit", shortID(id),
			"message", req.Message)
	}
	result.Phase = PhaseCommitted

	after := e.validator.ApplyAll(state, structure.Concat(batches))
	meta := snapshot.Meta{RunID: e.runID, Date: date.Format(DateLayout), Saved: e.now()}
	if err := e.store.Save(ctx, after, meta); err != nil {
		recordDay(ctx, "aborted", time.Since(started))
		return result, &DayError{Date: date, Phase: PhasePersisted, Err: fmt.Errorf("failed to save snapshot: %w", err)}
	}
	result.Phase = PhasePersisted
	result.After = after
	recordDay(ctx, "committed", time.Since(started))

	logger.Info("day complete", "commits", len(result.Commits), "paths", after.Len())
	return result, nil
}

// decide draws work/rest and the commit mode. Both draws always happen so the
// forced switches do not shift the rest of the random stream.
func (e *Engine) decide(src chance.Source, logger *slog.Logger) (bool, commitplan.Mode) {
	d := e.opts.Decisions

	work, workRoll := chance.Roll(src, d.WorkProbability)
	multi, modeRoll := chance.Roll(src, d.MultiCommitProbability)
	work = work || d.ForceWork
	multi = multi || d.ForceMulti

	mode := commitplan.ModeSingle
	if multi {
		mode = commitplan.ModeMultiple
	}
	dayState := "rest"
	if work {
		dayState = "work"
	}

	logger.Info("day decided",
		"day_state", dayState,
		"work_roll", workRoll,
		"work_prob", d.WorkProbability,
		"force_work", d.ForceWork,
		"commit_mode", mode,
		"mode_roll", modeRoll,
		"force_multi", d.ForceMulti)
	return work, mode
}

// Push publishes the simulated history
func (e *Engine) Push(ctx context.Context) error {
	e.logger.Info("pushing simulated history")
	if err := e.executor.Push(ctx); err != nil {
		return fmt.Errorf("failed to push: %w", err)
	}
	return nil
}

// mutations turns a batch into working-tree changes. Adds get a small
// heading, edits append a dated line.
func mutations(batch structure.Sequence, date time.Time) []git.Mutation {
	out := make([]git.Mutation, 0, len(batch))
	for _, a := range batch {
		m := git.Mutation{Kind: a.Kind, Path: a.Path, NewPath: a.NewPath}
		reason := a.Reason
		if reason == "" {
			reason = string(a.Kind)
		}
		switch a.Kind {
		case structure.KindAdd:
			title := strings.TrimSuffix(path.Base(a.Path), path.Ext(a.Path))
			m.Content = fmt.Appendf(nil, "# %s\n\n%s\n", title, reason)
		case structure.KindEdit:
			m.Content = fmt.Appendf(nil, "- %s: %s\n", date.Format(DateLayout), reason)
		}
		out = append(out, m)
	}
	return out
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// IsDayError reports whether err aborted a day and returns the day error
func IsDayError(err error) (*DayError, bool) {
	var de *DayError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
