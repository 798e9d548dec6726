package simulate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/schaermu/gitcom/internal/chance"
	"github.com/schaermu/gitcom/internal/drift"
	"github.com/schaermu/gitcom/internal/fault"
	"github.com/schaermu/gitcom/internal/snapshot"
	"github.com/schaermu/gitcom/internal/structure"
)

// DateLayout is the calendar date format used on the command line, in logs
// and in the story.
const DateLayout = "2006-01-02"

// rangeSeparator joins start and end in a --range value
const rangeSeparator = "__"

// ParseDate parses a YYYY-MM-DD calendar date
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fault.Preconditionf("date", "invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}

// ParseRange parses "START__END" into an inclusive date range
func ParseRange(s string) (time.Time, time.Time, error) {
	startStr, endStr, ok := strings.Cut(s, rangeSeparator)
	if !ok {
		return time.Time{}, time.Time{}, fault.Preconditionf("date", "invalid range %q, expected YYYY-MM-DD__YYYY-MM-DD", s)
	}
	start, err := ParseDate(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ParseDate(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if err := checkRange(start, end); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func checkRange(start, end time.Time) error {
	if end.Before(start) {
		return fault.Preconditionf("date", "end %s is before start %s", end.Format(DateLayout), start.Format(DateLayout))
	}
	return nil
}

// RunResult collects a multi-day run
type RunResult struct {
	RunID   string
	Start   time.Time
	End     time.Time
	Initial structure.State
	Drift   drift.Report
	Days    []DayResult
	Final   structure.State
}

// DriftCheck compares the snapshot with the repository without changing either
type DriftCheck struct {
	Snapshot structure.State
	Head     structure.State
	Report   drift.Report
}

// CheckDrift reads the snapshot and the ground truth and reports how they differ
func (e *Engine) CheckDrift(ctx context.Context) (DriftCheck, error) {
	state, err := snapshot.LoadOrEmpty(ctx, e.store, e.logger)
	if err != nil {
		return DriftCheck{}, err
	}
	if e.truth == nil {
		return DriftCheck{Snapshot: state, Head: state}, nil
	}
	head, err := e.truth.HeadPaths(ctx)
	if err != nil {
		return DriftCheck{}, fmt.Errorf("failed to read repository paths: %w", err)
	}
	return DriftCheck{Snapshot: state, Head: head, Report: drift.Detect(state, head)}, nil
}

// RunRange simulates every calendar day in [start, end]. Drift between the
// snapshot and the repository is resolved once before the first day. The run
// stops at the first failed day or when ctx is cancelled between days; the
// partial result is returned alongside the error.
func (e *Engine) RunRange(ctx context.Context, start, end time.Time, src chance.Source) (*RunResult, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}

	e.logger.Info("starting run",
		"start", start.Format(DateLayout),
		"end", end.Format(DateLayout),
		"days", daysBetween(start, end))

	result := &RunResult{RunID: e.runID, Start: start, End: end}

	initial, report, err := e.resolveDrift(ctx, start)
	if err != nil {
		return result, err
	}
	result.Initial = initial
	result.Drift = report
	result.Final = initial

	for i, day := 0, start; !day.After(end); i, day = i+1, day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			e.logger.Warn("run interrupted", "completed_days", len(result.Days))
			return result, err
		}

		res, err := e.RunDay(ctx, day, i, src)
		result.Days = append(result.Days, res)
		if err != nil {
			return result, err
		}
		if res.Phase == PhasePersisted {
			result.Final = res.After
		}
	}

	e.logger.Info("run complete", "days", len(result.Days), "paths", result.Final.Len())
	return result, nil
}

func (e *Engine) resolveDrift(ctx context.Context, start time.Time) (structure.State, drift.Report, error) {
	check, err := e.CheckDrift(ctx)
	if err != nil {
		return structure.State{}, drift.Report{}, err
	}
	if e.truth == nil {
		return check.Snapshot, check.Report, nil
	}

	resolved, report, err := drift.Resolve(e.opts.Drift, check.Snapshot, check.Head, e.opts.Generator.Directories, e.logger)
	if err != nil {
		return structure.State{}, report, err
	}
	if !resolved.Equal(check.Snapshot) {
		meta := snapshot.Meta{RunID: e.runID, Date: start.Format(DateLayout), Saved: e.now()}
		if err := e.store.Save(ctx, resolved, meta); err != nil {
			return structure.State{}, report, fmt.Errorf("failed to save reconciled snapshot: %w", err)
		}
	}
	return resolved, report, nil
}

func daysBetween(start, end time.Time) int {
	return int(end.Sub(start).Hours()/24) + 1
}
