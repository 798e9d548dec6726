// Package drift compares the planning snapshot with the paths actually
// tracked by the repository and reconciles the two.
package drift

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/schaermu/gitcom/internal/fault"
	"github.com/schaermu/gitcom/internal/structure"
)

// Policy decides what happens when drift is found
type Policy string

const (
	PolicyIgnore    Policy = "ignore"
	PolicyWarn      Policy = "warn"
	PolicyReconcile Policy = "reconcile"
	PolicyFail      Policy = "fail"
)

// Policies lists the accepted policy names
var Policies = []Policy{PolicyIgnore, PolicyWarn, PolicyReconcile, PolicyFail}

// Report describes how the snapshot differs from the repository.
type Report struct {
	// Missing paths are in the snapshot but not tracked at HEAD.
	Missing []string
	// Untracked paths are tracked at HEAD but unknown to the snapshot.
	Untracked []string
}

// Clean reports whether snapshot and repository agree
func (r Report) Clean() bool {
	return len(r.Missing) == 0 && len(r.Untracked) == 0
}

func (r Report) String() string {
	if r.Clean() {
		return "no drift"
	}
	return fmt.Sprintf("%d missing from repository, %d unknown to snapshot", len(r.Missing), len(r.Untracked))
}

// Detect compares the snapshot with the ground truth
func Detect(snapshot, head structure.State) Report {
	missing, untracked := snapshot.Diff(head)
	return Report{Missing: missing, Untracked: untracked}
}

// Reconcile keeps the snapshot paths that still exist at HEAD and adopts HEAD
// paths that live under one of the managed directories. Files outside the
// managed directories that the snapshot never knew about stay unmanaged.
func Reconcile(snapshot, head structure.State, managedDirs []string) structure.State {
	var keep []string
	for _, p := range snapshot.Paths() {
		if head.Has(p) {
			keep = append(keep, p)
		}
	}
	for _, p := range head.Paths() {
		if underAny(p, managedDirs) {
			keep = append(keep, p)
		}
	}
	return structure.New(keep...)
}

// Resolve applies policy to the detected drift and returns the state planning
// should start from.
func Resolve(policy Policy, snapshot, head structure.State, managedDirs []string, logger *slog.Logger) (structure.State, Report, error) {
	report := Detect(snapshot, head)
	if report.Clean() {
		logger.Debug("snapshot matches repository", "paths", snapshot.Len())
		return snapshot, report, nil
	}

	switch policy {
	case PolicyIgnore:
		return snapshot, report, nil

	case PolicyWarn:
		logger.Warn("snapshot drifted from repository",
			"missing", len(report.Missing),
			"untracked", len(report.Untracked))
		return snapshot, report, nil

	case PolicyFail:
		return snapshot, report, fault.Preconditionf("drift", "snapshot drifted from repository: %s (missing: %s)",
			report, preview(report.Missing))

	default:
		reconciled := Reconcile(snapshot, head, managedDirs)
		logger.Warn("snapshot drifted from repository, reconciled",
			"missing", len(report.Missing),
			"untracked", len(report.Untracked),
			"before", snapshot.Len(),
			"after", reconciled.Len())
		return reconciled, report, nil
	}
}

func underAny(p string, dirs []string) bool {
	for _, d := range dirs {
		d = strings.Trim(d, "/")
		if d != "" && strings.HasPrefix(p, d+"/") {
			return true
		}
	}
	return false
}

func preview(paths []string) string {
	const limit = 5
	if len(paths) <= limit {
		return strings.Join(paths, ", ")
	}
	return strings.Join(paths[:limit], ", ") + fmt.Sprintf(", ... (%d more)", len(paths)-limit)
}
