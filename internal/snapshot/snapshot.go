// Package snapshot persists the structural state between runs.
package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/schaermu/gitcom/internal/fault"
	"github.com/schaermu/gitcom/internal/structure"
)

// FileName is the snapshot file name inside the state directory.
const FileName = "latest_struct_snap.txt"

// Store loads and saves the last persisted structural state. Load returns an
// empty state and no error when nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (structure.State, error)
	Save(ctx context.Context, s structure.State, meta Meta) error
}

// Meta is written into the snapshot header as comments
type Meta struct {
	RunID string
	Date  string
	Saved time.Time
}

func (m Meta) comments() []string {
	var lines []string
	lines = append(lines, "gitcom structural snapshot")
	if m.RunID != "" {
		lines = append(lines, "run: "+m.RunID)
	}
	if m.Date != "" {
		lines = append(lines, "day: "+m.Date)
	}
	if !m.Saved.IsZero() {
		lines = append(lines, "saved: "+m.Saved.UTC().Format(time.RFC3339))
	}
	return lines
}

// escapePrefix marks a path line that would otherwise read as a comment or a
// blank line, or that itself starts with the prefix.
const escapePrefix = `\`

// Encode renders s one path per line in sorted order, preceded by the meta
// header as comment lines.
func Encode(s structure.State, meta Meta) []byte {
	var buf bytes.Buffer
	for _, c := range meta.comments() {
		fmt.Fprintf(&buf, "# %s\n", c)
	}
	for _, p := range s.Paths() {
		if needsEscape(p) {
			buf.WriteString(escapePrefix)
		}
		buf.WriteString(p)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func needsEscape(p string) bool {
	head := strings.TrimLeftFunc(p, unicode.IsSpace)
	return head == "" || strings.HasPrefix(head, "#") || strings.HasPrefix(p, escapePrefix)
}

// Decode parses a snapshot. Blank lines and lines starting with '#' are
// skipped; path lines are taken verbatim, so names keep surrounding spaces.
// A leading backslash escapes a path that would otherwise be skipped. A line
// that cannot be a repository-relative path makes the whole snapshot corrupt.
func Decode(r io.Reader) (structure.State, error) {
	var paths []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if rest, ok := strings.CutPrefix(line, escapePrefix); ok {
			line = rest
		} else if trimmed := strings.TrimSpace(line); trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if err := checkLine(line); err != nil {
			return structure.New(), fault.Corrupt("snapshot decode", "line %d: %v", lineNo, err)
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return structure.New(), fault.Corrupt("snapshot decode", "read: %v", err)
	}
	return structure.New(paths...), nil
}

func checkLine(line string) error {
	switch {
	case line == "":
		return errors.New("empty path")
	case !utf8.ValidString(line):
		return errors.New("invalid utf-8")
	case strings.ContainsRune(line, 0):
		return errors.New("contains NUL byte")
	case strings.HasPrefix(line, "/"):
		return fmt.Errorf("absolute path %q", line)
	}
	for _, seg := range strings.Split(line, "/") {
		if seg == ".." {
			return fmt.Errorf("path %q escapes the repository", line)
		}
	}
	return nil
}

// LoadOrEmpty loads from store and falls back to an empty state on any
// failure other than context cancellation, logging a warning.
func LoadOrEmpty(ctx context.Context, store Store, logger *slog.Logger) (structure.State, error) {
	s, err := store.Load(ctx)
	if err == nil {
		return s, nil
	}
	if ctx.Err() != nil {
		return structure.New(), ctx.Err()
	}
	if errors.Is(err, fault.ErrSnapshotCorrupt) {
		logger.Warn("snapshot is corrupt (will start from empty structure)", "error", err)
	} else {
		logger.Warn("failed to load snapshot (will start from empty structure)", "error", err)
	}
	return structure.New(), nil
}
