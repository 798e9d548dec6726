// Package ux renders run summaries for the terminal.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	ColorAccent  = lipgloss.Color("#2CD7C7")
	ColorMuted   = lipgloss.Color("#6C7A89")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles used by the summary
var Styles = struct {
	Title  lipgloss.Style
	Header lipgloss.Style
	Work   lipgloss.Style
	Rest   lipgloss.Style
	Failed lipgloss.Style
	Note   lipgloss.Style
	Box    lipgloss.Style
}{
	Title:  lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Header: lipgloss.NewStyle().Bold(true),
	Work:   lipgloss.NewStyle().Foreground(ColorAccent),
	Rest:   lipgloss.NewStyle().Foreground(ColorMuted),
	Failed: lipgloss.NewStyle().Foreground(ColorError).Bold(true),
	Note:   lipgloss.NewStyle().Foreground(ColorWarning),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAccent).
		Padding(0, 1),
}

// Day states shown in the summary
const (
	StateWork   = "work"
	StateRest   = "rest"
	StateFailed = "failed"
)

// DayRow is one line of the run summary
type DayRow struct {
	Date    string
	State   string
	Mode    string
	Actions int
	Commits int
	Note    string
}

// Summary is a rendered run overview
type Summary struct {
	Title string
	Rows  []DayRow
	Paths int
}

var columns = []struct {
	name  string
	width int
}{
	{"date", 10},
	{"day", 6},
	{"mode", 8},
	{"actions", 7},
	{"commits", 7},
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Render formats the summary. plain drops all styling.
func (s Summary) Render(plain bool) string {
	var b strings.Builder

	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = pad(c.name, c.width)
	}
	b.WriteString(style(plain, Styles.Header, strings.Join(headers, "  ")))
	b.WriteByte('\n')

	var commits int
	for _, r := range s.Rows {
		commits += r.Commits
		cells := []string{
			pad(r.Date, columns[0].width),
			style(plain, stateStyle(r.State), pad(r.State, columns[1].width)),
			pad(r.Mode, columns[2].width),
			pad(fmt.Sprint(r.Actions), columns[3].width),
			pad(fmt.Sprint(r.Commits), columns[4].width),
		}
		line := strings.TrimRight(strings.Join(cells, "  "), " ")
		if r.Note != "" {
			line += "  " + style(plain, Styles.Note, r.Note)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "\n%d days, %d commits, %d tracked paths", len(s.Rows), commits, s.Paths)

	if plain {
		return s.Title + "\n\n" + b.String() + "\n"
	}
	return Styles.Title.Render(s.Title) + "\n" + Styles.Box.Render(b.String()) + "\n"
}

// Print writes the summary to w, styled only when w is a terminal
func (s Summary) Print(w io.Writer) error {
	_, err := io.WriteString(w, s.Render(!IsTerminal(w)))
	return err
}

func stateStyle(state string) lipgloss.Style {
	switch state {
	case StateWork:
		return Styles.Work
	case StateFailed:
		return Styles.Failed
	default:
		return Styles.Rest
	}
}

func style(plain bool, st lipgloss.Style, s string) string {
	if plain {
		return s
	}
	return st.Render(s)
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
