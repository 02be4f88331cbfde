package stats

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// maxListedFailures caps the failure list so huge runs stay readable.
const maxListedFailures = 10

var (
	colorSuccess = lipgloss.Color("#10B981")
	colorError   = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#9CA3AF")
	colorBorder  = lipgloss.Color("#374151")

	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(colorMuted).Width(10)
	okStyle    = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)

// Render formats a snapshot as a bordered block for the terminal. Colors are
// dropped automatically when the output is not a TTY.
func Render(s Snapshot) string {
	status := okStyle.Render("OK")
	if !s.OK() {
		status = errStyle.Render("FAILED")
	}

	lines := []string{
		titleStyle.Render("procpool summary") + "  " + status,
		row("commands", fmt.Sprintf("%d total, %d ok, %d failed, %d not started",
			s.Count(), s.Succeeded, s.Failed, s.SpawnFailures)),
	}
	if s.Succeeded+s.Failed > 0 {
		lines = append(lines,
			row("duration", fmt.Sprintf("min %s  p50 %s  p90 %s  p99 %s  max %s",
				round(s.Min), round(s.P50), round(s.P90), round(s.P99), round(s.Max))),
			row("cpu-wall", round(s.Total)),
		)
	}
	if s.Wall > 0 {
		lines = append(lines, row("elapsed", round(s.Wall)))
	}

	if len(s.Failures) > 0 {
		lines = append(lines, "", errStyle.Render("failures"))
		for i, f := range s.Failures {
			if i == maxListedFailures {
				lines = append(lines, labelStyle.Render("")+fmt.Sprintf("... and %d more", len(s.Failures)-i))
				break
			}
			lines = append(lines, fmt.Sprintf("  [%d] exit %d  %s", f.ID, f.ExitCode, truncate(f.Command, 60)))
		}
	}

	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func round(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return d.Round(time.Second).String()
	case d >= time.Second:
		return d.Round(10 * time.Millisecond).String()
	default:
		return d.Round(100 * time.Microsecond).String()
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
