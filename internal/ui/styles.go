package ui

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Palette shared by the progress line and the report.
const (
	colorBrand   = "#7D56F4"
	colorStable  = "46"  // green
	colorPending = "214" // orange
	colorWorst   = "196" // red
	colorMuted   = "241"
)

// styles holds the lipgloss styles bound to one renderer so output for a
// non-terminal writer stays free of escape sequences.
type styles struct {
	label   lipgloss.Style
	stable  lipgloss.Style
	pending lipgloss.Style
	worst   lipgloss.Style
	muted   lipgloss.Style
}

func newStyles(profile termenv.Profile) styles {
	r := lipgloss.NewRenderer(io.Discard)
	r.SetColorProfile(profile)
	return styles{
		label:   r.NewStyle().Bold(true),
		stable:  r.NewStyle().Foreground(lipgloss.Color(colorStable)),
		pending: r.NewStyle().Foreground(lipgloss.Color(colorPending)),
		worst:   r.NewStyle().Foreground(lipgloss.Color(colorWorst)).Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color(colorMuted)),
	}
}
