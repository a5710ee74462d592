// Package tui implements the terminal playback monitor and the markdown
// summary of a test file.
package tui

import "github.com/charmbracelet/lipgloss"

// Step status glyphs.
const (
	GlyphPending = "○"
	GlyphCurrent = "◉"
	GlyphPassed  = "✓"
	GlyphFailed  = "✗"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan).Padding(0, 1)

	stepNormal   = lipgloss.NewStyle()
	stepSelected = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	stepRunning  = lipgloss.NewStyle().Bold(true).Foreground(colorYellow)
	stepPassed   = lipgloss.NewStyle().Foreground(colorGreen)
	stepFailed   = lipgloss.NewStyle().Foreground(colorRed)

	dimStyle  = lipgloss.NewStyle().Foreground(colorDim)
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)

	codePanel = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)
)
