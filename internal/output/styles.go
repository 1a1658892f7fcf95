package output

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ANSI 256 palette. Styles refer to these instead of color literals.
var (
	ColorCyan    = lipgloss.Color("14")
	ColorGreen   = lipgloss.Color("82")
	ColorYellow  = lipgloss.Color("220")
	ColorRed     = lipgloss.Color("204")
	ColorCheck   = lipgloss.Color("10")
	ColorBlue    = lipgloss.Color("12")
	ColorDimGray = lipgloss.Color("240")
)

var (
	// StyleNoun marks package names, specs and hashes.
	StyleNoun = lipgloss.NewStyle().Foreground(ColorCyan)

	// StyleHeading marks section titles.
	StyleHeading = lipgloss.NewStyle().Bold(true).Underline(true)

	StyleDim     = lipgloss.NewStyle().Faint(true)
	StyleSummary = lipgloss.NewStyle().Bold(true)
)

// Build statuses and plan actions as printed.
const (
	StatusInstalled    = "installed"
	StatusSkipped      = "skipped-already-present"
	StatusFailed       = "failed"
	StatusPrereqFailed = "prerequisite-failed"
	StatusPlanned      = "install"
	StatusSkip         = "skip"
)

var statusStyles = map[string]lipgloss.Style{
	StatusInstalled:    lipgloss.NewStyle().Foreground(ColorGreen),
	StatusPlanned:      lipgloss.NewStyle().Foreground(ColorGreen),
	StatusSkipped:      StyleDim,
	StatusSkip:         StyleDim,
	StatusPrereqFailed: lipgloss.NewStyle().Foreground(ColorYellow),
	StatusFailed:       lipgloss.NewStyle().Bold(true).Foreground(ColorRed),
}

// StatusStyle returns the style of a status or plan action. Anything else
// is left unstyled.
func StatusStyle(status string) lipgloss.Style {
	if st, ok := statusStyles[status]; ok {
		return st
	}
	return lipgloss.NewStyle()
}

// specColumn is the width statuses are aligned to on progress lines.
const specColumn = 40

// FormatSpecLine renders one progress line, s:<name@version/hash7> followed
// by the colored status.
func FormatSpecLine(spec, status string) string {
	gap := max(specColumn-len(spec), 2)
	return StyleDim.Render("s:") + StyleNoun.Render(spec) + strings.Repeat(" ", gap) +
		StatusStyle(status).Render(status)
}

// FormatCheckmark prefixes msg with a green check mark.
func FormatCheckmark(msg string) string {
	return lipgloss.NewStyle().Foreground(ColorCheck).Render("✔") + " " + msg
}

// FormatCross prefixes msg with a red cross.
func FormatCross(msg string) string {
	return lipgloss.NewStyle().Foreground(ColorRed).Render("✘") + " " + msg
}
