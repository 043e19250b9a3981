package ui

import "github.com/charmbracelet/lipgloss"

// Palette: one amber accent over grays, red for failed documents and pale
// yellow for skipped ones.
const (
	ColorAccent   = "214"
	ColorWhite    = "255"
	ColorGray     = "245"
	ColorDarkGray = "238"
	ColorRed      = "196"
	ColorYellow   = "228"
)

// Styles holds the lipgloss styles used by the progress panel and the
// status view.
type Styles struct {
	Header    lipgloss.Style
	Active    lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Label     lipgloss.Style
	Dim       lipgloss.Style
	Sparkline lipgloss.Style
}

func fg(color string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
}

// DefaultStyles returns the colored style set.
func DefaultStyles() Styles {
	return Styles{
		Header:    fg(ColorAccent).Bold(true),
		Active:    fg(ColorWhite).Bold(true),
		Success:   fg(ColorAccent),
		Warning:   fg(ColorYellow),
		Error:     fg(ColorRed),
		Label:     fg(ColorGray),
		Dim:       fg(ColorDarkGray),
		Sparkline: fg(ColorAccent),
	}
}

// NoColorStyles returns styles that render text unchanged.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header: plain, Active: plain, Success: plain, Warning: plain,
		Error: plain, Label: plain, Dim: plain, Sparkline: plain,
	}
}

// GetStyles picks a style set by color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
