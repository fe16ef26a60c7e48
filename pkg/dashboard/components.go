/* pkg/dashboard/components.go */

package dashboard

import (
	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/charmbracelet/lipgloss"
)

// Common color palette for consistent styling
var (
	ColorPrimary = lipgloss.Color("#00ffff") // Cyan
	ColorSuccess = lipgloss.Color("#00ff00") // Green
	ColorWarning = lipgloss.Color("#ffaa00") // Orange
	ColorError   = lipgloss.Color("#ff0000") // Red
	ColorInfo    = lipgloss.Color("#0099ff") // Blue
	ColorMuted   = lipgloss.Color("#666666") // Gray
	ColorBorder  = lipgloss.Color("#3d5a80") // Medium blue
)

// StatusIndicator is the health of one reading.
type StatusIndicator int

const (
	StatusHealthy StatusIndicator = iota
	StatusWarning
	StatusCritical
	StatusUnknown
)

// String returns the short marker printed next to a reading.
func (s StatusIndicator) String() string {
	switch s {
	case StatusHealthy:
		return "OK"
	case StatusWarning:
		return "WARN"
	case StatusCritical:
		return "CRIT"
	default:
		return "??"
	}
}

// Color returns the lipgloss color for the status
func (s StatusIndicator) Color() lipgloss.Color {
	switch s {
	case StatusHealthy:
		return ColorSuccess
	case StatusWarning:
		return ColorWarning
	case StatusCritical:
		return ColorError
	default:
		return ColorMuted
	}
}

// IndicatorFor maps a severity to its indicator. The zero severity is healthy.
func IndicatorFor(s governor.Severity) StatusIndicator {
	switch s {
	case governor.SeverityCritical:
		return StatusCritical
	case governor.SeverityWarning:
		return StatusWarning
	case "":
		return StatusHealthy
	default:
		return StatusUnknown
	}
}

// Styles is the set of styles used by the status and tick views.
type Styles struct {
	Title   lipgloss.Style
	Panel   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Header  lipgloss.Style
}

// NewStyles creates the default style set.
func NewStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginBottom(1),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1),
		Label: lipgloss.NewStyle().
			Foreground(ColorInfo).
			Width(18),
		Value:   lipgloss.NewStyle(),
		Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
		Success: lipgloss.NewStyle().Foreground(ColorSuccess),
		Warning: lipgloss.NewStyle().Foreground(ColorWarning).Bold(true),
		Error:   lipgloss.NewStyle().Foreground(ColorError).Bold(true),
		Header:  lipgloss.NewStyle().Bold(true).Underline(true),
	}
}

// Indicator renders s in its own color.
func (st Styles) Indicator(s StatusIndicator) string {
	return lipgloss.NewStyle().Foreground(s.Color()).Bold(true).Render(s.String())
}

// Row renders a label/value pair.
func (st Styles) Row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, st.Label.Render(label), st.Value.Render(value))
}
