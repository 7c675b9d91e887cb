package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Width(10)

	breakerClosedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	breakerHalfStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	breakerOpenStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	questionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	blockerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1)
)

// breakerStyle picks the style for a breaker state label.
func breakerStyle(state string) lipgloss.Style {
	switch state {
	case "OPEN":
		return breakerOpenStyle
	case "HALF_OPEN":
		return breakerHalfStyle
	default:
		return breakerClosedStyle
	}
}
