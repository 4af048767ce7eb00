// Package watch implements the analyst watch TUI: a live view of a worker's
// admin API showing running tasks and the task event stream.
package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/analyst/internal/registry"
)

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	StatePending    lipgloss.Style
	StateRunning    lipgloss.Style
	StateKilling    lipgloss.Style
	StateTerminated lipgloss.Style
	Failed          lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	ActivityOn  lipgloss.Style
	ActivityOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	return Theme{
		StatePending:    lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		StateRunning:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StateKilling:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8800")),
		StateTerminated: lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Failed:          lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD")),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		ActivityOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		ActivityOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// State returns the style for a process state.
func (t Theme) State(s registry.State) lipgloss.Style {
	switch s {
	case registry.StateRunning:
		return t.StateRunning
	case registry.StateKilling:
		return t.StateKilling
	case registry.StateTerminated:
		return t.StateTerminated
	default:
		return t.StatePending
	}
}
