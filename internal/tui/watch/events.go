package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/analyst/internal/events"
)

const maxEventLog = 50

func renderEventStream(eventLog []events.Event, theme Theme, width, rows int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= rows {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var te events.TaskEvent
	_ = json.Unmarshal(e.Data, &te)

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TaskStarted:
		typeStyle = theme.StateRunning
	case events.TaskKilling:
		typeStyle = theme.StateKilling
	case events.TaskRejected:
		typeStyle = theme.Failed
	case events.TaskFinished:
		typeStyle = theme.StateTerminated
		if te.Killed || (te.ExitStatus != nil && *te.ExitStatus != 0) {
			typeStyle = theme.Failed
		}
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-16s", e.Type)), describeTaskEvent(te))
}

func describeTaskEvent(te events.TaskEvent) string {
	parts := []string{fmt.Sprintf("[%d]", te.TaskID)}
	if te.JobID != 0 {
		parts = append(parts, fmt.Sprintf("job=%d", te.JobID))
	}
	if te.Name != "" {
		parts = append(parts, te.Name)
	}
	if te.ExitStatus != nil {
		parts = append(parts, fmt.Sprintf("exit=%d", *te.ExitStatus))
	}
	if te.Killed {
		parts = append(parts, "killed")
	}
	if te.Reason != "" {
		parts = append(parts, fmt.Sprintf("(%s)", te.Reason))
	}
	return strings.Join(parts, " ")
}
