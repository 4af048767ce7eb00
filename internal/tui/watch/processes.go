package watch

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/analyst/internal/registry"
)

func newProcessTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Task", Width: 8},
			{Title: "Job", Width: 8},
			{Title: "Name", Width: 20},
			{Title: "State", Width: 10},
			{Title: "PID", Width: 7},
			{Title: "Elapsed", Width: 9},
			{Title: "OK/Warn/Err", Width: 12},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// processRows renders procs in task id order, as returned by the API.
func processRows(procs []registry.ProcessInfo, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(procs))
	for _, p := range procs {
		pid := "-"
		if p.Pid > 0 {
			pid = strconv.Itoa(p.Pid)
		}
		elapsed := "-"
		if p.StartedAt != nil {
			end := now
			if p.FinishedAt != nil {
				end = *p.FinishedAt
			}
			elapsed = formatDuration(end.Sub(*p.StartedAt))
		}
		stats := "-"
		if p.Stats != nil {
			stats = fmt.Sprintf("%d/%d/%d", p.Stats.SuccessCount, p.Stats.WarningCount, p.Stats.ErrorCount)
		}
		state := string(p.State)
		if p.Killed && p.State != registry.StateKilling {
			state += "*"
		}
		rows = append(rows, table.Row{
			strconv.FormatInt(p.TaskID, 10),
			strconv.FormatInt(p.JobID, 10),
			p.Name,
			state,
			pid,
			elapsed,
			stats,
		})
	}
	return rows
}

func renderProcesses(t table.Model, count int, theme Theme, width int) string {
	innerWidth := width - 4
	title := theme.Title.Render(fmt.Sprintf("TASKS (%d)", count))
	if count == 0 {
		return theme.Border.Width(innerWidth).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, theme.Dim.Render("  No tasks registered")),
		)
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, title, t.View()))
}
