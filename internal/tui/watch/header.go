package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks worker health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	TasksRunning  int
	Connected     bool
	LastCheck     time.Time
}

// activityDots is the width of the activity meter.
const activityDots = 5

// Activity lights up when events arrive and fades one dot every two seconds.
type Activity struct {
	lastEvent time.Time
}

func (a *Activity) OnEvent(at time.Time) { a.lastEvent = at }

func (a Activity) LastEvent() time.Time { return a.lastEvent }

// Lit returns how many dots are lit at now.
func (a Activity) Lit(now time.Time) int {
	if a.lastEvent.IsZero() {
		return 0
	}
	lit := activityDots - int(now.Sub(a.lastEvent)/(2*time.Second))
	return max(lit, 0)
}

func (a Activity) Render(theme Theme, now time.Time) string {
	lit := a.Lit(now)
	var b strings.Builder
	for i := range activityDots {
		if i < lit {
			b.WriteString(theme.ActivityOn.Render("●"))
		} else {
			b.WriteString(theme.ActivityOff.Render("○"))
		}
	}
	return b.String()
}

func renderHeader(apiURL string, health HealthState, activity Activity, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	status := theme.StateTerminated.Render("HEALTHY")
	switch {
	case !health.Connected:
		status = theme.Failed.Render("CONNECTING")
	case health.Status != "ok" && health.Status != "":
		status = theme.Failed.Render("DEGRADED")
	}

	title := fmt.Sprintf(" ANALYST WATCH %s", theme.Highlight.Render(apiURL))
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := max(innerWidth-lipgloss.Width(title)-lipgloss.Width(clock)-4, 1)
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  Tasks running: %d",
		status,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.TasksRunning,
	)

	lastEvent := "never"
	if !activity.LastEvent().IsZero() {
		lastEvent = fmt.Sprintf("%s ago", now.Sub(activity.LastEvent()).Round(time.Second))
	}
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, activity.Render(theme, now))

	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine),
	)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
