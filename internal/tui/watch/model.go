package watch

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/analyst/internal/events"
	"github.com/mattjoyce/analyst/internal/registry"
)

const (
	pollInterval      = 2 * time.Second
	reconnectInterval = 3 * time.Second
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string

	width  int
	height int

	health    HealthState
	processes []registry.ProcessInfo
	table     table.Model
	eventLog  []events.Event
	lastID    int64
	activity  Activity
	now       time.Time

	theme     Theme
	hubEvents chan events.Event

	lastError string
	notice    string
}

// New creates a watch model for the admin API at apiURL.
func New(apiURL string) *Model {
	return &Model{
		apiURL:    apiURL,
		table:     newProcessTable(),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		theme:     NewDefaultTheme(),
		now:       time.Now(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) poll(after time.Duration) tea.Cmd {
	return tea.Tick(after, func(time.Time) tea.Msg { return fetchProcesses(m.apiURL, true) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		func() tea.Msg { return fetchProcesses(m.apiURL, true) },
		tick(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "x":
			row := m.table.SelectedRow()
			if row == nil {
				return m, nil
			}
			id, err := strconv.ParseInt(row[0], 10, 64)
			if err != nil {
				return m, nil
			}
			return m, killTask(m.apiURL, id)
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 8)

	case tickMsg:
		m.now = time.Time(msg)
		m.table.SetRows(processRows(m.processes, m.now))
		return m, tick()

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		if e.ID > m.lastID {
			m.lastID = e.ID
		}
		m.activity.OnEvent(time.Now())
		m.health.Connected = true
		m.lastError = ""
		// Lifecycle changes are reflected in the table right away.
		return m, tea.Batch(receiveNextEvent(m.hubEvents), func() tea.Msg { return fetchProcesses(m.apiURL, false) })

	case processesMsg:
		m.processes = msg.procs
		m.table.SetRows(processRows(m.processes, m.now))
		if msg.polled {
			return m, m.poll(pollInterval)
		}

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.TasksRunning = msg.TasksRunning
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return fetchHealth(m.apiURL) })

	case killSentMsg:
		m.notice = fmt.Sprintf("kill sent to task %d", msg.taskID)

	case killFailedMsg:
		m.notice = "kill failed: " + msg.err.Error()

	case processesErrMsg:
		m.lastError = msg.err.Error()
		return m, m.poll(pollInterval)

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(reconnectInterval, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		m.health.Connected = false
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return fetchHealth(m.apiURL) })
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing watch..."
	}

	eventRows := 10
	if m.height > 0 {
		eventRows = max(m.height-26, 3)
	}

	parts := []string{
		renderHeader(m.apiURL, m.health, m.activity, m.theme, m.width, m.now),
		renderProcesses(m.table, len(m.processes), m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width, eventRows),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(" ⚠ "+m.lastError))
	} else if m.notice != "" {
		parts = append(parts, m.theme.Highlight.Render(" "+m.notice))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select task • [x] Kill selected"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
