package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/analyst/internal/events"
	"github.com/mattjoyce/analyst/internal/registry"
)

type eventMsg events.Event

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	TasksRunning  int    `json:"tasks_running"`
}

// processesMsg carries a /processes snapshot. Only polled snapshots schedule
// the next poll.
type processesMsg struct {
	procs  []registry.ProcessInfo
	polled bool
}

type killSentMsg struct{ taskID int64 }

type killFailedMsg struct{ err error }

type processesErrMsg struct{ err error }

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

var pollClient = &http.Client{Timeout: 2 * time.Second}

// subscribeToEvents connects to /events and feeds events into ch until the
// stream ends. lastID resumes after the last event seen.
func subscribeToEvents(apiURL string, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, apiURL+"/events", nil)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()

		readSSE(bufio.NewScanner(resp.Body), ch)
		return sseDisconnectedMsg{}
	}
}

// readSSE parses server-sent events from scanner. Comment lines are ignored.
func readSSE(scanner *bufio.Scanner, ch chan<- events.Event) {
	var current events.Event
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(current.Data) > 0 {
				if current.At.IsZero() {
					current.At = time.Now()
				}
				ch <- current
			}
			current = events.Event{}
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			current.Data = []byte(line[6:])
		}
	}
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func getJSON(url string, v any) error {
	resp, err := pollClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func fetchHealth(apiURL string) tea.Msg {
	var h healthMsg
	if err := getJSON(apiURL+"/healthz", &h); err != nil {
		return errMsg(err)
	}
	return h
}

func fetchProcesses(apiURL string, polled bool) tea.Msg {
	var body struct {
		Processes []registry.ProcessInfo `json:"processes"`
	}
	if err := getJSON(apiURL+"/processes", &body); err != nil {
		if !polled {
			return nil
		}
		return processesErrMsg{err: err}
	}
	return processesMsg{procs: body.Processes, polled: polled}
}

func killTask(apiURL string, taskID int64) tea.Cmd {
	return func() tea.Msg {
		url := fmt.Sprintf("%s/processes/%d/kill", apiURL, taskID)
		resp, err := pollClient.Post(url, "application/json", strings.NewReader(`{"reason":"killed from watch"}`))
		if err != nil {
			return killFailedMsg{err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			return killFailedMsg{err: fmt.Errorf("kill task %d: %s", taskID, resp.Status)}
		}
		return killSentMsg{taskID: taskID}
	}
}
