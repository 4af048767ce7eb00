package watch

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/analyst/internal/events"
	"github.com/mattjoyce/analyst/internal/protocol"
	"github.com/mattjoyce/analyst/internal/registry"
)

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 3",
		"event: task.started",
		`data: {"task_id":7,"job_id":2}`,
		"",
		"id: 4",
		"event: task.finished",
		`data: {"task_id":7,"exit_status":0}`,
		"",
	}, "\n")

	ch := make(chan events.Event, 4)
	readSSE(bufio.NewScanner(strings.NewReader(stream)), ch)
	close(ch)

	var got []events.Event
	for e := range ch {
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, events.TaskStarted, got[0].Type)
	assert.JSONEq(t, `{"task_id":7,"job_id":2}`, string(got[0].Data))
	assert.Equal(t, int64(4), got[1].ID)
	assert.False(t, got[1].At.IsZero())
}

func TestDescribeTaskEvent(t *testing.T) {
	exit := 143
	got := describeTaskEvent(events.TaskEvent{TaskID: 7, JobID: 2, Name: "ingest", ExitStatus: &exit, Killed: true, Reason: "operator"})
	assert.Equal(t, "[7] job=2 ingest exit=143 killed (operator)", got)
	assert.Equal(t, "[0]", describeTaskEvent(events.TaskEvent{}))
}

func TestProcessRows(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	started := now.Add(-90 * time.Second)

	rows := processRows([]registry.ProcessInfo{
		{TaskID: 1, JobID: 10, Name: "ingest", State: registry.StateRunning, Pid: 4242, StartedAt: &started,
			Stats: &protocol.Stats{SuccessCount: 5, WarningCount: 1, ErrorCount: 2}},
		{TaskID: 2, JobID: 10, State: registry.StatePending, Killed: true},
	}, now)

	require.Len(t, rows, 2)
	assert.Equal(t, []string{"1", "10", "ingest", "RUNNING", "4242", "1m 30s", "5/1/2"}, []string(rows[0]))
	assert.Equal(t, []string{"2", "10", "", "PENDING*", "-", "-", "-"}, []string(rows[1]))
}

func TestActivityFades(t *testing.T) {
	var a Activity
	now := time.Now()
	assert.Equal(t, 0, a.Lit(now))

	a.OnEvent(now)
	assert.Equal(t, activityDots, a.Lit(now))
	assert.Equal(t, activityDots-2, a.Lit(now.Add(4*time.Second)))
	assert.Equal(t, 0, a.Lit(now.Add(time.Minute)))
}

func TestUpdateKillSelectedTask(t *testing.T) {
	var killed string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			killed = r.URL.Path
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m := New(srv.URL)
	var model tea.Model = *m
	model, _ = model.Update(processesMsg{procs: []registry.ProcessInfo{{TaskID: 9, State: registry.StateRunning}}})

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, killSentMsg{taskID: 9}, msg)
	assert.Equal(t, "/processes/9/kill", killed)
}

func TestUpdateTracksLastEventID(t *testing.T) {
	m := New("http://127.0.0.1:0")
	var model tea.Model = *m

	model, _ = model.Update(eventMsg(events.Event{ID: 5, Type: events.TaskStarted, At: time.Now(), Data: []byte(`{"task_id":1}`)}))
	model, _ = model.Update(eventMsg(events.Event{ID: 6, Type: events.TaskFinished, At: time.Now(), Data: []byte(`{"task_id":1,"exit_status":0}`)}))

	got := model.(Model)
	assert.Equal(t, int64(6), got.lastID)
	require.Len(t, got.eventLog, 2)
	assert.Equal(t, events.TaskFinished, got.eventLog[0].Type, "newest event first")
	assert.True(t, got.health.Connected)
}

func TestViewRendersSections(t *testing.T) {
	m := New("http://worker:8081")
	var model tea.Model = *m
	model, _ = model.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	model, _ = model.Update(eventMsg(events.Event{ID: 1, Type: events.TaskRejected, At: time.Now(), Data: []byte(`{"task_id":3,"reason":"duplicate"}`)}))

	view := model.View()
	assert.Contains(t, view, "ANALYST WATCH")
	assert.Contains(t, view, "No tasks registered")
	assert.Contains(t, view, "EVENT STREAM")
	assert.Contains(t, view, "(duplicate)")
}
