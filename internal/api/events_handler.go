package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/analyst/internal/events"
)

const sseKeepAlive = 15 * time.Second

// handleEvents handles GET /events: a server-sent event stream of task
// lifecycle events. Last-Event-ID replays buffered events after that id, and
// ?task_id=N limits the stream to one task.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	match := func(events.Event) bool { return true }
	if v := r.URL.Query().Get("task_id"); v != "" {
		taskID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid task_id")
			return
		}
		match = func(ev events.Event) bool {
			te, ok := ev.Task()
			return ok && te.TaskID == taskID
		}
	}

	sub := s.events.Follow(parseLastEventID(r.Header.Get("Last-Event-ID")))
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(ev events.Event) error {
		if !match(ev) {
			return nil
		}
		return writeSSE(w, ev)
	}

	for _, ev := range sub.Replay {
		if err := send(ev); err != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := send(ev); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE writes one event. Data is single-line JSON, so one data line is
// enough.
func writeSSE(w http.ResponseWriter, ev events.Event) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}
