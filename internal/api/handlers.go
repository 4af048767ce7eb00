package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/analyst/internal/cluster"
	"github.com/mattjoyce/analyst/internal/plugin"
)

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		TasksRunning:  s.registry.Len(),
	})
}

// handleListProcesses handles GET /processes.
func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ProcessListResponse{Processes: s.registry.Snapshot()})
}

// handleGetProcess handles GET /processes/{taskID}.
func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	taskID, ok := s.parseTaskID(w, r)
	if !ok {
		return
	}
	proc, found := s.registry.Lookup(taskID)
	if !found {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	respondJSON(w, http.StatusOK, proc.Snapshot())
}

// handleKillProcess handles POST /processes/{taskID}/kill. It is the
// operator's way out of a task wedged on an unreachable master.
func (s *Server) handleKillProcess(w http.ResponseWriter, r *http.Request) {
	taskID, ok := s.parseTaskID(w, r)
	if !ok {
		return
	}

	var req KillRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "operator kill via admin api"
	}

	proc, found := s.registry.Lookup(taskID)
	if !found {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}

	if err := s.killer.KillTask(r.Context(), cluster.TaskKill{ID: taskID, Reason: req.Reason}); err != nil {
		var ce *cluster.ClusterException
		if errors.As(err, &ce) {
			s.writeError(w, http.StatusInternalServerError, ce.Message)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, KillResponse{
		TaskID: taskID,
		Status: proc.State(),
		Killed: proc.Killed(),
	})
}

// handleListPlugins handles GET /plugins.
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	reg, err := plugin.Discover(s.config.SharedDir, nil)
	if err != nil {
		s.logger.Error("plugin discovery failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "plugin discovery failed")
		return
	}

	all := reg.All()
	out := make([]PluginInfo, 0, len(all))
	for _, p := range all {
		out = append(out, PluginInfo{
			Name:         p.Name,
			Version:      p.Version,
			Description:  p.Description,
			Path:         p.Path,
			SitePackages: p.SitePackages,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	respondJSON(w, http.StatusOK, PluginListResponse{Plugins: out})
}

func (s *Server) parseTaskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "taskID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		s.writeError(w, http.StatusBadRequest, "invalid task id")
		return 0, false
	}
	return id, true
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
