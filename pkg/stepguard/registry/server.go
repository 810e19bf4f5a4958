package registry

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/randalmurphal/stepguard/pkg/stepguard/api"
	"github.com/randalmurphal/stepguard/pkg/stepguard/observability"
)

// Response messages.
const (
	MessageSpawned = "Local Orchestrator spawned successfully"
	MessageStopped = "Local Orchestrator stopped"
)

// Server exposes a Registry over HTTP.
type Server struct {
	reg    *Registry
	reader sdkmetric.Reader
	logger *slog.Logger
}

// NewServer creates the registry HTTP server. reader may be nil, in which
// case /metrics reports nothing.
func NewServer(reg *Registry, reader sdkmetric.Reader) *Server {
	return &Server{reg: reg, reader: reader, logger: reg.logger}
}

// Handler returns the routed, request-logging handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start_task", s.handleStart)
	mux.HandleFunc("POST /stop_task", s.handleStop)
	mux.HandleFunc("GET /tasks", s.handleTasks)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	return api.RequestLogger(s.logger)(mux)
}

func taskError(w http.ResponseWriter, status int, code, msg string) {
	api.WriteJSON(w, status, api.TaskResponse{Status: api.StatusError, Message: msg, Error: code})
}

// POST /start_task
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req api.StartTaskRequest
	if err := api.DecodeJSON(r, &req, false); err != nil {
		taskError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return
	}
	req.AgentID = strings.TrimSpace(req.AgentID)

	h, err := s.reg.Start(r.Context(), req.AgentID)
	switch {
	case errors.Is(err, ErrInvalidAgentID):
		taskError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return
	case errors.Is(err, ErrAlreadyRunning):
		taskError(w, http.StatusConflict, api.CodeAlreadyRunning, err.Error())
		return
	case err != nil:
		s.logger.Error("supervisor spawn failed", slog.String("agent_id", req.AgentID), slog.String("error", err.Error()))
		taskError(w, http.StatusInternalServerError, api.CodeInternal, err.Error())
		return
	}

	api.WriteJSON(w, http.StatusOK, api.TaskResponse{
		Status:               api.StatusSuccess,
		Message:              MessageSpawned,
		LocalOrchestratorURL: h.URL(),
	})
}

// POST /stop_task
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req api.StopTaskRequest
	if err := api.DecodeJSON(r, &req, false); err != nil {
		taskError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return
	}
	if req.AgentID == "" {
		taskError(w, http.StatusBadRequest, api.CodeInvalidRequest, ErrInvalidAgentID.Error())
		return
	}

	if err := s.reg.Stop(r.Context(), req.AgentID); err != nil {
		if errors.Is(err, ErrNotRunning) {
			taskError(w, http.StatusNotFound, api.CodeNotRunning, err.Error())
			return
		}
		taskError(w, http.StatusInternalServerError, api.CodeInternal, err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, api.TaskResponse{Status: api.StatusSuccess, Message: MessageStopped})
}

// GET /tasks
func (s *Server) handleTasks(w http.ResponseWriter, _ *http.Request) {
	tasks := []api.TaskInfo{}
	for _, h := range s.reg.List() {
		info := api.TaskInfo{
			AgentID:   h.AgentID,
			URL:       h.URL(),
			PID:       h.PID(),
			StartedAt: h.StartedAt,
		}
		if st, err := s.reg.Stats(h); err == nil {
			info.CPUPercent = st.CPUPercent
			info.RSSBytes = st.RSSBytes
		} else {
			s.logger.Debug("process stats unavailable", slog.String("agent_id", h.AgentID), slog.String("error", err.Error()))
		}
		tasks = append(tasks, info)
	}
	api.WriteJSON(w, http.StatusOK, api.TasksResponse{Tasks: tasks})
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, api.HealthResponse{Status: api.StatusOK})
}

// GET /metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	resp := api.MetricsResponse{Metrics: []observability.MetricSummary{}}
	if s.reader != nil {
		metrics, err := observability.Collect(r.Context(), s.reader)
		if err != nil {
			api.WriteError(w, http.StatusInternalServerError, api.CodeInternal, err.Error())
			return
		}
		if metrics != nil {
			resp.Metrics = metrics
		}
	}
	api.WriteJSON(w, http.StatusOK, resp)
}
