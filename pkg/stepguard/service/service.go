// Package service exposes one agent's Supervisor over HTTP.
//
// Endpoints:
//
//	POST /initiate_snapshot          verify a step, then ask the policy
//	POST /notify_snapshot            capture and persist a checkpoint
//	POST /choose_rollback_snapshot   pick the checkpoint to restore
//	POST /set_system_state           recreate the container from a checkpoint
//	GET  /checkpoints                list persisted checkpoints
//	GET  /health                     liveness
//	GET  /metrics                    collected metric values
//
// Every failure is answered with api.ErrorResponse.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/randalmurphal/stepguard/pkg/stepguard/api"
	"github.com/randalmurphal/stepguard/pkg/stepguard/checkpoint"
	"github.com/randalmurphal/stepguard/pkg/stepguard/observability"
	"github.com/randalmurphal/stepguard/pkg/stepguard/oracle"
	"github.com/randalmurphal/stepguard/pkg/stepguard/snapshot"
	"github.com/randalmurphal/stepguard/pkg/stepguard/supervisor"
)

// Response messages.
const (
	MessageRollbackSelected = "Rollback snapshot selected"
	MessageSystemRestored   = "System state restored from checkpoint"
)

// Server serves the supervisor endpoints.
type Server struct {
	sup      *supervisor.Supervisor
	verifier oracle.Verifier
	metrics  observability.MetricsRecorder
	reader   sdkmetric.Reader
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics enables verification metrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithMetricsReader serves the values collected by reader on /metrics.
// Without it /metrics reports nothing.
func WithMetricsReader(r sdkmetric.Reader) Option {
	return func(s *Server) {
		s.reader = r
	}
}

// New creates a Server. A nil verifier accepts every step.
func New(sup *supervisor.Supervisor, verifier oracle.Verifier, opts ...Option) *Server {
	if verifier == nil {
		verifier = oracle.Static{Verdict: true}
	}
	s := &Server{
		sup:      sup,
		verifier: verifier,
		metrics:  observability.NoopMetrics{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = observability.EnrichLogger(s.logger, sup.AgentID())
	return s
}

// Handler returns the routed, request-logging handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /initiate_snapshot", s.handleInitiate)
	mux.HandleFunc("POST /notify_snapshot", s.handleNotify)
	mux.HandleFunc("POST /choose_rollback_snapshot", s.handleRollback)
	mux.HandleFunc("POST /set_system_state", s.handleSetSystemState)
	mux.HandleFunc("GET /checkpoints", s.handleCheckpoints)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	return api.RequestLogger(s.logger)(mux)
}

// POST /initiate_snapshot
func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req api.InitiateSnapshotRequest
	if err := api.DecodeJSON(r, &req, false); err != nil {
		api.WriteError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return
	}
	if req.Step == nil {
		api.WriteError(w, http.StatusBadRequest, api.CodeInvalidRequest, "step is required")
		return
	}
	step := *req.Step

	verified, err := s.verifier.VerifyStep(r.Context(), req.StepOutput, step)
	if err != nil {
		s.logger.Error("oracle unavailable", slog.String("step", step.String()), slog.String("error", err.Error()))
		api.WriteError(w, http.StatusBadGateway, api.CodeOracleUnavailable, err.Error())
		return
	}
	s.metrics.RecordVerification(r.Context(), s.sup.AgentID(), verified)
	observability.LogVerification(s.logger, step.String(), verified)

	if !verified {
		api.WriteJSON(w, http.StatusOK, api.InitiateSnapshotResponse{
			Initiate: false,
			Rollback: true,
			Message:  api.MessageVerificationFailed,
		})
		return
	}

	resp := api.InitiateSnapshotResponse{Message: api.MessageSnapshotNotNeeded}
	if s.sup.ShouldCheckpoint(step) {
		resp.Initiate = true
		resp.Message = api.MessageInitiateSnapshot
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// POST /notify_snapshot
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req api.NotifySnapshotRequest
	if err := api.DecodeJSON(r, &req, false); err != nil {
		api.WriteError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return
	}
	step := checkpoint.Final()
	if req.Step != nil {
		step = *req.Step
	}
	agentState := req.State.AgentState
	if len(agentState) == 0 {
		agentState = []byte("null")
	}

	cp, err := s.sup.CreateCheckpoint(r.Context(), agentState, req.State.SystemState, step)
	if err != nil {
		writeCheckpointError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.NotifySnapshotResponse{
		Message:      api.MessageSnapshotSaved,
		CheckpointID: cp.ID,
	})
}

// writeCheckpointError maps capture-path failures to status codes.
func writeCheckpointError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, supervisor.ErrMissingContainerName):
		api.WriteError(w, http.StatusBadRequest, api.CodeMissingContainerName, err.Error())
	case errors.Is(err, snapshot.ErrContainerNotFound):
		api.WriteError(w, http.StatusNotFound, api.CodeContainerNotFound, err.Error())
	case errors.Is(err, checkpoint.ErrCheckpointExists):
		api.WriteError(w, http.StatusConflict, api.CodeCheckpointExists, err.Error())
	case errors.Is(err, snapshot.ErrSnapshotFailed):
		api.WriteError(w, http.StatusInternalServerError, api.CodeSnapshotFailed, err.Error())
	default:
		api.WriteError(w, http.StatusInternalServerError, api.CodeInternal, err.Error())
	}
}

// POST /choose_rollback_snapshot
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req api.RollbackRequest
	if err := api.DecodeJSON(r, &req, true); err != nil {
		api.WriteError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return
	}

	cp, err := s.sup.SelectRollbackTarget(r.Context(), req.BeforeStep)
	if err != nil {
		if errors.Is(err, supervisor.ErrNoCheckpointAvailable) {
			api.WriteError(w, http.StatusNotFound, api.CodeNoCheckpointAvailable, err.Error())
			return
		}
		api.WriteError(w, http.StatusInternalServerError, api.CodeInternal, err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, api.RollbackResponse{
		AgentState:   cp.AgentSnapshot,
		SystemState:  cp.SystemSnapshot,
		Step:         cp.Step,
		CheckpointID: cp.ID,
		Message:      MessageRollbackSelected,
	})
}

// POST /set_system_state
func (s *Server) handleSetSystemState(w http.ResponseWriter, r *http.Request) {
	var req api.SetSystemStateRequest
	if err := api.DecodeJSON(r, &req, false); err != nil {
		api.WriteError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return
	}

	var (
		cp  *checkpoint.Checkpoint
		err error
	)
	switch {
	case req.CheckpointID != "":
		cp, err = s.sup.Find(req.CheckpointID)
	case req.Step != nil:
		cp, err = s.sup.FindStep(*req.Step)
	default:
		api.WriteError(w, http.StatusBadRequest, api.CodeInvalidRequest, "checkpoint_id or step is required")
		return
	}
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.CodeCheckpointNotFound, err.Error())
		return
	}

	containerID, err := s.sup.RecreateContainer(r.Context(), cp)
	if err != nil {
		writeCheckpointError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SetSystemStateResponse{
		ContainerID: containerID,
		Message:     fmt.Sprintf("%s %s", MessageSystemRestored, cp.ID),
	})
}

// GET /checkpoints
func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	infos, err := s.sup.Checkpoints(r.Context())
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, api.CodeInternal, err.Error())
		return
	}
	if infos == nil {
		infos = []checkpoint.Info{}
	}
	api.WriteJSON(w, http.StatusOK, api.CheckpointsResponse{AgentID: s.sup.AgentID(), Checkpoints: infos})
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, api.HealthResponse{Status: api.StatusOK, AgentID: s.sup.AgentID()})
}

// GET /metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	resp := api.MetricsResponse{Metrics: []observability.MetricSummary{}}
	if s.reader == nil {
		api.WriteJSON(w, http.StatusOK, resp)
		return
	}
	metrics, err := observability.Collect(r.Context(), s.reader)
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, api.CodeInternal, err.Error())
		return
	}
	if metrics != nil {
		resp.Metrics = metrics
	}
	api.WriteJSON(w, http.StatusOK, resp)
}
