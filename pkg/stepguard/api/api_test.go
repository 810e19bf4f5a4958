package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/stepguard/pkg/stepguard/api"
	"github.com/randalmurphal/stepguard/pkg/stepguard/checkpoint"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	api.WriteError(rec, http.StatusConflict, api.CodeCheckpointExists, "step 3 already persisted")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"checkpoint_exists","message":"step 3 already persisted"}`, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		allowEmpty bool
		wantErr    bool
		wantBefore *checkpoint.Step
	}{
		{"empty allowed", "", true, false, nil},
		{"empty rejected", "", false, true, nil},
		{"empty object", "{}", false, false, nil},
		{"with step", `{"before_step": 4}`, false, false, ptr(checkpoint.StepN(4))},
		{"final string", `{"before_step": "FINAL"}`, false, false, ptr(checkpoint.Final())},
		{"bad step", `{"before_step": "soon"}`, false, true, nil},
		{"malformed", `{`, true, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/choose_rollback_snapshot", strings.NewReader(tt.body))
			var req api.RollbackRequest
			err := api.DecodeJSON(r, &req, tt.allowEmpty)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBefore, req.BeforeStep)
		})
	}
}

func ptr(s checkpoint.Step) *checkpoint.Step { return &s }

func TestClient_DecodesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start_task":
			api.WriteJSON(w, http.StatusConflict, api.TaskResponse{
				Status:  api.StatusError,
				Message: "supervisor for agent-1 is already running",
				Error:   api.CodeAlreadyRunning,
			})
		case "/choose_rollback_snapshot":
			api.WriteError(w, http.StatusNotFound, api.CodeNoCheckpointAvailable, "no checkpoint available")
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	_, err := api.NewRegistryClient(srv.URL+"/").StartTask(ctx, "agent-1")
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, api.CodeAlreadyRunning, apiErr.Code)

	_, err = api.NewSupervisorClient(srv.URL).ChooseRollbackSnapshot(ctx, api.RollbackRequest{})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.CodeNoCheckpointAvailable, apiErr.Code)
	assert.Equal(t, "HTTP 404 no_checkpoint_available: no checkpoint available", apiErr.Error())

	_, err = api.NewSupervisorClient(srv.URL).Health(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "boom", apiErr.Message)
	assert.Empty(t, apiErr.Code)
}

func TestClient_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.NotifySnapshotRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/notify_snapshot", r.URL.Path)
		assert.Nil(t, req.Step)
		assert.Equal(t, "sandbox-1", req.State.SystemState["container_name"])
		api.WriteJSON(w, http.StatusOK, api.NotifySnapshotResponse{Message: api.MessageSnapshotSaved, CheckpointID: "cp-1"})
	}))
	defer srv.Close()

	resp, err := api.NewSupervisorClient(srv.URL).NotifySnapshot(context.Background(), api.NotifySnapshotRequest{
		State: api.SnapshotState{
			AgentState:  json.RawMessage(`{"k":1}`),
			SystemState: map[string]any{"container_name": "sandbox-1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "cp-1", resp.CheckpointID)
}
