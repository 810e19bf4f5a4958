package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/stepguard/pkg/stepguard/api"
)

func TestRun_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), nil, &stdout, &stderr)
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, stderr.String(), "usage: stepguard")

	err = run(context.Background(), []string{"launch"}, &stdout, &stderr)
	assert.ErrorIs(t, err, errUsage)

	stdout.Reset()
	require.NoError(t, run(context.Background(), []string{"help"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "supervisor")
}

func TestRun_RequiredFlags(t *testing.T) {
	tests := [][]string{
		{"supervisor", "--port", "9000"},
		{"supervisor", "--agent-id", "a"},
		{"start", "--registry", "http://127.0.0.1:1"},
		{"stop", "--registry", "http://127.0.0.1:1"},
	}
	for _, args := range tests {
		t.Run(args[0], func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), args, &out, &out)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "is required")
		})
	}
}

func TestRun_ClientCommands(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start_task":
			api.WriteJSON(w, http.StatusOK, api.TaskResponse{
				Status:               api.StatusSuccess,
				Message:              "Local Orchestrator spawned successfully",
				LocalOrchestratorURL: "http://127.0.0.1:41000",
			})
		case "/stop_task":
			api.WriteJSON(w, http.StatusNotFound, api.TaskResponse{Status: api.StatusError, Message: "supervisor not running: a", Error: api.CodeNotRunning})
		case "/tasks":
			api.WriteJSON(w, http.StatusOK, api.TasksResponse{Tasks: []api.TaskInfo{{
				AgentID: "agent-1", URL: "http://127.0.0.1:41000", PID: 77,
				StartedAt: time.Now().Add(-time.Minute), RSSBytes: 3 << 20,
			}}})
		case "/health":
			api.WriteJSON(w, http.StatusOK, api.HealthResponse{Status: api.StatusOK})
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"start", "--agent-id", "a", "--registry", srv.URL}, &out, &out))
	assert.Contains(t, out.String(), "http://127.0.0.1:41000")

	out.Reset()
	err := run(ctx, []string{"stop", "--agent-id", "a", "--registry", srv.URL}, &out, &out)
	var apiErr *api.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, api.CodeNotRunning, apiErr.Code)

	out.Reset()
	require.NoError(t, run(ctx, []string{"tasks", "--registry", srv.URL}, &out, &out))
	assert.Contains(t, out.String(), "agent-1")
	assert.Contains(t, out.String(), "3.0MiB")

	out.Reset()
	require.NoError(t, run(ctx, []string{"health", "--registry", srv.URL}, &out, &out))
	assert.Contains(t, out.String(), "ok")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512B", formatBytes(512))
	assert.Equal(t, "1.0KiB", formatBytes(1024))
	assert.Equal(t, "1.5MiB", formatBytes(3<<19))
}
