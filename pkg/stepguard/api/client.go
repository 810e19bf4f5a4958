package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Error is a non-2xx response decoded from an ErrorResponse body.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// ClientOption customizes a client.
type ClientOption func(*client)

// WithHTTPClient supplies a custom http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *client) {
		cl.httpClient.Timeout = d
	}
}

type client struct {
	baseURL    string
	httpClient *http.Client
}

func newClient(baseURL string, opts []ClientOption) client {
	c := client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// do sends in (if non-nil) as JSON and decodes a 2xx body into out.
func (c client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		var er ErrorResponse
		if json.Unmarshal(respBody, &er) == nil && er.Message != "" {
			apiErr.Code, apiErr.Message = er.Error, er.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// RegistryClient talks to the Registry server.
type RegistryClient struct {
	client
}

// NewRegistryClient creates a client for the registry at baseURL
// (e.g. "http://127.0.0.1:8000").
func NewRegistryClient(baseURL string, opts ...ClientOption) *RegistryClient {
	return &RegistryClient{client: newClient(baseURL, opts)}
}

// StartTask spawns a supervisor for agentID.
func (c *RegistryClient) StartTask(ctx context.Context, agentID string) (*TaskResponse, error) {
	var out TaskResponse
	if err := c.do(ctx, http.MethodPost, "/start_task", StartTaskRequest{AgentID: agentID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopTask stops the supervisor for agentID.
func (c *RegistryClient) StopTask(ctx context.Context, agentID string) (*TaskResponse, error) {
	var out TaskResponse
	if err := c.do(ctx, http.MethodPost, "/stop_task", StopTaskRequest{AgentID: agentID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tasks lists running supervisors.
func (c *RegistryClient) Tasks(ctx context.Context) (*TasksResponse, error) {
	var out TasksResponse
	if err := c.do(ctx, http.MethodGet, "/tasks", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks the registry.
func (c *RegistryClient) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SupervisorClient talks to one agent's supervisor service.
type SupervisorClient struct {
	client
}

// NewSupervisorClient creates a client for the supervisor at baseURL.
func NewSupervisorClient(baseURL string, opts ...ClientOption) *SupervisorClient {
	return &SupervisorClient{client: newClient(baseURL, opts)}
}

// InitiateSnapshot asks whether to checkpoint after a step.
func (c *SupervisorClient) InitiateSnapshot(ctx context.Context, req InitiateSnapshotRequest) (*InitiateSnapshotResponse, error) {
	var out InitiateSnapshotResponse
	if err := c.do(ctx, http.MethodPost, "/initiate_snapshot", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NotifySnapshot hands over state to be checkpointed.
func (c *SupervisorClient) NotifySnapshot(ctx context.Context, req NotifySnapshotRequest) (*NotifySnapshotResponse, error) {
	var out NotifySnapshotResponse
	if err := c.do(ctx, http.MethodPost, "/notify_snapshot", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChooseRollbackSnapshot returns the checkpoint to restore.
func (c *SupervisorClient) ChooseRollbackSnapshot(ctx context.Context, req RollbackRequest) (*RollbackResponse, error) {
	var out RollbackResponse
	if err := c.do(ctx, http.MethodPost, "/choose_rollback_snapshot", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetSystemState recreates the agent's container from a checkpoint.
func (c *SupervisorClient) SetSystemState(ctx context.Context, req SetSystemStateRequest) (*SetSystemStateResponse, error) {
	var out SetSystemStateResponse
	if err := c.do(ctx, http.MethodPost, "/set_system_state", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Checkpoints lists persisted checkpoints.
func (c *SupervisorClient) Checkpoints(ctx context.Context) (*CheckpointsResponse, error) {
	var out CheckpointsResponse
	if err := c.do(ctx, http.MethodGet, "/checkpoints", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks the supervisor.
func (c *SupervisorClient) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
