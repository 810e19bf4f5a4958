// Package oracle verifies agent steps against an external judge.
//
// The supervisor asks a Verifier whether a step's output is acceptable
// before it consults the checkpoint policy. A rejected step triggers
// rollback; a Verifier error is reported to the caller and never treated
// as a verdict.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/randalmurphal/stepguard/pkg/stepguard/checkpoint"
	sgerrors "github.com/randalmurphal/stepguard/pkg/stepguard/errors"
)

// Verifier judges one step's output.
type Verifier interface {
	VerifyStep(ctx context.Context, output json.RawMessage, step checkpoint.Step) (bool, error)
}

// Static returns a fixed verdict. It is the verifier used when no oracle
// URL is configured.
type Static struct {
	Verdict bool
}

// VerifyStep implements Verifier.
func (s Static) VerifyStep(context.Context, json.RawMessage, checkpoint.Step) (bool, error) {
	return s.Verdict, nil
}

// Func adapts a function to Verifier.
type Func func(ctx context.Context, output json.RawMessage, step checkpoint.Step) (bool, error)

// VerifyStep implements Verifier.
func (f Func) VerifyStep(ctx context.Context, output json.RawMessage, step checkpoint.Step) (bool, error) {
	return f(ctx, output, step)
}

// VerifyRequest is the body posted to an HTTP oracle.
type VerifyRequest struct {
	StepOutput json.RawMessage `json:"step_output"`
	Step       checkpoint.Step `json:"step"`
}

// VerifyResponse is the body an HTTP oracle answers with.
type VerifyResponse struct {
	Verified *bool `json:"verified"`
}

// HTTPClient verifies steps by POSTing them to a judge service.
type HTTPClient struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) {
		if c != nil {
			h.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(h *HTTPClient) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHTTPClient creates a client for the oracle at url. timeout bounds each
// request when no http.Client is supplied.
func NewHTTPClient(url string, timeout time.Duration, opts ...ClientOption) *HTTPClient {
	h := &HTTPClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// VerifyStep implements Verifier.
func (h *HTTPClient) VerifyStep(ctx context.Context, output json.RawMessage, step checkpoint.Step) (bool, error) {
	if len(output) == 0 {
		output = json.RawMessage("null")
	}
	body, err := json.Marshal(VerifyRequest{StepOutput: output, Step: step})
	if err != nil {
		return false, fmt.Errorf("encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, fmt.Errorf("read oracle response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, &sgerrors.HTTPError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(data)), Endpoint: h.url}
	}

	var out VerifyResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return false, fmt.Errorf("decode oracle response: %w", err)
	}
	if out.Verified == nil {
		return false, fmt.Errorf("oracle response missing \"verified\"")
	}
	h.logger.Debug("step verified", slog.String("step", step.String()), slog.Bool("verified", *out.Verified))
	return *out.Verified, nil
}
