// Package llmclient implements the bounded-concurrency LLM dispatcher (C3):
// reason-conditioned prompt assembly against an opaque JSON-in/JSON-out
// generate endpoint, gated by a counting semaphore.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"kamsentry/internal/domain"
)

// Result is the outcome of Analyze. Exactly one of the "success" fields or
// Error is meaningful; Analyze itself never raises across this boundary.
type Result struct {
	RootCause        string `json:"root_cause,omitempty"`
	ImmediateActions string `json:"immediate_actions,omitempty"`
	Critical         bool   `json:"critical,omitempty"`
	RawAnalysis      string `json:"raw_analysis,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Client dispatches analyze requests to a generate-style HTTP endpoint
// (e.g. Ollama's /api/generate), bounding concurrency with a semaphore.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	sem        chan struct{}
	queueDepth int64
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	Model          string
	Timeout        time.Duration
	MaxConcurrency int
}

// New constructs a Client. MaxConcurrency gates concurrent in-flight requests.
func New(cfg Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		sem:        make(chan struct{}, cfg.MaxConcurrency),
	}
}

// QueueDepth returns the current number of Analyze calls that have acquired
// (or are waiting to acquire) the concurrency semaphore.
func (c *Client) QueueDepth() int64 {
	return atomic.LoadInt64(&c.queueDepth)
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Analyze assembles a reason-conditioned prompt for the alert, POSTs it to
// the generate endpoint under the concurrency semaphore, and parses the
// double-JSON response. It never raises: every failure mode is reported via
// Result.Error.
func (c *Client) Analyze(ctx context.Context, alert domain.AlertPayload, reason domain.AnalysisReason) Result {
	atomic.AddInt64(&c.queueDepth, 1)
	defer atomic.AddInt64(&c.queueDepth, -1)

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return Result{Error: ctx.Err().Error()}
	}

	prompt := buildPrompt(alert, reason)

	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt, Stream: false})
	if err != nil {
		return Result{Error: fmt.Sprintf("failed to encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("failed to build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{Error: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Error: fmt.Sprintf("failed to read response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return Result{Error: fmt.Sprintf("generate endpoint returned status %d: %s", resp.StatusCode, string(respBody))}
	}

	var envelope generateResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return Result{Error: fmt.Sprintf("failed to parse response envelope: %v", err)}
	}

	return parseInnerJSON(envelope.Response)
}
