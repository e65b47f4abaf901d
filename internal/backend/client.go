// Package backend implements the thin HTTP client for the control plane.
// Every call carries the shared API key as x-api-key. The same client backs
// the callBackend helper injected into handler contexts and the runtime's
// own execution-result callback.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/funcd-io/funcd/internal/domain"
)

// defaultTimeout bounds a single Backend call. The result callback is
// best-effort; a hung control plane must not wedge executions.
const defaultTimeout = 10 * time.Second

// Client calls the control plane relative to a base URL.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client

	// extra headers attached to every call, used to forward
	// x-execution-id / x-delivery-id on behalf of one invocation.
	headers map[string]string
}

// New creates a client for the given base URL and API key.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// WithHeaders returns a shallow copy of the client that attaches the given
// headers to every call. Used per-invocation to forward execution IDs.
func (c *Client) WithHeaders(headers map[string]string) *Client {
	merged := make(map[string]string, len(c.headers)+len(headers))
	for k, v := range c.headers {
		merged[k] = v
	}
	for k, v := range headers {
		if v != "" {
			merged[k] = v
		}
	}
	clone := *c
	clone.headers = merged
	return &clone
}

// Call issues one HTTP request to the Backend. path is resolved relative to
// the base URL. The API key and Content-Type: application/json are attached
// unless overridden in opts.Headers.
func (c *Client) Call(ctx context.Context, path string, opts domain.CallOptions) (*domain.CallResponse, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if opts.Body != nil {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("backend: marshal body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	url := c.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend: read response: %w", err)
	}
	return &domain.CallResponse{Status: resp.StatusCode, Body: data}, nil
}

// Caller returns a BackendCaller scoped to one invocation: the given
// headers (execution/delivery IDs) ride along on every call a handler makes.
func (c *Client) Caller(headers map[string]string) domain.BackendCaller {
	return c.WithHeaders(headers)
}

// ReportExecutionResult posts one execution record to the Backend. This is
// best-effort: failures are logged and discarded, never retried.
func (c *Client) ReportExecutionResult(ctx context.Context, result domain.ExecutionResult) {
	path := fmt.Sprintf("/api/v1/functions/%s/execution-result", result.FunctionName)
	resp, err := c.Call(ctx, path, domain.CallOptions{
		Method: http.MethodPost,
		Body:   result,
	})
	if err != nil {
		slog.Warn("backend: execution result callback failed",
			"function", result.FunctionName, "execution_id", result.ExecutionID, "error", err)
		return
	}
	if resp.Status >= 300 {
		slog.Warn("backend: execution result callback rejected",
			"function", result.FunctionName, "execution_id", result.ExecutionID, "status", resp.Status)
	}
}
