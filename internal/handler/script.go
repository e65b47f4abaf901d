package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/funcd-io/funcd/internal/domain"
)

// Factory builds the Invoker for a loaded handler file. The registry loader
// calls it once per load; tests and embedders substitute in-process invokers.
type Factory func(path string) domain.Invoker

// ScriptInvoker runs a handler file as a subprocess speaking JSON over
// stdio: the synthesized request arrives on stdin, the handler's return
// value is the process stdout, and log lines stream on stderr. The Backend
// base URL, API key and execution IDs are passed through the environment so
// the handler's own callBackend helper reaches the control plane directly.
type ScriptInvoker struct {
	path       string
	command    []string
	backendURL string
	apiKey     string
}

// NewScriptFactory returns a Factory producing subprocess invokers.
// command is the interpreter argv (e.g. ["deno", "run", "-A"]); the handler
// path is appended as the final argument.
func NewScriptFactory(command []string, backendURL, apiKey string) Factory {
	return func(path string) domain.Invoker {
		return &ScriptInvoker{
			path:       path,
			command:    command,
			backendURL: backendURL,
			apiKey:     apiKey,
		}
	}
}

// wireRequest is the stdin payload for one invocation.
type wireRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body,omitempty"`
	Env     map[string]string `json:"env"`
}

// logLine is the structured stderr line shape. Bare lines are treated as
// level "log".
type logLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Invoke runs the handler process. Cancellation of ctx kills the process
// (the harness enforces the invocation timeout this way).
func (s *ScriptInvoker) Invoke(ctx context.Context, req *domain.Request, ictx *domain.InvokeContext) (any, error) {
	payload := wireRequest{
		Method:  req.Method,
		URL:     req.URL,
		Headers: flattenHeaders(req),
		Env:     ictx.Env,
	}
	if len(req.Body) > 0 {
		if json.Valid(req.Body) {
			payload.Body = req.Body
		} else {
			quoted, _ := json.Marshal(string(req.Body))
			payload.Body = quoted
		}
	}
	stdin, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("handler: encode request: %w", err)
	}

	args := append(append([]string(nil), s.command[1:]...), s.path)
	cmd := exec.CommandContext(ctx, s.command[0], args...)
	// A descendant of the interpreter can inherit the stdio pipes and hold
	// them open after the kill; WaitDelay makes Wait close them instead of
	// blocking until the descendant exits.
	cmd.WaitDelay = time.Second
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	cmd.Env = append(os.Environ(),
		"BACKEND_URL="+s.backendURL,
		"API_KEY="+s.apiKey,
	)
	for k, v := range ictx.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if id := req.Headers.Get(domain.HeaderExecutionID); id != "" {
		cmd.Env = append(cmd.Env, "EXECUTION_ID="+id)
	}
	if id := req.Headers.Get(domain.HeaderDeliveryID); id != "" {
		cmd.Env = append(cmd.Env, "DELIVERY_ID="+id)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("handler: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("handler: start %s: %w", s.path, err)
	}

	// Stream stderr into the execution log buffer as lines arrive so a
	// timed-out handler still leaves its logs behind.
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			var ll logLine
			if err := json.Unmarshal([]byte(line), &ll); err == nil && ll.Message != "" {
				ictx.Logs.Append(ll.Level, ll.Message)
			} else {
				ictx.Logs.Append("log", line)
			}
		}
	}()

	// Wait closes the stderr pipe, so on the normal path the reader must
	// finish first. The wait is bounded by ctx because a lingering
	// descendant can keep the pipe open past the kill.
	select {
	case <-done:
	case <-ctx.Done():
	}
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if waitErr != nil {
		return nil, fmt.Errorf("handler: %s: %w", s.path, waitErr)
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		// Non-JSON stdout is passed through as text.
		return out, nil
	}
	return result, nil
}

// flattenHeaders reduces the header multimap to single values for the wire.
func flattenHeaders(req *domain.Request) map[string]string {
	out := make(map[string]string, len(req.Headers))
	for k := range req.Headers {
		out[k] = req.Headers.Get(k)
	}
	return out
}
