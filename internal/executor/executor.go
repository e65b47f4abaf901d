// Package executor implements the execution harness: it invokes a handler
// with a synthesized request and context, enforces the per-invocation
// timeout, captures log output, normalizes the result, updates the
// function's status, and posts an execution record to the Backend.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/funcd-io/funcd/internal/domain"
	"github.com/funcd-io/funcd/internal/registry"
)

// timeoutError is the error summary and HTTP body message for timed-out
// executions.
const timeoutError = "Function execution timed out"

// Backend is the slice of the backend client the harness needs: a scoped
// caller for handler contexts and the best-effort result callback.
type Backend interface {
	Caller(headers map[string]string) domain.BackendCaller
	ReportExecutionResult(ctx context.Context, result domain.ExecutionResult)
}

// Outcome is the normalized result of one invocation.
type Outcome struct {
	Success  bool
	TimedOut bool
	Result   any
	Err      string
	Logs     []string
	IDs      domain.ExecutionIDs
	Duration time.Duration
}

// Executor runs handler invocations against the registry.
type Executor struct {
	registry *registry.Registry
	backend  Backend
	timeout  time.Duration
}

// New creates an executor with the given per-invocation timeout.
func New(reg *registry.Registry, backend Backend, timeout time.Duration) *Executor {
	return &Executor{registry: reg, backend: backend, timeout: timeout}
}

// mintIDs creates a fresh execution/delivery ID pair. The non-webhook paths
// mint one of each per call; the webhook path carries Backend-supplied IDs.
func mintIDs() domain.ExecutionIDs {
	return domain.ExecutionIDs{
		ExecutionID: uuid.New().String(),
		DeliveryID:  uuid.New().String(),
	}
}

// Execute invokes fn with req under the harness rules. envOverride replaces
// the function's env map for this invocation when non-nil (webhook path).
//
// The caller's ctx is only consulted for runtime shutdown: a disconnecting
// HTTP client must not cancel the execution, so the api layer passes a
// detached context.
func (e *Executor) Execute(ctx context.Context, fn *domain.Function, req *domain.Request, ids domain.ExecutionIDs, envOverride map[string]string) *Outcome {
	start := time.Now()
	logs := domain.NewLogBuffer()

	env := fn.EnvVars
	if envOverride != nil {
		env = envOverride
	}
	ictx := &domain.InvokeContext{
		Env: env,
		Backend: e.backend.Caller(map[string]string{
			domain.HeaderExecutionID: ids.ExecutionID,
			domain.HeaderDeliveryID:  ids.DeliveryID,
		}),
		Logs: logs,
	}

	invokeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type invokeReturn struct {
		val any
		err error
	}
	ch := make(chan invokeReturn, 1)
	go func() {
		val, err := fn.Invoker.Invoke(invokeCtx, req, ictx)
		ch <- invokeReturn{val, err}
	}()

	out := &Outcome{IDs: ids}
	select {
	case ret := <-ch:
		if ret.err != nil {
			if invokeCtx.Err() == context.DeadlineExceeded {
				out.TimedOut = true
				out.Err = timeoutError
			} else {
				out.Err = ret.err.Error()
			}
			logs.Append("error", out.Err)
		} else {
			out.Success = true
			out.Result = ret.val
		}
	case <-invokeCtx.Done():
		// The handler may run to completion in the background; the runtime
		// abandons it here.
		out.TimedOut = true
		out.Err = timeoutError
		logs.Append("error", timeoutError)
	}

	out.Duration = time.Since(start)
	out.Logs = logs.Lines()

	fn.RecordRun(start, out.Result, out.Err)

	if out.Success && fn.RunOnce && resultMarksSuccess(out.Result) {
		fn.MarkCompleted()
		e.registry.MarkCompleted(fn.Name)
		slog.Info("executor: run-once function completed", "function", fn.Name)
	}

	record := domain.ExecutionResult{
		ExecutionID:     ids.ExecutionID,
		DeliveryID:      ids.DeliveryID,
		FunctionName:    fn.Name,
		Success:         out.Success,
		Result:          out.Result,
		Logs:            out.Logs,
		ExecutionTimeMS: out.Duration.Milliseconds(),
		Timestamp:       start.UTC(),
	}
	if !out.Success {
		record.Result = map[string]any{"error": out.Err}
	}
	e.backend.ReportExecutionResult(ctx, record)

	return out
}

// resultMarksSuccess implements the run-once success rule: only a mapping
// with success == true counts. Other truthy shapes are not promoted.
func resultMarksSuccess(result any) bool {
	m, ok := result.(map[string]any)
	if !ok {
		return false
	}
	v, ok := m["success"].(bool)
	return ok && v
}

// ExecuteHTTP runs fn for an incoming HTTP request. Fresh IDs are minted and
// stamped onto the request headers; the HTTP path is the only one that
// exposes both IDs to the handler this way.
func (e *Executor) ExecuteHTTP(ctx context.Context, fn *domain.Function, req *domain.Request) *Outcome {
	ids := mintIDs()
	req.Headers.Set(domain.HeaderTriggerType, string(domain.TriggerHTTP))
	req.Headers.Set(domain.HeaderExecutionID, ids.ExecutionID)
	req.Headers.Set(domain.HeaderDeliveryID, ids.DeliveryID)
	return e.Execute(ctx, fn, req, ids, nil)
}

// ExecuteSchedule runs fn for a matched cron expression.
func (e *Executor) ExecuteSchedule(ctx context.Context, fn *domain.Function, cron string) {
	req := domain.NewRequest("POST", "/"+fn.Name, map[string]string{
		domain.HeaderTriggerType: string(domain.TriggerSchedule),
	}, nil)
	if out := e.Execute(ctx, fn, req, mintIDs(), nil); !out.Success {
		slog.Error("executor: scheduled execution failed", "function", fn.Name, "cron", cron, "error", out.Err)
	}
}

// DispatchEvent runs fn for an emitted application event. The parsed event
// data becomes the request body.
func (e *Executor) DispatchEvent(ctx context.Context, fn *domain.Function, event string, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("executor: encode event payload", "event", event, "error", err)
		body = nil
	}
	req := domain.NewRequest("POST", "/"+fn.Name, map[string]string{
		domain.HeaderTriggerType: string(domain.TriggerEvent),
		domain.HeaderEventName:   event,
	}, body)
	if out := e.Execute(ctx, fn, req, mintIDs(), nil); !out.Success {
		slog.Error("executor: event execution failed", "function", fn.Name, "event", event, "error", out.Err)
	}
}

// RunOnce bootstraps a pending run-once function after a rescan.
func (e *Executor) RunOnce(ctx context.Context, fn *domain.Function) {
	req := domain.NewRequest("POST", "/"+fn.Name, map[string]string{
		domain.HeaderTriggerType: string(domain.TriggerOnce),
	}, nil)
	out := e.Execute(ctx, fn, req, mintIDs(), nil)
	if !out.Success {
		slog.Warn("executor: run-once attempt failed, stays eligible", "function", fn.Name, "error", out.Err)
	}
}

// HandleDatabaseNotification fans one LISTEN payload out to every function
// whose database trigger matches the channel and operation. Completed
// run-once functions are skipped.
func (e *Executor) HandleDatabaseNotification(ctx context.Context, channel string, payload []byte) {
	var parsed map[string]any
	if err := json.Unmarshal(payload, &parsed); err != nil {
		parsed = map[string]any{"raw": string(payload)}
	}
	operation, _ := parsed["operation"].(string)

	body, _ := json.Marshal(parsed)
	for _, fn := range e.registry.List() {
		if fn.RunOnce && fn.Completed() {
			continue
		}
		if !databaseTriggerMatches(fn, channel, operation) {
			continue
		}
		req := domain.NewRequest("POST", "/"+fn.Name, map[string]string{
			domain.HeaderTriggerType:     string(domain.TriggerDatabase),
			domain.HeaderDatabaseChannel: channel,
		}, body)
		if out := e.Execute(ctx, fn, req, mintIDs(), nil); !out.Success {
			slog.Error("executor: database execution failed", "function", fn.Name, "channel", channel, "error", out.Err)
		}
	}
}

// databaseTriggerMatches reports whether any database trigger of fn matches
// the channel and operation. A function is invoked at most once per
// notification even when several of its triggers match.
func databaseTriggerMatches(fn *domain.Function, channel, operation string) bool {
	for _, t := range fn.TriggersOf(domain.TriggerDatabase) {
		if t.NotifyChannel() != channel {
			continue
		}
		if operation == "" || t.AllowsOperation(operation) {
			return true
		}
	}
	return false
}

// ExecuteWebhook runs fn for an externally delivered webhook. The Backend
// supplies the IDs and an optional per-invocation env override.
func (e *Executor) ExecuteWebhook(ctx context.Context, fn *domain.Function, payload json.RawMessage, env map[string]string, ids domain.ExecutionIDs) *Outcome {
	req := domain.NewRequest("POST", fmt.Sprintf("/webhook/%s", fn.Name), map[string]string{
		domain.HeaderTriggerType: string(domain.TriggerWebhook),
		domain.HeaderExecutionID: ids.ExecutionID,
		domain.HeaderDeliveryID:  ids.DeliveryID,
	}, payload)
	out := e.Execute(ctx, fn, req, ids, env)
	if !out.Success {
		slog.Error("executor: webhook execution failed", "function", fn.Name, "execution_id", ids.ExecutionID, "error", out.Err)
	}
	return out
}
