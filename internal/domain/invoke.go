package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Synthesized request headers. Every invocation carries HeaderTriggerType;
// the trigger-specific headers are set where they apply.
const (
	HeaderTriggerType     = "X-Trigger-Type"
	HeaderDatabaseChannel = "X-Database-Channel"
	HeaderEventName       = "X-Event-Name"
	HeaderExecutionID     = "x-execution-id"
	HeaderDeliveryID      = "x-delivery-id"
)

// Request is the closed request shape handed to handlers: method, URL,
// headers, and raw body with JSON access. Both real HTTP requests and
// synthesized trigger requests are expressed as this type.
type Request struct {
	Method  string      `json:"method"`
	URL     string      `json:"url"`
	Headers http.Header `json:"headers"`
	Body    []byte      `json:"-"`
}

// NewRequest builds a synthesized request. headers may be nil.
func NewRequest(method, url string, headers map[string]string, body []byte) *Request {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &Request{Method: method, URL: url, Headers: h, Body: body}
}

// JSON decodes the request body into v.
func (r *Request) JSON(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("request: empty body")
	}
	return json.Unmarshal(r.Body, v)
}

// Text returns the request body as a string.
func (r *Request) Text() string { return string(r.Body) }

// Response is the response shape a handler may return for HTTP triggers.
// Any other return value is JSON-encoded by the harness.
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body"`
}

// AsResponse interprets a handler return value as a response-like object:
// either a *Response or a mapping with a numeric "status" and a "body" key.
func AsResponse(v any) (*Response, bool) {
	switch r := v.(type) {
	case *Response:
		return r, true
	case Response:
		return &r, true
	case map[string]any:
		status, okStatus := r["status"]
		_, okBody := r["body"]
		if !okStatus || !okBody {
			return nil, false
		}
		code := 0
		switch s := status.(type) {
		case float64:
			code = int(s)
		case int:
			code = s
		default:
			return nil, false
		}
		resp := &Response{Status: code, Body: r["body"]}
		if hdrs, ok := r["headers"].(map[string]any); ok {
			resp.Headers = make(map[string]string, len(hdrs))
			for k, hv := range hdrs {
				resp.Headers[k] = fmt.Sprint(hv)
			}
		}
		return resp, true
	}
	return nil, false
}

// CallOptions configures one Backend call made on behalf of a handler.
type CallOptions struct {
	Method  string
	Headers map[string]string
	Body    any
}

// CallResponse is the outcome of a Backend call.
type CallResponse struct {
	Status int
	Body   []byte
}

// JSON decodes the response body into v.
func (r *CallResponse) JSON(v any) error { return json.Unmarshal(r.Body, v) }

// BackendCaller issues HTTP calls to the control plane with the shared API
// key. Injected into every handler context as callBackend.
type BackendCaller interface {
	Call(ctx context.Context, path string, opts CallOptions) (*CallResponse, error)
}

// InvokeContext carries the per-invocation environment handed to handlers:
// the function's env map (or the webhook per-invocation override), the
// Backend helper, and the capturing log writer.
type InvokeContext struct {
	Env     map[string]string
	Backend BackendCaller
	Logs    *LogBuffer
}

// Invoker is the handler plug-in interface. Implementations must honor ctx
// cancellation; the harness races Invoke against the configured timeout.
type Invoker interface {
	Invoke(ctx context.Context, req *Request, ictx *InvokeContext) (any, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req *Request, ictx *InvokeContext) (any, error)

func (f InvokerFunc) Invoke(ctx context.Context, req *Request, ictx *InvokeContext) (any, error) {
	return f(ctx, req, ictx)
}

// LogBuffer collects log lines emitted during one execution. Lines are
// prefixed [LOG]/[WARN]/[ERROR] by level and also forwarded to the process
// log sink. Safe for concurrent use.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
}

// NewLogBuffer returns an empty buffer.
func NewLogBuffer() *LogBuffer { return &LogBuffer{} }

// Append records one line under the given level ("log", "warn" or "error").
func (b *LogBuffer) Append(level, line string) {
	prefix := "[LOG]"
	switch strings.ToLower(level) {
	case "warn", "warning":
		prefix = "[WARN]"
	case "error":
		prefix = "[ERROR]"
	}
	b.mu.Lock()
	b.lines = append(b.lines, prefix+" "+line)
	b.mu.Unlock()
}

// Lines returns a copy of the captured lines in order.
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// ExecutionIDs correlate one invocation with the Backend's records.
// Non-webhook paths mint two fresh UUIDs per call; the webhook path carries
// the Backend-supplied pair.
type ExecutionIDs struct {
	ExecutionID string
	DeliveryID  string
}

// ExecutionResult is the record posted to the Backend after every
// invocation, success or failure.
type ExecutionResult struct {
	ExecutionID     string    `json:"execution_id"`
	DeliveryID      string    `json:"delivery_id,omitempty"`
	FunctionName    string    `json:"function_name"`
	Success         bool      `json:"success"`
	Result          any       `json:"result,omitempty"`
	Logs            []string  `json:"logs"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	Timestamp       time.Time `json:"timestamp"`
}
