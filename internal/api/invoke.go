package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/funcd-io/funcd/internal/domain"
)

// HandleInvoke dispatches an HTTP request to the function named by the
// first path segment.
func (s *Server) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	fn := s.Registry.Get(name)
	if fn == nil {
		errorJSON(w, http.StatusNotFound, "Function '"+name+"' not found")
		return
	}

	methods := fn.HTTPMethods()
	if methods == nil {
		errorJSON(w, http.StatusBadRequest, "Function '"+name+"' has no HTTP trigger")
		return
	}
	allowed := false
	for _, m := range methods {
		if m == r.Method {
			allowed = true
			break
		}
	}
	if !allowed {
		errorJSON(w, http.StatusMethodNotAllowed,
			fmt.Sprintf("Method '%s' not allowed for function '%s'", r.Method, name))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	req := &domain.Request{
		Method:  r.Method,
		URL:     r.URL.String(),
		Headers: r.Header.Clone(),
		Body:    body,
	}

	// Detached context: a client aborting the connection does not cancel
	// the execution; only the invocation timeout does.
	out := s.Executor.ExecuteHTTP(context.WithoutCancel(r.Context()), fn, req)

	switch {
	case out.TimedOut:
		errorJSON(w, http.StatusGatewayTimeout, "Function execution timed out")
	case !out.Success:
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Function execution failed",
			"message": out.Err,
		})
	default:
		writeInvokeResult(w, out.Result)
	}
}

// writeInvokeResult renders a successful handler return value: a
// response-like object (status+body) is forwarded verbatim, anything else
// is JSON-encoded with 200.
func writeInvokeResult(w http.ResponseWriter, result any) {
	resp, ok := domain.AsResponse(result)
	if !ok {
		writeJSON(w, http.StatusOK, result)
		return
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if text, isText := resp.Body.(string); isText {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, text)
		return
	}
	writeJSON(w, status, resp.Body)
}
