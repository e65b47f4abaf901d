package api

import (
	"context"
	"net/http"
	"runtime"

	"github.com/go-chi/chi/v5"

	"github.com/funcd-io/funcd/internal/domain"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// databaseHealth is the DB slice of the health snapshot.
type databaseHealth struct {
	Connected bool     `json:"connected"`
	Channels  []string `json:"channels"`
}

// functionResponse is the registry entry shape returned by /functions and
// /function-status/{name}.
type functionResponse struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Triggers    []domain.Trigger `json:"triggers"`
	RunOnce     bool             `json:"run_once"`
	SourcePath  string           `json:"source_path"`
	Status      domain.Status    `json:"status"`
}

func toFunctionResponse(fn *domain.Function) functionResponse {
	return functionResponse{
		Name:        fn.Name,
		Description: fn.Description,
		Triggers:    fn.Triggers,
		RunOnce:     fn.RunOnce,
		SourcePath:  fn.SourcePath,
		Status:      fn.StatusSnapshot(),
	}
}

// HandleHealth returns the runtime status snapshot: function count, database
// connection state, and listened channels.
func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	db := databaseHealth{Channels: []string{}}
	if s.Bridge != nil {
		db.Connected = s.Bridge.Connected()
		db.Channels = s.Bridge.Channels()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"functions":  s.Registry.Count(),
		"database":   db,
		"version":    Version,
		"go_version": runtime.Version(),
	})
}

// HandleListFunctions lists all registry entries with their status.
func (s *Server) HandleListFunctions(w http.ResponseWriter, _ *http.Request) {
	funcs := s.Registry.List()
	out := make([]functionResponse, 0, len(funcs))
	for _, fn := range funcs {
		out = append(out, toFunctionResponse(fn))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"functions": out,
		"count":     len(out),
	})
}

// HandleFunctionStatus returns the status of a single function.
func (s *Server) HandleFunctionStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	fn := s.Registry.Get(name)
	if fn == nil {
		errorJSON(w, http.StatusNotFound, "Function '"+name+"' not found")
		return
	}
	writeJSON(w, http.StatusOK, toFunctionResponse(fn))
}

// HandleReload forces a registry rescan and returns the function count.
func (s *Server) HandleReload(w http.ResponseWriter, r *http.Request) {
	count, err := s.Loader.Rescan(context.WithoutCancel(r.Context()))
	if err != nil {
		internalError(w, "reload failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"functions": count,
	})
}

// deployRequest is the JSON body for POST /deploy.
type deployRequest struct {
	FunctionName string            `json:"functionName"`
	Code         string            `json:"code"`
	Env          map[string]string `json:"env"`
}

// HandleDeploy writes a handler file (and optional env map) supplied by the
// control plane, then rescans.
func (s *Server) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.FunctionName == "" || req.Code == "" {
		errorJSON(w, http.StatusBadRequest, "functionName and code are required")
		return
	}
	if !validName(req.FunctionName) {
		errorJSON(w, http.StatusBadRequest, "functionName must be a plain identifier (letters, digits, hyphens, underscores)")
		return
	}

	if err := s.Loader.Deploy(context.WithoutCancel(r.Context()), req.FunctionName, req.Code, req.Env); err != nil {
		internalError(w, "deploy failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"function": req.FunctionName,
	})
}

// HandleUndeploy deletes a handler file (missing is fine) and rescans.
func (s *Server) HandleUndeploy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validName(name) {
		errorJSON(w, http.StatusBadRequest, "invalid function name")
		return
	}
	if err := s.Loader.Undeploy(context.WithoutCancel(r.Context()), name); err != nil {
		internalError(w, "undeploy failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"function": name,
	})
}
