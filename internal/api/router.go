// Package api provides the HTTP surface of funcd: the control endpoints
// (health, functions, reload, deploy, emit-event, db-notify, webhook) and
// the per-function invocation path /{name}.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/funcd-io/funcd/internal/auth"
	"github.com/funcd-io/funcd/internal/bus"
	"github.com/funcd-io/funcd/internal/domain"
	"github.com/funcd-io/funcd/internal/executor"
	"github.com/funcd-io/funcd/internal/registry"
)

// maxJSONBodySize caps JSON request bodies (1MB).
const maxJSONBodySize = 1 << 20

// corsMaxAge is the preflight cache lifetime in seconds.
const corsMaxAge = 86400

// defaultCORSOrigin is the admin UI origin allowed by default.
const defaultCORSOrigin = "http://localhost:3000"

// corsMethods and corsHeaders are the fixed CORS policy.
var (
	corsMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsHeaders = []string{"Content-Type", "Authorization", "apikey", "x-api-key"}
)

// validNameRe matches function names: starts with a letter, then letters,
// digits, hyphens and underscores. Deployed names become filenames, so this
// doubles as the path-traversal guard.
var validNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// validName returns true if s is an acceptable function name (1-128 chars).
func validName(s string) bool {
	return len(s) <= 128 && validNameRe.MatchString(s)
}

// Loader is the slice of the registry loader the API needs.
type Loader interface {
	Rescan(ctx context.Context) (int, error)
	Deploy(ctx context.Context, name, code string, env map[string]string) error
	Undeploy(ctx context.Context, name string) error
}

// Executor runs handler invocations. Implemented by the executor package.
type Executor interface {
	ExecuteHTTP(ctx context.Context, fn *domain.Function, req *domain.Request) *executor.Outcome
	ExecuteWebhook(ctx context.Context, fn *domain.Function, payload json.RawMessage, env map[string]string, ids domain.ExecutionIDs) *executor.Outcome
}

// Bridge is the slice of the database bridge the API needs. Nil when the
// runtime runs without Postgres.
type Bridge interface {
	Connected() bool
	Channels() []string
	Notify(ctx context.Context, channel, payload string) error
}

// Server holds dependencies for all API handlers.
type Server struct {
	Registry    *registry.Registry
	Loader      Loader
	Executor    Executor
	Bus         *bus.Bus
	Bridge      Bridge   // nil = no database
	CORSOrigins []string // defaults to [defaultCORSOrigin]
	APIKey      string   // optional inbound API key; empty = open
}

// NewRouter creates a configured chi router with all routes mounted.
func NewRouter(srv *Server) chi.Router {
	r := chi.NewRouter()

	origins := srv.CORSOrigins
	if len(origins) == 0 {
		origins = []string{defaultCORSOrigin}
	}

	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(preflight(origins))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: corsMethods,
		AllowedHeaders: corsHeaders,
		MaxAge:         corsMaxAge,
	}))
	r.Use(auth.APIKey(srv.APIKey))
	r.Use(middleware.Recoverer)
	r.Use(limitJSONBody)

	r.Get("/health", srv.HandleHealth)
	r.Get("/functions", srv.HandleListFunctions)
	r.Get("/function-status/{name}", srv.HandleFunctionStatus)
	r.HandleFunc("/reload", srv.HandleReload)
	r.Post("/deploy", srv.HandleDeploy)
	r.Delete("/deploy/{name}", srv.HandleUndeploy)
	r.Post("/emit-event", srv.HandleEmitEvent)
	r.Post("/db-notify", srv.HandleDBNotify)
	r.Post("/webhook/{name}", srv.HandleWebhook)

	// Per-function invocation path. Any method; the handler enforces the
	// function's declared method set.
	r.HandleFunc("/{name}", srv.HandleInvoke)
	r.HandleFunc("/{name}/*", srv.HandleInvoke)

	return r
}

// preflight answers every OPTIONS request with 204 and the full CORS
// policy. go-chi/cors still decorates actual responses; this middleware
// exists because the contract pins preflight to 204 on every path.
func preflight(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			origin := origins[0]
			if reqOrigin := r.Header.Get("Origin"); reqOrigin != "" {
				for _, o := range origins {
					if o == reqOrigin {
						origin = reqOrigin
						break
					}
				}
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", strings.Join(corsMethods, ", "))
			h.Set("Access-Control-Allow-Headers", strings.Join(corsHeaders, ", "))
			h.Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

// limitJSONBody caps request body size.
func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// errorJSON writes the flat {"error": message} envelope used across the
// runtime's endpoints.
func errorJSON(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// internalError logs the full error server-side and returns a generic JSON
// error to clients.
func internalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	errorJSON(w, http.StatusInternalServerError, msg)
}

// decodeBody decodes the JSON request body into v, reporting 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
