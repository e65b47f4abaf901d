package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/funcd-io/funcd/internal/domain"
)

// webhookRequest is the JSON body the Backend delivers to
// POST /webhook/{name}.
type webhookRequest struct {
	Payload     json.RawMessage   `json:"payload"`
	EnvVars     map[string]string `json:"env_vars"`
	ExecutionID string            `json:"execution_id"`
	DeliveryID  string            `json:"delivery_id"`
}

// HandleWebhook accepts an externally delivered webhook, responds 202
// immediately with the correlation IDs, and runs the handler concurrently.
// The Backend-supplied env_vars override the function's default env for
// this invocation only.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	fn := s.Registry.Get(name)
	if fn == nil {
		errorJSON(w, http.StatusNotFound, "Function '"+name+"' not found")
		return
	}

	var req webhookRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ids := domain.ExecutionIDs{ExecutionID: req.ExecutionID, DeliveryID: req.DeliveryID}
	if ids.ExecutionID == "" {
		ids.ExecutionID = uuid.New().String()
	}
	if ids.DeliveryID == "" {
		ids.DeliveryID = uuid.New().String()
	}

	ctx := context.WithoutCancel(r.Context())
	go s.Executor.ExecuteWebhook(ctx, fn, req.Payload, req.EnvVars, ids)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":      true,
		"execution_id": ids.ExecutionID,
		"delivery_id":  ids.DeliveryID,
	})
}
