package api

import (
	"context"
	"encoding/json"
	"net/http"
)

// emitEventRequest is the JSON body for POST /emit-event.
type emitEventRequest struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// HandleEmitEvent publishes an application event on the in-process bus and
// reports whether any listeners are currently bound.
func (s *Server) HandleEmitEvent(w http.ResponseWriter, r *http.Request) {
	var req emitEventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Event == "" {
		errorJSON(w, http.StatusBadRequest, "event is required")
		return
	}

	// Detached context: an aborted HTTP client must not cancel listener
	// executions already in flight.
	listeners := s.Bus.Emit(context.WithoutCancel(r.Context()), req.Event, req.Data)

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"event":        req.Event,
		"hasListeners": listeners > 0,
		"listeners":    listeners,
	})
}

// dbNotifyRequest is the JSON body for POST /db-notify.
type dbNotifyRequest struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// HandleDBNotify issues a PostgreSQL NOTIFY on the shared connection.
func (s *Server) HandleDBNotify(w http.ResponseWriter, r *http.Request) {
	var req dbNotifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Channel == "" {
		errorJSON(w, http.StatusBadRequest, "channel is required")
		return
	}
	if s.Bridge == nil {
		errorJSON(w, http.StatusServiceUnavailable, "database not configured")
		return
	}

	payload := "{}"
	if len(req.Payload) > 0 {
		payload = string(req.Payload)
	}
	if err := s.Bridge.Notify(r.Context(), req.Channel, payload); err != nil {
		internalError(w, "notify failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"channel": req.Channel,
	})
}
