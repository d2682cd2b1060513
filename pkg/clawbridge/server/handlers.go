package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jholhewres/clawbridge/pkg/clawbridge/bridge"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/events"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/gateway"
)

// eventBufferSize bounds the per-connection SSE queue. A consumer that
// stalls longer than this drops events rather than blocking the bus.
const eventBufferSize = 64

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus returns the latest coordinator snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.api.Status())
}

// handleModels lists cached models (GET) or selects the active one (POST).
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"models": s.api.Models(),
			"active": s.api.ActiveModel(),
		})
	case http.MethodPost:
		var req struct {
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.api.SetActiveModel(req.Model); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"active": req.Model})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleSend delivers one message and returns the assistant reply.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
		Context   string `json:"context"`
		Model     string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	reply, err := s.api.Send(r.Context(), bridge.SendRequest{
		SessionID: req.SessionID,
		Message:   req.Message,
		Context:   req.Context,
		Model:     req.Model,
	})
	if err != nil {
		writeError(w, gatewayErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// handleHistory returns one session's chat log, or the session index when
// no session is given.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"sessions": s.api.Status().Sessions})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   s.api.History(sessionID),
	})
}

// handleHistoryClear wipes one session's log (or all of them).
func (s *Server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		SessionID string `json:"session_id"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	s.api.ClearHistory(req.SessionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleToolInvoke runs one gateway tool.
func (s *Server) handleToolInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Tool           string         `json:"tool"`
		Action         string         `json:"action"`
		Args           map[string]any `json:"args"`
		SessionKey     string         `json:"session_key"`
		DryRun         bool           `json:"dry_run"`
		MessageChannel string         `json:"message_channel"`
		AccountID      string         `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Tool == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tool is required"})
		return
	}

	result, err := s.api.InvokeTool(r.Context(), gateway.ToolRequest{
		Tool:           req.Tool,
		Action:         req.Action,
		Args:           req.Args,
		SessionKey:     req.SessionKey,
		DryRun:         req.DryRun,
		MessageChannel: req.MessageChannel,
		AccountID:      req.AccountID,
	})
	if err != nil {
		writeError(w, gatewayErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleJobs lists scheduled prompt jobs.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.jobs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"jobs": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.jobs.List()})
}

// handleEvents streams bridge events over SSE until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event bus not available"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Bus fan-out is synchronous, so buffer per connection and drop when
	// the consumer can't keep up.
	ch := make(chan events.Event, eventBufferSize)
	unsubscribe := s.bus.Subscribe(func(e events.Event) {
		select {
		case ch <- e:
		default:
			s.logger.Debug("dropping event for slow SSE consumer", "type", e.Type)
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-ch:
			writeSSE(w, flusher, e.Type, e)
		}
	}
}

// gatewayErrorStatus maps the gateway error taxonomy onto HTTP statuses:
// every upstream failure is a bad gateway from the host's point of view,
// anything else is an internal error.
func gatewayErrorStatus(err error) int {
	var (
		authErr *gateway.AuthError
		apiErr  *gateway.APIError
		connErr *gateway.ConnectionError
	)
	if errors.As(err, &authErr) || errors.As(err, &apiErr) || errors.As(err, &connErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
