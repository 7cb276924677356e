package server

import (
	"encoding/json"
	"net/http"
)

// stateResponse describes the engine's lifecycle and queue status.
type stateResponse struct {
	State      string   `json:"state"`
	Version    string   `json:"version,omitempty"`
	Stores     []string `json:"stores,omitempty"`
	QueueDepth int      `json:"queue_depth"`
}

func (s *server) handleState(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{State: s.deps.Lifecycle.State().String()}
	if p := s.deps.Lifecycle.Active(); p != nil {
		resp.Version = p.Version()
		resp.Stores = p.StoreNames()
	}
	if s.deps.Queue != nil {
		if n, err := s.deps.Queue.Depth(r.Context()); err == nil {
			resp.QueueDepth = n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleActivate publishes the pending install. Repeating the call once
// active is a no-op, keeping the control message idempotent.
func (s *server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Lifecycle.Activate(r.Context()); err != nil {
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": s.deps.Lifecycle.State().String()})
}

func (s *server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.deps.Lifecycle.ClearCaches(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type warmRequest struct {
	URLs []string `json:"urls"`
}

func (s *server) handleWarm(w http.ResponseWriter, r *http.Request) {
	var req warmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body: "+err.Error()))
		return
	}

	urls := make([]string, len(req.URLs))
	for i, u := range req.URLs {
		urls[i] = s.absoluteURL(u)
	}
	if err := s.deps.Lifecycle.Warm(r.Context(), urls); err != nil {
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"warmed": len(urls)})
}

// handleRetry fires the drain trigger. The send is non-blocking: a drain
// already pending coalesces with this one, which keeps the trigger
// idempotent under concurrent calls.
func (s *server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if s.deps.RetryTrigger != nil {
		select {
		case s.deps.RetryTrigger <- struct{}{}:
		default:
		}
	}

	resp := map[string]any{"status": "triggered"}
	if s.deps.Queue != nil {
		if n, err := s.deps.Queue.Depth(r.Context()); err == nil {
			resp["queue_depth"] = n
		}
	}
	writeJSON(w, http.StatusAccepted, resp)
}
