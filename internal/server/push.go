package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	engine "github.com/eugener/warden/internal"
)

// handlePush accepts a raw payload from the push collaborator and renders
// it on the notification surface.
func (s *server) handlePush(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		writeJSON(w, http.StatusNotFound, errorResponse("push dispatch not configured"))
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("read payload: "+err.Error()))
		return
	}

	n, err := s.deps.Dispatcher.Dispatch(r.Context(), payload)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handlePushClick routes a notification interaction to exactly one client.
func (s *server) handlePushClick(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		writeJSON(w, http.StatusNotFound, errorResponse("push dispatch not configured"))
		return
	}

	var n engine.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid notification: "+err.Error()))
		return
	}

	res, err := s.deps.Dispatcher.HandleClick(r.Context(), n)
	if err != nil {
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type registerClientRequest struct {
	URL string `json:"url"`
}

func (s *server) handleRegisterClient(w http.ResponseWriter, r *http.Request) {
	if s.deps.Clients == nil {
		writeJSON(w, http.StatusNotFound, errorResponse("client tracking not configured"))
		return
	}

	var req registerClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body: "+err.Error()))
		return
	}
	if req.URL == "" {
		req.URL = "/"
	}
	writeJSON(w, http.StatusCreated, s.deps.Clients.Register(req.URL))
}

func (s *server) handleListClients(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Clients == nil {
		writeJSON(w, http.StatusNotFound, errorResponse("client tracking not configured"))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Clients.List())
}

func (s *server) handleNavigateClient(w http.ResponseWriter, r *http.Request) {
	if s.deps.Clients == nil {
		writeJSON(w, http.StatusNotFound, errorResponse("client tracking not configured"))
		return
	}

	var req registerClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body: "+err.Error()))
		return
	}
	if err := s.deps.Clients.Navigate(chi.URLParam(r, "id"), req.URL); err != nil {
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleUnregisterClient(w http.ResponseWriter, r *http.Request) {
	if s.deps.Clients == nil {
		writeJSON(w, http.StatusNotFound, errorResponse("client tracking not configured"))
		return
	}
	s.deps.Clients.Unregister(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}
