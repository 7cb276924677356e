package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Pre-allocated byte slices for SSE formatting. These avoid heap allocations
// on every write in the streaming hot path.
var (
	sseDataPrefix = []byte("data: ")
	sseNewline    = []byte("\n\n")
	sseKeepAlive  = []byte(": keep-alive\n\n")
)

// Pre-allocated header value slices for SSE responses.
// Direct map assignment avoids the []string{v} alloc that Header.Set creates.
var (
	sseHeaders      = []string{"text/event-stream"}
	sseCacheControl = []string{"no-cache"}
	sseConnection   = []string{"keep-alive"}
	sseAccelBuf     = []string{"no"}
)

// writeSSEHeaders sets the response headers for an SSE stream.
func writeSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h["Content-Type"] = sseHeaders
	h["Cache-Control"] = sseCacheControl
	h["Connection"] = sseConnection
	h["X-Accel-Buffering"] = sseAccelBuf
	w.WriteHeader(http.StatusOK)
}

// writeSSEData writes a single SSE data frame: "data: <payload>\n\n".
func writeSSEData(w http.ResponseWriter, data []byte) {
	w.Write(sseDataPrefix)
	w.Write(data)
	w.Write(sseNewline)
}

// handleEvents streams client commands (focus/open) to the host
// application over SSE until the connection closes.
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Clients == nil {
		writeJSON(w, http.StatusNotFound, errorResponse("client tracking not configured"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		writeJSON(w, http.StatusInternalServerError, errorResponse("streaming unsupported"))
		return
	}

	events, cancel := s.deps.Clients.Subscribe()
	defer cancel()

	writeSSEHeaders(w)
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "encode client event failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			writeSSEData(w, data)
			flusher.Flush()

		case <-keepAlive.C:
			w.Write(sseKeepAlive)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
