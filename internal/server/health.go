package server

import (
	"log/slog"
	"net/http"
)

// Bodies and the content-type slice are pre-allocated; the probes run
// on a tight interval and should not churn the heap.
var (
	okBody       = []byte("ok")
	notReadyBody = []byte("not ready")
	plainCT      = []string{"text/plain"}
)

// handleHealthz reports process liveness only. It stays green while the
// engine is installing or offline; readiness is the stricter probe.
func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}

// handleReadyz fails when the backing store cannot be reached, since
// neither cache writes nor the retry queue can make progress without it.
func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header()["Content-Type"] = plainCT
	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			slog.LogAttrs(r.Context(), slog.LevelWarn, "readiness probe failed",
				slog.String("error", err.Error()),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write(notReadyBody)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}
