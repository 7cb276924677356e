package server

import (
	"net/http"
	"strings"
)

// hopByHop headers that must not be forwarded between caller and upstream.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// handleIntercept funnels an application request through the active proxy
// generation and writes back whatever snapshot the pipeline produced,
// whether it came from cache, network, or the synthetic offline path.
func (s *server) handleIntercept(w http.ResponseWriter, r *http.Request) {
	target := s.absoluteURL(r.URL.Path)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request: "+err.Error()))
		return
	}
	for key, vals := range r.Header {
		if _, hop := hopByHopHeaders[key]; hop {
			continue
		}
		outReq.Header[key] = vals
	}

	snap, err := s.deps.Lifecycle.Intercept(r.Context(), outReq)
	if err != nil {
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}

	h := w.Header()
	for key, vals := range snap.Header {
		if _, hop := hopByHopHeaders[key]; hop {
			continue
		}
		h[key] = vals
	}
	w.WriteHeader(snap.Status)
	w.Write(snap.Body)
}

// absoluteURL resolves a request path against the configured upstream.
// Already-absolute URLs pass through untouched.
func (s *server) absoluteURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimSuffix(s.deps.Upstream, "/") + path
}
