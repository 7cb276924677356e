// Package server implements the HTTP transport layer for the Warden engine.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eugener/warden/internal/app"
	"github.com/eugener/warden/internal/notify"
	"github.com/eugener/warden/internal/retry"
	"github.com/eugener/warden/internal/telemetry"
)

// ReadyChecker reports whether the engine is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Lifecycle    *app.Controller
	Queue        *retry.Queue           // nil = retry endpoints report empty
	RetryTrigger chan<- struct{}        // nil = retry trigger is a no-op
	Dispatcher   *notify.Dispatcher     // nil = push endpoints unavailable
	Clients      *notify.ClientRegistry // nil = no client tracking
	ReadyCheck   ReadyChecker           // nil = always ready (for tests)
	Metrics      *telemetry.Metrics     // nil = no HTTP metrics
	// MetricsHandler serves the Prometheus exposition endpoint at
	// /metrics when set.
	MetricsHandler http.Handler
	// Upstream is the base URL that relative application paths resolve
	// against before entering the interception pipeline.
	Upstream string
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Control channel
	r.Route("/control", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Post("/activate", s.handleActivate)
		r.Post("/clear", s.handleClear)
		r.Post("/warm", s.handleWarm)
		r.Post("/retry", s.handleRetry)
	})

	// Push collaborator and client routing
	r.Post("/push", s.handlePush)
	r.Post("/push/click", s.handlePushClick)
	r.Route("/clients", func(r chi.Router) {
		r.Get("/", s.handleListClients)
		r.Post("/", s.handleRegisterClient)
		r.Patch("/{id}", s.handleNavigateClient)
		r.Delete("/{id}", s.handleUnregisterClient)
	})
	r.Get("/events", s.handleEvents)

	// Everything else is an intercepted application request.
	r.Handle("/*", http.HandlerFunc(s.handleIntercept))

	return r
}

type server struct {
	deps Deps
}
