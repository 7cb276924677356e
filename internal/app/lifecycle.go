package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	engine "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/cache"
	"github.com/eugener/warden/internal/policy"
	"github.com/eugener/warden/internal/retry"
	"github.com/eugener/warden/internal/storage"
	"github.com/eugener/warden/internal/strategy"
	"github.com/eugener/warden/internal/telemetry"
)

// State is the lifecycle phase of the controller.
type State int

const (
	// StateUninstalled means no proxy generation exists yet.
	StateUninstalled State = iota
	// StateInstalling means a generation is pre-warming its caches.
	StateInstalling
	// StateWaiting means a generation is installed but not yet activated.
	StateWaiting
	// StateActive means a generation is intercepting requests.
	StateActive
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninstalled:
		return "uninstalled"
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// installConcurrency bounds parallel manifest fetches during pre-warm.
const installConcurrency = 4

// Deps holds the collaborators of the lifecycle controller.
type Deps struct {
	Manager    *cache.Manager
	Classifier *policy.Classifier
	Executor   *strategy.Executor
	Fetch      engine.Fetcher
	Queue      *retry.Queue         // nil = failed mutations are not queued
	Versions   storage.VersionStore // nil = activated version is not persisted
	Metrics    *telemetry.Metrics   // nil = no metrics
}

// Controller is the lifecycle state machine. It owns the single active
// proxy instance: constructed at install, published atomically on
// activation, never partially visible. Installs and activations are
// serialized; interception reads the active pointer lock-free.
type Controller struct {
	deps Deps

	mu      sync.Mutex
	state   State
	pending *Proxy

	active atomic.Pointer[Proxy]
}

// NewController creates a Controller in the uninstalled state.
func NewController(deps Deps) *Controller {
	return &Controller{deps: deps}
}

// Install builds the proxy generation for version and pre-warms its static
// store with every manifest URL. The batch is all-or-nothing: any fetch or
// store failure aborts the install, tears down the new generation's stores,
// and leaves the previously active generation serving. With skipWaiting the
// generation activates immediately instead of waiting for an explicit
// activate message.
func (c *Controller) Install(ctx context.Context, version string, manifest []string, skipWaiting bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateInstalling
	slog.LogAttrs(ctx, slog.LevelInfo, "installing version",
		slog.String("version", version),
		slog.Int("manifest_size", len(manifest)),
	)

	p, err := c.buildProxy(version)
	if err == nil {
		err = c.prewarm(ctx, p, manifest)
	}
	if err != nil {
		c.abortInstall(ctx, version, err)
		return fmt.Errorf("%w: version %s: %v", engine.ErrInstallAborted, version, err)
	}

	c.pending = p
	c.state = StateWaiting
	if c.deps.Metrics != nil {
		c.deps.Metrics.InstallsTotal.WithLabelValues("ok").Inc()
	}
	slog.LogAttrs(ctx, slog.LevelInfo, "version installed",
		slog.String("version", version),
		slog.Bool("skip_waiting", skipWaiting),
	)

	if skipWaiting {
		return c.activateLocked(ctx)
	}
	return nil
}

// Activate publishes the pending generation: stale-version stores are
// deleted wholesale, the version label is persisted, and the new proxy
// becomes visible to all consumers, including those already mid-session.
// Idempotent: activating with nothing pending is a no-op.
func (c *Controller) Activate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activateLocked(ctx)
}

func (c *Controller) activateLocked(ctx context.Context) error {
	if c.pending == nil {
		return nil
	}
	p := c.pending

	deleted := c.deps.Manager.DeleteStoresNotIn(p.StoreNames())
	if c.deps.Metrics != nil {
		c.deps.Metrics.StoresDeleted.Add(float64(len(deleted)))
	}

	if c.deps.Versions != nil {
		if err := c.deps.Versions.SetCurrentVersion(ctx, p.Version()); err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "persist activated version failed",
				slog.String("version", p.Version()),
				slog.String("error", err.Error()),
			)
		}
	}

	c.active.Store(p)
	c.pending = nil
	c.state = StateActive

	slog.LogAttrs(ctx, slog.LevelInfo, "version activated",
		slog.String("version", p.Version()),
		slog.String("deleted_stores", strings.Join(deleted, ",")),
	)
	return nil
}

// Active returns the currently published proxy, or nil before the first
// activation.
func (c *Controller) Active() *Proxy {
	return c.active.Load()
}

// State returns the lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Intercept routes a request through the active proxy.
func (c *Controller) Intercept(ctx context.Context, req *http.Request) (*engine.Snapshot, error) {
	p := c.active.Load()
	if p == nil {
		return nil, engine.ErrNoActiveProxy
	}
	return p.Intercept(ctx, req), nil
}

// Warm fetches the given URLs and caches successful responses in the
// active generation's stores, routed by policy. Best-effort and
// idempotent; network-only URLs are skipped.
func (c *Controller) Warm(ctx context.Context, urls []string) error {
	p := c.active.Load()
	if p == nil {
		return engine.ErrNoActiveProxy
	}

	for _, u := range urls {
		d := engine.NewDescriptor(http.MethodGet, u)
		store := p.storeFor(p.classifier.Classify(d))
		if store == nil {
			continue
		}
		if _, err := c.fetchInto(ctx, d, store); err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "cache warm fetch failed",
				slog.String("url", u),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// ClearCaches empties every open store. Idempotent.
func (c *Controller) ClearCaches(ctx context.Context) {
	c.deps.Manager.PurgeAll(ctx)
	slog.LogAttrs(ctx, slog.LevelInfo, "all caches cleared")
}

// buildProxy opens the version's stores and assembles a proxy generation.
func (c *Controller) buildProxy(version string) (*Proxy, error) {
	static, err := c.deps.Manager.Open("static-" + version)
	if err != nil {
		return nil, err
	}
	api, err := c.deps.Manager.Open("api-" + version)
	if err != nil {
		return nil, err
	}
	runtime, err := c.deps.Manager.Open("runtime-" + version)
	if err != nil {
		return nil, err
	}
	return &Proxy{
		version:    version,
		classifier: c.deps.Classifier,
		exec:       c.deps.Executor,
		fetch:      c.deps.Fetch,
		queue:      c.deps.Queue,
		metrics:    c.deps.Metrics,
		static:     static,
		api:        api,
		runtime:    runtime,
	}, nil
}

// prewarm fetches every manifest entry into the generation's static store.
// Any failure fails the whole batch.
func (c *Controller) prewarm(ctx context.Context, p *Proxy, manifest []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)

	for _, u := range manifest {
		g.Go(func() error {
			_, err := c.fetchInto(gctx, engine.NewDescriptor(http.MethodGet, u), p.static)
			if err != nil {
				return fmt.Errorf("precache %s: %w", u, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// fetchInto fetches a descriptor and stores the successful response.
func (c *Controller) fetchInto(ctx context.Context, d engine.Descriptor, store cache.Store) (*engine.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, d.Method, d.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.deps.Fetch.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	snap, err := engine.CaptureSnapshot(resp)
	if err != nil {
		return nil, err
	}
	if !snap.OK() {
		return nil, fmt.Errorf("unexpected status %d", snap.Status)
	}
	if err := store.Put(ctx, d, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// abortInstall tears down the failed generation's stores and restores the
// prior state. The previously active version keeps serving.
func (c *Controller) abortInstall(ctx context.Context, version string, cause error) {
	var keep []string
	if active := c.active.Load(); active != nil {
		keep = active.StoreNames()
		c.state = StateActive
	} else {
		c.state = StateUninstalled
	}
	c.pending = nil
	c.deps.Manager.DeleteStoresNotIn(keep)

	if c.deps.Metrics != nil {
		c.deps.Metrics.InstallsTotal.WithLabelValues("aborted").Inc()
	}
	slog.LogAttrs(ctx, slog.LevelError, "install aborted",
		slog.String("version", version),
		slog.String("error", cause.Error()),
	)
}
