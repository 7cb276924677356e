// Package strategy implements the four interchangeable caching strategies
// applied to intercepted requests: cache-first, network-first, network-only,
// and stale-while-revalidate.
//
// Strategies never propagate transport errors. A failed fetch with no cached
// fallback produces a synthetic offline response so callers can branch on a
// structured result, and one failing request never affects another.
package strategy

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	engine "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/cache"
	"github.com/eugener/warden/internal/telemetry"
)

// Executor runs caching strategies against a fetcher and a cache store.
// Stateless between requests; safe for concurrent use.
type Executor struct {
	fetch   engine.Fetcher
	metrics *telemetry.Metrics // nil = no metrics
	tracer  trace.Tracer

	wg sync.WaitGroup // in-flight background revalidations
}

// New creates an Executor. metrics may be nil.
func New(fetch engine.Fetcher, metrics *telemetry.Metrics) *Executor {
	return &Executor{
		fetch:   fetch,
		metrics: metrics,
		tracer:  otel.Tracer("warden/strategy"),
	}
}

// Execute dispatches to the strategy mapped to the policy: static assets are
// cache-first, cacheable APIs network-first, network-only policies bypass
// all stores, and everything else is stale-while-revalidate.
func (e *Executor) Execute(ctx context.Context, pol engine.Policy, d engine.Descriptor, store cache.Store) *engine.Snapshot {
	switch pol {
	case engine.PolicyStaticAsset:
		return e.CacheFirst(ctx, d, store)
	case engine.PolicyCacheableAPI:
		return e.NetworkFirst(ctx, d, store)
	case engine.PolicyNetworkOnly:
		return e.NetworkOnly(ctx, d)
	default:
		return e.StaleWhileRevalidate(ctx, d, store)
	}
}

// Wait blocks until all background revalidations have finished. Called on
// shutdown so in-flight refreshes are not abandoned mid-write.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// CacheFirst returns the cached snapshot if present, otherwise fetches and
// caches a successful response. A transport failure with no cache entry
// yields a synthetic offline response.
func (e *Executor) CacheFirst(ctx context.Context, d engine.Descriptor, store cache.Store) *engine.Snapshot {
	const name = "cache_first"
	ctx, span := e.span(ctx, name, d)
	defer span.End()
	defer e.timer(name)()

	if s, ok := store.Get(ctx, d); ok {
		e.hit(name)
		return s
	}
	e.miss(name)

	snap, err := e.fetchSnapshot(ctx, d)
	if err != nil {
		return e.offline(ctx, name, d, err)
	}
	if snap.OK() {
		e.put(ctx, store, d, snap)
	}
	return snap
}

// NetworkFirst fetches from the network, caching and returning a successful
// response. Only transport errors and 5xx answers fall back to a cached
// snapshot: a 4xx is the upstream's definitive word on the resource and is
// returned as-is rather than masked by a stale cached copy. With no cached
// fallback, a transport error yields a synthetic offline response.
func (e *Executor) NetworkFirst(ctx context.Context, d engine.Descriptor, store cache.Store) *engine.Snapshot {
	const name = "network_first"
	ctx, span := e.span(ctx, name, d)
	defer span.End()
	defer e.timer(name)()

	snap, err := e.fetchSnapshot(ctx, d)
	if err == nil {
		if snap.OK() {
			e.put(ctx, store, d, snap)
			return snap
		}
		if snap.Status < http.StatusInternalServerError {
			return snap
		}
	}

	if cached, ok := store.Get(ctx, d); ok {
		e.hit(name)
		return cached
	}
	e.miss(name)

	if err != nil {
		return e.offline(ctx, name, d, err)
	}
	return snap
}

// NetworkOnly always fetches and never touches any cache store. Used for
// requests whose correctness depends on being live. A transport failure
// yields a synthetic offline response.
func (e *Executor) NetworkOnly(ctx context.Context, d engine.Descriptor) *engine.Snapshot {
	const name = "network_only"
	ctx, span := e.span(ctx, name, d)
	defer span.End()
	defer e.timer(name)()

	snap, err := e.fetchSnapshot(ctx, d)
	if err != nil {
		return e.offline(ctx, name, d, err)
	}
	return snap
}

// StaleWhileRevalidate returns the cached snapshot immediately when present
// and refreshes the cache entry in the background for next time. Refresh
// failures are logged and swallowed; the already-returned stale response is
// never invalidated retroactively. With no cached snapshot the caller waits
// on the network fetch instead.
func (e *Executor) StaleWhileRevalidate(ctx context.Context, d engine.Descriptor, store cache.Store) *engine.Snapshot {
	const name = "stale_while_revalidate"
	ctx, span := e.span(ctx, name, d)
	defer span.End()
	defer e.timer(name)()

	if cached, ok := store.Get(ctx, d); ok {
		e.hit(name)
		// Refresh outlives the request; detach from its cancellation.
		bg := context.WithoutCancel(ctx)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.revalidate(bg, d, store)
		}()
		return cached
	}
	e.miss(name)

	snap, err := e.fetchSnapshot(ctx, d)
	if err != nil {
		return e.offline(ctx, name, d, err)
	}
	if snap.OK() {
		e.put(ctx, store, d, snap)
	}
	return snap
}

// revalidate fetches the descriptor and overwrites the cache entry on
// success. Failures only cost the refresh.
func (e *Executor) revalidate(ctx context.Context, d engine.Descriptor, store cache.Store) {
	snap, err := e.fetchSnapshot(ctx, d)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelDebug, "background revalidation failed",
			slog.String("url", d.URL),
			slog.String("error", err.Error()),
		)
		return
	}
	if snap.OK() {
		e.put(ctx, store, d, snap)
	}
}

// fetchSnapshot performs a network fetch for the descriptor and captures
// the response.
func (e *Executor) fetchSnapshot(ctx context.Context, d engine.Descriptor) (*engine.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, d.Method, d.URL, nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := e.fetch.Do(ctx, req)
	if err != nil {
		if e.metrics != nil {
			e.metrics.FetchErrors.Inc()
		}
		return nil, err
	}
	defer resp.Body.Close()

	if e.metrics != nil {
		e.metrics.FetchDuration.WithLabelValues(hostOf(d.URL)).Observe(time.Since(start).Seconds())
	}
	return engine.CaptureSnapshot(resp)
}

// put writes a snapshot to the store. Cache I/O errors are logged and
// otherwise ignored: a failed write must never abort the strategy.
func (e *Executor) put(ctx context.Context, store cache.Store, d engine.Descriptor, snap *engine.Snapshot) {
	if store == nil {
		return
	}
	if err := store.Put(ctx, d, snap); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "cache write failed",
			slog.String("store", store.Name()),
			slog.String("url", d.URL),
			slog.String("error", err.Error()),
		)
	}
}

// offline logs the transport failure and returns the synthetic offline
// response.
func (e *Executor) offline(ctx context.Context, strategy string, d engine.Descriptor, err error) *engine.Snapshot {
	slog.LogAttrs(ctx, slog.LevelInfo, "fetch failed, serving offline response",
		slog.String("strategy", strategy),
		slog.String("url", d.URL),
		slog.String("error", err.Error()),
	)
	if e.metrics != nil {
		e.metrics.OfflineResponses.WithLabelValues(strategy).Inc()
	}
	return engine.OfflineSnapshot()
}

func (e *Executor) span(ctx context.Context, name string, d engine.Descriptor) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "strategy."+name,
		trace.WithAttributes(
			attribute.String("http.method", d.Method),
			attribute.String("http.url", d.URL),
		),
	)
}

func (e *Executor) timer(strategy string) func() {
	if e.metrics == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		e.metrics.StrategyDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
	}
}

func (e *Executor) hit(strategy string) {
	if e.metrics != nil {
		e.metrics.CacheHits.WithLabelValues(strategy).Inc()
	}
}

func (e *Executor) miss(strategy string) {
	if e.metrics != nil {
		e.metrics.CacheMisses.WithLabelValues(strategy).Inc()
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
