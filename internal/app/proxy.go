// Package app wires the interception pipeline: classification, strategy
// execution, versioned stores, and the lifecycle state machine that swaps
// one proxy generation for the next.
package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"

	engine "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/cache"
	"github.com/eugener/warden/internal/policy"
	"github.com/eugener/warden/internal/retry"
	"github.com/eugener/warden/internal/strategy"
	"github.com/eugener/warden/internal/telemetry"
)

// retryQueuedHeader carries the queued task ID back to the caller when a
// failed mutating request was parked for background replay.
const retryQueuedHeader = "Warden-Retry-Queued"

// Proxy is one generation of the interception pipeline: a classifier, a
// strategy executor, and the version's cache stores. Proxies are immutable
// once built; the lifecycle controller swaps them atomically.
type Proxy struct {
	version    string
	classifier *policy.Classifier
	exec       *strategy.Executor
	fetch      engine.Fetcher
	queue      *retry.Queue
	metrics    *telemetry.Metrics

	static  cache.Store
	api     cache.Store
	runtime cache.Store
}

// Version returns the proxy's version label.
func (p *Proxy) Version() string { return p.version }

// StoreNames returns the names of the stores belonging to this generation.
func (p *Proxy) StoreNames() []string {
	return []string{p.static.Name(), p.api.Name(), p.runtime.Name()}
}

// Intercept handles one outbound request. Read requests are classified and
// dispatched to the matching strategy; mutating requests always pass
// through to the network, enqueueing a retry task on transport failure.
// The result is always a snapshot, never a raw transport error.
func (p *Proxy) Intercept(ctx context.Context, req *http.Request) *engine.Snapshot {
	d := engine.NewDescriptor(req.Method, req.URL.String())
	if d.Mutating() {
		return p.passThrough(ctx, req, d)
	}

	pol := p.classifier.Classify(d)
	snap := p.exec.Execute(ctx, pol, d, p.storeFor(pol))
	p.count(pol, snap)
	return snap
}

// storeFor maps a policy to its cache store. Network-only requests get no
// store at all, so nothing can ever be read from or written to cache for
// them.
func (p *Proxy) storeFor(pol engine.Policy) cache.Store {
	switch pol {
	case engine.PolicyStaticAsset:
		return p.static
	case engine.PolicyCacheableAPI:
		return p.api
	case engine.PolicyNetworkOnly:
		return nil
	default:
		return p.runtime
	}
}

// passThrough forwards a mutating request to the network. The body is
// buffered first so a failed request can be replayed verbatim later.
func (p *Proxy) passThrough(ctx context.Context, req *http.Request, d engine.Descriptor) *engine.Snapshot {
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "read request body failed",
				slog.String("url", d.URL),
				slog.String("error", err.Error()),
			)
			return engine.OfflineSnapshot()
		}
		body = b
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	resp, err := p.fetch.Do(ctx, req)
	if err != nil {
		return p.parkForRetry(ctx, req, d, body, err)
	}
	defer resp.Body.Close()

	snap, err := engine.CaptureSnapshot(resp)
	if err != nil {
		return p.parkForRetry(ctx, req, d, body, err)
	}
	p.count(engine.PolicyNetworkOnly, snap)
	return snap
}

// parkForRetry enqueues the failed mutating request and returns the
// structured offline response, tagged with the queued task ID.
func (p *Proxy) parkForRetry(ctx context.Context, req *http.Request, d engine.Descriptor, body []byte, cause error) *engine.Snapshot {
	slog.LogAttrs(ctx, slog.LevelInfo, "mutating request failed, queueing for retry",
		slog.String("method", d.Method),
		slog.String("url", d.URL),
		slog.String("error", cause.Error()),
	)

	snap := engine.OfflineSnapshot()
	if p.queue == nil {
		return snap
	}

	task := &engine.RetryTask{
		Method: d.Method,
		URL:    d.URL,
		Header: req.Header.Clone(),
		Body:   body,
	}
	if err := p.queue.Enqueue(ctx, task); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "enqueue retry task failed",
			slog.String("url", d.URL),
			slog.String("error", err.Error()),
		)
		return snap
	}
	snap.Header.Set(retryQueuedHeader, task.ID)
	return snap
}

func (p *Proxy) count(pol engine.Policy, snap *engine.Snapshot) {
	if p.metrics == nil {
		return
	}
	outcome := "ok"
	if snap.Status == engine.OfflineStatus {
		outcome = "offline"
	}
	p.metrics.RequestsTotal.WithLabelValues(pol.String(), outcome).Inc()
}
