// Package fetch provides the outbound HTTP client used for every network
// touch: strategy fetches, cache prewarming, and retry replays. It layers
// a DNS-cached transport, optional bearer auth, and a per-host circuit
// breaker under a single engine.Fetcher implementation.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/dnscache"
	"golang.org/x/oauth2"

	engine "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/telemetry"
)

// Options configures a Client.
type Options struct {
	// Timeout bounds each outbound request end to end. Zero means 30s.
	Timeout time.Duration
	// AuthToken, when non-empty, is sent as an Authorization bearer token
	// on every upstream request.
	AuthToken string
	// Breaker configures the per-host circuit breaker. Zero value uses
	// DefaultBreakerConfig.
	Breaker BreakerConfig
	// Transport overrides the default tuned transport (tests).
	Transport http.RoundTripper
	// Metrics is optional.
	Metrics *telemetry.Metrics
}

// Client is the engine's network collaborator. A nil *Client is not usable;
// construct with NewClient.
type Client struct {
	http     *http.Client
	resolver *dnscache.Resolver
	breakers *breakerSet
	metrics  *telemetry.Metrics
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	breakerCfg := opts.Breaker
	if breakerCfg == (BreakerConfig{}) {
		breakerCfg = DefaultBreakerConfig()
	}

	var resolver *dnscache.Resolver
	rt := opts.Transport
	if rt == nil {
		resolver = &dnscache.Resolver{}
		rt = NewTransport(resolver)
	}
	if opts.AuthToken != "" {
		rt = newBearerTransport(rt, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.AuthToken}))
	}

	return &Client{
		http:     &http.Client{Transport: rt, Timeout: timeout},
		resolver: resolver,
		breakers: newBreakerSet(breakerCfg),
		metrics:  opts.Metrics,
	}
}

// Do executes the request through the breaker gate. An open breaker fails
// immediately with ErrUpstreamOpen so callers fall back to cache without
// waiting out a timeout.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	host := req.URL.Host
	br := c.breakers.get(host)
	if !br.Allow() {
		if c.metrics != nil {
			c.metrics.FetchErrors.Inc()
		}
		slog.LogAttrs(ctx, slog.LevelDebug, "fetch short-circuited",
			slog.String("host", host),
		)
		return nil, fmt.Errorf("fetch %s: %w", host, engine.ErrUpstreamOpen)
	}

	start := time.Now()
	resp, err := c.http.Do(req.WithContext(ctx))

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	br.Record(status, err)

	if c.metrics != nil {
		c.metrics.FetchDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())
		if err != nil {
			c.metrics.FetchErrors.Inc()
		}
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// BreakerState returns the circuit state for host. Hosts never seen report
// BreakerClosed.
func (c *Client) BreakerState(host string) BreakerState {
	return c.breakers.get(host).State()
}

// EvictStaleBreakers drops breakers idle longer than maxIdle and returns
// the number evicted.
func (c *Client) EvictStaleBreakers(maxIdle time.Duration) int {
	return c.breakers.evictStale(time.Now().Add(-maxIdle))
}

// RefreshDNS re-resolves all cached DNS entries, dropping records that no
// longer resolve. No-op when a custom transport was supplied.
func (c *Client) RefreshDNS() {
	if c.resolver != nil {
		c.resolver.Refresh(true)
	}
}
