package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/eugener/warden/internal/fetch"
)

const (
	janitorInterval = 5 * time.Minute
	breakerMaxIdle  = 30 * time.Minute
)

// FetchJanitor periodically evicts idle circuit breakers and refreshes
// the cached DNS entries of the outbound client.
type FetchJanitor struct {
	client   *fetch.Client
	interval time.Duration
}

// NewFetchJanitor creates a FetchJanitor. interval <= 0 uses the default.
func NewFetchJanitor(client *fetch.Client, interval time.Duration) *FetchJanitor {
	if interval <= 0 {
		interval = janitorInterval
	}
	return &FetchJanitor{client: client, interval: interval}
}

func (w *FetchJanitor) Name() string { return "fetch_janitor" }

// Run sweeps on a ticker until ctx is cancelled.
func (w *FetchJanitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.client.RefreshDNS()
			if n := w.client.EvictStaleBreakers(breakerMaxIdle); n > 0 {
				slog.LogAttrs(ctx, slog.LevelDebug, "stale breakers evicted",
					slog.Int("count", n),
				)
			}
		}
	}
}
