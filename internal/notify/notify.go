// Package notify delivers server-pushed events as user-visible
// notifications and routes notification interactions back into the
// application. Payloads arrive as raw JSON from the push collaborator;
// the engine only consumes this channel, it never polls.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"

	engine "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/telemetry"
)

// Surface renders a notification on the platform notification surface.
type Surface interface {
	Show(ctx context.Context, n engine.Notification) error
}

// SurfaceFunc adapts a function to the Surface interface.
type SurfaceFunc func(ctx context.Context, n engine.Notification) error

// Show calls f.
func (f SurfaceFunc) Show(ctx context.Context, n engine.Notification) error {
	return f(ctx, n)
}

// LogSurface returns a surface that writes notifications to the log.
// Used when no platform surface is attached.
func LogSurface() Surface {
	return SurfaceFunc(func(ctx context.Context, n engine.Notification) error {
		slog.LogAttrs(ctx, slog.LevelInfo, "notification",
			slog.String("title", n.Title),
			slog.String("body", n.Body),
		)
		return nil
	})
}

// defaultTitle is used when a push payload carries no title.
const defaultTitle = "Warden"

// Decode parses a raw push payload into a Notification. Missing fields
// fall back to defaults rather than failing; a push with an empty or
// malformed body still produces a showable notification.
func Decode(payload []byte) engine.Notification {
	n := engine.Notification{Title: defaultTitle}
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return n
	}
	if title := gjson.GetBytes(payload, "title"); title.Exists() {
		n.Title = title.String()
	}
	n.Body = gjson.GetBytes(payload, "body").String()
	if data := gjson.GetBytes(payload, "data"); data.Exists() && data.IsObject() {
		n.Data = json.RawMessage(data.Raw)
	}
	gjson.GetBytes(payload, "actions").ForEach(func(_, v gjson.Result) bool {
		n.Actions = append(n.Actions, engine.NotificationAction{
			ID:    v.Get("id").String(),
			Title: v.Get("title").String(),
		})
		return true
	})
	return n
}

// TargetURL resolves the application URL a notification interaction should
// navigate to. Defaults to the application root when the payload carries
// no explicit target.
func TargetURL(n engine.Notification) string {
	if url := gjson.GetBytes(n.Data, "url"); url.Exists() && url.String() != "" {
		return url.String()
	}
	return "/"
}

// Dispatcher shows push notifications and resolves interactions against
// the set of open application clients.
type Dispatcher struct {
	surface Surface
	clients *ClientRegistry
	metrics *telemetry.Metrics
}

// NewDispatcher wires a dispatcher. metrics may be nil.
func NewDispatcher(surface Surface, clients *ClientRegistry, metrics *telemetry.Metrics) *Dispatcher {
	return &Dispatcher{
		surface: surface,
		clients: clients,
		metrics: metrics,
	}
}

// Dispatch decodes a raw push payload and shows it. The returned
// notification is what was rendered, for interaction bookkeeping.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte) (engine.Notification, error) {
	n := Decode(payload)
	if err := d.surface.Show(ctx, n); err != nil {
		return engine.Notification{}, fmt.Errorf("notify: show %q: %w", n.Title, err)
	}
	if d.metrics != nil {
		d.metrics.NotificationsShown.Inc()
	}
	slog.LogAttrs(ctx, slog.LevelDebug, "notification shown",
		slog.String("title", n.Title),
	)
	return n, nil
}

// ClickResult describes how an interaction was handled.
type ClickResult struct {
	URL      string `json:"url"`
	ClientID string `json:"client_id"`
	Opened   bool   `json:"opened"` // true when a new client was opened rather than focused
}

// HandleClick routes a notification interaction: it resolves the target
// URL from the payload and focuses an already-open client showing that
// URL, or opens a new one. Exactly one client is focused or opened.
func (d *Dispatcher) HandleClick(ctx context.Context, n engine.Notification) (ClickResult, error) {
	url := TargetURL(n)
	if c, ok := d.clients.FindByURL(url); ok {
		if err := d.clients.Focus(c.ID); err != nil {
			return ClickResult{}, fmt.Errorf("notify: focus client %s: %w", c.ID, err)
		}
		return ClickResult{URL: url, ClientID: c.ID}, nil
	}
	c, err := d.clients.Open(url)
	if err != nil {
		return ClickResult{}, fmt.Errorf("notify: open client for %q: %w", url, err)
	}
	return ClickResult{URL: url, ClientID: c.ID, Opened: true}, nil
}
