// Package engine defines domain types and interfaces for the Warden
// interception engine. This package has no project imports -- it is the
// dependency root.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// --- Route policy ---

// Policy is the caching strategy class assigned to a request based on its
// URL shape. Policies are computed per request and never stored.
type Policy int

const (
	// PolicyDefault applies stale-while-revalidate.
	PolicyDefault Policy = iota
	// PolicyStaticAsset applies cache-first.
	PolicyStaticAsset
	// PolicyCacheableAPI applies network-first.
	PolicyCacheableAPI
	// PolicyNetworkOnly bypasses all cache stores.
	PolicyNetworkOnly
)

// String returns a human-readable policy name.
func (p Policy) String() string {
	switch p {
	case PolicyStaticAsset:
		return "static_asset"
	case PolicyCacheableAPI:
		return "cacheable_api"
	case PolicyNetworkOnly:
		return "network_only"
	case PolicyDefault:
		return "default"
	default:
		return "unknown"
	}
}

// --- Request descriptor ---

// Descriptor identifies a request for cache matching. It is immutable and
// constructed once per intercepted request; the URL is absolute.
type Descriptor struct {
	Method string
	URL    string
}

// NewDescriptor builds a descriptor from a method and absolute URL.
// The method is upper-cased so "get" and "GET" match the same entry.
func NewDescriptor(method, url string) Descriptor {
	return Descriptor{Method: strings.ToUpper(method), URL: url}
}

// Key returns the cache key for the descriptor: method and URL.
// At most one snapshot exists per key per store.
func (d Descriptor) Key() string {
	return d.Method + " " + d.URL
}

// Mutating reports whether the method is a mutating (non-cacheable) one.
// Only idempotent read methods are eligible for caching.
func (d Descriptor) Mutating() bool {
	switch d.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// --- Response snapshot ---

// Snapshot is an immutable captured copy of a response at the moment it was
// cached. A store owns its snapshots exclusively; they are cloned, never
// aliased, when handed back to a caller.
type Snapshot struct {
	Status     int
	Header     http.Header
	Body       []byte
	CapturedAt time.Time
}

// CaptureSnapshot drains resp.Body and returns a snapshot of the response.
// The response body is consumed; callers must use the snapshot afterwards.
func CaptureSnapshot(resp *http.Response) (*Snapshot, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Status:     resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		CapturedAt: time.Now(),
	}, nil
}

// Clone returns a deep copy of the snapshot. Headers and body share no
// memory with the original, so a replayed snapshot cannot be corrupted by
// a second consumer.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	body := make([]byte, len(s.Body))
	copy(body, s.Body)
	return &Snapshot{
		Status:     s.Status,
		Header:     s.Header.Clone(),
		Body:       body,
		CapturedAt: s.CapturedAt,
	}
}

// OK reports whether the snapshot holds a 2xx response. Only OK snapshots
// are written to cache stores.
func (s *Snapshot) OK() bool {
	return s.Status >= 200 && s.Status < 300
}

// Response converts the snapshot back into an *http.Response for the caller.
func (s *Snapshot) Response() *http.Response {
	c := s.Clone()
	return &http.Response{
		StatusCode:    c.Status,
		Status:        http.StatusText(c.Status),
		Header:        c.Header,
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
	}
}

// OfflineStatus is the status code of synthetic offline responses.
const OfflineStatus = http.StatusServiceUnavailable

var offlineBody = []byte(`{"error":"offline","offline":true}`)

// OfflineSnapshot returns the synthetic response handed to callers when the
// network is unreachable and no cached copy exists. Callers branch on the
// structured body rather than a raw transport error.
func OfflineSnapshot() *Snapshot {
	return &Snapshot{
		Status: OfflineStatus,
		Header: http.Header{
			"Content-Type": []string{"application/json"},
		},
		Body:       append([]byte(nil), offlineBody...),
		CapturedAt: time.Now(),
	}
}

// --- Network collaborator ---

// Fetcher is the network capability handed to strategies. Timeouts are the
// fetcher's responsibility; strategies observe them as ordinary failures.
type Fetcher interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetchFunc adapts a function to the Fetcher interface.
type FetchFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Do calls f.
func (f FetchFunc) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// --- Retry task ---

// RetryTask is a failed mutating request queued for background replay.
// Created on a failed mutating request, destroyed on successful replay or
// when Attempts exceeds the configured cap.
type RetryTask struct {
	ID         string      `json:"id"`
	Method     string      `json:"method"`
	URL        string      `json:"url"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	Attempts   int         `json:"attempts"`
}

// --- Push notification ---

// Notification is a server-pushed event rendered on the platform
// notification surface. Ephemeral; never persisted.
type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body,omitempty"`
	Data    json.RawMessage      `json:"data,omitempty"`
	Actions []NotificationAction `json:"actions,omitempty"`
}

// NotificationAction is a single action button on a notification.
type NotificationAction struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// --- Context keys ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext extracts the request ID from context, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
