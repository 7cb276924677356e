package strategy

import (
	"context"
	"net/http"
	"testing"
	"time"

	engine "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/testutil"
)

func TestCacheFirst_HitSkipsNetwork(t *testing.T) {
	t.Parallel()
	fetch := testutil.NewFakeFetcher()
	store := testutil.NewFakeCacheStore("static-v1")
	e := New(fetch, nil)
	ctx := context.Background()
	d := engine.NewDescriptor("GET", "https://app.example/a.js")

	if err := store.Put(ctx, d, &engine.Snapshot{Status: 200, Body: []byte("cached"), Header: http.Header{}}); err != nil {
		t.Fatal(err)
	}

	got := e.CacheFirst(ctx, d, store)
	if string(got.Body) != "cached" {
		t.Errorf("body = %q, want cached copy", got.Body)
	}
	if n := fetch.CallCount(d.URL); n != 0 {
		t.Errorf("network calls = %d, want 0", n)
	}
}

func TestCacheFirst_MissFetchesAndStores(t *testing.T) {
	t.Parallel()
	fetch := testutil.NewFakeFetcher()
	fetch.Respond("https://app.example/a.js", 200, "fresh")
	store := testutil.NewFakeCacheStore("static-v1")
	e := New(fetch, nil)
	ctx := context.Background()
	d := engine.NewDescriptor("GET", "https://app.example/a.js")

	got := e.CacheFirst(ctx, d, store)
	if string(got.Body) != "fresh" {
		t.Errorf("body = %q, want %q", got.Body, "fresh")
	}
	if !store.Contains(ctx, d) {
		t.Error("successful response should be cached")
	}
}

func TestCacheFirst_NonOKNotStored(t *testing.T) {
	t.Parallel()
	fetch := testutil.NewFakeFetcher()
	fetch.Respond("https://app.example/a.js", 404, "nope")
	store := testutil.NewFakeCacheStore("static-v1")
	e := New(fetch, nil)
	ctx := context.Background()
	d := engine.NewDescriptor("GET", "https://app.example/a.js")

	got := e.CacheFirst(ctx, d, store)
	if got.Status != 404 {
		t.Errorf("status = %d, want 404", got.Status)
	}
	if store.Contains(ctx, d) {
		t.Error("non-2xx response must not be cached")
	}
}

func TestCacheFirst_OfflineNoCache(t *testing.T) {
	t.Parallel()
	fetch := testutil.NewFakeFetcher()
	fetch.SetOffline(true)
	store := testutil.NewFakeCacheStore("static-v1")
	e := New(fetch, nil)
	ctx := context.Background()
	d := engine.NewDescriptor("GET", "https://app.example/a.js")

	got := e.CacheFirst(ctx, d, store)
	if got.Status != engine.OfflineStatus {
		t.Errorf("status = %d, want %d", got.Status, engine.OfflineStatus)
	}
	if ct := got.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("offline response Content-Type = %q", ct)
	}
}

func TestNetworkFirst_SuccessOverwritesCache(t *testing.T) {
	t.Parallel()
	fetch := testutil.NewFakeFetcher()
	fetch.Respond("https://app.example/api/profiles", 200, "v2")
	store := testutil.NewFakeCacheStore("api-v1")
	e := New(fetch, nil)
	ctx := context.Background()
	d := engine.NewDescriptor("GET", "https://app.example/api/profiles")

	if err := store.Put(ctx, d, &engine.Snapshot{Status: 200, Body: []byte("v1"), Header: http.Header{}}); err != nil {
		t.Fatal(err)
	}

	got := e.NetworkFirst(ctx, d, store)
	if string(got.Body) != "v2" {
		t.Errorf("body = %q, want fresh response", got.Body)
	}
	cached, _ := store.Get(ctx, d)
	if string(cached.Body) != "v2" {
		t.Errorf("cached body = %q, want overwritten snapshot", cached.Body)
	}
}

func TestNetworkFirst_ServerErrorFallsBackToCache(t *testing.T) {
	t.Parallel()
	fetch := testutil.NewFakeFetcher()
	fetch.Respond("https://app.example/api/profiles", 500, "boom")
	store := testutil.NewFakeCacheStore("api-v1")
	e := New(fetch, nil)
	ctx := context.Background()
	d := engine.NewDescriptor("GET", "https://app.example/api/profiles")

	if err := store.Put(ctx, d, &engine.Snapshot{Status: 200, Body: []byte("cached"), Header: http.Header{}}); err != nil {
		t.Fatal(err)
	}

	got := e.NetworkFirst(ctx, d, store)
	if got.Status != 200 || string(got.Body) != "cached" {
		t.Errorf("got %d %q, want cached copy", got.Status, got.Body)
	}
}

func TestNetworkFirst_ClientErrorReturnedAsIs(t *testing.T) {
	t.Parallel()
	fetch := testutil.NewFakeFetcher()
	fetch.Respond("https://app.example/api/profiles", 404, "gone")
	store := testutil.NewFakeCacheStore("api-v1")
	e := New(fetch, nil)
	ctx := context.Background()
	d := engine.NewDescriptor("GET", "https://app.example/api/profiles")

	if err := store.Put(ctx, d, &engine.Snapshot{Status: 200, Body: []byte("stale"), Header: http.Header{}}); err != nil {
		t.Fatal(err)
	}

	got := e.NetworkFirst(ctx, d, store)
	if got.Status != 404 || string(got.Body) != "gone" {
		t.Errorf("got %d %q, want the upstream 404", got.Status, got.Body)
	}
	cached, _ := store.Get(ctx, d)
	if string(cached.Body) != "stale" {
		t.Errorf("cached body = %q, cache must not absorb error responses", cached.Body)
	}
}

func TestNetworkFirst_TransportErrorFallsBackToCache(t *testing.T) {
	t.Parallel()
	fetch := testutil.NewFakeFetcher()
	fetch.SetOffline(true)
	store := testutil.NewFakeCacheStore("api-v1")
	e := New(fetch, nil)
	ctx := context.Background()
	d := engine.NewDescriptor("GET", "https://app.example/api/profiles")

	if err := store.Put(ctx, d, &engine.Snapshot{Status: 200, Body: []byte("cached"), Header: http.Header{}}); err != nil {
		t.Fatal(err)
	}

	got := e.NetworkFirst(ctx, d, store)
	if string(got.Body) != "cached" {
		t.Errorf("body = %q, want cached copy", got.Body)
	}
}

func TestNetworkFirst_OfflineNoCache(t *testing.T) {
	t.Parallel()
	fetch := testutil.NewFakeFetcher()
	fetch.SetOffline(true)
	store := testutil.NewFakeCacheStore("api-v1")
	e := New(fetch, nil)
	ctx := context.Background()
	d := engine.NewDescriptor("GET", "https://app.example/api/profiles")

	got := e.NetworkFirst(ctx, d, store)
	if got.Status != engine.OfflineStatus {
		t.Errorf("status = %d, want %d", got.Status, engine.OfflineStatus)
	}
}

func TestNetworkOnly_NeverTouchesCache(t *testing.T) {
	t.Parallel()
	fetch := testutil.NewFakeFetcher()
	fetch.SetOffline(true)
	e := New(fetch, nil)
	ctx := context.Background()
	d := engine.NewDescriptor("GET", "https://app.example/api/translate")

	got := e.NetworkOnly(ctx, d)
	if got.Status != engine.OfflineStatus {
		t.Errorf("status = %d, want structured offline error", got.Status)
	}
}

func TestStaleWhileRevalidate_HitReturnsImmediatelyAndRefreshes(t *testing.T) {
	t.Parallel()
	fetch := testutil.NewFakeFetcher()
	fetch.Respond("https://app.example/dashboard", 200, "fresh")
	store := testutil.NewFakeCacheStore("runtime-v1")
	e := New(fetch, nil)
	ctx := context.Background()
	d := engine.NewDescriptor("GET", "https://app.example/dashboard")

	if err := store.Put(ctx, d, &engine.Snapshot{Status: 200, Body: []byte("stale"), Header: http.Header{}}); err != nil {
		t.Fatal(err)
	}

	got := e.StaleWhileRevalidate(ctx, d, store)
	if string(got.Body) != "stale" {
		t.Errorf("body = %q, want the stale copy without waiting on network", got.Body)
	}

	e.Wait()
	cached, _ := store.Get(ctx, d)
	if string(cached.Body) != "fresh" {
		t.Errorf("cached body after refresh = %q, want %q", cached.Body, "fresh")
	}
	if n := fetch.CallCount(d.URL); n != 1 {
		t.Errorf("network calls = %d, want 1 background refresh", n)
	}
}

func TestStaleWhileRevalidate_RefreshFailureKeepsStale(t *testing.T) {
	t.Parallel()
	fetch := testutil.NewFakeFetcher()
	fetch.SetOffline(true)
	store := testutil.NewFakeCacheStore("runtime-v1")
	e := New(fetch, nil)
	ctx := context.Background()
	d := engine.NewDescriptor("GET", "https://app.example/dashboard")

	if err := store.Put(ctx, d, &engine.Snapshot{Status: 200, Body: []byte("stale"), Header: http.Header{}}); err != nil {
		t.Fatal(err)
	}

	got := e.StaleWhileRevalidate(ctx, d, store)
	if string(got.Body) != "stale" {
		t.Errorf("body = %q, want stale copy", got.Body)
	}

	e.Wait()
	cached, ok := store.Get(ctx, d)
	if !ok || string(cached.Body) != "stale" {
		t.Error("failed refresh must not invalidate the stale entry")
	}
}

func TestStaleWhileRevalidate_MissWaitsOnNetwork(t *testing.T) {
	t.Parallel()
	fetch := testutil.NewFakeFetcher()
	fetch.Respond("https://app.example/dashboard", 200, "first")
	store := testutil.NewFakeCacheStore("runtime-v1")
	e := New(fetch, nil)
	ctx := context.Background()
	d := engine.NewDescriptor("GET", "https://app.example/dashboard")

	got := e.StaleWhileRevalidate(ctx, d, store)
	if string(got.Body) != "first" {
		t.Errorf("body = %q, want network result on cold cache", got.Body)
	}
	if !store.Contains(ctx, d) {
		t.Error("network result should be cached for next time")
	}
}

func TestExecute_PolicyDispatch(t *testing.T) {
	t.Parallel()
	fetch := testutil.NewFakeFetcher()
	store := testutil.NewFakeCacheStore("v1")
	e := New(fetch, nil)
	ctx := context.Background()

	// Network-only must not write to the store even via Execute.
	d := engine.NewDescriptor("GET", "https://app.example/api/jobs/1")
	if got := e.Execute(ctx, engine.PolicyNetworkOnly, d, store); got.Status != 200 {
		t.Errorf("status = %d", got.Status)
	}
	if store.Len() != 0 {
		t.Error("network-only wrote to a cache store")
	}

	// Static asset path caches via Execute.
	d2 := engine.NewDescriptor("GET", "https://app.example/a.js")
	if got := e.Execute(ctx, engine.PolicyStaticAsset, d2, store); got.Status != 200 {
		t.Errorf("status = %d", got.Status)
	}
	if !store.Contains(ctx, d2) {
		t.Error("cache-first did not store the fetched asset")
	}
}

func TestCacheWriteFailureDoesNotAbortStrategy(t *testing.T) {
	t.Parallel()
	fetch := testutil.NewFakeFetcher()
	fetch.Respond("https://app.example/a.js", 200, "fresh")
	store := testutil.NewFakeCacheStore("static-v1")
	store.FailWrites = engine.ErrStoreClosed
	e := New(fetch, nil)
	ctx := context.Background()
	d := engine.NewDescriptor("GET", "https://app.example/a.js")

	got := e.CacheFirst(ctx, d, store)
	if got.Status != 200 || string(got.Body) != "fresh" {
		t.Errorf("got %d %q, want the fetched response despite cache write failure", got.Status, got.Body)
	}
}

func TestSnapshotCapturedAtSet(t *testing.T) {
	t.Parallel()
	fetch := testutil.NewFakeFetcher()
	e := New(fetch, nil)
	d := engine.NewDescriptor("GET", "https://app.example/a.js")

	before := time.Now()
	got := e.NetworkOnly(context.Background(), d)
	if got.CapturedAt.Before(before) {
		t.Error("CapturedAt should be set at capture time")
	}
}
