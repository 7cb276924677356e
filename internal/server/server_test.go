package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eugener/warden/internal/app"
	"github.com/eugener/warden/internal/cache"
	"github.com/eugener/warden/internal/notify"
	"github.com/eugener/warden/internal/policy"
	"github.com/eugener/warden/internal/retry"
	"github.com/eugener/warden/internal/server"
	"github.com/eugener/warden/internal/storage/sqlite"
	"github.com/eugener/warden/internal/strategy"
	"github.com/eugener/warden/internal/testutil"
)

const upstream = "https://app.example"

type testEnv struct {
	handler http.Handler
	fetch   *testutil.FakeFetcher
	ctrl    *app.Controller
	queue   *retry.Queue
	surface *testutil.FakeSurface
	clients *notify.ClientRegistry
	trigger chan struct{}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	fetch := testutil.NewFakeFetcher()
	queue := retry.NewQueue(store, fetch, 3, nil)
	ctrl := app.NewController(app.Deps{
		Manager:    cache.NewManager(100),
		Classifier: policy.New(policy.DefaultRules()),
		Executor:   strategy.New(fetch, nil),
		Fetch:      fetch,
		Queue:      queue,
		Versions:   store,
	})

	surface := &testutil.FakeSurface{}
	clients := notify.NewClientRegistry()
	trigger := make(chan struct{}, 1)

	return &testEnv{
		handler: server.New(server.Deps{
			Lifecycle:    ctrl,
			Queue:        queue,
			RetryTrigger: trigger,
			Dispatcher:   notify.NewDispatcher(surface, clients, nil),
			Clients:      clients,
			Upstream:     upstream,
		}),
		fetch:   fetch,
		ctrl:    ctrl,
		queue:   queue,
		surface: surface,
		clients: clients,
		trigger: trigger,
	}
}

// install brings the controller to Active with an empty manifest.
func (e *testEnv) install(t *testing.T) {
	t.Helper()
	if err := e.ctrl.Install(context.Background(), "v1", nil, true); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestInterceptRequiresActiveProxy(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/profiles", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 before install", rec.Code)
	}
}

func TestInterceptForwardsToUpstream(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.install(t)

	env.fetch.Respond(upstream+"/api/profiles?page=2", http.StatusOK, `{"profiles":[]}`)

	rec := env.do(http.MethodGet, "/api/profiles?page=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != `{"profiles":[]}` {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if got := env.fetch.CallCount(upstream + "/api/profiles?page=2"); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
}

func TestInterceptOfflineResponse(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.install(t)

	env.fetch.SetOffline(true)

	rec := env.do(http.MethodGet, "/api/jobs/status", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body struct {
		Offline bool `json:"offline"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || !body.Offline {
		t.Fatalf("body = %q, want offline marker", rec.Body.String())
	}
}

func TestInterceptQueuesFailedMutation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.install(t)

	env.fetch.SetOffline(true)

	rec := env.do(http.MethodPost, "/api/jobs", `{"job":"export"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if rec.Header().Get("Warden-Retry-Queued") == "" {
		t.Fatal("missing Warden-Retry-Queued header")
	}
	if n, err := env.queue.Depth(context.Background()); err != nil || n != 1 {
		t.Fatalf("queue depth = %d (%v), want 1", n, err)
	}
}

func TestControlState(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.install(t)

	rec := env.do(http.MethodGet, "/control/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		State   string   `json:"state"`
		Version string   `json:"version"`
		Stores  []string `json:"stores"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != "active" || resp.Version != "v1" || len(resp.Stores) != 3 {
		t.Fatalf("state = %+v", resp)
	}
}

func TestControlActivateIdempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	if err := env.ctrl.Install(context.Background(), "v1", nil, false); err != nil {
		t.Fatal(err)
	}

	for range 2 {
		rec := env.do(http.MethodPost, "/control/activate", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("activate = %d", rec.Code)
		}
	}
	if env.ctrl.State() != app.StateActive {
		t.Fatalf("state = %v, want active", env.ctrl.State())
	}
}

func TestControlWarm(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.install(t)

	env.fetch.Respond(upstream+"/assets/logo.svg", http.StatusOK, "<svg/>")

	rec := env.do(http.MethodPost, "/control/warm", `{"urls":["/assets/logo.svg"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("warm = %d: %s", rec.Code, rec.Body.String())
	}
	time.Sleep(50 * time.Millisecond)

	// Warmed entry serves without another upstream call.
	rec = env.do(http.MethodGet, "/assets/logo.svg", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "<svg/>" {
		t.Fatalf("cached asset = %d %q", rec.Code, rec.Body.String())
	}
	if got := env.fetch.CallCount(upstream + "/assets/logo.svg"); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
}

func TestControlRetryFiresTrigger(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/control/retry", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("retry = %d", rec.Code)
	}
	select {
	case <-env.trigger:
	default:
		t.Fatal("retry trigger not fired")
	}

	// A second call with the trigger still pending must not block.
	env.trigger <- struct{}{}
	rec = env.do(http.MethodPost, "/control/retry", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("retry with pending trigger = %d", rec.Code)
	}
}

func TestPushShowsNotification(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/push", `{"title":"Sync done","body":"3 items"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("push = %d", rec.Code)
	}
	shown := env.surface.Shown()
	if len(shown) != 1 || shown[0].Title != "Sync done" {
		t.Fatalf("shown = %+v", shown)
	}
}

func TestPushClickFocusesClient(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	c := env.clients.Register("/inbox")

	rec := env.do(http.MethodPost, "/push/click", `{"title":"t","data":{"url":"/inbox"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("click = %d: %s", rec.Code, rec.Body.String())
	}
	var res notify.ClickResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Opened || res.ClientID != c.ID {
		t.Fatalf("result = %+v, want focus of %s", res, c.ID)
	}
}

func TestClientLifecycle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/clients", `{"url":"/dashboard"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d", rec.Code)
	}
	var c notify.Client
	if err := json.Unmarshal(rec.Body.Bytes(), &c); err != nil {
		t.Fatal(err)
	}

	rec = env.do(http.MethodPatch, "/clients/"+c.ID, `{"url":"/settings"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("navigate = %d", rec.Code)
	}

	rec = env.do(http.MethodGet, "/clients", "")
	var list []notify.Client
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].URL != "/settings" {
		t.Fatalf("clients = %+v", list)
	}

	rec = env.do(http.MethodDelete, "/clients/"+c.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unregister = %d", rec.Code)
	}
	if len(env.clients.List()) != 0 {
		t.Fatal("client not removed")
	}
}

func TestEventsStreamDeliversCommands(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	// Give the handler time to subscribe before emitting the command.
	time.Sleep(50 * time.Millisecond)
	if _, err := env.clients.Open("/inbox"); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 512)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	frame := string(buf[:n])
	if !strings.HasPrefix(frame, "data: ") || !strings.Contains(frame, `"open"`) {
		t.Fatalf("frame = %q, want open command", frame)
	}
}
