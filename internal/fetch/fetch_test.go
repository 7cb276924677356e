package fetch_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	engine "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/fetch"
)

func testClient(t *testing.T, opts fetch.Options) *fetch.Client {
	t.Helper()
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	return fetch.NewClient(opts)
}

func get(t *testing.T, c *fetch.Client, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return c.Do(context.Background(), req)
}

func TestClientDo(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "hello")
	}))
	defer srv.Close()

	c := testClient(t, fetch.Options{})
	resp, err := get(t, c, srv.URL)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Fatalf("body = %q, want %q", body, "hello")
	}
}

func TestClientBearerToken(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	c := testClient(t, fetch.Options{AuthToken: "sekrit"})
	resp, err := get(t, c, srv.URL)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer sekrit" {
		t.Fatalf("Authorization = %q, want %q", gotAuth, "Bearer sekrit")
	}
}

func TestClientNoTokenNoHeader(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	c := testClient(t, fetch.Options{})
	resp, err := get(t, c, srv.URL)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "" {
		t.Fatalf("Authorization = %q, want empty", gotAuth)
	}
}

func TestClientBreakerOpensOnServerErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, fetch.Options{
		Breaker: fetch.BreakerConfig{
			ErrorThreshold: 0.5,
			MinSamples:     4,
			WindowSeconds:  10,
			OpenTimeout:    time.Hour,
		},
	})

	for range 4 {
		resp, err := get(t, c, srv.URL)
		if err != nil {
			t.Fatalf("do: %v", err)
		}
		resp.Body.Close()
	}

	if _, err := get(t, c, srv.URL); !errors.Is(err, engine.ErrUpstreamOpen) {
		t.Fatalf("err = %v, want ErrUpstreamOpen", err)
	}
}

func TestClientBreakerStaysClosedOnSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := testClient(t, fetch.Options{
		Breaker: fetch.BreakerConfig{
			ErrorThreshold: 0.5,
			MinSamples:     2,
			WindowSeconds:  10,
			OpenTimeout:    time.Hour,
		},
	})

	for range 10 {
		resp, err := get(t, c, srv.URL)
		if err != nil {
			t.Fatalf("do: %v", err)
		}
		resp.Body.Close()
	}
}
