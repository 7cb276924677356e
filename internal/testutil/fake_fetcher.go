// Package testutil provides configurable test fakes for engine interfaces.
package testutil

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	engine "github.com/eugener/warden/internal"
)

// FakeFetcher is a configurable engine.Fetcher for testing. By default every
// URL returns 200 with the body "ok"; Respond and Fail override per URL, and
// Offline makes every fetch fail with a transport error.
type FakeFetcher struct {
	mu        sync.Mutex
	offline   bool
	responses map[string]fakeResponse
	calls     []string
}

type fakeResponse struct {
	status int
	body   string
	err    error
}

// NewFakeFetcher returns a FakeFetcher serving "ok" for every URL.
func NewFakeFetcher() *FakeFetcher {
	return &FakeFetcher{responses: make(map[string]fakeResponse)}
}

// Respond configures the status and body returned for a URL.
func (f *FakeFetcher) Respond(url string, status int, body string) {
	f.mu.Lock()
	f.responses[url] = fakeResponse{status: status, body: body}
	f.mu.Unlock()
}

// Fail configures a transport error for a URL.
func (f *FakeFetcher) Fail(url string, err error) {
	f.mu.Lock()
	f.responses[url] = fakeResponse{err: err}
	f.mu.Unlock()
}

// SetOffline toggles transport failure for every URL.
func (f *FakeFetcher) SetOffline(offline bool) {
	f.mu.Lock()
	f.offline = offline
	f.mu.Unlock()
}

// Calls returns the URLs fetched so far, in order.
func (f *FakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount returns the number of fetches issued for the given URL.
func (f *FakeFetcher) CallCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == url {
			n++
		}
	}
	return n
}

// Do serves the configured response for req.URL.
func (f *FakeFetcher) Do(_ context.Context, req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	url := req.URL.String()
	f.calls = append(f.calls, url)
	offline := f.offline
	r, ok := f.responses[url]
	f.mu.Unlock()

	if offline {
		return nil, engine.ErrOffline
	}
	if ok && r.err != nil {
		return nil, r.err
	}
	status, body := http.StatusOK, "ok"
	if ok {
		status, body = r.status, r.body
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}, nil
}
