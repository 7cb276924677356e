package fetch

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
	"golang.org/x/oauth2"
)

// NewTransport returns a tuned *http.Transport with connection pooling and
// optional DNS caching. Upstream hosts are resolved through the shared
// resolver so repeated fetches skip the OS resolver entirely.
func NewTransport(resolver *dnscache.Resolver) *http.Transport {
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

// bearerTransport is an http.RoundTripper that injects an Authorization
// bearer token on every outbound request. Tokens come from an oauth2
// TokenSource so rotating sources refresh transparently.
type bearerTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
}

// newBearerTransport wraps base with bearer auth backed by ts.
func newBearerTransport(base http.RoundTripper, ts oauth2.TokenSource) *bearerTransport {
	return &bearerTransport{
		base:   base,
		source: oauth2.ReuseTokenSource(nil, ts),
	}
}

// RoundTrip obtains a token and injects it as a Bearer header.
func (t *bearerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	tok, err := t.source.Token()
	if err != nil {
		return nil, err
	}
	r2 := r.Clone(r.Context())
	r2.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	return t.baseRT().RoundTrip(r2)
}

func (t *bearerTransport) baseRT() http.RoundTripper {
	if t.base != nil {
		return t.base
	}
	return http.DefaultTransport
}
