// Package httpclient provides scoped acquisition of an egress HTTP
// client bound to one proxy slot, with a browser-impersonation header
// profile, cookie jar, and redirect policy. Grounded on
// original_source/src/worker.py's Worker.client() context manager
// (rnet.Client options: impersonate, cookie_store, allow_redirects,
// max_redirects) and the teacher's
// internal/infrastructure/llm/openai/provider.go custom Transport
// (DialContext timeouts, TLS minimum version).
package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/zonde306/lmproxy/internal/resource"
)

const maxRedirects = 9

// impersonation is a fixed, realistic browser header profile. Go's
// stdlib has no TLS-fingerprint impersonation equivalent to the
// original's rnet.Impersonate.Firefox139, and no library in the example
// pack supplies one either; this header-only approximation is the
// stdlib-only piece, justified in DESIGN.md.
var impersonationHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:139.0) Gecko/20100101 Firefox/139.0",
	"Accept":          "*/*",
	"Accept-Language": "en-US,en;q=0.5",
}

// ErrProxyFailure should be returned (or wrapped) by callers when a
// request failed in a way attributable to the proxy itself, so Scope can
// discard the slot on release instead of cooling it down normally.
var ErrProxyFailure = errors.New("httpclient: proxy failure")

// Scope is a single acquire/use/release(-or-discard) egress client
// binding, mirroring proxies.py's ProxyContext.
type Scope struct {
	Client  *http.Client
	Headers map[string]string

	pool    resource.Resourcer
	idx     int
	skipRel bool
}

// Acquire binds one proxy slot from pool (use resource.NewNull() via the
// proxy Factory when no proxy is configured) and returns a Scope. Callers
// must call Release exactly once.
func Acquire(ctx context.Context, pool resource.Resourcer, timeout time.Duration, clientArgs map[string]string) (*Scope, error) {
	idx, proxyURL, err := pool.Acquire(ctx, timeout)
	if err != nil {
		return nil, err
	}

	jar, _ := cookiejar.New(nil)
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if proxyURL != "" {
		parsed, perr := parseProxyURL(proxyURL)
		if perr != nil {
			pool.Release(idx, true)
			return nil, perr
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	client := &http.Client{
		Transport: transport,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("httpclient: stopped after 9 redirects")
			}
			return nil
		},
	}

	headers := make(map[string]string, len(impersonationHeaders)+len(clientArgs))
	for k, v := range impersonationHeaders {
		headers[k] = v
	}
	for k, v := range clientArgs {
		headers[k] = v
	}

	return &Scope{Client: client, Headers: headers, pool: pool, idx: idx}, nil
}

// Release returns the bound proxy slot. If err is non-nil and classifies
// as a proxy failure (errors.Is(err, ErrProxyFailure)), the slot is
// discarded instead of returned to the round-robin set.
func (s *Scope) Release(err error) {
	if s.skipRel {
		return
	}
	s.skipRel = true
	discard := errors.Is(err, ErrProxyFailure)
	s.pool.Release(s.idx, discard)
}
