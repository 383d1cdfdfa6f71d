// Package httptransport builds the shared *http.Client every adapter
// family fetches through. It layers brotli decoding on top of net/http's
// built-in gzip support, since Go's standard transport only negotiates
// gzip automatically and a number of news sites serve br by default, a
// connect/read/total timeout split via httptrace.ClientTrace, and an
// opt-in response cache reusing the Cache Manager's Store contract.
package httptransport

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"

	"github.com/andybalholm/brotli"
)

// ProxyFunc selects the proxy URL for a request, or returns (nil, nil) to
// dial directly. Matches http.Transport.Proxy's signature.
type ProxyFunc func(*http.Request) (*url.URL, error)

// CacheStore is the subset of the Cache Manager the HTTP cache tier needs.
// *cache.Manager satisfies this directly.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Timeouts splits one logical request deadline into three phases: Connect
// bounds DNS+dial+TLS handshake, Read bounds the wait for the first
// response byte once a connection exists, and Total is the hard ceiling on
// the whole round trip (request write through body read).
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
	Total   time.Duration
}

// DefaultTimeouts returns the phase split used when New's timeout param
// sets only the total.
func DefaultTimeouts(total time.Duration) Timeouts {
	return Timeouts{Connect: 5 * time.Second, Read: total, Total: total}
}

// cacheTTL is how long a use-cache-tagged response is kept in the Cache
// Manager, independent of any source's own cache_ttl_seconds.
const cacheTTL = 5 * time.Minute

type useCacheKey struct{}

// WithCache marks ctx so a request issued with it consults and populates
// the HTTP response cache tier. Requests without this marker always hit
// the network, matching the opt-in use_cache semantics each adapter family
// decides per call rather than globally.
func WithCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, useCacheKey{}, true)
}

func cacheRequested(ctx context.Context) bool {
	v, _ := ctx.Value(useCacheKey{}).(bool)
	return v
}

// New builds an *http.Client with the given total timeout and optional
// proxy selection, layering (outermost to innermost): response caching,
// brotli/gzip-aware decompression, and a connect/read/total timeout split.
// store may be nil to run without the cache tier.
func New(timeout time.Duration, proxy ProxyFunc, store CacheStore) *http.Client {
	base := &http.Transport{}
	if proxy != nil {
		base.Proxy = proxy
	}

	var rt http.RoundTripper = &timeoutTransport{base: base, timeouts: DefaultTimeouts(timeout)}
	rt = &brotliTransport{base: rt}
	rt = &cachingTransport{base: rt, store: store, ttl: cacheTTL}

	return &http.Client{
		Timeout:   timeout,
		Transport: rt,
	}
}

// cachingTransport serves GET requests out of CacheStore when the request's
// context carries WithCache, keyed http:<sha1(method|url|params|body)>, and
// populates the cache on a 200 response.
type cachingTransport struct {
	base  http.RoundTripper
	store CacheStore
	ttl   time.Duration
}

func (t *cachingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.store == nil || req.Method != http.MethodGet || !cacheRequested(req.Context()) {
		return t.base.RoundTrip(req)
	}

	key := cacheKeyFor(req)
	if raw, ok := t.store.Get(req.Context(), key); ok {
		if resp, err := decodeCachedResponse(raw, req); err == nil {
			return resp, nil
		}
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr == nil {
			if raw, encErr := encodeCachedResponse(resp, body); encErr == nil {
				t.store.Set(req.Context(), key, raw, t.ttl)
			}
			resp.Body = io.NopCloser(bytes.NewReader(body))
		}
	}
	return resp, nil
}

// cacheKeyFor hashes method, URL path, query params, and body so two
// requests differing in any of those miss independently.
func cacheKeyFor(req *http.Request) string {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	h := sha1.New()
	h.Write([]byte(req.Method))
	h.Write([]byte("|"))
	h.Write([]byte(req.URL.Path))
	h.Write([]byte("|"))
	h.Write([]byte(req.URL.RawQuery))
	h.Write([]byte("|"))
	h.Write(body)
	return "http:" + hex.EncodeToString(h.Sum(nil))
}

// cachedResponse is the JSON envelope stored in the Cache Manager for one
// cached HTTP response.
type cachedResponse struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
}

func encodeCachedResponse(resp *http.Response, body []byte) ([]byte, error) {
	return json.Marshal(cachedResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: body})
}

func decodeCachedResponse(raw []byte, req *http.Request) (*http.Response, error) {
	var cached cachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode:    cached.StatusCode,
		Status:        fmt.Sprintf("%d %s", cached.StatusCode, http.StatusText(cached.StatusCode)),
		Header:        cached.Header,
		Body:          io.NopCloser(bytes.NewReader(cached.Body)),
		ContentLength: int64(len(cached.Body)),
		Request:       req,
	}, nil
}

// timeoutTransport enforces Timeouts via httptrace.ClientTrace: Connect
// bounds the time to GotConn, Read bounds the time from GotConn to the
// first response byte, and Total is an overall context deadline covering
// both phases plus body transfer.
type timeoutTransport struct {
	base     http.RoundTripper
	timeouts Timeouts
}

func (t *timeoutTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), t.timeouts.Total)

	connectTimer := time.AfterFunc(t.timeouts.Connect, cancel)
	var readTimer *time.Timer

	trace := &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) {
			connectTimer.Stop()
			readTimer = time.AfterFunc(t.timeouts.Read, cancel)
		},
		GotFirstResponseByte: func() {
			if readTimer != nil {
				readTimer.Stop()
			}
		},
	}

	req = req.WithContext(httptrace.WithClientTrace(ctx, trace))
	resp, err := t.base.RoundTrip(req)
	connectTimer.Stop()
	if readTimer != nil {
		readTimer.Stop()
	}
	if err != nil {
		cancel()
		return nil, err
	}

	// cancel must outlive the returned body (the caller still reads it
	// under the Total deadline), so it's tied to body Close rather than
	// fired here.
	resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}

// brotliTransport requests "gzip, br" and transparently decodes whichever
// the server used, since setting Accept-Encoding ourselves disables
// net/http's automatic gzip handling.
type brotliTransport struct {
	base http.RoundTripper
}

func (t *brotliTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip, br")
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	switch resp.Header.Get("Content-Encoding") {
	case "br":
		resp.Body = &decodingBody{reader: brotli.NewReader(resp.Body), closer: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
	case "gzip":
		gz, gzErr := gzip.NewReader(resp.Body)
		if gzErr != nil {
			_ = resp.Body.Close()
			return nil, gzErr
		}
		resp.Body = &decodingBody{reader: gz, closer: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
	}

	return resp, nil
}

// decodingBody adapts a decompression reader plus the underlying response
// body's Close into one io.ReadCloser.
type decodingBody struct {
	reader io.Reader
	closer io.Closer
}

func (d *decodingBody) Read(p []byte) (int, error) { return d.reader.Read(p) }
func (d *decodingBody) Close() error               { return d.closer.Close() }
