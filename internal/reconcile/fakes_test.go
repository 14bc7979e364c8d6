package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

// scriptedFetcher serves canned GET bodies; HEAD requests answer from heads
// and default to 404.
type scriptedFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	status   map[string]int
	fail     map[string]bool
	heads    map[string]int
	rendered map[string]string
	calls    []string
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		pages:    make(map[string]string),
		status:   make(map[string]int),
		fail:     make(map[string]bool),
		heads:    make(map[string]int),
		rendered: make(map[string]string),
	}
}

func (f *scriptedFetcher) Fetch(_ context.Context, req catalog.FetchRequest) (catalog.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	f.calls = append(f.calls, method+" "+req.URL)
	if method == http.MethodHead {
		code, ok := f.heads[req.URL]
		if !ok {
			code = http.StatusNotFound
		}
		return catalog.FetchResponse{URL: req.URL, StatusCode: code}, nil
	}
	if f.fail[req.URL] {
		return catalog.FetchResponse{}, errors.Join(catalog.ErrFetchFailed, errors.New("connection refused"))
	}
	if code, ok := f.status[req.URL]; ok {
		return catalog.FetchResponse{URL: req.URL, StatusCode: code}, nil
	}
	body, ok := f.pages[req.URL]
	if !ok {
		return catalog.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	return catalog.FetchResponse{
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Etag": {`"v1"`}},
		Body:       []byte(body),
	}, nil
}

func (f *scriptedFetcher) Render(_ context.Context, url string) (catalog.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "RENDER "+url)
	body, ok := f.rendered[url]
	if !ok {
		return catalog.FetchResponse{}, errors.New("render unavailable")
	}
	return catalog.FetchResponse{URL: url, StatusCode: http.StatusOK, Body: []byte(body), Rendered: true}, nil
}

func (f *scriptedFetcher) countCalls(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

// stubDiscoverer returns a fixed result and records its inputs.
type stubDiscoverer struct {
	mu         sync.Mutex
	result     catalog.DiscoveryResult
	err        error
	crawl      []string
	block      chan struct{}
	entered    chan struct{}
	sitemapArg string
	menuArg    string
	crawlPages int
}

func (d *stubDiscoverer) Discover(ctx context.Context, sitemapURL, menuBaseURL string) (catalog.DiscoveryResult, error) {
	d.mu.Lock()
	d.sitemapArg, d.menuArg = sitemapURL, menuBaseURL
	block, entered := d.block, d.entered
	d.mu.Unlock()
	if entered != nil {
		close(entered)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return catalog.DiscoveryResult{}, ctx.Err()
		}
	}
	return d.result, d.err
}

func (d *stubDiscoverer) Crawl(_ context.Context, _ string, maxPages int) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.crawlPages = maxPages
	return d.crawl, d.err
}

type stubMirror struct {
	err  error
	seen []string
}

func (m *stubMirror) Mirror(_ context.Context, imageURL string) (string, error) {
	m.seen = append(m.seen, imageURL)
	if m.err != nil {
		return "", m.err
	}
	return "memory://images/" + fmt.Sprint(len(m.seen)), nil
}

type alwaysRender struct{}

func (alwaysRender) NeedsRender(resp catalog.FetchResponse) bool { return !resp.Rendered }

func productPage(jsonld string) string {
	return `<html><head><script type="application/ld+json">` + jsonld + `</script></head><body></body></html>`
}
