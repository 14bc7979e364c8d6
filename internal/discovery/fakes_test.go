package discovery

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

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

// fakeFetcher serves canned bodies keyed by URL; unknown URLs are 404.
type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	status map[string]int
	fail   map[string]bool
	calls  []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:  make(map[string]string),
		status: make(map[string]int),
		fail:   make(map[string]bool),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, req catalog.FetchRequest) (catalog.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.URL)
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
	return catalog.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func (f *fakeFetcher) Render(ctx context.Context, url string) (catalog.FetchResponse, error) {
	return f.Fetch(ctx, catalog.FetchRequest{URL: url})
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
