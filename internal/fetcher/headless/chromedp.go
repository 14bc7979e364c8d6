// Package headless renders JavaScript-driven menu pages with headless Chrome.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

const defaultNavTimeout = 25 * time.Second

// Config controls the headless renderer.
type Config struct {
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after the body is ready so client-side
	// hydration can populate the product markup.
	SettleDelay time.Duration
}

// Renderer implements catalog.Renderer using chromedp.
type Renderer struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger

	// one tab at a time; the fetcher already serializes requests.
	mu sync.Mutex
}

// NewChromedp creates a renderer backed by a shared Chrome allocator.
func NewChromedp(cfg Config, logger *zap.Logger) *Renderer {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("headless"),
	}
}

// Close shuts down the browser allocator.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render navigates to rawURL and returns the hydrated DOM.
func (r *Renderer) Render(ctx context.Context, rawURL string, userAgent string) (catalog.FetchResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, r.navTimeout())
	defer cancel()

	// Tie the browser tab to the caller's cancellation as well.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := r.run(taskCtx, rawURL, userAgent)
	if err != nil {
		r.logger.Debug("render failed", zap.String("url", rawURL), zap.Error(err))
		return catalog.FetchResponse{}, err
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(rawURL, finalURL)
	if headers == nil {
		headers = http.Header{}
	}
	return catalog.FetchResponse{
		URL:        responseURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
		Rendered:   true,
	}, nil
}

func (r *Renderer) run(ctx context.Context, rawURL, userAgent string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		networkSetupAction(userAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func networkSetupAction(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) navTimeout() time.Duration {
	if r.cfg.NavigationTimeout > 0 {
		return r.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

// responseMeta records the status and headers of the main document.
type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Later document events (iframes) must not replace a settled main response.
	if m.status != 0 && m.status < 300 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()

	switch {
	case finalURL != "":
		url = finalURL
	case url == "":
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}
