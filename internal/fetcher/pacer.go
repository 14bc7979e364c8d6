package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
	"github.com/JakeFAU/menu-catalog-sync/internal/metrics"
)

// Pacer enforces a request ceiling per window plus a minimum spacing of
// window/limit between consecutive requests.
type Pacer struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	smoother    *rate.Limiter
	clock       catalog.Clock
	windowStart time.Time
	count       int
}

// NewPacer builds a Pacer allowing limit requests per window.
func NewPacer(limit int, window time.Duration, clock catalog.Clock) (*Pacer, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("pacer limit must be > 0")
	}
	if window <= 0 {
		return nil, fmt.Errorf("pacer window must be > 0")
	}
	if clock == nil {
		return nil, fmt.Errorf("pacer clock is required")
	}
	return &Pacer{
		limit:    limit,
		window:   window,
		smoother: rate.NewLimiter(rate.Every(window/time.Duration(limit)), 1),
		clock:    clock,
	}, nil
}

// MinDelay is the enforced spacing between requests.
func (p *Pacer) MinDelay() time.Duration {
	return p.window / time.Duration(p.limit)
}

// Wait blocks until a request may be issued and consumes one slot.
// It returns the total time spent waiting.
func (p *Pacer) Wait(ctx context.Context) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var waited time.Duration
	now := p.clock.Now()
	p.rollWindow(now)

	if p.count >= p.limit {
		d := p.window - now.Sub(p.windowStart)
		if err := p.clock.Sleep(ctx, d); err != nil {
			return waited, fmt.Errorf("pacer window wait: %w", err)
		}
		metrics.ObservePacingWait("window", d)
		waited += d
		now = p.clock.Now()
		p.rollWindow(now)
	}

	reservation := p.smoother.ReserveN(now, 1)
	if !reservation.OK() {
		return waited, fmt.Errorf("pacer reservation refused")
	}
	if d := reservation.DelayFrom(now); d > 0 {
		if err := p.clock.Sleep(ctx, d); err != nil {
			reservation.CancelAt(now)
			return waited, fmt.Errorf("pacer spacing wait: %w", err)
		}
		metrics.ObservePacingWait("smoothing", d)
		waited += d
		now = p.clock.Now()
		p.rollWindow(now)
	}

	p.count++
	return waited, nil
}

func (p *Pacer) rollWindow(now time.Time) {
	if p.windowStart.IsZero() || now.Sub(p.windowStart) >= p.window {
		p.windowStart = now
		p.count = 0
	}
}
