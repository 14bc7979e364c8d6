package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
type Config struct {
	// BufferSize bounds queued events; extra events are dropped (default 1024).
	BufferSize int
	// MaxBatchEvents flushes once this many events are queued (default 100).
	MaxBatchEvents int
	// MaxBatchWait flushes a partial batch after this long (default 500ms).
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call (default 5s).
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = 100
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = 500 * time.Millisecond
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub fans events out to sinks from a background goroutine. Emit never blocks.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	stop    chan struct{}
	done    chan struct{}
	dropped atomic.Int64
	closed  atomic.Bool
	once    sync.Once
}

// NewHub starts the batching goroutine.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.run()
	return h
}

// Emit queues evt, dropping it when the buffer is full or the hub is closed.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.cfg.Logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
	}
}

// Dropped reports events lost to backpressure since the last flush.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close flushes queued events, closes the sinks and waits for the goroutine.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.stop)
	})
	select {
	case <-h.done:
		for _, sink := range h.sinks {
			if err := sink.Close(ctx); err != nil {
				h.cfg.Logger.Warn("progress sink close failed", zap.Error(err))
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.MaxBatchWait)
	defer ticker.Stop()

	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.flush(batch)
			}
		case <-ticker.C:
			batch = h.flush(batch)
		case <-h.stop:
			for {
				select {
				case evt := <-h.events:
					batch = append(batch, evt)
				default:
					h.flush(batch)
					return
				}
			}
		}
	}
}

// flush hands batch to every sink and returns it emptied for reuse.
func (h *Hub) flush(batch []Event) []Event {
	if n := h.dropped.Swap(0); n > 0 {
		h.cfg.Logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped", n))
	}
	if len(batch) == 0 {
		return batch
	}
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.cfg.Logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
	return batch[:0]
}
