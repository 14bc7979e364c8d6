package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	hub.Emit(sampleEvent(StageProductSynced))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 25 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := &Hub{cfg: Config{}.withDefaults(), events: make(chan Event)}
	start := time.Now()
	hub.Emit(sampleEvent(StageRunStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(1), hub.Dropped())
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchWait: time.Minute}, sink)
	hub.Emit(Event{Stage: StageRunStart})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
	require.True(t, sink.isClosed())
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(sampleEvent(StageRunDone))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)

	hub.Emit(sampleEvent(StageRunDone))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tests := []struct {
		name    string
		evt     Event
		wantErr bool
	}{
		{name: "run start", evt: Event{RunID: "r", TS: now, Stage: StageRunStart}},
		{name: "product with url", evt: Event{RunID: "r", TS: now, Stage: StageProductError, URL: "https://x.test/p"}},
		{name: "missing run id", evt: Event{TS: now, Stage: StageRunStart}, wantErr: true},
		{name: "missing timestamp", evt: Event{RunID: "r", Stage: StageRunStart}, wantErr: true},
		{name: "product without url", evt: Event{RunID: "r", TS: now, Stage: StageProductSynced}, wantErr: true},
		{name: "unknown stage", evt: Event{RunID: "r", TS: now, Stage: "NOPE"}, wantErr: true},
		{name: "negative duration", evt: Event{RunID: "r", TS: now, Stage: StageRunDone, Dur: -time.Second}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.evt.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	evt := Event{RunID: "run-1", TS: time.Now(), Stage: stage}
	if stage != StageRunStart && stage != StageRunDone {
		evt.URL = "https://x.test/product/a"
	}
	return evt
}
