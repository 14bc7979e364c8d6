package progress

import "context"

// Sink consumes batches of events. Consume is called from a single goroutine.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts single events; Hub satisfies it.
type Emitter interface {
	Emit(evt Event)
}
