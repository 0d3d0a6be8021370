package progress

import "context"

// Sink receives batches of job events. The Hub calls every sink of a batch in
// parallel with a shared, read-only slice; Consume must honor ctx.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies it; components take an
// Emitter so they stay agnostic about buffering.
type Emitter interface {
	Emit(evt Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}
