package tosbft

import "context"

// FinalizationHandler receives finalized data payloads in the order
// given by consensus' ordered batch stream. The handoff may suspend
// (another of Runway's suspension points).
type FinalizationHandler interface {
	Finalize(ctx context.Context, d Data) error
}

// FinalizationHandlerFunc adapts a plain function to FinalizationHandler.
type FinalizationHandlerFunc func(ctx context.Context, d Data) error

func (f FinalizationHandlerFunc) Finalize(ctx context.Context, d Data) error { return f(ctx, d) }
