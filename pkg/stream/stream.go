// Package stream defines the ingress contract for engine event sources.
// Sources deliver raw engine frames; decoding and validation happen
// downstream in the relay.
package stream

import "context"

// FrameHandler consumes one raw engine frame.
type FrameHandler func(ctx context.Context, raw []byte) error

// Source is a connection to an engine's event stream.
type Source interface {
	// Stream delivers frames to the handler until the stream ends or the
	// context is cancelled. Handler errors are logged, not fatal: one bad
	// frame must not tear down the stream.
	Stream(ctx context.Context, handler FrameHandler) error
}
