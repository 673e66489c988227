package kafka

import "context"

// Sink publishes keyed change events. Keys are node paths, so every event
// for one node lands on the same partition.
type Sink interface {
	Send(ctx context.Context, key, value []byte) error
	Close() error
}

// contentType is attached to every broker message; event bodies are
// protojson.
const contentType = "application/json"
