package crawler

import (
	"context"
	"io"
	"time"
)

// Evaluator turns bundle source text into the value the module exports.
// Globals are exposed to the module as ambient bindings.
type Evaluator interface {
	Evaluate(ctx context.Context, source []byte, sourceName string, globals map[string]any) (any, error)
}

// OutputWriter materializes written slots outside the in-memory registry.
type OutputWriter interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ManifestStore persists the outcome of each pass.
type ManifestStore interface {
	RecordPass(ctx context.Context, record PassRecord) error
}

// Publisher pushes pass notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests for the manifest.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces pass IDs.
type IDGenerator interface {
	NewID() (string, error)
}
