// Package artifact defines the port for task result artifacts.
package artifact

import (
	"context"
	"io"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain/task"
)

// Writer streams rows into one artifact. A writer is used by a single
// runtime and is not safe for concurrent use.
type Writer interface {
	// Append writes rows in order.
	Append(rows [][]string) error
	// Finalize flushes and publishes the artifact and returns its reference.
	Finalize() (string, error)
	// Discard removes the partial artifact. It is a no-op after Finalize.
	Discard() error
}

// Store creates and serves artifacts.
type Store interface {
	// Create opens a new artifact for t and writes the header row.
	Create(ctx context.Context, t *task.Task, columns []string) (Writer, error)
	// Open returns a reader for a finalized artifact.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// Remove deletes a finalized artifact. Missing artifacts are not an error.
	Remove(ctx context.Context, ref string) error
}
