// Package storage defines the blob store used for finished artifacts.
// The abstraction keeps the job controller independent of where artifacts
// land (local disk, memory, Google Cloud Storage).
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// BlobStore persists artifact payloads and serves them back.
type BlobStore interface {
	// Put writes the object and returns a backend URI for logging.
	Put(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	// Open returns a reader over the object, or ErrNotFound.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Delete removes the object; deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error
}
