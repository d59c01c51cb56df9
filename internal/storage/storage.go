// Package storage provides byte-blob persistence for generated media,
// keyed by path. Stores return stable, non-expiring URLs for stored
// objects; callers never hand out provider-controlled transient links.
package storage

import (
	"context"
	"io"
)

// BlobStore persists media blobs under application-owned keys.
type BlobStore interface {
	// Write stores the reader's bytes at key, overwriting any existing
	// object, and returns the canonicalized key. size may be negative when
	// unknown.
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	// Delete removes the object at key. Deleting a missing object is a
	// no-op.
	Delete(ctx context.Context, key string) error
	// URL returns a stable retrieval URL for key.
	URL(key string) string
}
