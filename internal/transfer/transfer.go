// Package transfer moves completed results out of provider-controlled
// transient URLs into application-owned storage, producing stable URLs.
package transfer

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"mediaforge/internal/domain"
	"mediaforge/internal/storage"
)

// Source opens a stream over a provider-held result, returning the body
// and its content type.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, string, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (io.ReadCloser, string, error)

// Open implements Source.
func (f SourceFunc) Open(ctx context.Context) (io.ReadCloser, string, error) {
	return f(ctx)
}

// Transferrer downloads from provider sources and re-uploads into the
// configured blob store.
type Transferrer struct {
	store  storage.BlobStore
	logger zerolog.Logger
}

// New creates a Transferrer over the given store.
func New(store storage.BlobStore, logger zerolog.Logger) *Transferrer {
	return &Transferrer{store: store, logger: logger}
}

// Transfer streams the source into the store at destPath and returns the
// stored object's stable URL. On any failure it returns
// domain.ErrTransferFailed and guarantees no partial object remains
// reachable under destPath.
func (t *Transferrer) Transfer(ctx context.Context, src Source, destPath string) (string, error) {
	body, contentType, err := src.Open(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: download: %v", domain.ErrTransferFailed, err)
	}
	defer body.Close()

	key, err := t.store.Write(ctx, destPath, body, -1, contentType)
	if err != nil {
		// The filesystem store writes through a temp file, but an object
		// store may have committed a truncated object before the reader
		// failed. Remove whatever landed under the key.
		if delErr := t.store.Delete(ctx, destPath); delErr != nil {
			t.logger.Warn().Err(delErr).Str("key", destPath).Msg("transfer: cleanup after failed upload")
		}
		return "", fmt.Errorf("%w: upload: %v", domain.ErrTransferFailed, err)
	}

	url := t.store.URL(key)
	t.logger.Debug().Str("key", key).Str("url", url).Msg("transfer: stored result media")
	return url, nil
}
