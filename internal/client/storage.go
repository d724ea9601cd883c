package client

import (
	"context"
	"io"
	"time"
)

// StorageClient is the artifact store behind synthesized segments, exports
// and research files. Keys are slash separated, e.g.
// productions/<job>/segments/<segment>.mp3.
type StorageClient interface {
	// Upload writes body under key and returns the artifact's public URL.
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	// Download opens an artifact. A missing key is apperr not_found.
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes an artifact. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// GetSignedURL returns a URL the audio service can fetch without credentials.
	GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	GetPublicURL(key string) string
}
