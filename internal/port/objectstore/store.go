// Package objectstore defines the port for binary artifact storage.
package objectstore

import (
	"context"
	"io"
	"time"
)

// Store uploads, signs and removes stored objects by key.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	// SignedURL returns a time-limited read URL for key.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}
