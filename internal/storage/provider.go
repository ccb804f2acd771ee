package storage

import (
	"context"
	"io"
	"time"
)

// Provider stores image blobs and issues short-lived read URLs for them.
type Provider interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}
