// Package gcs stores image blobs in a Google Cloud Storage bucket and
// serves them back through V4 signed URLs.
package gcs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/cleverschool/edubot/internal/config"
)

type Provider struct {
	client *storage.Client
	bucket string
	logger *slog.Logger

	// set when URLs must be signed with an explicit key instead of the
	// ambient service account
	accessID   string
	privateKey []byte
}

func New(ctx context.Context, logger *slog.Logger, cfg config.StorageConfig) (*Provider, error) {
	var opts []option.ClientOption
	if cfg.EmulatorHost != "" {
		os.Setenv("STORAGE_EMULATOR_HOST", cfg.EmulatorHost)
		opts = append(opts, option.WithoutAuthentication())
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	p := &Provider{
		client:   client,
		bucket:   cfg.Bucket,
		logger:   logger.With(slog.String("service", "storage")),
		accessID: cfg.GoogleAccessID,
	}
	if cfg.PrivateKeyFile != "" {
		key, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		p.privateKey = key
	}
	return p, nil
}

func (p *Provider) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := p.client.Bucket(p.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close object %s: %w", key, err)
	}
	return nil
}

// SignedURL issues a fresh read URL for the object. Callers re-sign before
// every remote fetch instead of storing long-lived URLs.
func (p *Provider) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	}
	if p.accessID != "" {
		opts.GoogleAccessID = p.accessID
		opts.PrivateKey = p.privateKey
	}
	url, err := p.client.Bucket(p.bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", key, err)
	}
	return url, nil
}

func (p *Provider) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := p.client.Bucket(p.bucket).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (p *Provider) Close() error {
	return p.client.Close()
}
