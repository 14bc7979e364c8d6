// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object path.
	Prefix string
}

// BlobStore writes mirrored media to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
	owned  bool
}

// New creates a GCS-backed blob store around an existing client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Dial opens a client with Application Default Credentials (or opts) and
// verifies the bucket is reachable before returning.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*BlobStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close gcs client after bucket check failed", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("gcs bucket %q attributes: %w", cfg.Bucket, err)
	}
	store, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// Close releases the client when the store opened it.
func (s *BlobStore) Close() error {
	if s == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, objectPath string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(objectPath) == "" {
		return "", fmt.Errorf("path is required")
	}
	name := strings.TrimPrefix(objectPath, "/")
	if s.prefix != "" {
		name = path.Join(s.prefix, name)
	}
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}
