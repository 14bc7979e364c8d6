// Package media copies product images into managed blob storage.
package media

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
	"github.com/JakeFAU/menu-catalog-sync/internal/hash/sha256"
)

var extByType = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/avif":    ".avif",
	"image/svg+xml": ".svg",
}

var knownExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".avif": true, ".svg": true,
}

// Mirror downloads images through the paced fetcher and stores them in a BlobStore.
type Mirror struct {
	fetcher catalog.Fetcher
	blobs   catalog.BlobStore
	prefix  string
	logger  *zap.Logger
}

// NewMirror builds a Mirror writing under prefix.
func NewMirror(fetcher catalog.Fetcher, blobs catalog.BlobStore, prefix string, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		fetcher: fetcher,
		blobs:   blobs,
		prefix:  strings.Trim(prefix, "/"),
		logger:  logger.Named("media"),
	}
}

// Mirror fetches imageURL and returns the URI of the stored copy. The object
// path is derived from the URL so repeated mirrors overwrite one object.
func (m *Mirror) Mirror(ctx context.Context, imageURL string) (string, error) {
	resp, err := m.fetcher.Fetch(ctx, catalog.FetchRequest{URL: imageURL, Method: http.MethodGet})
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}
	if !resp.OK() {
		return "", fmt.Errorf("fetch image %s: status %d: %w", imageURL, resp.StatusCode, catalog.ErrFetchFailed)
	}
	contentType := mediaType(resp.Headers.Get("Content-Type"))
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("fetch image %s: unexpected content type %q", imageURL, contentType)
	}

	objectPath := ObjectPath(m.prefix, imageURL, contentType)
	uri, err := m.blobs.PutObject(ctx, objectPath, contentType, bytes.NewReader(resp.Body))
	if err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	m.logger.Debug("image mirrored", zap.String("url", imageURL), zap.String("uri", uri), zap.Int("bytes", len(resp.Body)))
	return uri, nil
}

// ObjectPath returns <prefix>/<sha256(url)><ext>.
func ObjectPath(prefix, imageURL, contentType string) string {
	name := sha256.Sum([]byte(imageURL)) + extension(imageURL, contentType)
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func extension(imageURL, contentType string) string {
	if u, err := url.Parse(imageURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if knownExt[ext] {
			return ext
		}
	}
	return extByType[contentType]
}

func mediaType(header string) string {
	mt, _, _ := strings.Cut(header, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
