// Package gcs stores exported sitemap files in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// Config names the bucket and an optional key prefix shared by every object.
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore implements crawler.BlobStore on one bucket.
type BlobStore struct {
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// New returns a BlobStore writing through client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{
		bucket: client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// PutObject uploads r and returns the object's gs:// URI. A failed copy
// cancels the upload so no partial object is committed.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error) {
	name, err := s.objectName(key)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "no-cache"
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("upload gs://%s/%s: %w", s.name, name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("commit gs://%s/%s: %w", s.name, name, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.name, name), nil
}

// GetObject opens a reader on a stored object.
func (s *BlobStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	name, err := s.objectName(key)
	if err != nil {
		return nil, err
	}
	reader, err := s.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", crawler.ErrObjectNotFound, s.name, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", s.name, name, err)
	}
	return reader, nil
}

func (s *BlobStore) objectName(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("path is required")
	}
	if s.prefix == "" {
		return key, nil
	}
	return path.Join(s.prefix, key), nil
}
