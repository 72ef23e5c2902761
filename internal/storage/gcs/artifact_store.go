// Package gcs stores generated artifacts in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/jonidaniel/jobsai/internal/job"
)

// Config captures the bucket layout.
type Config struct {
	Bucket string
	Prefix string
}

// ArtifactStore implements job.ArtifactStore on a GCS bucket.
type ArtifactStore struct {
	client *storage.Client
	bucket string
	prefix string
	now    func() time.Time
}

// NewClient opens a client with Application Default Credentials and checks
// that the bucket is reachable, so a misconfiguration fails at startup.
func NewClient(ctx context.Context, bucket string) (*storage.Client, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			return nil, fmt.Errorf("bucket %q attributes: %w (close client: %v)", bucket, err, closeErr)
		}
		return nil, fmt.Errorf("bucket %q attributes: %w", bucket, err)
	}
	return client, nil
}

// New creates a GCS-backed artifact store.
func New(client *storage.Client, cfg Config) (*ArtifactStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &ArtifactStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		now:    time.Now,
	}, nil
}

func (s *ArtifactStore) objectName(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// Put uploads data and returns key.
func (s *ArtifactStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	writer := s.client.Bucket(s.bucket).Object(s.objectName(key)).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return key, nil
}

// Get downloads the object stored under key.
func (s *ArtifactStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.objectName(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("artifact %q: %w", key, job.ErrNotFound)
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Presign returns a V4 signed GET URL valid for ttl.
func (s *ArtifactStore) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	url, err := s.client.Bucket(s.bucket).SignedURL(s.objectName(key), &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: s.now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}
	return url, nil
}
