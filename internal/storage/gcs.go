package storage

import (
	"context"
	"errors"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/lamallamadel/brainego-sub004/internal/backup"
)

// GCSObjectStore implements ObjectStore for Google Cloud Storage
type GCSObjectStore struct {
	client *gcs.Client
	bucket string
}

// GCSConfig holds GCS backend configuration
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
}

// Validate checks the GCS backend configuration
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return backup.NewConfigurationError("GCS object store requires a bucket", nil)
	}
	return nil
}

// NewGCSObjectStore creates a new GCSObjectStore instance
func NewGCSObjectStore(ctx context.Context, config *GCSConfig) (*GCSObjectStore, error) {
	if config == nil {
		return nil, backup.NewConfigurationError("GCS object store configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	var client *gcs.Client
	var err error

	if config.CredentialsPath != "" {
		client, err = gcs.NewClient(ctx, option.WithCredentialsFile(config.CredentialsPath))
	} else {
		// Use default credentials (e.g., from environment or metadata server)
		client, err = gcs.NewClient(ctx)
	}
	if err != nil {
		return nil, backup.NewStorageError("failed to create GCS client", err)
	}

	return &GCSObjectStore{
		client: client,
		bucket: config.Bucket,
	}, nil
}

// PutObject streams the reader to GCS with the given per-object metadata.
func (g *GCSObjectStore) PutObject(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error {
	writer := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.Metadata = metadata

	if _, err := io.Copy(writer, reader); err != nil {
		writer.Close()
		return backup.NewStorageError("failed to upload object to GCS", err)
	}

	if err := writer.Close(); err != nil {
		return backup.NewStorageError("failed to finalize GCS upload", err)
	}

	return nil
}

// GetObject opens the object for reading and returns its metadata.
func (g *GCSObjectStore) GetObject(ctx context.Context, key string) (io.ReadCloser, map[string]string, error) {
	object := g.client.Bucket(g.bucket).Object(key)

	attrs, err := object.Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, nil, backup.NewNotFoundError("object not found: "+key, err)
		}
		return nil, nil, backup.NewStorageError("failed to read GCS object attributes", err)
	}

	reader, err := object.NewReader(ctx)
	if err != nil {
		return nil, nil, backup.NewStorageError("failed to download object from GCS", err)
	}

	return reader, copyMetadata(attrs.Metadata), nil
}

// HeadObject returns the object's metadata without reading its body.
func (g *GCSObjectStore) HeadObject(ctx context.Context, key string) (map[string]string, error) {
	attrs, err := g.client.Bucket(g.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, backup.NewNotFoundError("object not found: "+key, err)
		}
		return nil, backup.NewStorageError("failed to read GCS object attributes", err)
	}

	return copyMetadata(attrs.Metadata), nil
}

// DeleteObject removes the object. Missing keys are not an error.
func (g *GCSObjectStore) DeleteObject(ctx context.Context, key string) error {
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return backup.NewStorageError("failed to delete object from GCS", err)
	}

	return nil
}

// HealthCheck verifies that the bucket is accessible and listable.
func (g *GCSObjectStore) HealthCheck(ctx context.Context) error {
	bucket := g.client.Bucket(g.bucket)

	if _, err := bucket.Attrs(ctx); err != nil {
		return backup.NewStorageError("GCS health check failed: bucket not accessible", err)
	}

	it := bucket.Objects(ctx, nil)
	if _, err := it.Next(); err != nil && err != iterator.Done {
		return backup.NewStorageError("GCS health check failed: cannot list objects", err)
	}

	return nil
}

// Provider returns the backend name
func (g *GCSObjectStore) Provider() string {
	return "gcs"
}

func copyMetadata(metadata map[string]string) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
