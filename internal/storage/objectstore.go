// Package storage provides the content-addressable blob layer for
// backup artifacts: pluggable object-store backends (S3, GCS, Azure
// Blob, local filesystem) behind one ObjectStore interface, wrapped by
// ChecksummedBlobStore which computes and verifies SHA-256 digests on
// every transfer.
package storage

import (
	"context"
	"io"
	"os"
)

// MetadataChecksumKey is the per-object metadata key under which the
// hex SHA-256 digest is stored alongside each blob.
const MetadataChecksumKey = "sha256"

// ObjectStore abstracts a single-bucket object storage backend with
// per-object metadata. Implementations must return a not-found typed
// error from GetObject and HeadObject for missing keys, and must treat
// deleting a missing key as success.
type ObjectStore interface {
	// PutObject uploads the contents of reader under key with the given metadata.
	PutObject(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error

	// GetObject opens the object for reading and returns its metadata.
	GetObject(ctx context.Context, key string) (io.ReadCloser, map[string]string, error)

	// HeadObject returns the object's metadata without reading its body.
	HeadObject(ctx context.Context, key string) (map[string]string, error)

	// DeleteObject removes the object. Missing keys are not an error.
	DeleteObject(ctx context.Context, key string) error

	// HealthCheck verifies the bucket or container is reachable and listable.
	HealthCheck(ctx context.Context) error

	// Provider returns the backend name for logging.
	Provider() string
}

// openArtifact opens a local artifact file and returns it with its size.
func openArtifact(localPath string) (*os.File, int64, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return nil, 0, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, err
	}

	return file, info.Size(), nil
}
