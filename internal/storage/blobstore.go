package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/lamallamadel/brainego-sub004/internal/backup"
	"github.com/lamallamadel/brainego-sub004/internal/logging"
)

// ChecksummedBlobStore is a content-addressable wrapper over an
// ObjectStore backend. Every upload is hashed while streaming, carries
// its digest in object metadata, and is re-read after upload before the
// digest is reported; every download is verified against both the
// stored metadata digest and the caller's expected digest. The two
// checks guard independently against corruption in the blob store and
// in the catalog.
type ChecksummedBlobStore struct {
	store   ObjectStore
	workDir string
	logger  *logging.Logger
}

// NewChecksummedBlobStore creates the wrapper. workDir holds downloaded
// artifacts and the quarantine directory for corrupt downloads.
func NewChecksummedBlobStore(store ObjectStore, workDir string, logger *logging.Logger) (*ChecksummedBlobStore, error) {
	if store == nil {
		return nil, backup.NewConfigurationError("blob store requires an object store backend", nil)
	}
	if workDir == "" {
		return nil, backup.NewConfigurationError("blob store requires a working directory", nil)
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, backup.NewStorageError("failed to create blob store working directory", err)
	}

	return &ChecksummedBlobStore{
		store:   store,
		workDir: workDir,
		logger:  logger,
	}, nil
}

// Put hashes the local artifact in a streaming pass, uploads it with
// the digest attached as object metadata, then re-reads the stored
// object and confirms byte-for-byte identity before returning the
// digest. Callers must not treat the artifact as verified until Put
// returns without error.
func (b *ChecksummedBlobStore) Put(ctx context.Context, key, localPath string) (string, error) {
	start := time.Now()

	checksum, size, err := hashFile(localPath)
	if err != nil {
		b.logger.LogBlobUpload(key, 0, "", time.Since(start), err)
		return "", err
	}

	file, _, err := openArtifact(localPath)
	if err != nil {
		return "", backup.NewStorageError("failed to open artifact for upload", err)
	}

	err = b.store.PutObject(ctx, key, file, size, map[string]string{
		MetadataChecksumKey: checksum,
	})
	file.Close()
	if err != nil {
		b.logger.LogBlobUpload(key, size, checksum, time.Since(start), err)
		return "", err
	}

	// Post-upload re-read: the catalog record may only become verified
	// once the stored bytes demonstrably match what was uploaded.
	if err := b.verifyUploaded(ctx, key, checksum); err != nil {
		b.logger.LogBlobUpload(key, size, checksum, time.Since(start), err)
		return "", err
	}

	b.logger.LogBlobUpload(key, size, checksum, time.Since(start), nil)
	return checksum, nil
}

// Get downloads the object to a local file under the working directory,
// recomputes the digest while writing, and fails with a checksum
// mismatch if it disagrees with either the digest stored in object
// metadata or expectedChecksum. Corrupt downloads are quarantined, and
// the blob itself is never deleted by the mismatch path.
func (b *ChecksummedBlobStore) Get(ctx context.Context, key, expectedChecksum string) (string, error) {
	body, metadata, err := b.store.GetObject(ctx, key)
	if err != nil {
		return "", err
	}
	defer body.Close()

	localPath := filepath.Join(b.workDir, filepath.Base(key))
	out, err := os.Create(localPath)
	if err != nil {
		return "", backup.NewStorageError("failed to create local download file", err)
	}

	hasher := sha256.New()
	if _, err := io.Copy(out, io.TeeReader(body, hasher)); err != nil {
		out.Close()
		os.Remove(localPath)
		return "", backup.NewStorageError("failed to download object", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(localPath)
		return "", backup.NewStorageError("failed to finalize local download file", err)
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	stored := metadata[MetadataChecksumKey]

	if stored != "" && actual != stored {
		return "", b.quarantine(key, localPath, actual, stored, "stored object metadata")
	}
	if expectedChecksum != "" && actual != expectedChecksum {
		return "", b.quarantine(key, localPath, actual, expectedChecksum, "catalog record")
	}

	return localPath, nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (b *ChecksummedBlobStore) Delete(ctx context.Context, key string) error {
	return b.store.DeleteObject(ctx, key)
}

// HealthCheck verifies the underlying backend is reachable.
func (b *ChecksummedBlobStore) HealthCheck(ctx context.Context) error {
	return b.store.HealthCheck(ctx)
}

// Provider returns the underlying backend name.
func (b *ChecksummedBlobStore) Provider() string {
	return b.store.Provider()
}

// verifyUploaded re-reads the stored object and recomputes its digest.
// Metadata alone is not trusted here; the bytes are.
func (b *ChecksummedBlobStore) verifyUploaded(ctx context.Context, key, checksum string) error {
	body, metadata, err := b.store.GetObject(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()

	if stored := metadata[MetadataChecksumKey]; stored != checksum {
		return backup.NewChecksumMismatchError(
			fmt.Sprintf("stored digest for %s disagrees with upload", key), nil).
			WithContext("expected", checksum).
			WithContext("stored", stored)
	}

	hasher := sha256.New()
	if _, err := io.Copy(hasher, body); err != nil {
		return backup.NewStorageError("failed to re-read uploaded object", err)
	}

	if actual := hex.EncodeToString(hasher.Sum(nil)); actual != checksum {
		return backup.NewChecksumMismatchError(
			fmt.Sprintf("uploaded object %s does not match local artifact", key), nil).
			WithContext("expected", checksum).
			WithContext("actual", actual)
	}

	return nil
}

// quarantine moves a corrupt download aside for inspection and returns
// the mismatch error. The stored blob is left untouched.
func (b *ChecksummedBlobStore) quarantine(key, localPath, actual, expected, source string) error {
	quarantineDir := filepath.Join(b.workDir, "quarantine")
	quarantinePath := filepath.Join(quarantineDir, filepath.Base(localPath))

	if err := os.MkdirAll(quarantineDir, 0o755); err == nil {
		if err := os.Rename(localPath, quarantinePath); err != nil {
			quarantinePath = localPath
		}
	} else {
		quarantinePath = localPath
	}

	b.logger.Warnf("Checksum mismatch for %s against %s; download quarantined at %s", key, source, quarantinePath)

	return backup.NewChecksumMismatchError(
		fmt.Sprintf("downloaded object %s does not match %s", key, source), nil).
		WithContext("key", key).
		WithContext("expected", expected).
		WithContext("actual", actual).
		WithContext("quarantine_path", quarantinePath)
}

// hashFile computes the hex SHA-256 of a file in one streaming pass.
func hashFile(path string) (string, int64, error) {
	file, size, err := openArtifact(path)
	if err != nil {
		return "", 0, backup.NewStorageError("failed to open artifact for hashing", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", 0, backup.NewStorageError("failed to hash artifact", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}
