package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamallamadel/brainego-sub004/internal/backup"
)

// newTestBlobStore wires a ChecksummedBlobStore over a local backend and
// returns the backend base path so tests can corrupt stored objects
// directly on disk.
func newTestBlobStore(t *testing.T) (*ChecksummedBlobStore, string, string) {
	t.Helper()

	basePath := t.TempDir()
	workDir := t.TempDir()

	store, err := NewLocalObjectStore(&LocalConfig{BasePath: basePath})
	require.NoError(t, err)

	blobStore, err := NewChecksummedBlobStore(store, workDir, nil)
	require.NoError(t, err)

	return blobStore, basePath, workDir
}

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact.snapshot")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func sha256Hex(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestChecksummedBlobStore_PutReturnsDigestAndStoresMetadata(t *testing.T) {
	blobStore, _, _ := newTestBlobStore(t)
	ctx := context.Background()

	artifact := writeArtifact(t, "vector snapshot payload")

	checksum, err := blobStore.Put(ctx, "vector/2026/08/15/backup.snapshot", artifact)
	require.NoError(t, err)
	assert.Equal(t, sha256Hex("vector snapshot payload"), checksum)

	metadata, err := blobStore.store.HeadObject(ctx, "vector/2026/08/15/backup.snapshot")
	require.NoError(t, err)
	assert.Equal(t, checksum, metadata[MetadataChecksumKey])
}

func TestChecksummedBlobStore_GetRoundTrip(t *testing.T) {
	blobStore, _, workDir := newTestBlobStore(t)
	ctx := context.Background()

	artifact := writeArtifact(t, "graph dump payload")

	checksum, err := blobStore.Put(ctx, "graph/backup.dump", artifact)
	require.NoError(t, err)

	localPath, err := blobStore.Get(ctx, "graph/backup.dump", checksum)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workDir, "backup.dump"), localPath)

	data, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, "graph dump payload", string(data))
}

func TestChecksummedBlobStore_GetDetectsCorruptStoredObject(t *testing.T) {
	blobStore, basePath, workDir := newTestBlobStore(t)
	ctx := context.Background()

	artifact := writeArtifact(t, "original bytes")

	checksum, err := blobStore.Put(ctx, "relational/backup.sql.zst", artifact)
	require.NoError(t, err)

	// Flip the stored bytes behind the blob store's back. The metadata
	// sidecar still carries the original digest.
	storedPath := filepath.Join(basePath, "relational", "backup.sql.zst")
	require.NoError(t, os.WriteFile(storedPath, []byte("tampered bytes!"), 0o644))

	_, err = blobStore.Get(ctx, "relational/backup.sql.zst", checksum)
	require.Error(t, err)
	assert.True(t, backup.IsChecksumMismatch(err))

	var drErr *backup.DRError
	require.ErrorAs(t, err, &drErr)
	quarantinePath, ok := drErr.Context["quarantine_path"].(string)
	require.True(t, ok)
	assert.FileExists(t, quarantinePath)
	assert.Equal(t, filepath.Join(workDir, "quarantine", "backup.sql.zst"), quarantinePath)

	// The corrupt download must not linger in the work directory.
	assert.NoFileExists(t, filepath.Join(workDir, "backup.sql.zst"))

	// The stored blob itself is left in place for investigation.
	assert.FileExists(t, storedPath)
}

func TestChecksummedBlobStore_GetDetectsCatalogDisagreement(t *testing.T) {
	blobStore, _, _ := newTestBlobStore(t)
	ctx := context.Background()

	artifact := writeArtifact(t, "payload")

	_, err := blobStore.Put(ctx, "vector/backup.snapshot", artifact)
	require.NoError(t, err)

	// Stored metadata matches the bytes, but the caller's expected digest
	// does not: simulates a corrupt catalog row.
	_, err = blobStore.Get(ctx, "vector/backup.snapshot", sha256Hex("something else entirely"))
	require.Error(t, err)
	assert.True(t, backup.IsChecksumMismatch(err))
	assert.Contains(t, err.Error(), "catalog record")
}

func TestChecksummedBlobStore_GetWithoutExpectedChecksum(t *testing.T) {
	blobStore, _, _ := newTestBlobStore(t)
	ctx := context.Background()

	artifact := writeArtifact(t, "payload")

	_, err := blobStore.Put(ctx, "vector/backup.snapshot", artifact)
	require.NoError(t, err)

	// Metadata verification alone still applies.
	localPath, err := blobStore.Get(ctx, "vector/backup.snapshot", "")
	require.NoError(t, err)
	assert.FileExists(t, localPath)
}

func TestChecksummedBlobStore_PutVerificationCatchesTamperedMetadata(t *testing.T) {
	basePath := t.TempDir()
	store, err := NewLocalObjectStore(&LocalConfig{BasePath: basePath})
	require.NoError(t, err)

	blobStore, err := NewChecksummedBlobStore(&metadataDroppingStore{ObjectStore: store}, t.TempDir(), nil)
	require.NoError(t, err)

	artifact := writeArtifact(t, "payload")

	_, err = blobStore.Put(context.Background(), "vector/backup.snapshot", artifact)
	require.Error(t, err)
	assert.True(t, backup.IsChecksumMismatch(err))
}

// metadataDroppingStore discards metadata on upload, so the post-upload
// verification must flag the missing stored digest.
type metadataDroppingStore struct {
	ObjectStore
}

func (m *metadataDroppingStore) PutObject(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error {
	return m.ObjectStore.PutObject(ctx, key, reader, size, nil)
}

func TestChecksummedBlobStore_DeleteIsIdempotent(t *testing.T) {
	blobStore, _, _ := newTestBlobStore(t)
	ctx := context.Background()

	artifact := writeArtifact(t, "payload")

	_, err := blobStore.Put(ctx, "graph/backup.dump", artifact)
	require.NoError(t, err)

	require.NoError(t, blobStore.Delete(ctx, "graph/backup.dump"))
	require.NoError(t, blobStore.Delete(ctx, "graph/backup.dump"))
}

func TestChecksummedBlobStore_PutMissingArtifact(t *testing.T) {
	blobStore, _, _ := newTestBlobStore(t)

	_, err := blobStore.Put(context.Background(), "vector/backup.snapshot", filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}

func TestNewChecksummedBlobStore_Validation(t *testing.T) {
	store := newTestLocalStore(t)

	_, err := NewChecksummedBlobStore(nil, t.TempDir(), nil)
	assert.Error(t, err)

	_, err = NewChecksummedBlobStore(store, "", nil)
	assert.Error(t, err)
}
