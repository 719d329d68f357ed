package backup

import (
	"context"
	"time"
)

// StoreAdapter knows how to snapshot and restore one store engine. An
// adapter is stateless; every call is parameterized by the live
// connection info it was constructed with.
type StoreAdapter interface {
	// StoreType identifies the engine this adapter serves.
	StoreType() StoreType

	// CreateSnapshot exports a point-in-time snapshot to a local
	// artifact file and returns its path and size.
	CreateSnapshot(ctx context.Context) (artifactPath string, sizeBytes int64, err error)

	// Restore applies a previously downloaded artifact to the store.
	// A failed restore leaves the store in an adapter-defined unknown
	// state; callers never auto-retry it.
	Restore(ctx context.Context, artifactPath string) error

	// HealthCheck probes the engine's health endpoint.
	HealthCheck(ctx context.Context) (ok bool, details string)

	// CountSummary returns per-collection element counts used for
	// truncation detection after restores.
	CountSummary(ctx context.Context) (CountSummary, error)
}

// BlobStore is the content-addressable wrapper over object storage.
// Keys are date-partitioned but correctness relies on hash
// verification, not path uniqueness.
type BlobStore interface {
	// Put streams the local file to the object store while hashing it,
	// stores the digest as object metadata, and returns the hex SHA-256.
	Put(ctx context.Context, key, localPath string) (checksum string, err error)

	// Get downloads the object to a local file, recomputes the digest,
	// and fails with a checksum mismatch if it disagrees with either
	// the stored metadata or expectedChecksum.
	Get(ctx context.Context, key, expectedChecksum string) (localPath string, err error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// HealthCheck verifies the underlying bucket is reachable.
	HealthCheck(ctx context.Context) error
}

// Catalog is the durable metadata registry of backup and restore
// records. It is append-only by convention: identity and checksum
// fields are set once; only status and error message mutate afterward.
type Catalog interface {
	// CreateRecord persists a new pending record. It rejects duplicate
	// backup IDs and a second in-flight record for the same store type.
	CreateRecord(ctx context.Context, record *BackupRecord) error

	// MarkUploading transitions a pending record to uploading.
	MarkUploading(ctx context.Context, backupID string) error

	// MarkVerified sets the checksum and size and transitions the
	// record to verified. Checksum and size are immutable afterward.
	MarkVerified(ctx context.Context, backupID, checksum string, sizeBytes int64) error

	// MarkFailed transitions the record to failed with a human-readable message.
	MarkFailed(ctx context.Context, backupID, errorMessage string) error

	// MarkPurged transitions a verified record to purged.
	MarkPurged(ctx context.Context, backupID string) error

	// GetRecord fetches a record by backup ID.
	GetRecord(ctx context.Context, backupID string) (*BackupRecord, error)

	// ListByType returns records for a store type, newest first. A zero
	// filter store type returns records for all types.
	ListByType(ctx context.Context, filter BackupFilter) ([]*BackupRecord, error)

	// LatestVerified returns the most recent verified record for a store type.
	LatestVerified(ctx context.Context, storeType StoreType) (*BackupRecord, error)

	// ListExpired returns verified records created strictly before the cutoff.
	ListExpired(ctx context.Context, storeType StoreType, cutoff time.Time) ([]*BackupRecord, error)

	// RecordRestoreEvent persists a restore event.
	RecordRestoreEvent(ctx context.Context, event *RestoreEvent) error

	// ListRestoreEvents returns restore events, newest first.
	ListRestoreEvents(ctx context.Context, limit int) ([]*RestoreEvent, error)

	// SaveCountBaseline stores the known-good count summary for a store type.
	SaveCountBaseline(ctx context.Context, storeType StoreType, counts CountSummary, takenAt time.Time) error

	// GetCountBaseline returns the last known-good count summary for a
	// store type, or nil if none has been recorded.
	GetCountBaseline(ctx context.Context, storeType StoreType) (CountSummary, error)
}
