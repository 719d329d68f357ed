package backup

import (
	"fmt"
	"time"
)

// StoreType identifies one of the persistent stores covered by the
// backup subsystem.
type StoreType string

const (
	// StoreTypeVector is the vector index engine
	StoreTypeVector StoreType = "vector"
	// StoreTypeGraph is the graph database engine
	StoreTypeGraph StoreType = "graph"
	// StoreTypeRelational is the relational database engine
	StoreTypeRelational StoreType = "relational"
)

// AllStoreTypes lists every store type in the deterministic order used
// for multi-store restores.
var AllStoreTypes = []StoreType{StoreTypeRelational, StoreTypeGraph, StoreTypeVector}

// IsValid reports whether the store type is one of the known engines.
func (st StoreType) IsValid() bool {
	switch st {
	case StoreTypeVector, StoreTypeGraph, StoreTypeRelational:
		return true
	}
	return false
}

// ParseStoreType converts a string into a StoreType, validating it.
func ParseStoreType(s string) (StoreType, error) {
	st := StoreType(s)
	if !st.IsValid() {
		return "", NewConfigurationError(fmt.Sprintf("unknown store type: %q", s), nil)
	}
	return st, nil
}

// ArtifactExtension returns the file extension used for this store's
// snapshot artifacts.
func (st StoreType) ArtifactExtension() string {
	switch st {
	case StoreTypeVector:
		return "snapshot"
	case StoreTypeGraph:
		return "dump"
	case StoreTypeRelational:
		return "sql.zst"
	default:
		return "bin"
	}
}

// BackupStatus represents the lifecycle state of a backup record
type BackupStatus string

const (
	BackupStatusPending   BackupStatus = "pending"
	BackupStatusUploading BackupStatus = "uploading"
	BackupStatusVerified  BackupStatus = "verified"
	BackupStatusFailed    BackupStatus = "failed"
	BackupStatusPurged    BackupStatus = "purged"
)

// CanTransitionTo reports whether a status transition is legal. A record
// transitions once to a terminal state within its cycle and may later
// only move from verified to purged.
func (s BackupStatus) CanTransitionTo(next BackupStatus) bool {
	switch s {
	case BackupStatusPending:
		return next == BackupStatusUploading || next == BackupStatusVerified || next == BackupStatusFailed
	case BackupStatusUploading:
		return next == BackupStatusVerified || next == BackupStatusFailed
	case BackupStatusVerified:
		return next == BackupStatusPurged
	default:
		return false
	}
}

// backupIDTimeFormat is the UTC timestamp layout embedded in backup IDs.
// Second resolution keeps IDs readable; uniqueness is enforced by the
// catalog's unique index.
const backupIDTimeFormat = "20060102T150405Z"

// BackupRecord is the catalog entry for one backup of one store.
// Identity and checksum fields are immutable once set; only Status and
// ErrorMessage mutate afterward.
type BackupRecord struct {
	BackupID     string       `json:"backup_id"`
	StoreType    StoreType    `json:"store_type"`
	CreatedAt    time.Time    `json:"created_at"`
	SizeBytes    int64        `json:"size_bytes"`
	Checksum     string       `json:"checksum,omitempty"`
	StorageKey   string       `json:"storage_key"`
	Status       BackupStatus `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// NewBackupRecord creates a pending record for a new backup cycle.
// The backup ID embeds the store type and the UTC creation timestamp;
// the storage key is date-partitioned under the store type prefix.
func NewBackupRecord(storeType StoreType, createdAt time.Time) *BackupRecord {
	createdAt = createdAt.UTC()
	backupID := fmt.Sprintf("%s_%s", storeType, createdAt.Format(backupIDTimeFormat))

	return &BackupRecord{
		BackupID:   backupID,
		StoreType:  storeType,
		CreatedAt:  createdAt,
		StorageKey: StorageKeyFor(storeType, backupID, createdAt),
		Status:     BackupStatusPending,
	}
}

// StorageKeyFor builds the date-partitioned object key for a backup:
// {store_type}/{yyyy}/{mm}/{dd}/{backup_id}.{ext}. Correctness relies on
// hash verification, not key uniqueness, but partitioning keeps listing
// and lifecycle tooling cheap.
func StorageKeyFor(storeType StoreType, backupID string, createdAt time.Time) string {
	createdAt = createdAt.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s.%s",
		storeType,
		createdAt.Year(), int(createdAt.Month()), createdAt.Day(),
		backupID, storeType.ArtifactExtension())
}

// IsRestorable reports whether the record can serve as a restore source.
func (r *BackupRecord) IsRestorable() bool {
	return r.Status == BackupStatusVerified && r.Checksum != ""
}

// Validate checks record invariants before persistence.
func (r *BackupRecord) Validate() error {
	if r.BackupID == "" {
		return NewCatalogError("backup record is missing a backup ID", nil)
	}
	if !r.StoreType.IsValid() {
		return NewCatalogError(fmt.Sprintf("backup record %s has invalid store type %q", r.BackupID, r.StoreType), nil)
	}
	if r.StorageKey == "" {
		return NewCatalogError(fmt.Sprintf("backup record %s is missing a storage key", r.BackupID), nil)
	}
	if r.Status == BackupStatusVerified && r.Checksum == "" {
		return NewCatalogError(fmt.Sprintf("backup record %s is verified without a checksum", r.BackupID), nil)
	}
	return nil
}

// RestoreOutcome is the terminal result of a restore invocation
type RestoreOutcome string

const (
	RestoreOutcomeSucceeded RestoreOutcome = "succeeded"
	RestoreOutcomeFailed    RestoreOutcome = "failed"
	RestoreOutcomeAborted   RestoreOutcome = "aborted"
)

// RestoreEvent records one restore invocation. BackupID is a reference
// only; the referenced backup may already be purged.
type RestoreEvent struct {
	RestoreID        string            `json:"restore_id"`
	BackupID         string            `json:"backup_id"`
	StoreType        StoreType         `json:"store_type"`
	StartedAt        time.Time         `json:"started_at"`
	CompletedAt      time.Time         `json:"completed_at"`
	Outcome          RestoreOutcome    `json:"outcome"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	ValidationReport *ValidationReport `json:"validation_report,omitempty"`
}

// RetentionPolicy governs how long verified backups of a store type are
// kept before becoming eligible for purging. Purging is best-effort; a
// backup past retention stays restorable until actually deleted.
type RetentionPolicy struct {
	RetentionDays int `json:"retention_days"`
}

// DefaultRetentionDays is applied when a store type has no explicit policy.
const DefaultRetentionDays = 30

// CutoffTime returns the creation-time threshold below which verified
// records are expired, relative to now.
func (p RetentionPolicy) CutoffTime(now time.Time) time.Time {
	return now.UTC().AddDate(0, 0, -p.RetentionDays)
}

// CheckStatus is the pass/fail outcome of one validation check
type CheckStatus string

const (
	CheckStatusPassed CheckStatus = "passed"
	CheckStatusFailed CheckStatus = "failed"
)

// CheckResult is the outcome of a single validation check.
type CheckResult struct {
	Name            string      `json:"name"`
	StoreType       StoreType   `json:"store_type,omitempty"`
	Status          CheckStatus `json:"status"`
	Detail          string      `json:"detail,omitempty"`
	OffendingSample int         `json:"offending_sample,omitempty"`
}

// ValidationReport aggregates per-store and cross-store check results.
// It is advisory evidence for operators, never an automatic rollback
// trigger.
type ValidationReport struct {
	GeneratedAt time.Time                   `json:"generated_at"`
	Checks      []CheckResult               `json:"checks"`
	Counts      map[StoreType]CountSummary  `json:"counts,omitempty"`
	Baselines   map[StoreType]CountSummary  `json:"baselines,omitempty"`
	Duration    time.Duration               `json:"duration"`
}

// CountSummary maps named collections (tables, labels, vector
// collections) to their element counts.
type CountSummary map[string]int64

// Total returns the sum of all counts in the summary.
func (c CountSummary) Total() int64 {
	var total int64
	for _, v := range c {
		total += v
	}
	return total
}

// Passed reports whether every check in the report passed.
func (vr *ValidationReport) Passed() bool {
	for _, check := range vr.Checks {
		if check.Status != CheckStatusPassed {
			return false
		}
	}
	return true
}

// FailedChecks returns the subset of checks that failed.
func (vr *ValidationReport) FailedChecks() []CheckResult {
	var failed []CheckResult
	for _, check := range vr.Checks {
		if check.Status == CheckStatusFailed {
			failed = append(failed, check)
		}
	}
	return failed
}

// BackupFilter narrows catalog listings.
type BackupFilter struct {
	StoreType StoreType
	Status    BackupStatus
	Limit     int
}
