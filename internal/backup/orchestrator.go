package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lamallamadel/brainego-sub004/internal/logging"
)

// OrchestratorConfig tunes a backup orchestrator instance.
type OrchestratorConfig struct {
	// EnabledStores are the store types included in each cycle.
	EnabledStores []StoreType

	// Retention maps store types to their retention policies. Store
	// types without an entry use the default retention.
	Retention map[StoreType]RetentionPolicy

	// MaxParallel bounds how many stores back up concurrently. Store
	// type locks are independent, so parallel cycles are safe.
	MaxParallel int

	// OperationTimeout is the watchdog deadline for one store's
	// snapshot-and-upload sequence. A stuck engine fails its own store
	// without delaying the others.
	OperationTimeout time.Duration

	// QuarantineDir receives local artifacts whose upload failed
	// checksum verification.
	QuarantineDir string
}

// StoreCycleResult is the outcome of one store's backup within a cycle.
type StoreCycleResult struct {
	StoreType StoreType     `json:"store_type"`
	BackupID  string        `json:"backup_id,omitempty"`
	Status    BackupStatus  `json:"status,omitempty"`
	Busy      bool          `json:"busy,omitempty"`
	Err       error         `json:"-"`
	Duration  time.Duration `json:"duration"`
}

// CycleResult aggregates one backup cycle across all enabled stores.
type CycleResult struct {
	StartedAt  time.Time                        `json:"started_at"`
	FinishedAt time.Time                        `json:"finished_at"`
	Stores     map[StoreType]*StoreCycleResult  `json:"stores"`
	Purged     map[StoreType]int                `json:"purged"`
}

// AllVerified reports whether every enabled store reached verified.
func (r *CycleResult) AllVerified() bool {
	if len(r.Stores) == 0 {
		return false
	}
	for _, store := range r.Stores {
		if store.Status != BackupStatusVerified {
			return false
		}
	}
	return true
}

// Summary renders a one-line outcome for logs.
func (r *CycleResult) Summary() string {
	types := make([]string, 0, len(r.Stores))
	for storeType := range r.Stores {
		types = append(types, string(storeType))
	}
	sort.Strings(types)

	parts := make([]string, 0, len(types))
	for _, storeType := range types {
		store := r.Stores[StoreType(storeType)]
		switch {
		case store.Busy:
			parts = append(parts, storeType+"=busy")
		case store.Err != nil:
			parts = append(parts, storeType+"=failed")
		default:
			parts = append(parts, fmt.Sprintf("%s=%s", storeType, store.Status))
		}
	}

	return strings.Join(parts, ", ")
}

// Orchestrator runs backup cycles: per enabled store it snapshots,
// uploads with checksum verification, records the outcome in the
// catalog, and finally applies retention. Store failures are isolated;
// one store's failure never aborts its siblings.
type Orchestrator struct {
	adapters  map[StoreType]StoreAdapter
	blobStore BlobStore
	catalog   Catalog
	locks     *StoreLocks
	clock     Clock
	config    OrchestratorConfig
	logger    *logging.Logger
}

// NewOrchestrator wires an orchestrator. Every enabled store type must
// have an adapter.
func NewOrchestrator(
	adapters map[StoreType]StoreAdapter,
	blobStore BlobStore,
	catalog Catalog,
	locks *StoreLocks,
	clock Clock,
	config OrchestratorConfig,
	logger *logging.Logger,
) (*Orchestrator, error) {
	if len(config.EnabledStores) == 0 {
		return nil, NewConfigurationError("orchestrator requires at least one enabled store", nil)
	}
	for _, storeType := range config.EnabledStores {
		if !storeType.IsValid() {
			return nil, NewConfigurationError(fmt.Sprintf("unknown store type: %q", storeType), nil)
		}
		if _, ok := adapters[storeType]; !ok {
			return nil, NewConfigurationError(fmt.Sprintf("no adapter configured for the %s store", storeType), nil)
		}
	}
	if blobStore == nil || catalog == nil {
		return nil, NewConfigurationError("orchestrator requires a blob store and a catalog", nil)
	}
	if locks == nil {
		locks = NewStoreLocks(0)
	}
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if config.MaxParallel <= 0 {
		config.MaxParallel = len(config.EnabledStores)
	}
	if config.OperationTimeout <= 0 {
		config.OperationTimeout = 2 * time.Hour
	}

	return &Orchestrator{
		adapters:  adapters,
		blobStore: blobStore,
		catalog:   catalog,
		locks:     locks,
		clock:     clock,
		config:    config,
		logger:    logger,
	}, nil
}

// Locks exposes the shared per-store-type lock set so the restore path
// can contend on the same locks.
func (o *Orchestrator) Locks() *StoreLocks {
	return o.locks
}

// RunCycle backs up every enabled store with bounded parallelism, then
// applies retention per store type. Stores have no cross dependency;
// order is irrelevant.
func (o *Orchestrator) RunCycle(ctx context.Context) *CycleResult {
	result := &CycleResult{
		StartedAt: o.clock.Now(),
		Stores:    make(map[StoreType]*StoreCycleResult, len(o.config.EnabledStores)),
		Purged:    make(map[StoreType]int),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.config.MaxParallel)

	results := make([]*StoreCycleResult, len(o.config.EnabledStores))
	for i, storeType := range o.config.EnabledStores {
		i, storeType := i, storeType
		group.Go(func() error {
			results[i] = o.backupStore(groupCtx, storeType)
			// Failures are isolated per store; never propagate an error
			// that would cancel sibling stores through the group.
			return nil
		})
	}
	group.Wait()

	for _, storeResult := range results {
		result.Stores[storeResult.StoreType] = storeResult
	}

	for _, storeType := range o.config.EnabledStores {
		purged := o.applyRetention(ctx, storeType)
		result.Purged[storeType] += purged
	}

	result.FinishedAt = o.clock.Now()
	return result
}

// backupStore runs the full snapshot/upload/verify sequence for one
// store under its lock and watchdog deadline.
func (o *Orchestrator) backupStore(ctx context.Context, storeType StoreType) *StoreCycleResult {
	start := o.clock.Now()
	storeResult := &StoreCycleResult{StoreType: storeType}
	defer func() { storeResult.Duration = o.clock.Now().Sub(start) }()

	release, err := o.locks.Acquire(ctx, storeType)
	if err != nil {
		o.logger.Warnf("Skipping %s store backup: %v", storeType, err)
		storeResult.Busy = IsBusy(err)
		storeResult.Err = err
		return storeResult
	}
	defer release()

	record := NewBackupRecord(storeType, o.clock.Now())
	storeResult.BackupID = record.BackupID

	if err := o.catalog.CreateRecord(ctx, record); err != nil {
		o.logger.Errorf("Failed to create catalog record for %s store: %v", storeType, err)
		storeResult.Busy = IsBusy(err)
		storeResult.Err = err
		return storeResult
	}

	// Watchdog: a stuck engine fails this store's operation without
	// delaying the other stores' scheduled cycles.
	opCtx, cancel := context.WithTimeout(ctx, o.config.OperationTimeout)
	defer cancel()

	err = o.snapshotAndUpload(opCtx, storeType, record)
	if err != nil {
		// Catalog writes during cleanup must survive cancellation so a
		// cancelled cycle ends failed, never pending.
		o.markFailed(context.WithoutCancel(ctx), record.BackupID, err)
		storeResult.Status = BackupStatusFailed
		storeResult.Err = err
		return storeResult
	}

	storeResult.Status = BackupStatusVerified
	o.saveBaseline(ctx, storeType)
	return storeResult
}

// snapshotAndUpload drives one store's adapter and the blob store, and
// marks the record verified on success. The local artifact is deleted
// on every path to bound disk usage; an artifact implicated in a
// checksum mismatch is quarantined instead of discarded.
func (o *Orchestrator) snapshotAndUpload(ctx context.Context, storeType StoreType, record *BackupRecord) error {
	adapter := o.adapters[storeType]

	snapshotStart := o.clock.Now()
	artifactPath, sizeBytes, err := adapter.CreateSnapshot(ctx)
	o.logger.LogSnapshotCreation(string(storeType), artifactPath, sizeBytes, o.clock.Now().Sub(snapshotStart), err)
	if err != nil {
		// A partially written artifact is discarded, never uploaded.
		if artifactPath != "" {
			os.Remove(artifactPath)
		}
		return err
	}
	defer os.Remove(artifactPath)

	if err := o.catalog.MarkUploading(ctx, record.BackupID); err != nil {
		return err
	}

	checksum, err := o.blobStore.Put(ctx, record.StorageKey, artifactPath)
	if err != nil {
		if IsChecksumMismatch(err) {
			o.quarantineArtifact(storeType, artifactPath)
		}
		return err
	}

	// Independent local recompute: the catalog digest must come from
	// the artifact bytes on disk, not trust the upload path's hashing.
	localChecksum, err := localFileChecksum(artifactPath)
	if err != nil {
		return err
	}
	if localChecksum != checksum {
		o.quarantineArtifact(storeType, artifactPath)
		return NewChecksumMismatchError(
			fmt.Sprintf("local artifact digest for %s disagrees with uploaded digest", record.BackupID), nil).
			WithContext("local", localChecksum).
			WithContext("uploaded", checksum)
	}

	if err := o.catalog.MarkVerified(ctx, record.BackupID, checksum, sizeBytes); err != nil {
		return err
	}

	return nil
}

// applyRetention purges verified records older than the store's
// retention window: blob first, then catalog record, in that order.
// Purging is best-effort; failures are logged and retried next cycle.
func (o *Orchestrator) applyRetention(ctx context.Context, storeType StoreType) int {
	policy, ok := o.config.Retention[storeType]
	if !ok {
		policy = RetentionPolicy{RetentionDays: DefaultRetentionDays}
	}

	cutoff := policy.CutoffTime(o.clock.Now())
	expired, err := o.catalog.ListExpired(ctx, storeType, cutoff)
	if err != nil {
		o.logger.Errorf("Failed to list expired %s backups: %v", storeType, err)
		return 0
	}

	var purged int
	var errs []string
	for _, record := range expired {
		if err := o.blobStore.Delete(ctx, record.StorageKey); err != nil {
			errs = append(errs, fmt.Sprintf("delete blob %s: %v", record.StorageKey, err))
			continue
		}
		if err := o.catalog.MarkPurged(ctx, record.BackupID); err != nil {
			errs = append(errs, fmt.Sprintf("mark %s purged: %v", record.BackupID, err))
			continue
		}
		purged++
	}

	if len(expired) > 0 {
		o.logger.LogRetention(string(storeType), purged, policy.RetentionDays, errs)
	}

	return purged
}

// markFailed records a failure with a human-readable message, making it
// visible via list.
func (o *Orchestrator) markFailed(ctx context.Context, backupID string, cause error) {
	if err := o.catalog.MarkFailed(ctx, backupID, cause.Error()); err != nil {
		o.logger.Errorf("Failed to mark backup %s failed: %v", backupID, err)
	}
}

// saveBaseline refreshes the store's known-good count baseline after a
// verified backup. Best-effort; validation falls back to the previous
// baseline when this fails.
func (o *Orchestrator) saveBaseline(ctx context.Context, storeType StoreType) {
	counts, err := o.adapters[storeType].CountSummary(ctx)
	if err != nil {
		o.logger.Warnf("Failed to capture %s count baseline: %v", storeType, err)
		return
	}
	if err := o.catalog.SaveCountBaseline(ctx, storeType, counts, o.clock.Now()); err != nil {
		o.logger.Warnf("Failed to save %s count baseline: %v", storeType, err)
	}
}

// quarantineArtifact moves a mismatch-implicated artifact aside for
// inspection instead of discarding it with the normal cleanup.
func (o *Orchestrator) quarantineArtifact(storeType StoreType, artifactPath string) {
	if o.config.QuarantineDir == "" {
		return
	}
	if err := os.MkdirAll(o.config.QuarantineDir, 0o755); err != nil {
		o.logger.Warnf("Failed to create quarantine directory: %v", err)
		return
	}

	target := filepath.Join(o.config.QuarantineDir, filepath.Base(artifactPath))
	if err := os.Rename(artifactPath, target); err != nil {
		o.logger.Warnf("Failed to quarantine %s artifact %s: %v", storeType, artifactPath, err)
		return
	}

	o.logger.Warnf("Quarantined %s artifact at %s for inspection", storeType, target)
}

// localFileChecksum computes the hex SHA-256 of a local file.
func localFileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", NewStorageError("failed to open artifact for verification", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", NewStorageError("failed to hash artifact", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
