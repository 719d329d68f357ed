package backup

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/lamallamadel/brainego-sub004/internal/logging"
)

// IntegrityChecker runs post-restore validation for one store type. The
// report is advisory: a failed check is surfaced to operators but never
// rolls a restore back automatically.
type IntegrityChecker interface {
	ValidateStore(ctx context.Context, storeType StoreType) *ValidationReport
}

// RestoreRequest describes one restore invocation.
type RestoreRequest struct {
	// StoreTypes are the stores to restore. Multiple types are restored
	// sequentially in the fixed order relational, graph, vector.
	StoreTypes []StoreType

	// BackupID selects an explicit backup instead of the latest verified
	// one. It is only valid with a single requested store type.
	BackupID string

	// ValidateOnly skips the restore entirely and runs only the
	// integrity checks against the current live stores. No restore
	// event is recorded.
	ValidateOnly bool
}

// RestoreResult aggregates the events and validation reports of one
// restore invocation.
type RestoreResult struct {
	Events  []*RestoreEvent
	Reports map[StoreType]*ValidationReport
}

// Succeeded reports whether every attempted restore succeeded.
func (r *RestoreResult) Succeeded() bool {
	if len(r.Events) == 0 {
		return false
	}
	for _, event := range r.Events {
		if event.Outcome != RestoreOutcomeSucceeded {
			return false
		}
	}
	return true
}

// ValidationPassed reports whether every validation report passed.
func (r *RestoreResult) ValidationPassed() bool {
	for _, report := range r.Reports {
		if report != nil && !report.Passed() {
			return false
		}
	}
	return true
}

// RestoreOrchestrator drives restores: it resolves the source backup,
// downloads and re-verifies the artifact, applies it through the store
// adapter under the store's lock, and records the outcome. A failed
// restore is never auto-retried; the store is left in an unknown state
// for manual intervention.
type RestoreOrchestrator struct {
	adapters  map[StoreType]StoreAdapter
	blobStore BlobStore
	catalog   Catalog
	locks     *StoreLocks
	validator IntegrityChecker
	clock     Clock
	logger    *logging.Logger
}

// NewRestoreOrchestrator wires a restore orchestrator. The validator may
// be nil, in which case restores skip post-restore validation.
func NewRestoreOrchestrator(
	adapters map[StoreType]StoreAdapter,
	blobStore BlobStore,
	catalog Catalog,
	locks *StoreLocks,
	validator IntegrityChecker,
	clock Clock,
	logger *logging.Logger,
) (*RestoreOrchestrator, error) {
	if len(adapters) == 0 {
		return nil, NewConfigurationError("restore orchestrator requires at least one adapter", nil)
	}
	if blobStore == nil || catalog == nil {
		return nil, NewConfigurationError("restore orchestrator requires a blob store and a catalog", nil)
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

	return &RestoreOrchestrator{
		adapters:  adapters,
		blobStore: blobStore,
		catalog:   catalog,
		locks:     locks,
		validator: validator,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Restore executes the request. Multiple store types restore
// sequentially in the fixed relational, graph, vector order; a failure
// aborts the remaining stores so operators inspect before continuing.
func (ro *RestoreOrchestrator) Restore(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	storeTypes, err := ro.resolveStoreTypes(req)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{
		Reports: make(map[StoreType]*ValidationReport),
	}

	if req.ValidateOnly {
		for _, storeType := range storeTypes {
			result.Reports[storeType] = ro.validate(ctx, storeType)
		}
		return result, nil
	}

	for i, storeType := range storeTypes {
		record, err := ro.resolveRecord(ctx, storeType, req.BackupID)
		if err != nil {
			return result, err
		}

		event, restoreErr := ro.restoreStore(ctx, storeType, record)
		result.Events = append(result.Events, event)
		if event.ValidationReport != nil {
			result.Reports[storeType] = event.ValidationReport
		}

		if err := ro.catalog.RecordRestoreEvent(context.WithoutCancel(ctx), event); err != nil {
			ro.logger.Errorf("Failed to record restore event %s: %v", event.RestoreID, err)
		}

		if restoreErr != nil {
			for _, skipped := range storeTypes[i+1:] {
				ro.logger.Warnf("Skipping %s store restore after %s store failure", skipped, storeType)
			}
			return result, restoreErr
		}
	}

	return result, nil
}

// resolveStoreTypes validates the requested store types and returns them
// in the canonical restore order.
func (ro *RestoreOrchestrator) resolveStoreTypes(req RestoreRequest) ([]StoreType, error) {
	if len(req.StoreTypes) == 0 {
		return nil, NewConfigurationError("restore requires at least one store type", nil)
	}
	if req.BackupID != "" && len(req.StoreTypes) > 1 {
		return nil, NewConfigurationError("an explicit backup ID restores a single store type", nil)
	}

	requested := make(map[StoreType]bool, len(req.StoreTypes))
	for _, storeType := range req.StoreTypes {
		if !storeType.IsValid() {
			return nil, NewConfigurationError(fmt.Sprintf("unknown store type: %q", storeType), nil)
		}
		if _, ok := ro.adapters[storeType]; !ok {
			return nil, NewConfigurationError(fmt.Sprintf("no adapter configured for the %s store", storeType), nil)
		}
		requested[storeType] = true
	}

	ordered := make([]StoreType, 0, len(requested))
	for _, storeType := range AllStoreTypes {
		if requested[storeType] {
			ordered = append(ordered, storeType)
		}
	}
	return ordered, nil
}

// resolveRecord finds the restore source: the explicit backup ID when
// given, else the latest verified backup for the store type.
func (ro *RestoreOrchestrator) resolveRecord(ctx context.Context, storeType StoreType, backupID string) (*BackupRecord, error) {
	if backupID == "" {
		record, err := ro.catalog.LatestVerified(ctx, storeType)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, NewNotFoundError(fmt.Sprintf("no verified backup exists for the %s store", storeType), nil)
		}
		return record, nil
	}

	record, err := ro.catalog.GetRecord(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if record.StoreType != storeType {
		return nil, NewConfigurationError(
			fmt.Sprintf("backup %s belongs to the %s store, not %s", backupID, record.StoreType, storeType), nil)
	}
	if !record.IsRestorable() {
		return nil, NewNotFoundError(
			fmt.Sprintf("backup %s is %s and cannot be restored", backupID, record.Status), nil)
	}
	return record, nil
}

// restoreStore runs one store's download/apply/validate sequence under
// the store lock and returns the event describing it.
func (ro *RestoreOrchestrator) restoreStore(ctx context.Context, storeType StoreType, record *BackupRecord) (*RestoreEvent, error) {
	event := &RestoreEvent{
		RestoreID: uuid.New().String(),
		BackupID:  record.BackupID,
		StoreType: storeType,
		StartedAt: ro.clock.Now(),
	}

	err := ro.applyBackup(ctx, storeType, record)
	event.CompletedAt = ro.clock.Now()
	ro.logger.LogRestore(string(storeType), record.BackupID, event.CompletedAt.Sub(event.StartedAt), err)

	if err != nil {
		if IsBusy(err) {
			event.Outcome = RestoreOutcomeAborted
		} else {
			event.Outcome = RestoreOutcomeFailed
		}
		event.ErrorMessage = err.Error()
		return event, err
	}

	event.Outcome = RestoreOutcomeSucceeded
	event.ValidationReport = ro.validate(ctx, storeType)
	return event, nil
}

// applyBackup downloads the artifact with checksum re-verification and
// applies it through the adapter. The adapter call is never retried: a
// failed restore leaves the store in an unknown state.
func (ro *RestoreOrchestrator) applyBackup(ctx context.Context, storeType StoreType, record *BackupRecord) error {
	release, err := ro.locks.Acquire(ctx, storeType)
	if err != nil {
		return err
	}
	defer release()

	localPath, err := ro.blobStore.Get(ctx, record.StorageKey, record.Checksum)
	if err != nil {
		return err
	}
	defer os.Remove(localPath)

	return ro.adapters[storeType].Restore(ctx, localPath)
}

// validate runs the integrity checker when one is configured.
func (ro *RestoreOrchestrator) validate(ctx context.Context, storeType StoreType) *ValidationReport {
	start := ro.clock.Now()
	if ro.validator == nil {
		return nil
	}

	report := ro.validator.ValidateStore(ctx, storeType)
	if report != nil {
		ro.logger.LogValidation(string(storeType), report.Passed(), len(report.Checks), ro.clock.Now().Sub(start))
	}
	return report
}
