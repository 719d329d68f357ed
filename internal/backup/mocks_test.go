package backup

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock is a deterministic Clock for scheduler and orchestrator
// tests. After() delivers immediately through a channel the test
// controls.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers chan chan time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now, timers: make(chan chan time.Time, 16)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.timers <- ch
	return ch
}

// fire unblocks the most recently created timer, advancing the clock
// past its deadline.
func (c *fakeClock) fire(t *testing.T) {
	select {
	case ch := <-c.timers:
		ch <- c.Now()
	case <-time.After(5 * time.Second):
		t.Fatal("no pending timer to fire")
	}
}

// fakeAdapter is a scriptable StoreAdapter.
type fakeAdapter struct {
	storeType StoreType

	snapshotFunc func(ctx context.Context) (string, int64, error)
	restoreFunc  func(ctx context.Context, artifactPath string) error
	healthFunc   func(ctx context.Context) (bool, string)
	countsFunc   func(ctx context.Context) (CountSummary, error)

	mu           sync.Mutex
	restoreCalls []string
}

func (f *fakeAdapter) StoreType() StoreType { return f.storeType }

func (f *fakeAdapter) CreateSnapshot(ctx context.Context) (string, int64, error) {
	if f.snapshotFunc != nil {
		return f.snapshotFunc(ctx)
	}
	return "", 0, NewAdapterFatalError("snapshot not scripted", nil)
}

func (f *fakeAdapter) Restore(ctx context.Context, artifactPath string) error {
	f.mu.Lock()
	f.restoreCalls = append(f.restoreCalls, artifactPath)
	f.mu.Unlock()
	if f.restoreFunc != nil {
		return f.restoreFunc(ctx, artifactPath)
	}
	return nil
}

func (f *fakeAdapter) HealthCheck(ctx context.Context) (bool, string) {
	if f.healthFunc != nil {
		return f.healthFunc(ctx)
	}
	return true, "ok"
}

func (f *fakeAdapter) CountSummary(ctx context.Context) (CountSummary, error) {
	if f.countsFunc != nil {
		return f.countsFunc(ctx)
	}
	return CountSummary{}, nil
}

func (f *fakeAdapter) restoredArtifacts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.restoreCalls...)
}

// writeTempArtifact creates a real file so cleanup paths can remove it.
func writeTempArtifact(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// fakeBlobStore is a scriptable BlobStore that records calls.
type fakeBlobStore struct {
	putFunc func(ctx context.Context, key, localPath string) (string, error)
	getFunc func(ctx context.Context, key, expectedChecksum string) (string, error)

	mu      sync.Mutex
	puts    []string
	gets    []string
	deletes []string

	deleteErr error
}

func (f *fakeBlobStore) Put(ctx context.Context, key, localPath string) (string, error) {
	f.mu.Lock()
	f.puts = append(f.puts, key)
	f.mu.Unlock()
	if f.putFunc != nil {
		return f.putFunc(ctx, key, localPath)
	}
	return "", NewStorageError("put not scripted", nil)
}

func (f *fakeBlobStore) Get(ctx context.Context, key, expectedChecksum string) (string, error) {
	f.mu.Lock()
	f.gets = append(f.gets, key)
	f.mu.Unlock()
	if f.getFunc != nil {
		return f.getFunc(ctx, key, expectedChecksum)
	}
	return "", NewStorageError("get not scripted", nil)
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	f.deletes = append(f.deletes, key)
	f.mu.Unlock()
	return f.deleteErr
}

func (f *fakeBlobStore) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeBlobStore) deletedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

// memCatalog is an in-memory Catalog used by orchestrator and restore
// tests. It enforces the same transition guards as the SQL
// implementation.
type memCatalog struct {
	mu        sync.Mutex
	records   map[string]*BackupRecord
	order     []string
	events    []*RestoreEvent
	baselines map[StoreType]CountSummary

	createErr error
	purgeLog  []string
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		records:   make(map[string]*BackupRecord),
		baselines: make(map[StoreType]CountSummary),
	}
}

func (m *memCatalog) CreateRecord(ctx context.Context, record *BackupRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, exists := m.records[record.BackupID]; exists {
		return NewCatalogError("duplicate backup ID", nil)
	}
	for _, existing := range m.records {
		if existing.StoreType == record.StoreType &&
			(existing.Status == BackupStatusPending || existing.Status == BackupStatusUploading) {
			return NewLockContentionError("cycle already in flight", nil)
		}
	}
	copied := *record
	m.records[record.BackupID] = &copied
	m.order = append(m.order, record.BackupID)
	return nil
}

func (m *memCatalog) transition(backupID string, next BackupStatus, mutate func(*BackupRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[backupID]
	if !ok {
		return NewNotFoundError("record not found", nil)
	}
	if !record.Status.CanTransitionTo(next) {
		return NewCatalogError("illegal transition", nil)
	}
	if mutate != nil {
		mutate(record)
	}
	record.Status = next
	return nil
}

func (m *memCatalog) MarkUploading(ctx context.Context, backupID string) error {
	return m.transition(backupID, BackupStatusUploading, nil)
}

func (m *memCatalog) MarkVerified(ctx context.Context, backupID, checksum string, sizeBytes int64) error {
	return m.transition(backupID, BackupStatusVerified, func(r *BackupRecord) {
		r.Checksum = checksum
		r.SizeBytes = sizeBytes
	})
}

func (m *memCatalog) MarkFailed(ctx context.Context, backupID, errorMessage string) error {
	return m.transition(backupID, BackupStatusFailed, func(r *BackupRecord) {
		r.ErrorMessage = errorMessage
	})
}

func (m *memCatalog) MarkPurged(ctx context.Context, backupID string) error {
	err := m.transition(backupID, BackupStatusPurged, nil)
	if err == nil {
		m.mu.Lock()
		m.purgeLog = append(m.purgeLog, backupID)
		m.mu.Unlock()
	}
	return err
}

func (m *memCatalog) GetRecord(ctx context.Context, backupID string) (*BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[backupID]
	if !ok {
		return nil, NewNotFoundError("record not found", nil)
	}
	copied := *record
	return &copied, nil
}

func (m *memCatalog) ListByType(ctx context.Context, filter BackupFilter) ([]*BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*BackupRecord
	for i := len(m.order) - 1; i >= 0; i-- {
		record := m.records[m.order[i]]
		if filter.StoreType != "" && record.StoreType != filter.StoreType {
			continue
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		copied := *record
		out = append(out, &copied)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *memCatalog) LatestVerified(ctx context.Context, storeType StoreType) (*BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		record := m.records[m.order[i]]
		if record.StoreType == storeType && record.Status == BackupStatusVerified {
			copied := *record
			return &copied, nil
		}
	}
	return nil, NewNotFoundError("no verified backup", nil)
}

func (m *memCatalog) ListExpired(ctx context.Context, storeType StoreType, cutoff time.Time) ([]*BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*BackupRecord
	for _, id := range m.order {
		record := m.records[id]
		if record.StoreType == storeType && record.Status == BackupStatusVerified && record.CreatedAt.Before(cutoff) {
			copied := *record
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memCatalog) RecordRestoreEvent(ctx context.Context, event *RestoreEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *event
	m.events = append(m.events, &copied)
	return nil
}

func (m *memCatalog) ListRestoreEvents(ctx context.Context, limit int) ([]*RestoreEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*RestoreEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		copied := *m.events[i]
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memCatalog) SaveCountBaseline(ctx context.Context, storeType StoreType, counts CountSummary, takenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make(CountSummary, len(counts))
	for k, v := range counts {
		copied[k] = v
	}
	m.baselines[storeType] = copied
	return nil
}

func (m *memCatalog) GetCountBaseline(ctx context.Context, storeType StoreType) (CountSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	baseline, ok := m.baselines[storeType]
	if !ok {
		return nil, nil
	}
	copied := make(CountSummary, len(baseline))
	for k, v := range baseline {
		copied[k] = v
	}
	return copied, nil
}

func (m *memCatalog) recordByID(t *testing.T, backupID string) *BackupRecord {
	t.Helper()
	record, err := m.GetRecord(context.Background(), backupID)
	require.NoError(t, err)
	return record
}

// fakeChecker is a scriptable IntegrityChecker.
type fakeChecker struct {
	reports map[StoreType]*ValidationReport
	calls   []StoreType
}

func (f *fakeChecker) ValidateStore(ctx context.Context, storeType StoreType) *ValidationReport {
	f.calls = append(f.calls, storeType)
	if report, ok := f.reports[storeType]; ok {
		return report
	}
	return &ValidationReport{Checks: []CheckResult{{Name: "health_check", StoreType: storeType, Status: CheckStatusPassed}}}
}
