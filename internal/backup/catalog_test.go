package backup

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamallamadel/brainego-sub004/internal/logging"
)

func newMockCatalog(t *testing.T) (*SQLCatalog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLCatalogFromDB(db, logging.NewDefaultLogger()), mock
}

func backupRecordColumns() []string {
	return []string{"backup_id", "backup_type", "timestamp", "size_bytes", "checksum", "storage_key", "status", "error_message"}
}

func TestSQLCatalog_CreateRecord(t *testing.T) {
	catalog, mock := newMockCatalog(t)
	record := NewBackupRecord(StoreTypeVector, time.Date(2026, 8, 15, 2, 0, 0, 0, time.UTC))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM backup_history WHERE (.+) FOR UPDATE").
		WithArgs("vector").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO backup_history").
		WithArgs(record.BackupID, "vector", record.CreatedAt, int64(0), record.StorageKey, "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, catalog.CreateRecord(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCatalog_CreateRecord_RejectsInFlightCycle(t *testing.T) {
	catalog, mock := newMockCatalog(t)
	record := NewBackupRecord(StoreTypeGraph, time.Now().UTC())

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM backup_history WHERE (.+) FOR UPDATE").
		WithArgs("graph").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := catalog.CreateRecord(context.Background(), record)
	require.Error(t, err)
	assert.True(t, IsBusy(err), "an in-flight cycle surfaces as busy")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCatalog_CreateRecord_RejectsNonPending(t *testing.T) {
	catalog, _ := newMockCatalog(t)
	record := NewBackupRecord(StoreTypeVector, time.Now().UTC())
	record.Status = BackupStatusVerified
	record.Checksum = "abc"

	err := catalog.CreateRecord(context.Background(), record)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be pending")
}

func TestSQLCatalog_AcquireShared_TakesAndReleasesAdvisoryLock(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectQuery("SELECT GET_LOCK\\(\\?, \\?\\)").
		WithArgs("brainego_backup_vector", 10).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(1))
	mock.ExpectExec("DO RELEASE_LOCK\\(\\?\\)").
		WithArgs("brainego_backup_vector").
		WillReturnResult(sqlmock.NewResult(0, 0))

	release, err := catalog.AcquireShared(context.Background(), StoreTypeVector, 10*time.Second)
	require.NoError(t, err)

	release()
	release()

	assert.NoError(t, mock.ExpectationsWereMet(), "release must run RELEASE_LOCK exactly once")
}

func TestSQLCatalog_AcquireShared_HeldByAnotherProcess(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	// GET_LOCK returns 0 when the wait expired with another connection
	// still holding the lock.
	mock.ExpectQuery("SELECT GET_LOCK\\(\\?, \\?\\)").
		WithArgs("brainego_backup_graph", 0).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(0))

	_, err := catalog.AcquireShared(context.Background(), StoreTypeGraph, 0)
	require.Error(t, err)
	assert.True(t, IsBusy(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCatalog_AcquireShared_NullResultIsBusy(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	// GET_LOCK returns NULL on errors such as a killed connection.
	mock.ExpectQuery("SELECT GET_LOCK\\(\\?, \\?\\)").
		WithArgs("brainego_backup_relational", 10).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(nil))

	_, err := catalog.AcquireShared(context.Background(), StoreTypeRelational, 10*time.Second)
	require.Error(t, err)
	assert.True(t, IsBusy(err))
}

func TestSQLCatalog_MarkVerified(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectExec("UPDATE backup_history SET status = 'verified'").
		WithArgs("checksum123", int64(2048), "vector_20260815T020000Z").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := catalog.MarkVerified(context.Background(), "vector_20260815T020000Z", "checksum123", 2048)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCatalog_MarkVerified_GuardRejectsSecondWrite(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	// The guarded UPDATE matches no row when the record already carries
	// a checksum or is in a terminal state.
	mock.ExpectExec("UPDATE backup_history SET status = 'verified'").
		WithArgs("newsum", int64(10), "vector_20260815T020000Z").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := catalog.MarkVerified(context.Background(), "vector_20260815T020000Z", "newsum", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in a state allowing this transition")
}

func TestSQLCatalog_MarkVerified_RequiresChecksum(t *testing.T) {
	catalog, _ := newMockCatalog(t)
	err := catalog.MarkVerified(context.Background(), "id", "", 10)
	require.Error(t, err)
}

func TestSQLCatalog_MarkFailed(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectExec("UPDATE backup_history SET status = 'failed'").
		WithArgs("dump tool exited 1", "graph_20260815T020000Z").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, catalog.MarkFailed(context.Background(), "graph_20260815T020000Z", "dump tool exited 1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCatalog_MarkPurged_OnlyFromVerified(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectExec("UPDATE backup_history SET status = 'purged'").
		WithArgs("relational_20260701T020000Z").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := catalog.MarkPurged(context.Background(), "relational_20260701T020000Z")
	require.Error(t, err, "purging a non-verified record must fail")
}

func TestSQLCatalog_GetRecord(t *testing.T) {
	catalog, mock := newMockCatalog(t)
	createdAt := time.Date(2026, 8, 15, 2, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM backup_history WHERE backup_id").
		WithArgs("vector_20260815T020000Z").
		WillReturnRows(sqlmock.NewRows(backupRecordColumns()).
			AddRow("vector_20260815T020000Z", "vector", createdAt, int64(2048),
				"checksum123", "vector/2026/08/15/vector_20260815T020000Z.snapshot", "verified", nil))

	record, err := catalog.GetRecord(context.Background(), "vector_20260815T020000Z")
	require.NoError(t, err)
	assert.Equal(t, StoreTypeVector, record.StoreType)
	assert.Equal(t, BackupStatusVerified, record.Status)
	assert.Equal(t, "checksum123", record.Checksum)
	assert.Equal(t, int64(2048), record.SizeBytes)
	assert.True(t, record.IsRestorable())
}

func TestSQLCatalog_GetRecord_NotFound(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectQuery("SELECT (.+) FROM backup_history WHERE backup_id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := catalog.GetRecord(context.Background(), "missing")
	require.Error(t, err)

	var drErr *DRError
	require.ErrorAs(t, err, &drErr)
	assert.Equal(t, ErrTypeNotFound, drErr.Type)
}

func TestSQLCatalog_LatestVerified(t *testing.T) {
	catalog, mock := newMockCatalog(t)
	createdAt := time.Date(2026, 8, 14, 2, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM backup_history WHERE backup_type = \\? AND status = 'verified'").
		WithArgs("graph").
		WillReturnRows(sqlmock.NewRows(backupRecordColumns()).
			AddRow("graph_20260814T020000Z", "graph", createdAt, int64(512),
				"sum", "graph/2026/08/14/graph_20260814T020000Z.dump", "verified", nil))

	record, err := catalog.LatestVerified(context.Background(), StoreTypeGraph)
	require.NoError(t, err)
	assert.Equal(t, "graph_20260814T020000Z", record.BackupID)
}

func TestSQLCatalog_ListByType_Filters(t *testing.T) {
	catalog, mock := newMockCatalog(t)
	createdAt := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM backup_history WHERE backup_type = \\? AND status = \\? ORDER BY timestamp DESC LIMIT 5").
		WithArgs("vector", "failed").
		WillReturnRows(sqlmock.NewRows(backupRecordColumns()).
			AddRow("vector_a", "vector", createdAt, int64(0), nil, "key-a", "failed", "boom"))

	records, err := catalog.ListByType(context.Background(), BackupFilter{
		StoreType: StoreTypeVector,
		Status:    BackupStatusFailed,
		Limit:     5,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "boom", records[0].ErrorMessage)
	assert.Empty(t, records[0].Checksum)
}

func TestSQLCatalog_ListExpired(t *testing.T) {
	catalog, mock := newMockCatalog(t)
	cutoff := time.Date(2026, 7, 16, 2, 0, 0, 0, time.UTC)
	createdAt := time.Date(2026, 7, 1, 2, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM backup_history WHERE backup_type = \\? AND status = 'verified' AND timestamp <").
		WithArgs("relational", cutoff).
		WillReturnRows(sqlmock.NewRows(backupRecordColumns()).
			AddRow("relational_old", "relational", createdAt, int64(100), "sum", "key-old", "verified", nil))

	records, err := catalog.ListExpired(context.Background(), StoreTypeRelational, cutoff)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "relational_old", records[0].BackupID)
}

func TestSQLCatalog_RecordRestoreEvent(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	event := &RestoreEvent{
		RestoreID:   "550e8400-e29b-41d4-a716-446655440000",
		BackupID:    "graph_20260815T020000Z",
		StoreType:   StoreTypeGraph,
		StartedAt:   time.Date(2026, 8, 16, 9, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2026, 8, 16, 9, 5, 0, 0, time.UTC),
		Outcome:     RestoreOutcomeSucceeded,
		ValidationReport: &ValidationReport{
			Checks: []CheckResult{{Name: "health_check", Status: CheckStatusPassed}},
		},
	}

	mock.ExpectExec("INSERT INTO restore_events").
		WithArgs(event.RestoreID, event.BackupID, "graph", event.StartedAt, event.CompletedAt,
			"succeeded", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, catalog.RecordRestoreEvent(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCatalog_CountBaselineRoundTrip(t *testing.T) {
	catalog, mock := newMockCatalog(t)
	takenAt := time.Date(2026, 8, 15, 2, 10, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO count_baselines").
		WithArgs("vector", sqlmock.AnyArg(), takenAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, catalog.SaveCountBaseline(context.Background(), StoreTypeVector,
		CountSummary{"documents": 1000}, takenAt))

	mock.ExpectQuery("SELECT counts FROM count_baselines").
		WithArgs("vector").
		WillReturnRows(sqlmock.NewRows([]string{"counts"}).AddRow(`{"documents":1000}`))

	counts, err := catalog.GetCountBaseline(context.Background(), StoreTypeVector)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), counts["documents"])
}

func TestSQLCatalog_GetCountBaseline_NoneRecorded(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectQuery("SELECT counts FROM count_baselines").
		WithArgs("graph").
		WillReturnError(sql.ErrNoRows)

	counts, err := catalog.GetCountBaseline(context.Background(), StoreTypeGraph)
	require.NoError(t, err)
	assert.Nil(t, counts)
}
