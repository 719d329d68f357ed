package backup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStoreType(t *testing.T) {
	tests := []struct {
		input   string
		want    StoreType
		wantErr bool
	}{
		{"vector", StoreTypeVector, false},
		{"graph", StoreTypeGraph, false},
		{"relational", StoreTypeRelational, false},
		{"document", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStoreType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestNewBackupRecord(t *testing.T) {
	createdAt := time.Date(2026, 8, 15, 2, 0, 0, 0, time.UTC)
	record := NewBackupRecord(StoreTypeGraph, createdAt)

	assert.Equal(t, "graph_20260815T020000Z", record.BackupID)
	assert.Equal(t, StoreTypeGraph, record.StoreType)
	assert.Equal(t, BackupStatusPending, record.Status)
	assert.Equal(t, "graph/2026/08/15/graph_20260815T020000Z.dump", record.StorageKey)
	assert.Empty(t, record.Checksum)
}

func TestNewBackupRecord_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC-4", -4*60*60)
	createdAt := time.Date(2026, 8, 14, 22, 0, 0, 0, loc)
	record := NewBackupRecord(StoreTypeVector, createdAt)

	assert.Equal(t, "vector_20260815T020000Z", record.BackupID)
	assert.Equal(t, "vector/2026/08/15/vector_20260815T020000Z.snapshot", record.StorageKey)
}

func TestStorageKeyFor_Extensions(t *testing.T) {
	createdAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		storeType StoreType
		suffix    string
	}{
		{StoreTypeVector, ".snapshot"},
		{StoreTypeGraph, ".dump"},
		{StoreTypeRelational, ".sql.zst"},
	}

	for _, tt := range tests {
		t.Run(string(tt.storeType), func(t *testing.T) {
			key := StorageKeyFor(tt.storeType, "id", createdAt)
			assert.Contains(t, key, string(tt.storeType)+"/2026/01/02/")
			assert.True(t, len(key) > len(tt.suffix))
			assert.Equal(t, tt.suffix, key[len(key)-len(tt.suffix):])
		})
	}
}

func TestBackupStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    BackupStatus
		to      BackupStatus
		allowed bool
	}{
		{BackupStatusPending, BackupStatusUploading, true},
		{BackupStatusPending, BackupStatusFailed, true},
		{BackupStatusPending, BackupStatusVerified, true},
		{BackupStatusUploading, BackupStatusVerified, true},
		{BackupStatusUploading, BackupStatusFailed, true},
		{BackupStatusUploading, BackupStatusPending, false},
		{BackupStatusVerified, BackupStatusPurged, true},
		{BackupStatusVerified, BackupStatusFailed, false},
		{BackupStatusFailed, BackupStatusVerified, false},
		{BackupStatusFailed, BackupStatusPurged, false},
		{BackupStatusPurged, BackupStatusVerified, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestBackupRecord_IsRestorable(t *testing.T) {
	record := NewBackupRecord(StoreTypeRelational, time.Now())
	assert.False(t, record.IsRestorable())

	record.Status = BackupStatusVerified
	assert.False(t, record.IsRestorable(), "verified without checksum is not restorable")

	record.Checksum = "abc123"
	assert.True(t, record.IsRestorable())

	record.Status = BackupStatusPurged
	assert.False(t, record.IsRestorable())
}

func TestBackupRecord_Validate(t *testing.T) {
	valid := NewBackupRecord(StoreTypeVector, time.Now())
	assert.NoError(t, valid.Validate())

	missingID := *valid
	missingID.BackupID = ""
	assert.Error(t, missingID.Validate())

	badType := *valid
	badType.StoreType = "document"
	assert.Error(t, badType.Validate())

	missingKey := *valid
	missingKey.StorageKey = ""
	assert.Error(t, missingKey.Validate())

	verifiedNoChecksum := *valid
	verifiedNoChecksum.Status = BackupStatusVerified
	assert.Error(t, verifiedNoChecksum.Validate())
}

func TestRetentionPolicy_CutoffTime(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	policy := RetentionPolicy{RetentionDays: 30}
	assert.Equal(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), policy.CutoffTime(now))

	// Zero days means every verified backup is already past retention.
	zero := RetentionPolicy{RetentionDays: 0}
	assert.Equal(t, now, zero.CutoffTime(now))
}

func TestCountSummary_Total(t *testing.T) {
	summary := CountSummary{"users": 100, "documents": 250, "empty": 0}
	assert.Equal(t, int64(350), summary.Total())
	assert.Equal(t, int64(0), CountSummary{}.Total())
}

func TestValidationReport_PassedAndFailedChecks(t *testing.T) {
	report := &ValidationReport{
		Checks: []CheckResult{
			{Name: "health_check", Status: CheckStatusPassed},
			{Name: "count_drift", Status: CheckStatusFailed, Detail: "users shrank"},
		},
	}

	assert.False(t, report.Passed())
	failed := report.FailedChecks()
	require.Len(t, failed, 1)
	assert.Equal(t, "count_drift", failed[0].Name)

	allPassed := &ValidationReport{
		Checks: []CheckResult{{Name: "health_check", Status: CheckStatusPassed}},
	}
	assert.True(t, allPassed.Passed())
	assert.Empty(t, allPassed.FailedChecks())
}
