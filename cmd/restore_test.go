package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lamallamadel/brainego-sub004/internal/backup"
)

func TestRestoreExitCode(t *testing.T) {
	passing := &backup.ValidationReport{
		Checks: []backup.CheckResult{{Name: "health_check", Status: backup.CheckStatusPassed}},
	}
	failing := &backup.ValidationReport{
		Checks: []backup.CheckResult{{Name: "count_comparison", Status: backup.CheckStatusFailed}},
	}

	tests := []struct {
		name   string
		result *backup.RestoreResult
		want   int
	}{
		{
			name: "restore succeeded and validation passed",
			result: &backup.RestoreResult{
				Events:  []*backup.RestoreEvent{{Outcome: backup.RestoreOutcomeSucceeded}},
				Reports: map[backup.StoreType]*backup.ValidationReport{backup.StoreTypeGraph: passing},
			},
			want: 0,
		},
		{
			name: "restore succeeded but validation failed",
			result: &backup.RestoreResult{
				Events:  []*backup.RestoreEvent{{Outcome: backup.RestoreOutcomeSucceeded}},
				Reports: map[backup.StoreType]*backup.ValidationReport{backup.StoreTypeGraph: failing},
			},
			want: 1,
		},
		{
			name: "validate-only with a failing check",
			result: &backup.RestoreResult{
				Reports: map[backup.StoreType]*backup.ValidationReport{backup.StoreTypeVector: failing},
			},
			want: 1,
		},
		{
			name:   "no validator configured",
			result: &backup.RestoreResult{Events: []*backup.RestoreEvent{{Outcome: backup.RestoreOutcomeSucceeded}}},
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, restoreExitCode(tt.result))
		})
	}
}
