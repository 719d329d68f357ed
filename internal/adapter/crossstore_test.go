package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamallamadel/brainego-sub004/internal/backup"
)

func TestEntityReferenceRule_NameAndApplicability(t *testing.T) {
	rule := &EntityReferenceRule{}

	assert.Equal(t, "entity_reference", rule.Name())
	assert.True(t, rule.AppliesTo(backup.StoreTypeRelational))
	assert.True(t, rule.AppliesTo(backup.StoreTypeGraph))
	assert.False(t, rule.AppliesTo(backup.StoreTypeVector))
}

func TestEntityReferenceRule_SampleFailureFailsCheck(t *testing.T) {
	// Port 1 is never listening; the sample query fails immediately and
	// the rule must report a failed check rather than an error.
	relational, err := NewRelationalAdapter(&RelationalConfig{
		Host:     "127.0.0.1",
		Port:     1,
		Username: "backup",
		Database: "brainego",
		WorkDir:  t.TempDir(),
	}, nil)
	require.NoError(t, err)

	rule := &EntityReferenceRule{
		Relational: relational,
		Table:      "memories",
		Column:     "entity_id",
		Property:   "entity_id",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := rule.Check(ctx)
	assert.Equal(t, backup.CheckStatusFailed, result.Status)
	assert.Contains(t, result.Detail, "failed to sample memories.entity_id")
}
