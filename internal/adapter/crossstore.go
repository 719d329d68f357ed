package adapter

import (
	"context"
	"fmt"

	"github.com/lamallamadel/brainego-sub004/internal/backup"
)

// EntityReferenceRule samples entity identifiers from the relational
// store and verifies each one is represented by a node in the graph
// store. Orphaned graph references after a partial restore are the
// failure mode this catches.
type EntityReferenceRule struct {
	Relational *RelationalAdapter
	Graph      *GraphAdapter

	// Table and Column locate the entity identifiers in the relational
	// store.
	Table  string
	Column string

	// Property is the graph node property holding the identifier.
	Property string

	// SampleLimit bounds how many identifiers are checked per run.
	SampleLimit int
}

// Name implements backup.CrossStoreRule.
func (r *EntityReferenceRule) Name() string {
	return "entity_reference"
}

// AppliesTo runs the rule whenever either participating store was
// restored.
func (r *EntityReferenceRule) AppliesTo(storeType backup.StoreType) bool {
	return storeType == backup.StoreTypeRelational || storeType == backup.StoreTypeGraph
}

// Check implements backup.CrossStoreRule.
func (r *EntityReferenceRule) Check(ctx context.Context) backup.CheckResult {
	result := backup.CheckResult{Name: r.Name()}

	limit := r.SampleLimit
	if limit <= 0 {
		limit = 100
	}

	values, err := r.Relational.SampleColumnValues(ctx, r.Table, r.Column, limit)
	if err != nil {
		result.Status = backup.CheckStatusFailed
		result.Detail = fmt.Sprintf("failed to sample %s.%s: %v", r.Table, r.Column, err)
		return result
	}
	if len(values) == 0 {
		result.Status = backup.CheckStatusPassed
		result.Detail = fmt.Sprintf("%s.%s is empty, nothing to cross-check", r.Table, r.Column)
		return result
	}

	var missing int
	var firstMissing string
	for _, value := range values {
		exists, err := r.Graph.NodeExistsByProperty(ctx, r.Property, value)
		if err != nil {
			result.Status = backup.CheckStatusFailed
			result.Detail = fmt.Sprintf("failed to probe graph node %s=%q: %v", r.Property, value, err)
			return result
		}
		if !exists {
			if missing == 0 {
				firstMissing = value
			}
			missing++
		}
	}

	if missing > 0 {
		result.Status = backup.CheckStatusFailed
		result.Detail = fmt.Sprintf("%d of %d sampled %s.%s values have no graph node (first: %q)",
			missing, len(values), r.Table, r.Column, firstMissing)
		result.OffendingSample = missing
		return result
	}

	result.Status = backup.CheckStatusPassed
	result.Detail = fmt.Sprintf("%d sampled identifiers all present in the graph store", len(values))
	return result
}
