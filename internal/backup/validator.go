package backup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lamallamadel/brainego-sub004/internal/logging"
)

// CrossStoreRule checks referential consistency between stores, for
// example that entities referenced by graph nodes still exist in the
// relational store. Rules are pluggable; the validator runs every rule
// that applies to the store type being validated.
type CrossStoreRule interface {
	// Name identifies the rule in check results.
	Name() string

	// AppliesTo reports whether the rule should run when the given
	// store type is validated.
	AppliesTo(storeType StoreType) bool

	// Check runs the rule and returns its result.
	Check(ctx context.Context) CheckResult
}

// ValidatorConfig tunes the integrity validator.
type ValidatorConfig struct {
	// CountTolerance is the fractional shrinkage allowed per collection
	// before the count-drift check fails. 0.05 tolerates a 5% drop,
	// which absorbs normal churn between the baseline capture and the
	// validation run.
	CountTolerance float64

	// HealthTimeout bounds each adapter health probe.
	HealthTimeout time.Duration
}

// DefaultCountTolerance absorbs routine churn between the baseline
// snapshot and the validation probe.
const DefaultCountTolerance = 0.05

// IntegrityValidator probes a restored store's health, compares its
// element counts against the last known-good baseline to detect
// truncated restores, and runs cross-store consistency rules. Its
// findings are advisory evidence for operators, never a rollback
// trigger.
type IntegrityValidator struct {
	adapters map[StoreType]StoreAdapter
	catalog  Catalog
	rules    []CrossStoreRule
	clock    Clock
	config   ValidatorConfig
	logger   *logging.Logger
}

// NewIntegrityValidator wires a validator over the given adapters.
func NewIntegrityValidator(
	adapters map[StoreType]StoreAdapter,
	catalog Catalog,
	rules []CrossStoreRule,
	clock Clock,
	config ValidatorConfig,
	logger *logging.Logger,
) *IntegrityValidator {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if config.CountTolerance <= 0 {
		config.CountTolerance = DefaultCountTolerance
	}
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = 30 * time.Second
	}

	return &IntegrityValidator{
		adapters: adapters,
		catalog:  catalog,
		rules:    rules,
		clock:    clock,
		config:   config,
		logger:   logger,
	}
}

// ValidateStore runs all checks for one store type and returns the
// report. Validation never errors out as a whole: a check that cannot
// run is recorded as failed with the reason in its detail.
func (v *IntegrityValidator) ValidateStore(ctx context.Context, storeType StoreType) *ValidationReport {
	start := v.clock.Now()
	report := &ValidationReport{
		GeneratedAt: start,
		Counts:      make(map[StoreType]CountSummary),
		Baselines:   make(map[StoreType]CountSummary),
	}

	adapter, ok := v.adapters[storeType]
	if !ok {
		report.Checks = append(report.Checks, CheckResult{
			Name:      "health_check",
			StoreType: storeType,
			Status:    CheckStatusFailed,
			Detail:    fmt.Sprintf("no adapter configured for the %s store", storeType),
		})
		report.Duration = v.clock.Now().Sub(start)
		return report
	}

	report.Checks = append(report.Checks, v.healthCheck(ctx, storeType, adapter))
	report.Checks = append(report.Checks, v.countDriftCheck(ctx, storeType, adapter, report))

	for _, rule := range v.rules {
		if !rule.AppliesTo(storeType) {
			continue
		}
		result := rule.Check(ctx)
		if result.Name == "" {
			result.Name = rule.Name()
		}
		report.Checks = append(report.Checks, result)
	}

	report.Duration = v.clock.Now().Sub(start)
	return report
}

// healthCheck probes the store engine's health endpoint.
func (v *IntegrityValidator) healthCheck(ctx context.Context, storeType StoreType, adapter StoreAdapter) CheckResult {
	probeCtx, cancel := context.WithTimeout(ctx, v.config.HealthTimeout)
	defer cancel()

	result := CheckResult{Name: "health_check", StoreType: storeType}
	ok, details := adapter.HealthCheck(probeCtx)
	if ok {
		result.Status = CheckStatusPassed
		result.Detail = details
	} else {
		result.Status = CheckStatusFailed
		result.Detail = details
	}
	return result
}

// countDriftCheck compares the store's current counts against the last
// known-good baseline. A collection that shrank beyond the tolerance or
// vanished entirely indicates a truncated restore.
func (v *IntegrityValidator) countDriftCheck(ctx context.Context, storeType StoreType, adapter StoreAdapter, report *ValidationReport) CheckResult {
	result := CheckResult{Name: "count_drift", StoreType: storeType}

	counts, err := adapter.CountSummary(ctx)
	if err != nil {
		result.Status = CheckStatusFailed
		result.Detail = fmt.Sprintf("failed to read counts: %v", err)
		return result
	}
	report.Counts[storeType] = counts

	baseline, err := v.catalog.GetCountBaseline(ctx, storeType)
	if err != nil {
		result.Status = CheckStatusFailed
		result.Detail = fmt.Sprintf("failed to load count baseline: %v", err)
		return result
	}
	if baseline == nil {
		// No baseline yet: nothing to compare against. This is normal
		// for a store's first cycle.
		result.Status = CheckStatusPassed
		result.Detail = "no baseline recorded yet"
		return result
	}
	report.Baselines[storeType] = baseline

	var drifted []string
	for _, name := range sortedKeys(baseline) {
		expected := baseline[name]
		if expected == 0 {
			continue
		}
		current, exists := counts[name]
		floor := int64(float64(expected) * (1.0 - v.config.CountTolerance))
		switch {
		case !exists:
			drifted = append(drifted, fmt.Sprintf("%s missing (baseline %d)", name, expected))
		case current < floor:
			drifted = append(drifted, fmt.Sprintf("%s shrank %d -> %d (floor %d)", name, expected, current, floor))
		}
	}

	if len(drifted) > 0 {
		result.Status = CheckStatusFailed
		result.Detail = fmt.Sprintf("%d collection(s) below baseline: %v", len(drifted), drifted)
		result.OffendingSample = len(drifted)
		return result
	}

	result.Status = CheckStatusPassed
	result.Detail = fmt.Sprintf("%d collection(s) within tolerance of baseline", len(baseline))
	return result
}

func sortedKeys(summary CountSummary) []string {
	keys := make([]string, 0, len(summary))
	for name := range summary {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys
}
