package config

import (
	"fmt"
	"os"
	"time"

	"github.com/lamallamadel/brainego-sub004/internal/adapter"
	"github.com/lamallamadel/brainego-sub004/internal/backup"
	"github.com/lamallamadel/brainego-sub004/internal/storage"
)

// Config holds the complete backup subsystem configuration.
type Config struct {
	// WorkDir is the scratch directory for snapshot artifacts, restore
	// downloads and the quarantine area.
	WorkDir string `mapstructure:"work_dir" yaml:"work_dir"`

	Stores     StoresConfig         `mapstructure:"stores" yaml:"stores"`
	Storage    storage.Config       `mapstructure:"storage" yaml:"storage"`
	Catalog    backup.CatalogConfig `mapstructure:"catalog" yaml:"catalog"`
	Schedule   ScheduleConfig       `mapstructure:"schedule" yaml:"schedule"`
	Retention  RetentionConfig      `mapstructure:"retention" yaml:"retention"`
	Validation ValidationConfig     `mapstructure:"validation" yaml:"validation"`
	Restore    RestoreConfig        `mapstructure:"restore" yaml:"restore"`
	Locking    LockingConfig        `mapstructure:"locking" yaml:"locking"`
}

// StoresConfig enables and configures the store adapters. A nil block
// disables that store.
type StoresConfig struct {
	Vector     *adapter.VectorConfig     `mapstructure:"vector,omitempty" yaml:"vector,omitempty"`
	Graph      *adapter.GraphConfig      `mapstructure:"graph,omitempty" yaml:"graph,omitempty"`
	Relational *adapter.RelationalConfig `mapstructure:"relational,omitempty" yaml:"relational,omitempty"`
}

// EnabledStoreTypes returns the configured store types in the canonical
// order.
func (sc *StoresConfig) EnabledStoreTypes() []backup.StoreType {
	var enabled []backup.StoreType
	for _, storeType := range backup.AllStoreTypes {
		switch storeType {
		case backup.StoreTypeRelational:
			if sc.Relational != nil {
				enabled = append(enabled, storeType)
			}
		case backup.StoreTypeGraph:
			if sc.Graph != nil {
				enabled = append(enabled, storeType)
			}
		case backup.StoreTypeVector:
			if sc.Vector != nil {
				enabled = append(enabled, storeType)
			}
		}
	}
	return enabled
}

// ScheduleConfig defines when scheduled backup cycles fire.
type ScheduleConfig struct {
	// Cron is a standard five-field cron expression.
	Cron string `mapstructure:"cron" yaml:"cron"`

	// MaxParallel bounds concurrent per-store backups within a cycle.
	MaxParallel int `mapstructure:"max_parallel" yaml:"max_parallel"`

	// OperationTimeout is the per-store watchdog deadline.
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
}

// RetentionConfig defines how long verified backups are kept.
type RetentionConfig struct {
	// DefaultDays applies to store types without a per-store override.
	// A pointer distinguishes the unset case, which falls back to the
	// default, from an explicit zero, which expires every verified
	// backup older than now.
	DefaultDays *int `mapstructure:"default_days" yaml:"default_days"`

	// PerStore maps store type names to retention days.
	PerStore map[string]int `mapstructure:"per_store" yaml:"per_store,omitempty"`
}

// Policies expands the configuration into per-store-type policies.
func (rc *RetentionConfig) Policies() map[backup.StoreType]backup.RetentionPolicy {
	defaultDays := backup.DefaultRetentionDays
	if rc.DefaultDays != nil {
		defaultDays = *rc.DefaultDays
	}

	policies := make(map[backup.StoreType]backup.RetentionPolicy, len(backup.AllStoreTypes))
	for _, storeType := range backup.AllStoreTypes {
		days := defaultDays
		if override, ok := rc.PerStore[string(storeType)]; ok {
			days = override
		}
		policies[storeType] = backup.RetentionPolicy{RetentionDays: days}
	}
	return policies
}

// ValidationConfig tunes post-restore integrity validation.
type ValidationConfig struct {
	// CountTolerance is the fractional per-collection shrinkage allowed
	// before the count-drift check fails.
	CountTolerance float64 `mapstructure:"count_tolerance" yaml:"count_tolerance"`

	// HealthTimeout bounds each adapter health probe.
	HealthTimeout time.Duration `mapstructure:"health_timeout" yaml:"health_timeout"`

	// EntityReference configures the relational-to-graph reference
	// check. A nil block disables it.
	EntityReference *EntityReferenceConfig `mapstructure:"entity_reference,omitempty" yaml:"entity_reference,omitempty"`
}

// EntityReferenceConfig locates the identifiers checked by the
// cross-store entity reference rule.
type EntityReferenceConfig struct {
	Table       string `mapstructure:"table" yaml:"table"`
	Column      string `mapstructure:"column" yaml:"column"`
	Property    string `mapstructure:"property" yaml:"property"`
	SampleLimit int    `mapstructure:"sample_limit" yaml:"sample_limit"`
}

// Validate checks the entity reference rule configuration.
func (ec *EntityReferenceConfig) Validate() error {
	if ec.Table == "" || ec.Column == "" {
		return backup.NewConfigurationError("entity reference check requires a table and column", nil)
	}
	if ec.Property == "" {
		return backup.NewConfigurationError("entity reference check requires a graph node property", nil)
	}
	return nil
}

// RestoreConfig tunes the restore command's safety behavior.
type RestoreConfig struct {
	// GraceDelay is how long a non-interactive restore waits before
	// proceeding, giving an operator a window to abort.
	GraceDelay time.Duration `mapstructure:"grace_delay" yaml:"grace_delay"`
}

// LockingConfig tunes the per-store-type operation locks.
type LockingConfig struct {
	// WaitTimeout is the bounded wait before an operation fails as busy.
	WaitTimeout time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
}

// SetDefaults fills unset fields with their defaults.
func (c *Config) SetDefaults() {
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = "0 2 * * *"
	}
	if c.Schedule.MaxParallel <= 0 {
		c.Schedule.MaxParallel = len(c.Stores.EnabledStoreTypes())
	}
	if c.Schedule.OperationTimeout <= 0 {
		c.Schedule.OperationTimeout = 2 * time.Hour
	}
	if c.Retention.DefaultDays == nil {
		days := backup.DefaultRetentionDays
		c.Retention.DefaultDays = &days
	}
	if c.Validation.CountTolerance <= 0 {
		c.Validation.CountTolerance = backup.DefaultCountTolerance
	}
	if c.Validation.HealthTimeout <= 0 {
		c.Validation.HealthTimeout = 30 * time.Second
	}
	if c.Restore.GraceDelay <= 0 {
		c.Restore.GraceDelay = 5 * time.Second
	}
	if c.Locking.WaitTimeout <= 0 {
		c.Locking.WaitTimeout = backup.DefaultLockWaitTimeout
	}
	if c.Validation.EntityReference != nil && c.Validation.EntityReference.SampleLimit <= 0 {
		c.Validation.EntityReference.SampleLimit = 100
	}
}

// Validate validates the complete configuration.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Stores.EnabledStoreTypes()) == 0 {
		errs = append(errs, backup.NewConfigurationError("at least one store must be configured", nil))
	}
	if c.Stores.Vector != nil {
		if err := c.Stores.Vector.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("stores.vector: %w", err))
		}
	}
	if c.Stores.Graph != nil {
		if err := c.Stores.Graph.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("stores.graph: %w", err))
		}
	}
	if c.Stores.Relational != nil {
		if err := c.Stores.Relational.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("stores.relational: %w", err))
		}
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	if err := c.Catalog.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("catalog: %w", err))
	}
	if c.Validation.EntityReference != nil {
		if err := c.Validation.EntityReference.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("validation.entity_reference: %w", err))
		}
		if c.Stores.Relational == nil || c.Stores.Graph == nil {
			errs = append(errs, backup.NewConfigurationError(
				"entity reference check requires both the relational and graph stores", nil))
		}
	}

	if c.Retention.DefaultDays != nil && *c.Retention.DefaultDays < 0 {
		errs = append(errs, backup.NewConfigurationError(
			"retention.default_days must not be negative", nil))
	}

	for name, days := range c.Retention.PerStore {
		if _, err := backup.ParseStoreType(name); err != nil {
			errs = append(errs, fmt.Errorf("retention.per_store: %w", err))
		}
		if days < 0 {
			errs = append(errs, backup.NewConfigurationError(
				fmt.Sprintf("retention for %s store must not be negative", name), nil))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// LoadFromEnvironment overrides secrets from environment variables so
// credentials stay out of config files.
func (c *Config) LoadFromEnvironment() {
	if val := os.Getenv("BRAINEGO_BACKUP_CATALOG_PASSWORD"); val != "" {
		c.Catalog.Password = val
	}
	if c.Stores.Relational != nil {
		if val := os.Getenv("BRAINEGO_BACKUP_RELATIONAL_PASSWORD"); val != "" {
			c.Stores.Relational.Password = val
		}
	}
	if c.Stores.Graph != nil {
		if val := os.Getenv("BRAINEGO_BACKUP_GRAPH_PASSWORD"); val != "" {
			c.Stores.Graph.Password = val
		}
	}
	if c.Stores.Vector != nil {
		if val := os.Getenv("BRAINEGO_BACKUP_VECTOR_API_KEY"); val != "" {
			c.Stores.Vector.APIKey = val
		}
	}
	if c.Storage.S3 != nil {
		if val := os.Getenv("AWS_ACCESS_KEY_ID"); val != "" && c.Storage.S3.AccessKey == "" {
			c.Storage.S3.AccessKey = val
		}
		if val := os.Getenv("AWS_SECRET_ACCESS_KEY"); val != "" && c.Storage.S3.SecretKey == "" {
			c.Storage.S3.SecretKey = val
		}
	}
}
