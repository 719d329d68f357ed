// Package application wires configuration into the running services:
// store adapters, object store, catalog, orchestrators and validator.
package application

import (
	"context"
	"path/filepath"

	"github.com/lamallamadel/brainego-sub004/internal/adapter"
	"github.com/lamallamadel/brainego-sub004/internal/backup"
	"github.com/lamallamadel/brainego-sub004/internal/config"
	"github.com/lamallamadel/brainego-sub004/internal/logging"
	"github.com/lamallamadel/brainego-sub004/internal/storage"
)

// Application holds the wired backup subsystem services.
type Application struct {
	Config    *config.Config
	Logger    *logging.Logger
	Catalog   *backup.SQLCatalog
	BlobStore *storage.ChecksummedBlobStore
	Adapters  map[backup.StoreType]backup.StoreAdapter
	Locks     *backup.StoreLocks
	Validator *backup.IntegrityValidator

	Orchestrator *backup.Orchestrator
	Restorer     *backup.RestoreOrchestrator
}

// New builds the full service graph from validated configuration.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Application, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	cfg.SetDefaults()
	cfg.LoadFromEnvironment()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	catalog, err := backup.NewSQLCatalog(&cfg.Catalog, logger)
	if err != nil {
		return nil, err
	}

	objectStore, err := storage.NewObjectStore(ctx, &cfg.Storage)
	if err != nil {
		catalog.Close()
		return nil, err
	}

	blobStore, err := storage.NewChecksummedBlobStore(objectStore, cfg.WorkDir, logger)
	if err != nil {
		catalog.Close()
		return nil, err
	}

	adapters, rules, err := buildAdapters(cfg, logger)
	if err != nil {
		catalog.Close()
		return nil, err
	}

	// The catalog doubles as the cross-process locker: its advisory
	// locks stop a scheduler daemon and an ad-hoc CLI from touching
	// the same store at once.
	locks := backup.NewSharedStoreLocks(cfg.Locking.WaitTimeout, catalog)
	clock := backup.RealClock{}

	validator := backup.NewIntegrityValidator(adapters, catalog, rules, clock, backup.ValidatorConfig{
		CountTolerance: cfg.Validation.CountTolerance,
		HealthTimeout:  cfg.Validation.HealthTimeout,
	}, logger)

	orchestrator, err := backup.NewOrchestrator(adapters, blobStore, catalog, locks, clock, backup.OrchestratorConfig{
		EnabledStores:    cfg.Stores.EnabledStoreTypes(),
		Retention:        cfg.Retention.Policies(),
		MaxParallel:      cfg.Schedule.MaxParallel,
		OperationTimeout: cfg.Schedule.OperationTimeout,
		QuarantineDir:    filepath.Join(cfg.WorkDir, "quarantine"),
	}, logger)
	if err != nil {
		catalog.Close()
		return nil, err
	}

	restorer, err := backup.NewRestoreOrchestrator(adapters, blobStore, catalog, locks, validator, clock, logger)
	if err != nil {
		catalog.Close()
		return nil, err
	}

	return &Application{
		Config:       cfg,
		Logger:       logger,
		Catalog:      catalog,
		BlobStore:    blobStore,
		Adapters:     adapters,
		Locks:        locks,
		Validator:    validator,
		Orchestrator: orchestrator,
		Restorer:     restorer,
	}, nil
}

// Close releases held resources.
func (a *Application) Close() error {
	return a.Catalog.Close()
}

// buildAdapters constructs the enabled store adapters and the
// cross-store rules their configuration enables.
func buildAdapters(cfg *config.Config, logger *logging.Logger) (map[backup.StoreType]backup.StoreAdapter, []backup.CrossStoreRule, error) {
	adapters := make(map[backup.StoreType]backup.StoreAdapter)

	var relational *adapter.RelationalAdapter
	var graph *adapter.GraphAdapter

	if cfg.Stores.Relational != nil {
		var err error
		relational, err = adapter.NewRelationalAdapter(cfg.Stores.Relational, logger)
		if err != nil {
			return nil, nil, err
		}
		adapters[backup.StoreTypeRelational] = relational
	}
	if cfg.Stores.Graph != nil {
		var err error
		graph, err = adapter.NewGraphAdapter(cfg.Stores.Graph, logger)
		if err != nil {
			return nil, nil, err
		}
		adapters[backup.StoreTypeGraph] = graph
	}
	if cfg.Stores.Vector != nil {
		vector, err := adapter.NewVectorAdapter(cfg.Stores.Vector, logger)
		if err != nil {
			return nil, nil, err
		}
		adapters[backup.StoreTypeVector] = vector
	}

	var rules []backup.CrossStoreRule
	if ref := cfg.Validation.EntityReference; ref != nil && relational != nil && graph != nil {
		rules = append(rules, &adapter.EntityReferenceRule{
			Relational:  relational,
			Graph:       graph,
			Table:       ref.Table,
			Column:      ref.Column,
			Property:    ref.Property,
			SampleLimit: ref.SampleLimit,
		})
	}

	return adapters, rules, nil
}
