package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/lamallamadel/brainego-sub004/internal/backup"
	"github.com/lamallamadel/brainego-sub004/internal/logging"
)

// RelationalConfig holds connection info for the relational database.
type RelationalConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`

	// DumpTool and ClientTool are the native dump/load binaries
	// (mysqldump and mysql).
	DumpTool   string `mapstructure:"dump_tool" yaml:"dump_tool"`
	ClientTool string `mapstructure:"client_tool" yaml:"client_tool"`

	// Compression is the stream codec applied to the dump (zstd default).
	Compression CompressionType `mapstructure:"compression" yaml:"compression"`

	WorkDir string `mapstructure:"work_dir" yaml:"work_dir"`
}

// Validate checks the relational adapter configuration
func (c *RelationalConfig) Validate() error {
	if c.Host == "" {
		return backup.NewConfigurationError("relational adapter requires a host", nil)
	}
	if c.Username == "" {
		return backup.NewConfigurationError("relational adapter requires a username", nil)
	}
	if c.Database == "" {
		return backup.NewConfigurationError("relational adapter requires a database name", nil)
	}
	if c.WorkDir == "" {
		return backup.NewConfigurationError("relational adapter requires a work directory", nil)
	}
	if c.Compression != "" && !c.Compression.IsValid() {
		return backup.NewConfigurationError(fmt.Sprintf("unsupported compression algorithm: %s", c.Compression), nil)
	}
	return nil
}

// RelationalAdapter snapshots and restores the relational database with
// its native dump/load tooling. Dumps stream through a compression
// codec into the artifact; restore terminates active connections and
// drops and recreates the schema before loading, inside one critical
// section.
type RelationalAdapter struct {
	config *RelationalConfig
	logger *logging.Logger
}

// NewRelationalAdapter creates a new RelationalAdapter instance
func NewRelationalAdapter(config *RelationalConfig, logger *logging.Logger) (*RelationalAdapter, error) {
	if config == nil {
		return nil, backup.NewConfigurationError("relational adapter configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	if config.Port == 0 {
		config.Port = 3306
	}
	if config.DumpTool == "" {
		config.DumpTool = "mysqldump"
	}
	if config.ClientTool == "" {
		config.ClientTool = "mysql"
	}
	if config.Compression == "" {
		config.Compression = CompressionTypeZstd
	}

	return &RelationalAdapter{
		config: config,
		logger: logger,
	}, nil
}

// StoreType identifies the engine this adapter serves.
func (r *RelationalAdapter) StoreType() backup.StoreType {
	return backup.StoreTypeRelational
}

// CreateSnapshot runs the native dump tool in single-transaction mode
// and streams its output through the compression codec.
func (r *RelationalAdapter) CreateSnapshot(ctx context.Context) (string, int64, error) {
	return withSnapshotRetry(ctx, r.logger, backup.StoreTypeRelational, func() (string, int64, error) {
		return r.createSnapshotOnce(ctx)
	})
}

func (r *RelationalAdapter) createSnapshotOnce(ctx context.Context) (string, int64, error) {
	if err := os.MkdirAll(r.config.WorkDir, 0o755); err != nil {
		return "", 0, backup.NewAdapterFatalError("failed to create relational work directory", err)
	}

	artifactPath := filepath.Join(r.config.WorkDir,
		fmt.Sprintf("relational_%s.sql%s", time.Now().UTC().Format("20060102T150405Z"), compressedSuffix(r.config.Compression)))

	out, err := os.Create(artifactPath)
	if err != nil {
		return "", 0, backup.NewAdapterFatalError("failed to create relational artifact", err)
	}

	compressor, err := NewCompressingWriter(out, r.config.Compression)
	if err != nil {
		out.Close()
		os.Remove(artifactPath)
		return "", 0, err
	}

	cmd, err := commandContext(ctx, []string{
		r.config.DumpTool,
		"--host=" + r.config.Host,
		"--port=" + strconv.Itoa(r.config.Port),
		"--user=" + r.config.Username,
		"--single-transaction",
		"--routines",
		"--triggers",
		"--set-gtid-purged=OFF",
		r.config.Database,
	})
	if err != nil {
		out.Close()
		os.Remove(artifactPath)
		return "", 0, err
	}
	cmd.Stdout = compressor
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+r.config.Password)

	// A failed dump leaves a partially written artifact; it is removed
	// here and never uploaded.
	if err := runCommand(ctx, cmd); err != nil {
		compressor.Close()
		out.Close()
		os.Remove(artifactPath)
		return "", 0, err
	}

	if err := compressor.Close(); err != nil {
		out.Close()
		os.Remove(artifactPath)
		return "", 0, backup.NewAdapterFatalError("failed to flush compressed dump", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(artifactPath)
		return "", 0, backup.NewAdapterFatalError("failed to close relational artifact", err)
	}

	info, err := os.Stat(artifactPath)
	if err != nil {
		return "", 0, backup.NewAdapterFatalError("failed to stat relational artifact", err)
	}
	if info.Size() == 0 {
		os.Remove(artifactPath)
		return "", 0, backup.NewAdapterFatalError("dump tool produced an empty artifact", nil)
	}

	return artifactPath, info.Size(), nil
}

// Restore terminates active connections, drops and recreates the
// schema, and streams the decompressed dump through the native client,
// all inside one critical section.
func (r *RelationalAdapter) Restore(ctx context.Context, artifactPath string) error {
	db, err := r.openServerConnection()
	if err != nil {
		return err
	}
	defer db.Close()

	section := exclusiveSection{
		enter: func(ctx context.Context) error {
			if err := r.terminateConnections(ctx, db); err != nil {
				return err
			}
			return r.recreateSchema(ctx, db)
		},
		// The schema is live again as soon as the load transaction
		// finishes; nothing to undo on the way out.
		leave: func(ctx context.Context) error { return nil },
	}

	return section.run(ctx, func(ctx context.Context) error {
		return r.loadDump(ctx, artifactPath)
	})
}

// HealthCheck pings the server.
func (r *RelationalAdapter) HealthCheck(ctx context.Context) (bool, string) {
	db, err := r.openDatabaseConnection()
	if err != nil {
		return false, err.Error()
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return false, fmt.Sprintf("ping failed: %v", err)
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return false, fmt.Sprintf("version query failed: %v", err)
	}

	return true, "server version " + version
}

// CountSummary returns per-table row counts. Counts come from
// information_schema and are estimates for transactional engines, which
// is sufficient for tolerance-based truncation detection.
func (r *RelationalAdapter) CountSummary(ctx context.Context) (backup.CountSummary, error) {
	db, err := r.openDatabaseConnection()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		"SELECT table_name, table_rows FROM information_schema.tables WHERE table_schema = ? AND table_type = 'BASE TABLE'",
		r.config.Database)
	if err != nil {
		return nil, backup.NewAdapterFatalError("failed to query table counts", err)
	}
	defer rows.Close()

	counts := make(backup.CountSummary)
	for rows.Next() {
		var table string
		var count sql.NullInt64
		if err := rows.Scan(&table, &count); err != nil {
			return nil, backup.NewAdapterFatalError("failed to scan table count row", err)
		}
		counts[table] = count.Int64
	}
	if err := rows.Err(); err != nil {
		return nil, backup.NewAdapterFatalError("failed to iterate table counts", err)
	}

	return counts, nil
}

// SampleColumnValues returns up to limit distinct values of a column.
// Used by cross-store referential validation.
func (r *RelationalAdapter) SampleColumnValues(ctx context.Context, table, column string, limit int) ([]string, error) {
	db, err := r.openDatabaseConnection()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	query := fmt.Sprintf("SELECT DISTINCT `%s` FROM `%s` WHERE `%s` IS NOT NULL LIMIT %d",
		column, table, column, limit)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, backup.NewAdapterFatalError(
			fmt.Sprintf("failed to sample %s.%s", table, column), err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, backup.NewAdapterFatalError("failed to scan sampled value", err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, backup.NewAdapterFatalError("failed to iterate sampled values", err)
	}

	return values, nil
}

// terminateConnections kills every session attached to the target
// schema except our own.
func (r *RelationalAdapter) terminateConnections(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx,
		"SELECT id FROM information_schema.processlist WHERE db = ? AND id <> CONNECTION_ID()",
		r.config.Database)
	if err != nil {
		return backup.NewAdapterFatalError("failed to list active connections", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return backup.NewAdapterFatalError("failed to scan connection id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return backup.NewAdapterFatalError("failed to iterate active connections", err)
	}

	for _, id := range ids {
		// A session may disconnect between listing and kill.
		if _, err := db.ExecContext(ctx, fmt.Sprintf("KILL %d", id)); err != nil {
			r.logger.Debugf("Failed to kill connection %d (may have already closed): %v", id, err)
		}
	}

	if len(ids) > 0 {
		r.logger.Infof("Terminated %d active connections to %s", len(ids), r.config.Database)
	}

	return nil
}

// recreateSchema drops and recreates the target schema.
func (r *RelationalAdapter) recreateSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", r.config.Database)); err != nil {
		return backup.NewAdapterFatalError("failed to drop schema", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE `%s`", r.config.Database)); err != nil {
		return backup.NewAdapterFatalError("failed to recreate schema", err)
	}

	return nil
}

// loadDump streams the decompressed artifact through the native client.
func (r *RelationalAdapter) loadDump(ctx context.Context, artifactPath string) error {
	file, err := os.Open(artifactPath)
	if err != nil {
		return backup.NewAdapterFatalError("failed to open relational artifact", err)
	}
	defer file.Close()

	decompressor, err := NewDecompressingReader(file, r.config.Compression)
	if err != nil {
		return err
	}
	defer decompressor.Close()

	cmd, err := commandContext(ctx, []string{
		r.config.ClientTool,
		"--host=" + r.config.Host,
		"--port=" + strconv.Itoa(r.config.Port),
		"--user=" + r.config.Username,
		r.config.Database,
	})
	if err != nil {
		return err
	}
	cmd.Stdin = decompressor
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+r.config.Password)

	return runCommand(ctx, cmd)
}

// openServerConnection connects without selecting a schema, so the
// schema itself can be dropped and recreated.
func (r *RelationalAdapter) openServerConnection() (*sql.DB, error) {
	return r.open("")
}

// openDatabaseConnection connects to the target schema.
func (r *RelationalAdapter) openDatabaseConnection() (*sql.DB, error) {
	return r.open(r.config.Database)
}

func (r *RelationalAdapter) open(database string) (*sql.DB, error) {
	dsnConfig := mysql.NewConfig()
	dsnConfig.User = r.config.Username
	dsnConfig.Passwd = r.config.Password
	dsnConfig.Net = "tcp"
	dsnConfig.Addr = fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)
	dsnConfig.DBName = database
	dsnConfig.Timeout = 10 * time.Second

	db, err := sql.Open("mysql", dsnConfig.FormatDSN())
	if err != nil {
		return nil, backup.NewAdapterFatalError("failed to open relational connection", err)
	}

	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}
