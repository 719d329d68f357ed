package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/lamallamadel/brainego-sub004/internal/logging"
)

// catalogSchema creates the metadata tables. Statements are idempotent
// so startup can always apply them.
var catalogSchema = []string{
	`CREATE TABLE IF NOT EXISTS backup_history (
		backup_id     VARCHAR(64)  NOT NULL,
		backup_type   VARCHAR(16)  NOT NULL,
		timestamp     DATETIME(6)  NOT NULL,
		size_bytes    BIGINT       NOT NULL DEFAULT 0,
		checksum      CHAR(64)     NULL,
		storage_key   VARCHAR(255) NOT NULL,
		status        VARCHAR(16)  NOT NULL,
		error_message TEXT         NULL,
		PRIMARY KEY (backup_id),
		KEY idx_backup_history_type_time (backup_type, timestamp),
		KEY idx_backup_history_status (status)
	)`,
	`CREATE TABLE IF NOT EXISTS restore_events (
		restore_id        CHAR(36)    NOT NULL,
		backup_id         VARCHAR(64) NOT NULL,
		store_type        VARCHAR(16) NOT NULL,
		started_at        DATETIME(6) NOT NULL,
		completed_at      DATETIME(6) NOT NULL,
		outcome           VARCHAR(16) NOT NULL,
		error_message     TEXT        NULL,
		validation_report JSON        NULL,
		PRIMARY KEY (restore_id),
		KEY idx_restore_events_started (started_at)
	)`,
	`CREATE TABLE IF NOT EXISTS count_baselines (
		store_type VARCHAR(16) NOT NULL,
		counts     JSON        NOT NULL,
		taken_at   DATETIME(6) NOT NULL,
		PRIMARY KEY (store_type)
	)`,
}

// mysqlDuplicateEntry is the server error number for unique-key violations.
const mysqlDuplicateEntry = 1062

// SQLCatalog implements Catalog on a relational metadata store. It is
// append-only by convention: identity and checksum fields are written
// once, and the guarded UPDATE statements refuse to touch them again.
type SQLCatalog struct {
	db     *sql.DB
	logger *logging.Logger
}

// CatalogConfig holds metadata store connection configuration.
type CatalogConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
}

// Validate checks the catalog configuration
func (c *CatalogConfig) Validate() error {
	if c.Host == "" {
		return NewConfigurationError("catalog requires a host", nil)
	}
	if c.Username == "" {
		return NewConfigurationError("catalog requires a username", nil)
	}
	if c.Database == "" {
		return NewConfigurationError("catalog requires a database name", nil)
	}
	return nil
}

// NewSQLCatalog opens the metadata store and applies the schema.
func NewSQLCatalog(config *CatalogConfig, logger *logging.Logger) (*SQLCatalog, error) {
	if config == nil {
		return nil, NewConfigurationError("catalog configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	port := config.Port
	if port == 0 {
		port = 3306
	}

	dsnConfig := mysql.NewConfig()
	dsnConfig.User = config.Username
	dsnConfig.Passwd = config.Password
	dsnConfig.Net = "tcp"
	dsnConfig.Addr = fmt.Sprintf("%s:%d", config.Host, port)
	dsnConfig.DBName = config.Database
	dsnConfig.ParseTime = true
	dsnConfig.Loc = time.UTC

	db, err := sql.Open("mysql", dsnConfig.FormatDSN())
	if err != nil {
		return nil, NewCatalogError("failed to open metadata store connection", err)
	}

	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	catalog := NewSQLCatalogFromDB(db, logger)
	if err := catalog.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return catalog, nil
}

// NewSQLCatalogFromDB wraps an existing connection. The schema is not
// applied; tests and embedders manage it themselves.
func NewSQLCatalogFromDB(db *sql.DB, logger *logging.Logger) *SQLCatalog {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &SQLCatalog{db: db, logger: logger}
}

// Close releases the underlying connection pool.
func (c *SQLCatalog) Close() error {
	return c.db.Close()
}

func (c *SQLCatalog) ensureSchema(ctx context.Context) error {
	for _, statement := range catalogSchema {
		if _, err := c.db.ExecContext(ctx, statement); err != nil {
			return NewCatalogError("failed to apply catalog schema", err)
		}
	}
	return nil
}

// advisoryLockName derives the MySQL advisory lock name for a store type.
func advisoryLockName(storeType StoreType) string {
	return fmt.Sprintf("brainego_backup_%s", storeType)
}

// AcquireShared takes a MySQL advisory lock named after the store type,
// making store exclusion hold across processes, not just goroutines.
// Advisory locks are per-connection, so the lock pins a dedicated
// connection for its whole lifetime; releasing runs RELEASE_LOCK on
// that same connection before returning it to the pool.
func (c *SQLCatalog) AcquireShared(ctx context.Context, storeType StoreType, wait time.Duration) (func(), error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, NewCatalogError("failed to obtain a catalog connection for the store lock", err)
	}

	seconds := int(wait / time.Second)
	if seconds < 0 {
		seconds = 0
	}

	name := advisoryLockName(storeType)
	var acquired sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, ?)`, name, seconds).Scan(&acquired); err != nil {
		conn.Close()
		return nil, NewCatalogError(fmt.Sprintf("failed to take the %s store lock", storeType), err)
	}
	if !acquired.Valid || acquired.Int64 != 1 {
		conn.Close()
		return nil, NewLockContentionError(
			fmt.Sprintf("%s store is busy: another process holds its lock", storeType), nil)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if _, err := conn.ExecContext(context.WithoutCancel(ctx), `DO RELEASE_LOCK(?)`, name); err != nil {
				c.logger.Warnf("Failed to release the %s store lock: %v", storeType, err)
			}
			conn.Close()
		})
	}, nil
}

// CreateRecord persists a new pending record. Within one transaction it
// rejects a second in-flight cycle for the same store type, then relies
// on the primary key for backup ID uniqueness.
func (c *SQLCatalog) CreateRecord(ctx context.Context, record *BackupRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if record.Status != BackupStatusPending {
		return NewCatalogError(fmt.Sprintf("new record %s must be pending, got %s", record.BackupID, record.Status), nil)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return NewCatalogError("failed to begin catalog transaction", err)
	}
	defer tx.Rollback()

	// FOR UPDATE locks the matched index range so two concurrent
	// transactions cannot both read zero and insert; under REPEATABLE
	// READ a plain COUNT would allow that write skew.
	var inFlight int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM backup_history WHERE backup_type = ? AND status IN ('pending', 'uploading') FOR UPDATE`,
		string(record.StoreType)).Scan(&inFlight)
	if err != nil {
		return NewCatalogError("failed to check for in-flight cycles", err)
	}
	if inFlight > 0 {
		return NewLockContentionError(
			fmt.Sprintf("a backup cycle for the %s store is already in flight", record.StoreType), nil)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO backup_history (backup_id, backup_type, timestamp, size_bytes, checksum, storage_key, status, error_message)
		 VALUES (?, ?, ?, ?, NULL, ?, ?, NULL)`,
		record.BackupID, string(record.StoreType), record.CreatedAt, record.SizeBytes,
		record.StorageKey, string(record.Status))
	if err != nil {
		if isDuplicateEntry(err) {
			return NewCatalogError(fmt.Sprintf("backup ID %s already exists", record.BackupID), err)
		}
		return NewCatalogError("failed to insert backup record", err)
	}

	if err := tx.Commit(); err != nil {
		return NewCatalogError("failed to commit backup record", err)
	}

	return nil
}

// MarkUploading transitions a pending record to uploading.
func (c *SQLCatalog) MarkUploading(ctx context.Context, backupID string) error {
	return c.guardedUpdate(ctx, backupID,
		`UPDATE backup_history SET status = 'uploading' WHERE backup_id = ? AND status = 'pending'`,
		backupID)
}

// MarkVerified sets the checksum and size exactly once and transitions
// the record to verified. The WHERE clause enforces immutability: a
// record that already carries a checksum is never rewritten.
func (c *SQLCatalog) MarkVerified(ctx context.Context, backupID, checksum string, sizeBytes int64) error {
	if checksum == "" {
		return NewCatalogError("cannot verify a record without a checksum", nil)
	}
	return c.guardedUpdate(ctx, backupID,
		`UPDATE backup_history SET status = 'verified', checksum = ?, size_bytes = ?
		 WHERE backup_id = ? AND status IN ('pending', 'uploading') AND checksum IS NULL`,
		checksum, sizeBytes, backupID)
}

// MarkFailed transitions an in-flight record to failed with a
// human-readable message.
func (c *SQLCatalog) MarkFailed(ctx context.Context, backupID, errorMessage string) error {
	return c.guardedUpdate(ctx, backupID,
		`UPDATE backup_history SET status = 'failed', error_message = ?
		 WHERE backup_id = ? AND status IN ('pending', 'uploading')`,
		errorMessage, backupID)
}

// MarkPurged transitions a verified record to purged.
func (c *SQLCatalog) MarkPurged(ctx context.Context, backupID string) error {
	return c.guardedUpdate(ctx, backupID,
		`UPDATE backup_history SET status = 'purged' WHERE backup_id = ? AND status = 'verified'`,
		backupID)
}

// guardedUpdate runs a status transition and fails when the guard
// matched no row, which means the record is missing or the transition
// is illegal.
func (c *SQLCatalog) guardedUpdate(ctx context.Context, backupID, query string, args ...interface{}) error {
	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return NewCatalogError(fmt.Sprintf("failed to update backup record %s", backupID), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return NewCatalogError("failed to read affected rows", err)
	}
	if affected == 0 {
		return NewCatalogError(
			fmt.Sprintf("backup record %s not found or not in a state allowing this transition", backupID), nil)
	}

	return nil
}

// GetRecord fetches a record by backup ID.
func (c *SQLCatalog) GetRecord(ctx context.Context, backupID string) (*BackupRecord, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT backup_id, backup_type, timestamp, size_bytes, checksum, storage_key, status, error_message
		 FROM backup_history WHERE backup_id = ?`, backupID)

	record, err := scanBackupRecord(row)
	if err == sql.ErrNoRows {
		return nil, NewNotFoundError(fmt.Sprintf("backup %s not found", backupID), nil)
	}
	if err != nil {
		return nil, NewCatalogError("failed to read backup record", err)
	}

	return record, nil
}

// ListByType returns records newest-first, optionally filtered by store
// type and status.
func (c *SQLCatalog) ListByType(ctx context.Context, filter BackupFilter) ([]*BackupRecord, error) {
	query := `SELECT backup_id, backup_type, timestamp, size_bytes, checksum, storage_key, status, error_message
		 FROM backup_history`
	var conditions []string
	var args []interface{}

	if filter.StoreType != "" {
		conditions = append(conditions, "backup_type = ?")
		args = append(args, string(filter.StoreType))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	for i, condition := range conditions {
		if i == 0 {
			query += " WHERE " + condition
		} else {
			query += " AND " + condition
		}
	}

	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewCatalogError("failed to list backup records", err)
	}
	defer rows.Close()

	var records []*BackupRecord
	for rows.Next() {
		record, err := scanBackupRecord(rows)
		if err != nil {
			return nil, NewCatalogError("failed to scan backup record", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, NewCatalogError("failed to iterate backup records", err)
	}

	return records, nil
}

// LatestVerified returns the most recent verified record for a store type.
func (c *SQLCatalog) LatestVerified(ctx context.Context, storeType StoreType) (*BackupRecord, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT backup_id, backup_type, timestamp, size_bytes, checksum, storage_key, status, error_message
		 FROM backup_history WHERE backup_type = ? AND status = 'verified'
		 ORDER BY timestamp DESC LIMIT 1`, string(storeType))

	record, err := scanBackupRecord(row)
	if err == sql.ErrNoRows {
		return nil, NewNotFoundError(fmt.Sprintf("no verified backup exists for the %s store", storeType), nil)
	}
	if err != nil {
		return nil, NewCatalogError("failed to read latest verified record", err)
	}

	return record, nil
}

// ListExpired returns verified records created strictly before the cutoff.
func (c *SQLCatalog) ListExpired(ctx context.Context, storeType StoreType, cutoff time.Time) ([]*BackupRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT backup_id, backup_type, timestamp, size_bytes, checksum, storage_key, status, error_message
		 FROM backup_history WHERE backup_type = ? AND status = 'verified' AND timestamp < ?
		 ORDER BY timestamp ASC`, string(storeType), cutoff.UTC())
	if err != nil {
		return nil, NewCatalogError("failed to list expired records", err)
	}
	defer rows.Close()

	var records []*BackupRecord
	for rows.Next() {
		record, err := scanBackupRecord(rows)
		if err != nil {
			return nil, NewCatalogError("failed to scan expired record", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, NewCatalogError("failed to iterate expired records", err)
	}

	return records, nil
}

// RecordRestoreEvent persists a restore event.
func (c *SQLCatalog) RecordRestoreEvent(ctx context.Context, event *RestoreEvent) error {
	var report interface{}
	if event.ValidationReport != nil {
		data, err := json.Marshal(event.ValidationReport)
		if err != nil {
			return NewCatalogError("failed to serialize validation report", err)
		}
		report = string(data)
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO restore_events (restore_id, backup_id, store_type, started_at, completed_at, outcome, error_message, validation_report)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.RestoreID, event.BackupID, string(event.StoreType),
		event.StartedAt.UTC(), event.CompletedAt.UTC(), string(event.Outcome),
		nullableString(event.ErrorMessage), report)
	if err != nil {
		return NewCatalogError("failed to insert restore event", err)
	}

	return nil
}

// ListRestoreEvents returns restore events, newest first.
func (c *SQLCatalog) ListRestoreEvents(ctx context.Context, limit int) ([]*RestoreEvent, error) {
	query := `SELECT restore_id, backup_id, store_type, started_at, completed_at, outcome, error_message, validation_report
		 FROM restore_events ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, NewCatalogError("failed to list restore events", err)
	}
	defer rows.Close()

	var events []*RestoreEvent
	for rows.Next() {
		var event RestoreEvent
		var storeType string
		var errorMessage sql.NullString
		var report sql.NullString

		err := rows.Scan(&event.RestoreID, &event.BackupID, &storeType,
			&event.StartedAt, &event.CompletedAt, &event.Outcome, &errorMessage, &report)
		if err != nil {
			return nil, NewCatalogError("failed to scan restore event", err)
		}

		event.StoreType = StoreType(storeType)
		event.ErrorMessage = errorMessage.String
		if report.Valid && report.String != "" {
			var parsed ValidationReport
			if err := json.Unmarshal([]byte(report.String), &parsed); err == nil {
				event.ValidationReport = &parsed
			}
		}

		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, NewCatalogError("failed to iterate restore events", err)
	}

	return events, nil
}

// SaveCountBaseline stores the known-good count summary for a store type.
func (c *SQLCatalog) SaveCountBaseline(ctx context.Context, storeType StoreType, counts CountSummary, takenAt time.Time) error {
	data, err := json.Marshal(counts)
	if err != nil {
		return NewCatalogError("failed to serialize count baseline", err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO count_baselines (store_type, counts, taken_at) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE counts = VALUES(counts), taken_at = VALUES(taken_at)`,
		string(storeType), string(data), takenAt.UTC())
	if err != nil {
		return NewCatalogError("failed to save count baseline", err)
	}

	return nil
}

// GetCountBaseline returns the last known-good count summary for a
// store type, or nil if none has been recorded.
func (c *SQLCatalog) GetCountBaseline(ctx context.Context, storeType StoreType) (CountSummary, error) {
	var data string
	err := c.db.QueryRowContext(ctx,
		`SELECT counts FROM count_baselines WHERE store_type = ?`, string(storeType)).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, NewCatalogError("failed to read count baseline", err)
	}

	var counts CountSummary
	if err := json.Unmarshal([]byte(data), &counts); err != nil {
		return nil, NewCatalogError("failed to parse count baseline", err)
	}

	return counts, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBackupRecord(row rowScanner) (*BackupRecord, error) {
	var record BackupRecord
	var storeType, status string
	var checksum, errorMessage sql.NullString

	err := row.Scan(&record.BackupID, &storeType, &record.CreatedAt, &record.SizeBytes,
		&checksum, &record.StorageKey, &status, &errorMessage)
	if err != nil {
		return nil, err
	}

	record.StoreType = StoreType(storeType)
	record.Status = BackupStatus(status)
	record.Checksum = checksum.String
	record.ErrorMessage = errorMessage.String

	return &record, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isDuplicateEntry(err error) bool {
	if mysqlErr, ok := err.(*mysql.MySQLError); ok {
		return mysqlErr.Number == mysqlDuplicateEntry
	}
	return false
}
