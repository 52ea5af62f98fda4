// Package migrations provisions the demo schema using golang-migrate with SQL
// sources embedded in the binary, one directory per dialect.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	stderrors "errors"
	"fmt"
	"io/fs"
	"time"

	"go-aeclient/aeclient/errors"
	"go-aeclient/aeclient/internal/logging"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/database/sqlserver"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql
var sqlFiles embed.FS

// Dialect selects the migration source and database driver
type Dialect string

const (
	SQLServer Dialect = "sqlserver"
	SQLite    Dialect = "sqlite"
)

// MigrationStatus represents the current migration status
type MigrationStatus struct {
	Version      uint `json:"version"`
	Dirty        bool `json:"dirty"`
	AppliedCount int  `json:"applied_count"`
	PendingCount int  `json:"pending_count"`
}

// MigrationConfig holds configuration for migrations
type MigrationConfig struct {
	Dialect         Dialect
	DatabaseName    string
	MigrationsTable string
	Timeout         time.Duration
}

// DefaultMigrationConfig returns the default configuration for a dialect
func DefaultMigrationConfig(dialect Dialect) *MigrationConfig {
	return &MigrationConfig{
		Dialect:         dialect,
		MigrationsTable: "schema_migrations",
		Timeout:         2 * time.Minute,
	}
}

// Migrator applies the embedded migrations to one database handle
type Migrator struct {
	logger  logging.Logger
	migrate *migrate.Migrate
	source  source.Driver
	config  *MigrationConfig
}

// Source returns the embedded migration files of a dialect
func Source(dialect Dialect) (fs.FS, error) {
	switch dialect {
	case SQLServer, SQLite:
		return fs.Sub(sqlFiles, "sql/"+string(dialect))
	default:
		return nil, fmt.Errorf("unsupported migration dialect: %s", dialect)
	}
}

// NewMigrator creates a migrator over sqlDB. The migrator takes ownership of the
// handle: Close releases it, so callers pass a handle dedicated to provisioning.
func NewMigrator(sqlDB *sql.DB, logger logging.Logger, migrationConfig *MigrationConfig) (*Migrator, error) {
	if migrationConfig == nil {
		return nil, errors.NewDBError(errors.ErrCodeInvalidConfig, "migration configuration is required", nil)
	}

	var (
		driver database.Driver
		err    error
	)

	switch migrationConfig.Dialect {
	case SQLServer:
		driver, err = sqlserver.WithInstance(sqlDB, &sqlserver.Config{
			MigrationsTable: migrationConfig.MigrationsTable,
			DatabaseName:    migrationConfig.DatabaseName,
		})
	case SQLite:
		driver, err = sqlite3.WithInstance(sqlDB, &sqlite3.Config{
			MigrationsTable: migrationConfig.MigrationsTable,
			DatabaseName:    migrationConfig.DatabaseName,
		})
	default:
		return nil, errors.NewDBError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("unsupported migration dialect: %s", migrationConfig.Dialect), nil)
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeMigrationFailed,
			fmt.Sprintf("failed to create %s migration driver", migrationConfig.Dialect))
	}

	files, err := Source(migrationConfig.Dialect)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeMigrationFailed, "failed to open migration source")
	}

	src, err := iofs.New(files, ".")
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeMigrationFailed, "failed to open migration source")
	}

	m, err := migrate.NewWithInstance("iofs", src, string(migrationConfig.Dialect), driver)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeMigrationFailed, "failed to create migrate instance")
	}

	return &Migrator{
		logger:  logger.With(logging.String("dialect", string(migrationConfig.Dialect))),
		migrate: m,
		source:  src,
		config:  migrationConfig,
	}, nil
}

// watch stops the running migration at the next safe point when ctx is done
// or the configured timeout expires. The returned func must be called when the
// migration returns.
func (m *Migrator) watch(ctx context.Context) func() {
	cancel := func() {}
	if m.config.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			m.migrate.GracefulStop <- true
		case <-done:
		}
	}()

	return func() {
		close(done)
		<-exited
		cancel()
	}
}

// Migrate runs all pending migrations
func (m *Migrator) Migrate(ctx context.Context) error {
	m.logger.Info("Starting schema migration")

	stop := m.watch(ctx)
	defer stop()

	err := m.migrate.Up()
	if stderrors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("No pending migrations found")
		return nil
	}
	if err != nil {
		m.logger.Error("Migration failed", logging.ErrorField(err))
		return errors.WrapError(err, errors.ErrCodeMigrationFailed, "migration failed")
	}

	m.logger.Info("Schema migration completed successfully")
	return nil
}

// MigrateTo runs migrations up or down to a specific version
func (m *Migrator) MigrateTo(ctx context.Context, version uint) error {
	m.logger.Info("Starting migration to specific version", logging.Int("target_version", int(version)))

	stop := m.watch(ctx)
	defer stop()

	err := m.migrate.Migrate(version)
	if stderrors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("No migration needed")
		return nil
	}
	if err != nil {
		m.logger.Error("Migration failed", logging.ErrorField(err))
		return errors.WrapError(err, errors.ErrCodeMigrationFailed,
			fmt.Sprintf("migration to version %d failed", version))
	}

	m.logger.Info("Migration to version completed successfully")
	return nil
}

// Rollback rolls back the last migration
func (m *Migrator) Rollback(ctx context.Context) error {
	m.logger.Info("Rolling back last migration")

	stop := m.watch(ctx)
	defer stop()

	if err := m.migrate.Steps(-1); err != nil {
		m.logger.Error("Rollback failed", logging.ErrorField(err))
		return errors.WrapError(err, errors.ErrCodeMigrationFailed, "rollback failed")
	}

	m.logger.Info("Rollback completed successfully")
	return nil
}

// Down rolls back every applied migration
func (m *Migrator) Down(ctx context.Context) error {
	m.logger.Warn("Rolling back all migrations")

	stop := m.watch(ctx)
	defer stop()

	err := m.migrate.Down()
	if err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		m.logger.Error("Rollback failed", logging.ErrorField(err))
		return errors.WrapError(err, errors.ErrCodeMigrationFailed, "rollback failed")
	}
	return nil
}

// GetStatus returns the current migration status
func (m *Migrator) GetStatus(ctx context.Context) (*MigrationStatus, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil && !stderrors.Is(err, migrate.ErrNilVersion) {
		m.logger.Error("Failed to get migration status", logging.ErrorField(err))
		return nil, errors.WrapError(err, errors.ErrCodeMigrationFailed, "failed to get migration status")
	}

	applied, pending, err := m.countMigrations(version)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeMigrationFailed, "failed to read migration source")
	}

	return &MigrationStatus{
		Version:      version,
		Dirty:        dirty,
		AppliedCount: applied,
		PendingCount: pending,
	}, nil
}

// countMigrations walks the source and splits its versions around current
func (m *Migrator) countMigrations(current uint) (applied, pending int, err error) {
	v, err := m.source.First()
	for err == nil {
		if v <= current {
			applied++
		} else {
			pending++
		}
		v, err = m.source.Next(v)
	}

	if stderrors.Is(err, fs.ErrNotExist) {
		return applied, pending, nil
	}
	return applied, pending, err
}

// Force sets the migration version without running migrations
func (m *Migrator) Force(ctx context.Context, version int) error {
	m.logger.Info("Forcing migration version", logging.Int("version", version))

	if err := m.migrate.Force(version); err != nil {
		m.logger.Error("Force version failed", logging.ErrorField(err))
		return errors.WrapError(err, errors.ErrCodeMigrationFailed, "force version failed")
	}
	return nil
}

// Close releases the migration source and the database handle
func (m *Migrator) Close() error {
	if m.migrate == nil {
		return nil
	}

	sourceErr, dbErr := m.migrate.Close()
	if sourceErr != nil {
		return errors.WrapError(sourceErr, errors.ErrCodeMigrationFailed, "failed to close migration source")
	}
	if dbErr != nil {
		return errors.WrapError(dbErr, errors.ErrCodeMigrationFailed, "failed to close migration database")
	}
	return nil
}
