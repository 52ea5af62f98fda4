// Package sqlserver runs the demo against a real SQL Server through go-mssqldb.
// Each session is one connection whose connection string carries the column
// encryption setting, so the driver encrypts parameters and decrypts results
// transparently when it is enabled.
package sqlserver

import (
	"context"
	"database/sql"

	_ "github.com/microsoft/go-mssqldb/integratedauth/krb5"

	"go-aeclient/aeclient/db"
	"go-aeclient/aeclient/errors"
	"go-aeclient/aeclient/internal/config"
	"go-aeclient/aeclient/internal/logging"
	"go-aeclient/aeclient/migrations"
	"go-aeclient/aeclient/store"
)

// DriverName is the database/sql driver registered by go-mssqldb
const DriverName = "sqlserver"

// Backend opens SQL Server sessions
type Backend struct {
	cfg    *config.Config
	logger logging.Logger
	binder Binder
}

var _ store.Backend = (*Backend)(nil)

// New creates a backend and configures the column master key store
func New(cfg *config.Config, logger logging.Logger) (*Backend, error) {
	if cfg == nil {
		return nil, errors.NewDBError(errors.ErrCodeInvalidConfig, "configuration is required", nil)
	}
	if logger == nil {
		return nil, errors.NewDBError(errors.ErrCodeInvalidConfig, "logger is required", nil)
	}

	b := &Backend{
		cfg:    cfg,
		logger: logger.With(logging.String("backend", "sqlserver")),
	}

	if err := registerKeyStore(cfg, b.logger); err != nil {
		return nil, err
	}

	return b, nil
}

// Open implements store.Opener
func (b *Backend) Open(ctx context.Context, columnEncryption bool) (store.Session, error) {
	b.logger.Debug("Opening session",
		logging.String("connection_string", b.cfg.Redacted(columnEncryption)),
	)

	database, err := db.OpenSQL(ctx, DriverName, b.cfg.ConnectionString(columnEncryption),
		db.SessionOptions(b.cfg.ConnectTimeout), b.logger)
	if err != nil {
		return nil, err
	}

	return &session{
		db:           database,
		binder:       b.binder,
		queryTimeout: b.cfg.QueryTimeout,
	}, nil
}

// Provision creates the Customer table and stored procedures, then loads the
// sample rows through an encryption-enabled session when configured to. The
// column encryption key named in the migrations must already exist.
func (b *Backend) Provision(ctx context.Context) error {
	if err := b.withMigrator(func(m *migrations.Migrator) error {
		return m.Migrate(ctx)
	}); err != nil {
		return err
	}

	if !b.cfg.Seed {
		return nil
	}

	sess, err := b.Open(ctx, true)
	if err != nil {
		return err
	}
	defer sess.Close()

	rows, err := sess.SelectAll(ctx)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		b.logger.Info("Customer table already has rows; skipping sample data", logging.Int("rows", len(rows)))
		return nil
	}

	return store.Seed(ctx, sess)
}

// MigrationStatus reports the applied and pending schema migrations
func (b *Backend) MigrationStatus(ctx context.Context) (*migrations.MigrationStatus, error) {
	var status *migrations.MigrationStatus
	err := b.withMigrator(func(m *migrations.Migrator) error {
		var err error
		status, err = m.GetStatus(ctx)
		return err
	})
	return status, err
}

// ForceMigrationVersion records version as applied and clears the dirty flag
// without running any migration
func (b *Backend) ForceMigrationVersion(ctx context.Context, version int) error {
	return b.withMigrator(func(m *migrations.Migrator) error {
		return m.Force(ctx, version)
	})
}

// withMigrator runs fn with a migrator over a dedicated connection that has
// the column encryption setting disabled
func (b *Backend) withMigrator(fn func(*migrations.Migrator) error) error {
	sqlDB, err := sql.Open(DriverName, b.cfg.ConnectionString(false))
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeConnectionFailed, "failed to open provisioning handle")
	}

	cfg := migrations.DefaultMigrationConfig(migrations.SQLServer)
	cfg.DatabaseName = b.cfg.Database

	migrator, err := migrations.NewMigrator(sqlDB, b.logger, cfg)
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	defer migrator.Close()

	return fn(migrator)
}

// Close implements store.Backend; sessions own their connections
func (b *Backend) Close() error {
	return nil
}
