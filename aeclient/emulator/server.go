// Package emulator provides an in-process database that enforces the Always
// Encrypted rules of SQL Server over a sqlite store, so the demo can run
// without a provisioned server.
package emulator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/clause"

	"go-aeclient/aeclient/db"
	"go-aeclient/aeclient/errors"
	"go-aeclient/aeclient/internal/logging"
	"go-aeclient/aeclient/migrations"
	"go-aeclient/aeclient/schema"
	"go-aeclient/aeclient/store"
)

// sqliteDriver is the database/sql driver registered by go-sqlite3
const sqliteDriver = "sqlite3"

// Options configures an emulated server
type Options struct {
	// DSN is the sqlite data source; empty means a private in-memory database
	DSN string
	// Database is the database name reported in error messages
	Database string
	// MasterKey is the 32-byte column master key; nil generates a random one
	MasterKey []byte
	// Seed loads the sample rows into an empty Customer table
	Seed     bool
	LogLevel logging.LogLevel
	Metrics  *db.MetricsCollector
}

// Server is the emulated database. Sessions opened from it share its store.
type Server struct {
	database string
	dsn      string
	seed     bool
	db       *db.Database
	keyring  *Keyring
	logger   logging.Logger
}

// New opens the store, applies the sqlite migrations and seeds sample data
func New(ctx context.Context, opts Options, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	dsn := opts.DSN
	if dsn == "" {
		dsn = fmt.Sprintf("file:aeclient-%s?mode=memory&cache=shared", uuid.NewString())
	}

	if opts.Database == "" {
		opts.Database = "MyEncryptedDB"
	}

	keyring, err := NewKeyring(opts.MasterKey)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeKeyStoreUnavailable, "failed to create keyring")
	}

	dbOpts := db.Options{
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     opts.LogLevel,
		Name:         "emulator",
	}

	// The handle stays open for the life of the server, which keeps a shared
	// in-memory database alive while the migration handle comes and goes.
	database, err := db.OpenGorm(ctx, sqlite.Open(dsn), dbOpts, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		database: opts.Database,
		dsn:      dsn,
		seed:     opts.Seed,
		db:       database,
		keyring:  keyring,
		logger:   logger.With(logging.String("backend", "emulator")),
	}

	if err := db.NewMetricsMiddleware(opts.Metrics).Apply(database); err != nil {
		_ = database.Close()
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "failed to register metrics callbacks")
	}

	if err := s.Provision(ctx); err != nil {
		_ = database.Close()
		return nil, err
	}

	return s, nil
}

// Provision applies pending migrations, records the column keys and seeds an
// empty table when the server was created with Seed. It is safe to repeat.
func (s *Server) Provision(ctx context.Context) error {
	if err := s.withMigrator(func(m *migrations.Migrator) error {
		return m.Migrate(ctx)
	}); err != nil {
		return err
	}

	if err := s.registerKeys(ctx); err != nil {
		return err
	}

	if !s.seed {
		return nil
	}
	return s.seedSample(ctx)
}

// MigrationStatus reports the applied and pending sqlite migrations
func (s *Server) MigrationStatus(ctx context.Context) (*migrations.MigrationStatus, error) {
	var status *migrations.MigrationStatus
	err := s.withMigrator(func(m *migrations.Migrator) error {
		var err error
		status, err = m.GetStatus(ctx)
		return err
	})
	return status, err
}

// ForceMigrationVersion records version as applied without running migrations
func (s *Server) ForceMigrationVersion(ctx context.Context, version int) error {
	return s.withMigrator(func(m *migrations.Migrator) error {
		return m.Force(ctx, version)
	})
}

// withMigrator runs fn with a migrator over a dedicated handle to the store
func (s *Server) withMigrator(fn func(*migrations.Migrator) error) error {
	sqlDB, err := sql.Open(sqliteDriver, s.dsn)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeMigrationFailed, "failed to open migration handle")
	}

	cfg := migrations.DefaultMigrationConfig(migrations.SQLite)
	cfg.DatabaseName = s.database

	migrator, err := migrations.NewMigrator(sqlDB, s.logger, cfg)
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	defer migrator.Close()

	return fn(migrator)
}

// keyCheckText is encrypted under each column key so a later start can tell
// whether its master key still opens the stored rows
const keyCheckText = "aeclient column key check"

// registerKeys records the key protecting each encrypted column. A column
// already recorded under a different master key fails with KeyStoreUnavailable.
func (s *Server) registerKeys(ctx context.Context) error {
	var existing []columnKeyRow
	if err := s.db.WithContext(ctx).Find(&existing).Error; err != nil {
		return errors.WrapGormError(err, "register_keys")
	}

	recorded := make(map[string]columnKeyRow, len(existing))
	for _, row := range existing {
		recorded[row.ColumnName] = row
	}

	now := time.Now().UTC()

	var rows []columnKeyRow
	for _, col := range schema.CustomerTable.Columns {
		if !col.Encrypted() {
			continue
		}

		if row, ok := recorded[col.Name]; ok {
			if got, err := s.keyring.Decrypt(col, row.CheckValue); err != nil || got != keyCheckText {
				return errors.NewDBError(errors.ErrCodeKeyStoreUnavailable,
					fmt.Sprintf("column master key does not match the key protecting column %s", col.Name), err).
					WithTable(schema.CustomerTable.Name).
					WithField(col.Name).
					WithUserMessage("The stored data was encrypted with another master key; set AE_EMULATOR_MASTER_KEY to that key")
			}
			continue
		}

		key, ok := s.keyring.Key(col.Encryption)
		if !ok {
			return errors.NewDBError(errors.ErrCodeKeyStoreUnavailable,
				fmt.Sprintf("no key for %s encryption", col.Encryption), nil)
		}
		check, err := s.keyring.Encrypt(col, keyCheckText)
		if err != nil {
			return errors.WrapError(err, errors.ErrCodeKeyStoreUnavailable, "failed to compute key check value")
		}
		rows = append(rows, columnKeyRow{
			ColumnName:     col.Name,
			KeyID:          key.ID.String(),
			KeyName:        key.Name,
			EncryptionType: col.Encryption.String(),
			Algorithm:      key.Algorithm,
			CheckValue:     check,
			CreatedAt:      now,
		})
	}

	if len(rows) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		return errors.WrapGormError(err, "register_keys")
	}
	s.logger.Debug("Column keys registered", logging.Int("columns", len(rows)))
	return nil
}

// seedSample inserts the sample rows through an encryption-enabled session when the table is empty
func (s *Server) seedSample(ctx context.Context) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&customerRow{}).Count(&count).Error; err != nil {
		return errors.WrapGormError(err, "seed")
	}
	if count > 0 {
		return nil
	}

	sess := s.session(true)
	defer sess.Close()

	if err := store.Seed(ctx, sess); err != nil {
		return err
	}

	s.logger.Debug("Sample data loaded", logging.Int("rows", len(schema.SampleData)))
	return nil
}

// Open implements store.Opener
func (s *Server) Open(ctx context.Context, columnEncryption bool) (store.Session, error) {
	if s.db.IsClosed() {
		return nil, errors.NewDBError(errors.ErrCodeConnectionFailed, "server is closed", nil)
	}
	if err := s.db.Ping(ctx); err != nil {
		return nil, err
	}

	s.logger.Debug("Session opened", logging.Bool("column_encryption", columnEncryption))
	return s.session(columnEncryption), nil
}

func (s *Server) session(columnEncryption bool) *session {
	return &session{server: s, columnEncryption: columnEncryption}
}

// Keyring returns the server's keyring
func (s *Server) Keyring() *Keyring {
	return s.keyring
}

// Close releases the store; an in-memory database is discarded
func (s *Server) Close() error {
	return s.db.Close()
}
