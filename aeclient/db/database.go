// Package db provides connection management for the demo backends: plain
// database/sql handles for SQL Server sessions and GORM handles for the emulator store.
package db

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go-aeclient/aeclient/errors"
	"go-aeclient/aeclient/internal/logging"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Options configures a database handle
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	// LogLevel applies to the GORM logger of handles opened with OpenGorm
	LogLevel logging.LogLevel
	// Name identifies the handle in logs
	Name string
}

// SessionOptions returns options for a connection-scoped handle: one connection
// that is never recycled, so session state such as the column encryption
// setting holds for every statement
func SessionOptions(connectTimeout time.Duration) Options {
	return Options{
		MaxOpenConns:   1,
		MaxIdleConns:   1,
		ConnectTimeout: connectTimeout,
		LogLevel:       logging.Warn,
		Name:           "session",
	}
}

// ConnectionStats holds connection pool statistics
type ConnectionStats struct {
	MaxOpenConnections int
	OpenConnections    int
	InUseConnections   int
	IdleConnections    int
	WaitCount          int64
	WaitDuration       time.Duration
}

// Database wraps an open database handle
type Database struct {
	db      *gorm.DB
	sqlDB   *sql.DB
	options Options
	logger  logging.Logger
	mu      sync.RWMutex
	closed  bool
}

// OpenSQL opens a database/sql handle with the given driver and verifies it with a ping
func OpenSQL(ctx context.Context, driverName, dsn string, opts Options, logger logging.Logger) (*Database, error) {
	if logger == nil {
		return nil, errors.NewDBError(errors.ErrCodeInvalidConfig, "logger is required", nil)
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConnectionFailed, "failed to open database handle")
	}

	d := &Database{sqlDB: sqlDB, options: opts, logger: logger}
	if err := d.configure(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	logger.Debug("Database handle opened",
		logging.String("driver", driverName),
		logging.String("name", opts.Name),
	)

	return d, nil
}

// OpenGorm opens a GORM handle over the given dialector with the DBLogger attached
func OpenGorm(ctx context.Context, dialector gorm.Dialector, opts Options, logger logging.Logger) (*Database, error) {
	if logger == nil {
		return nil, errors.NewDBError(errors.ErrCodeInvalidConfig, "logger is required", nil)
	}

	loggerConfig := logging.DefaultLoggerConfig()
	if opts.LogLevel != 0 {
		loggerConfig.LogLevel = opts.LogLevel
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logging.NewDBLogger(logger, loggerConfig),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
			NoLowerCase:   true,
		},
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, errors.WrapGormError(err, "connect")
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConnectionFailed, "failed to get underlying SQL DB")
	}

	d := &Database{db: gormDB, sqlDB: sqlDB, options: opts, logger: logger}
	if err := d.configure(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	logger.Debug("Database handle opened",
		logging.String("dialector", dialector.Name()),
		logging.String("name", opts.Name),
	)

	return d, nil
}

// configure applies pool settings and pings the database
func (d *Database) configure(ctx context.Context) error {
	if d.options.MaxOpenConns > 0 {
		d.sqlDB.SetMaxOpenConns(d.options.MaxOpenConns)
	}
	if d.options.MaxIdleConns > 0 {
		d.sqlDB.SetMaxIdleConns(d.options.MaxIdleConns)
	}
	d.sqlDB.SetConnMaxLifetime(d.options.ConnMaxLifetime)

	return d.Ping(ctx)
}

// DB returns the GORM handle, or nil for handles opened with OpenSQL
func (d *Database) DB() *gorm.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// SqlDB returns the underlying database/sql handle
func (d *Database) SqlDB() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sqlDB
}

// WithContext returns a GORM handle bound to ctx
func (d *Database) WithContext(ctx context.Context) *gorm.DB {
	return d.DB().WithContext(ctx)
}

// Transaction executes fn within a GORM transaction
func (d *Database) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if d.IsClosed() {
		return errors.NewDBError(errors.ErrCodeConnectionFailed, "database is closed", nil)
	}

	if err := d.WithContext(ctx).Transaction(fn); err != nil {
		return errors.WrapGormError(err, "transaction")
	}
	return nil
}

// Ping checks the connection, bounded by the connect timeout when one is set
func (d *Database) Ping(ctx context.Context) error {
	if d.IsClosed() {
		return errors.NewDBError(errors.ErrCodeConnectionFailed, "database is closed", nil)
	}

	if d.options.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.options.ConnectTimeout)
		defer cancel()
	}

	if err := d.sqlDB.PingContext(ctx); err != nil {
		if errors.IsUnsupportedOperation(err) {
			return err
		}
		wrapped := errors.WrapSQLServerError(err, "ping")
		if wrapped.Code == errors.ErrCodeUnknown {
			wrapped = errors.WrapError(err, errors.ErrCodeConnectionFailed, "database ping failed").WithOperation("ping")
		}
		return wrapped
	}

	return nil
}

// GetConnectionStats returns connection pool statistics
func (d *Database) GetConnectionStats() ConnectionStats {
	stats := d.SqlDB().Stats()
	return ConnectionStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUseConnections:   stats.InUse,
		IdleConnections:    stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}
}

// Close closes the handle. Closing twice is a no-op.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if err := d.sqlDB.Close(); err != nil {
		return errors.WrapError(err, errors.ErrCodeConnectionFailed, "failed to close database handle")
	}

	d.logger.Debug("Database handle closed", logging.String("name", d.options.Name))
	return nil
}

// IsClosed returns true if the handle has been closed
func (d *Database) IsClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}
