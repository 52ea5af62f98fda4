// Package aeclient demonstrates SQL Server Always Encrypted from a client's
// point of view: what works and what is rejected when encrypted columns are
// read, filtered and written with and without the column encryption setting.
// It runs against a real server through go-mssqldb or against an in-process
// emulator that enforces the same rules.
package aeclient

import (
	"context"
	"io"

	"go-aeclient/aeclient/db"
	"go-aeclient/aeclient/demo"
	"go-aeclient/aeclient/emulator"
	"go-aeclient/aeclient/errors"
	"go-aeclient/aeclient/internal/config"
	"go-aeclient/aeclient/internal/logging"
	"go-aeclient/aeclient/migrations"
	"go-aeclient/aeclient/sqlserver"
	"go-aeclient/aeclient/store"
)

// Client runs the demo against the configured backend
type Client struct {
	settings *config.Config
	backend  backend
	logger   logging.Logger
	metrics  *db.MetricsCollector
	health   *db.HealthChecker
	options  ClientOptions
}

// backend is a store that can also provision its own schema
type backend interface {
	store.Backend
	Provision(ctx context.Context) error
	MigrationStatus(ctx context.Context) (*migrations.MigrationStatus, error)
	ForceMigrationVersion(ctx context.Context, version int) error
}

var (
	_ backend = (*sqlserver.Backend)(nil)
	_ backend = (*emulator.Server)(nil)
)

// Config represents the client configuration
type Config struct {
	Settings *config.Config
	Logger   logging.Logger
	Options  ClientOptions
}

// ClientOptions holds optional configuration for the client
type ClientOptions struct {
	// Scenarios restricts Run to the named scenarios
	Scenarios []string
	// SkipHealthCheck skips opening a session when the client is created
	SkipHealthCheck bool
}

// NewClient validates the settings and opens the configured backend
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Settings == nil {
		return nil, errors.NewDBError(errors.ErrCodeInvalidConfig, "configuration is required", nil)
	}
	if cfg.Logger == nil {
		return nil, errors.NewDBError(errors.ErrCodeInvalidConfig, "logger is required", nil)
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidConfig, "invalid configuration")
	}
	scenarios, err := demo.ScenarioNames(cfg.Options.Scenarios)
	if err != nil {
		return nil, err
	}
	cfg.Options.Scenarios = scenarios

	client := &Client{
		settings: cfg.Settings,
		logger:   cfg.Logger,
		options:  cfg.Options,
	}

	if cfg.Settings.EnableMetrics {
		client.metrics = db.NewMetricsCollector(cfg.Settings.MetricsNamespace, true)
	}

	b, err := client.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	client.backend = b

	client.health = db.NewHealthChecker(client.probe, cfg.Logger)
	client.health.SetTimeout(cfg.Settings.ConnectTimeout)

	if !cfg.Options.SkipHealthCheck {
		if err := client.Health(ctx); err != nil {
			_ = b.Close()
			return nil, errors.WrapError(err, errors.ErrCodeConnectionFailed, "initial health check failed")
		}
	}

	cfg.Logger.Info("Client initialized",
		logging.String("backend", string(cfg.Settings.Backend)),
		logging.String("database", cfg.Settings.Database),
		logging.String("key_store", string(cfg.Settings.KeyStore)),
		logging.Bool("metrics_enabled", client.metrics.IsEnabled()),
	)

	return client, nil
}

// NewClientFromEnv creates a client from AE_* environment variables
func NewClientFromEnv(ctx context.Context, logger logging.Logger) (*Client, error) {
	settings, err := config.LoadFromEnv()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidConfig, "failed to load configuration from environment")
	}

	return NewClient(ctx, Config{Settings: settings, Logger: logger})
}

func (c *Client) openBackend(ctx context.Context) (backend, error) {
	switch c.settings.Backend {
	case config.Emulator:
		key, err := c.settings.MasterKey()
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInvalidConfig, "invalid emulator master key")
		}
		return emulator.New(ctx, emulator.Options{
			DSN:       c.settings.EmulatorDSN,
			Database:  c.settings.Database,
			MasterKey: key,
			Seed:      c.settings.Seed,
			LogLevel:  logging.GormLevel(c.settings.LogLevel),
			Metrics:   c.metrics,
		}, c.logger)

	case config.SQLServer:
		return sqlserver.New(c.settings, c.logger)

	default:
		return nil, errors.NewDBError(errors.ErrCodeInvalidConfig,
			"unsupported backend: "+string(c.settings.Backend), nil)
	}
}

// Run executes the demo scenarios, writing the transcript to w
func (c *Client) Run(ctx context.Context, w io.Writer) (*demo.Report, error) {
	driver, err := demo.NewDriver(c.backend, c.logger, demo.Options{
		Backend:   string(c.settings.Backend),
		Writer:    w,
		Metrics:   c.metrics,
		Strict:    c.settings.Strict,
		Scenarios: c.options.Scenarios,
	})
	if err != nil {
		return nil, err
	}
	return driver.Run(ctx)
}

// Provision creates the schema and stored procedures on the backend
func (c *Client) Provision(ctx context.Context) error {
	return c.backend.Provision(ctx)
}

// MigrationStatus returns the backend's migration status
func (c *Client) MigrationStatus(ctx context.Context) (*migrations.MigrationStatus, error) {
	return c.backend.MigrationStatus(ctx)
}

// ForceMigrationVersion sets the backend's migration version without running
// migrations, for recovering from a dirty migration
func (c *Client) ForceMigrationVersion(ctx context.Context, version int) error {
	c.logger.Warn("Forcing migration version", logging.Int("version", version))
	return c.backend.ForceMigrationVersion(ctx, version)
}

// Health opens and closes a session with the column encryption setting disabled
func (c *Client) Health(ctx context.Context) error {
	return c.health.Check(ctx)
}

// HealthStatus returns the result of the most recent health checks
func (c *Client) HealthStatus() db.HealthStatus {
	return c.health.GetStatus()
}

func (c *Client) probe(ctx context.Context) error {
	sess, err := c.backend.Open(ctx, false)
	if err != nil {
		return err
	}
	return sess.Close()
}

// Store returns the backend sessions are opened from
func (c *Client) Store() store.Opener {
	return c.backend
}

// Metrics returns the metrics collector, or nil when metrics are disabled
func (c *Client) Metrics() *db.MetricsCollector {
	return c.metrics
}

// Logger returns the logger instance
func (c *Client) Logger() logging.Logger {
	return c.logger
}

// Close releases the backend
func (c *Client) Close() error {
	if c.backend == nil {
		return nil
	}
	if err := c.backend.Close(); err != nil {
		c.logger.Error("Failed to close backend", logging.ErrorField(err))
		return err
	}
	c.logger.Debug("Client closed")
	return nil
}

// IsUnsupportedOperation reports whether err was rejected by the encrypted-column rules
func IsUnsupportedOperation(err error) bool {
	return errors.IsUnsupportedOperation(err)
}

// IsConnectionError checks if an error is a connection-related error
func IsConnectionError(err error) bool {
	return errors.IsConnectionError(err)
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) errors.ErrorCode {
	return errors.GetErrorCode(err)
}

// Version information
const (
	Version = "1.0.0"
	Name    = "go-aeclient"
)

// GetVersion returns the package version
func GetVersion() string {
	return Version
}
