// Package config provides configuration management for the Always Encrypted demo client.
// It supports environment-based configuration with validation and builds the
// SQL Server connection strings used for each scenario.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microsoft/go-mssqldb/msdsn"
)

// Backend selects the database the demo runs against
type Backend string

const (
	// SQLServer runs the demo against a real SQL Server through go-mssqldb
	SQLServer Backend = "sqlserver"
	// Emulator runs the demo against the in-process encrypted-column emulator
	Emulator Backend = "emulator"
)

// AuthMode selects how the client authenticates to SQL Server
type AuthMode string

const (
	// Integrated uses Windows (SSPI) or Kerberos authentication
	Integrated AuthMode = "integrated"
	// SQLLogin uses a SQL Server login and password
	SQLLogin AuthMode = "sql"
)

// KeyStore selects the column master key store provider registered with the driver
type KeyStore string

const (
	KeyStoreNone KeyStore = "none"
	// KeyStorePFX loads column master keys from local pfx certificates
	KeyStorePFX KeyStore = "pfx"
	// KeyStoreAKV loads column master keys from Azure Key Vault
	KeyStoreAKV KeyStore = "akv"
)

// ColumnEncryptionSetting is appended to the base connection string to enable
// transparent encryption and decryption of encrypted columns
const ColumnEncryptionSetting = "column encryption setting=enabled"

// Config holds all configuration options for the demo
type Config struct {
	Backend Backend `json:"backend" yaml:"backend" mapstructure:"backend" validate:"oneof=sqlserver emulator"`

	// SQL Server connection settings
	Server                 string        `json:"server" yaml:"server" mapstructure:"server" validate:"required_if=Backend sqlserver"`
	Database               string        `json:"database" yaml:"database" mapstructure:"database" validate:"required"`
	AuthMode               AuthMode      `json:"auth_mode" yaml:"auth_mode" mapstructure:"auth-mode" validate:"oneof=integrated sql"`
	Username               string        `json:"username" yaml:"username" mapstructure:"username" validate:"required_if=AuthMode sql"`
	Password               string        `json:"-" yaml:"-" mapstructure:"password"`
	Authenticator          string        `json:"authenticator" yaml:"authenticator" mapstructure:"authenticator"`
	TrustServerCertificate bool          `json:"trust_server_certificate" yaml:"trust_server_certificate" mapstructure:"trust-server-certificate"`
	AppName                string        `json:"app_name" yaml:"app_name" mapstructure:"app-name"`
	ConnectTimeout         time.Duration `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect-timeout"`
	QueryTimeout           time.Duration `json:"query_timeout" yaml:"query_timeout" mapstructure:"query-timeout"`

	// Column master key store settings
	KeyStore            KeyStore `json:"key_store" yaml:"key_store" mapstructure:"key-store" validate:"oneof=none pfx akv"`
	CertificatePath     string   `json:"certificate_path" yaml:"certificate_path" mapstructure:"certificate-path"`
	CertificatePassword string   `json:"-" yaml:"-" mapstructure:"certificate-password"`
	KeyVaultEndpoint    string   `json:"key_vault_endpoint" yaml:"key_vault_endpoint" mapstructure:"key-vault-endpoint"`
	AzureTenantID       string   `json:"azure_tenant_id" yaml:"azure_tenant_id" mapstructure:"azure-tenant-id"`
	AzureClientID       string   `json:"azure_client_id" yaml:"azure_client_id" mapstructure:"azure-client-id"`
	AzureClientSecret   string   `json:"-" yaml:"-" mapstructure:"azure-client-secret"`

	// Emulator settings
	EmulatorDSN       string `json:"emulator_dsn" yaml:"emulator_dsn" mapstructure:"emulator-dsn"`
	EmulatorMasterKey string `json:"-" yaml:"-" mapstructure:"emulator-master-key" validate:"omitempty,len=64,hexadecimal"`

	// Seed loads the sample rows into an empty Customer table after provisioning
	Seed bool `json:"seed" yaml:"seed" mapstructure:"seed"`

	// Observability settings
	LogLevel         string `json:"log_level" yaml:"log_level" mapstructure:"log-level" validate:"oneof=trace debug info warn error"`
	LogFormat        string `json:"log_format" yaml:"log_format" mapstructure:"log-format" validate:"oneof=text json"`
	EnableMetrics    bool   `json:"enable_metrics" yaml:"enable_metrics" mapstructure:"enable-metrics"`
	MetricsNamespace string `json:"metrics_namespace" yaml:"metrics_namespace" mapstructure:"metrics-namespace"`

	// Strict turns steps whose outcome differs from the expected one into a failed run
	Strict bool `json:"strict" yaml:"strict" mapstructure:"strict"`
}

// DefaultConfig returns the demo defaults: a local default
// instance, integrated security and a trusted server certificate
func DefaultConfig() *Config {
	return &Config{
		Backend: SQLServer,

		Server:                 ".",
		Database:               "MyEncryptedDB",
		AuthMode:               Integrated,
		TrustServerCertificate: true,
		AppName:                "aeclient",
		ConnectTimeout:         30 * time.Second,
		QueryTimeout:           30 * time.Second,

		KeyStore: KeyStoreNone,

		Seed: true,

		LogLevel:         "info",
		LogFormat:        "text",
		EnableMetrics:    true,
		MetricsNamespace: "aeclient",
	}
}

// LoadFromEnv loads configuration from environment variables on top of DefaultConfig
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()

	if backend := os.Getenv("AE_BACKEND"); backend != "" {
		config.Backend = Backend(strings.ToLower(backend))
	}

	if server := os.Getenv("AE_SERVER"); server != "" {
		config.Server = server
	}

	if database := os.Getenv("AE_DATABASE"); database != "" {
		config.Database = database
	}

	if authMode := os.Getenv("AE_AUTH_MODE"); authMode != "" {
		config.AuthMode = AuthMode(strings.ToLower(authMode))
	}

	if username := os.Getenv("AE_USERNAME"); username != "" {
		config.Username = username
	}

	if password := os.Getenv("AE_PASSWORD"); password != "" {
		config.Password = password
	}

	if authenticator := os.Getenv("AE_AUTHENTICATOR"); authenticator != "" {
		config.Authenticator = authenticator
	}

	if trustStr := os.Getenv("AE_TRUST_SERVER_CERTIFICATE"); trustStr != "" {
		trust, err := strconv.ParseBool(trustStr)
		if err != nil {
			return nil, fmt.Errorf("invalid AE_TRUST_SERVER_CERTIFICATE: %w", err)
		}
		config.TrustServerCertificate = trust
	}

	if appName := os.Getenv("AE_APP_NAME"); appName != "" {
		config.AppName = appName
	}

	if connectTimeoutStr := os.Getenv("AE_CONNECT_TIMEOUT"); connectTimeoutStr != "" {
		connectTimeout, err := time.ParseDuration(connectTimeoutStr)
		if err != nil {
			return nil, fmt.Errorf("invalid AE_CONNECT_TIMEOUT: %w", err)
		}
		config.ConnectTimeout = connectTimeout
	}

	if queryTimeoutStr := os.Getenv("AE_QUERY_TIMEOUT"); queryTimeoutStr != "" {
		queryTimeout, err := time.ParseDuration(queryTimeoutStr)
		if err != nil {
			return nil, fmt.Errorf("invalid AE_QUERY_TIMEOUT: %w", err)
		}
		config.QueryTimeout = queryTimeout
	}

	// Key store
	if keyStore := os.Getenv("AE_KEY_STORE"); keyStore != "" {
		config.KeyStore = KeyStore(strings.ToLower(keyStore))
	}

	if certPath := os.Getenv("AE_CERTIFICATE_PATH"); certPath != "" {
		config.CertificatePath = certPath
	}

	if certPassword := os.Getenv("AE_CERTIFICATE_PASSWORD"); certPassword != "" {
		config.CertificatePassword = certPassword
	}

	if endpoint := os.Getenv("AE_KEY_VAULT_ENDPOINT"); endpoint != "" {
		config.KeyVaultEndpoint = endpoint
	}

	// Azure credentials: AE_AZURE_* first, then the azidentity variable names
	if tenantID := firstEnv("AE_AZURE_TENANT_ID", "AZURE_TENANT_ID"); tenantID != "" {
		config.AzureTenantID = tenantID
	}

	if clientID := firstEnv("AE_AZURE_CLIENT_ID", "AZURE_CLIENT_ID"); clientID != "" {
		config.AzureClientID = clientID
	}

	if clientSecret := firstEnv("AE_AZURE_CLIENT_SECRET", "AZURE_CLIENT_SECRET"); clientSecret != "" {
		config.AzureClientSecret = clientSecret
	}

	// Emulator
	if dsn := os.Getenv("AE_EMULATOR_DSN"); dsn != "" {
		config.EmulatorDSN = dsn
	}

	if masterKey := os.Getenv("AE_EMULATOR_MASTER_KEY"); masterKey != "" {
		config.EmulatorMasterKey = masterKey
	}

	if seedStr := os.Getenv("AE_SEED"); seedStr != "" {
		seed, err := strconv.ParseBool(seedStr)
		if err != nil {
			return nil, fmt.Errorf("invalid AE_SEED: %w", err)
		}
		config.Seed = seed
	}

	// Observability
	if level := os.Getenv("AE_LOG_LEVEL"); level != "" {
		config.LogLevel = strings.ToLower(level)
	}

	if format := os.Getenv("AE_LOG_FORMAT"); format != "" {
		config.LogFormat = strings.ToLower(format)
	}

	if enableMetricsStr := os.Getenv("AE_ENABLE_METRICS"); enableMetricsStr != "" {
		enableMetrics, err := strconv.ParseBool(enableMetricsStr)
		if err != nil {
			return nil, fmt.Errorf("invalid AE_ENABLE_METRICS: %w", err)
		}
		config.EnableMetrics = enableMetrics
	}

	if namespace := os.Getenv("AE_METRICS_NAMESPACE"); namespace != "" {
		config.MetricsNamespace = namespace
	}

	if strictStr := os.Getenv("AE_STRICT"); strictStr != "" {
		strict, err := strconv.ParseBool(strictStr)
		if err != nil {
			return nil, fmt.Errorf("invalid AE_STRICT: %w", err)
		}
		config.Strict = strict
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive")
	}

	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive")
	}

	if c.EmulatorMasterKey != "" {
		if _, err := hex.DecodeString(c.EmulatorMasterKey); err != nil {
			return fmt.Errorf("invalid emulator master key: %w", err)
		}
	}

	if c.Backend == SQLServer {
		parsed, err := msdsn.Parse(c.ConnectionString(true))
		if err != nil {
			return fmt.Errorf("invalid connection string: %w", err)
		}
		if !parsed.ColumnEncryption {
			return fmt.Errorf("connection string does not enable column encryption")
		}
	}

	return nil
}

// MasterKey decodes the emulator master key, or returns nil when none is configured
func (c *Config) MasterKey() ([]byte, error) {
	if c.EmulatorMasterKey == "" {
		return nil, nil
	}
	return hex.DecodeString(c.EmulatorMasterKey)
}

// BaseConnectionString returns the connection string without the column encryption setting
func (c *Config) BaseConnectionString() string {
	pairs := [][2]string{
		{"server", c.Server},
		{"database", c.Database},
	}

	if c.AppName != "" {
		pairs = append(pairs, [2]string{"app name", c.AppName})
	}

	switch c.AuthMode {
	case SQLLogin:
		pairs = append(pairs,
			[2]string{"user id", c.Username},
			[2]string{"password", c.Password},
		)
	case Integrated:
		if c.Authenticator != "" {
			pairs = append(pairs, [2]string{"authenticator", c.Authenticator})
		}
	}

	pairs = append(pairs, [2]string{"TrustServerCertificate", strconv.FormatBool(c.TrustServerCertificate)})

	if c.ConnectTimeout > 0 {
		pairs = append(pairs, [2]string{"connection timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds()))})
	}

	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(quoteValue(p[1]))
		b.WriteByte(';')
	}
	return b.String()
}

// ConnectionString returns the connection string for a session, with the column
// encryption setting appended when columnEncryption is true
func (c *Config) ConnectionString(columnEncryption bool) string {
	base := c.BaseConnectionString()
	if columnEncryption {
		return base + ColumnEncryptionSetting
	}
	return base
}

// Redacted returns a copy of the connection string safe for logging
func (c *Config) Redacted(columnEncryption bool) string {
	clone := *c
	if clone.Password != "" {
		clone.Password = "***"
	}
	return clone.ConnectionString(columnEncryption)
}

// quoteValue quotes connection string values that would otherwise be split or
// misparsed; embedded double quotes are doubled
func quoteValue(v string) string {
	if v == "" || (!strings.ContainsAny(v, `;"'=`) && strings.TrimSpace(v) == v) {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

// firstEnv returns the first non-empty variable among names
func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
