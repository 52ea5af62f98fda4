package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-aeclient/aeclient/internal/config"
)

const testMasterKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, config.SQLServer, cfg.Backend)
	assert.Equal(t, ".", cfg.Server)
	assert.Equal(t, "MyEncryptedDB", cfg.Database)
	assert.Equal(t, config.Integrated, cfg.AuthMode)
	assert.True(t, cfg.TrustServerCertificate)
	assert.Equal(t, config.KeyStoreNone, cfg.KeyStore)
	assert.True(t, cfg.Seed)
	assert.False(t, cfg.Strict)

	require.NoError(t, cfg.Validate())
}

func TestConnectionString(t *testing.T) {
	cfg := config.DefaultConfig()

	base := "server=.;database=MyEncryptedDB;app name=aeclient;TrustServerCertificate=true;connection timeout=30;"
	assert.Equal(t, base, cfg.ConnectionString(false))
	assert.Equal(t, base+"column encryption setting=enabled", cfg.ConnectionString(true))
	assert.Equal(t, base, cfg.BaseConnectionString())
}

func TestConnectionString_SQLLogin(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AuthMode = config.SQLLogin
	cfg.Username = "demo"
	cfg.Password = `p;w"d`

	conn := cfg.ConnectionString(true)
	assert.Contains(t, conn, "user id=demo;")
	assert.Contains(t, conn, `password="p;w""d";`)
	assert.True(t, strings.HasSuffix(conn, config.ColumnEncryptionSetting))

	redacted := cfg.Redacted(true)
	assert.NotContains(t, redacted, "p;w")
	assert.Contains(t, redacted, "password=***;")
	assert.Equal(t, `p;w"d`, cfg.Password)

	require.NoError(t, cfg.Validate())
}

func TestConnectionString_Authenticator(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Authenticator = "krb5"

	assert.Contains(t, cfg.ConnectionString(false), "authenticator=krb5;")
	assert.NotContains(t, cfg.ConnectionString(false), "user id")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{"defaults", func(*config.Config) {}, false},
		{"emulator_without_server", func(c *config.Config) {
			c.Backend = config.Emulator
			c.Server = ""
		}, false},
		{"emulator_with_master_key", func(c *config.Config) {
			c.Backend = config.Emulator
			c.EmulatorMasterKey = testMasterKey
		}, false},
		{"unknown_backend", func(c *config.Config) { c.Backend = "oracle" }, true},
		{"sqlserver_without_server", func(c *config.Config) { c.Server = "" }, true},
		{"missing_database", func(c *config.Config) { c.Database = "" }, true},
		{"sql_login_without_username", func(c *config.Config) { c.AuthMode = config.SQLLogin }, true},
		{"unknown_key_store", func(c *config.Config) { c.KeyStore = "hsm" }, true},
		{"short_master_key", func(c *config.Config) { c.EmulatorMasterKey = "abcd" }, true},
		{"non_hex_master_key", func(c *config.Config) { c.EmulatorMasterKey = strings.Repeat("zz", 32) }, true},
		{"zero_connect_timeout", func(c *config.Config) { c.ConnectTimeout = 0 }, true},
		{"negative_query_timeout", func(c *config.Config) { c.QueryTimeout = -time.Second }, true},
		{"bad_log_level", func(c *config.Config) { c.LogLevel = "verbose" }, true},
		{"bad_log_format", func(c *config.Config) { c.LogFormat = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("AE_BACKEND", "EMULATOR")
	t.Setenv("AE_DATABASE", "OtherDB")
	t.Setenv("AE_AUTH_MODE", "sql")
	t.Setenv("AE_USERNAME", "demo")
	t.Setenv("AE_PASSWORD", "secret")
	t.Setenv("AE_CONNECT_TIMEOUT", "5s")
	t.Setenv("AE_QUERY_TIMEOUT", "1m")
	t.Setenv("AE_KEY_STORE", "akv")
	t.Setenv("AE_KEY_VAULT_ENDPOINT", "https://demo.vault.azure.net")
	t.Setenv("AZURE_TENANT_ID", "tenant")
	t.Setenv("AE_EMULATOR_MASTER_KEY", testMasterKey)
	t.Setenv("AE_SEED", "false")
	t.Setenv("AE_LOG_LEVEL", "DEBUG")
	t.Setenv("AE_ENABLE_METRICS", "false")
	t.Setenv("AE_STRICT", "true")

	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, config.Emulator, cfg.Backend)
	assert.Equal(t, "OtherDB", cfg.Database)
	assert.Equal(t, config.SQLLogin, cfg.AuthMode)
	assert.Equal(t, "demo", cfg.Username)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, time.Minute, cfg.QueryTimeout)
	assert.Equal(t, config.KeyStoreAKV, cfg.KeyStore)
	assert.Equal(t, "https://demo.vault.azure.net", cfg.KeyVaultEndpoint)
	assert.Equal(t, "tenant", cfg.AzureTenantID)
	assert.False(t, cfg.Seed)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.EnableMetrics)
	assert.True(t, cfg.Strict)

	key, err := cfg.MasterKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv_AzureCredentials(t *testing.T) {
	t.Setenv("AZURE_TENANT_ID", "tenant")
	t.Setenv("AZURE_CLIENT_ID", "client")
	t.Setenv("AZURE_CLIENT_SECRET", "secret")
	t.Setenv("AE_AZURE_CLIENT_ID", "ae-client")
	t.Setenv("AE_AZURE_CLIENT_SECRET", "ae-secret")

	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)

	// AE_AZURE_* wins over the azidentity names when both are set
	assert.Equal(t, "tenant", cfg.AzureTenantID)
	assert.Equal(t, "ae-client", cfg.AzureClientID)
	assert.Equal(t, "ae-secret", cfg.AzureClientSecret)
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
	}{
		{"connect_timeout", "AE_CONNECT_TIMEOUT", "soon"},
		{"query_timeout", "AE_QUERY_TIMEOUT", "10"},
		{"trust", "AE_TRUST_SERVER_CERTIFICATE", "maybe"},
		{"seed", "AE_SEED", "sometimes"},
		{"metrics", "AE_ENABLE_METRICS", "on-ish"},
		{"strict", "AE_STRICT", "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.val)

			_, err := config.LoadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid "+tt.env)
		})
	}
}

func TestMasterKey_Empty(t *testing.T) {
	key, err := config.DefaultConfig().MasterKey()
	require.NoError(t, err)
	assert.Nil(t, key)
}
