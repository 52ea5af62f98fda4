package config

import internal "go-aeclient/aeclient/internal/config"

// Re-export public API from internal/config so consumers outside the internal tree can use it

type Config = internal.Config
type Backend = internal.Backend
type AuthMode = internal.AuthMode
type KeyStore = internal.KeyStore

const (
	SQLServer Backend = internal.SQLServer
	Emulator  Backend = internal.Emulator

	Integrated AuthMode = internal.Integrated
	SQLLogin   AuthMode = internal.SQLLogin

	KeyStoreNone KeyStore = internal.KeyStoreNone
	KeyStorePFX  KeyStore = internal.KeyStorePFX
	KeyStoreAKV  KeyStore = internal.KeyStoreAKV

	ColumnEncryptionSetting = internal.ColumnEncryptionSetting
)

func DefaultConfig() *Config        { return internal.DefaultConfig() }
func LoadFromEnv() (*Config, error) { return internal.LoadFromEnv() }
