package sqlserver

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/microsoft/go-mssqldb/aecmk/akv"
	"github.com/microsoft/go-mssqldb/aecmk/localcert"

	"go-aeclient/aeclient/errors"
	"go-aeclient/aeclient/internal/config"
	"go-aeclient/aeclient/internal/logging"
)

// registerKeyStore configures the column master key provider named by the
// configuration. Both providers register themselves with the driver on import;
// this only supplies their credentials.
func registerKeyStore(cfg *config.Config, logger logging.Logger) error {
	switch cfg.KeyStore {
	case config.KeyStorePFX:
		// An empty location applies the password to every certificate
		localcert.PfxKeyProvider.SetCertificatePassword(cfg.CertificatePath, cfg.CertificatePassword)
		logger.Info("Registered pfx column master key store",
			logging.String("certificate_path", cfg.CertificatePath),
		)

	case config.KeyStoreAKV:
		cred, err := azureCredential(cfg)
		if err != nil {
			return errors.WrapError(err, errors.ErrCodeKeyStoreUnavailable, "failed to create Azure credential")
		}
		// An empty endpoint applies the credential to every vault
		akv.KeyProvider.SetCertificateCredential(cfg.KeyVaultEndpoint, cred)
		logger.Info("Registered Azure Key Vault column master key store",
			logging.String("endpoint", cfg.KeyVaultEndpoint),
		)

	case config.KeyStoreNone, "":
		logger.Debug("No column master key store configured")

	default:
		return errors.NewDBError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("unsupported key store: %s", cfg.KeyStore), nil)
	}

	return nil
}

// azureCredential uses a client secret when one is configured and the default
// credential chain otherwise
func azureCredential(cfg *config.Config) (azcore.TokenCredential, error) {
	if cfg.AzureTenantID != "" && cfg.AzureClientID != "" && cfg.AzureClientSecret != "" {
		return azidentity.NewClientSecretCredential(cfg.AzureTenantID, cfg.AzureClientID, cfg.AzureClientSecret, nil)
	}
	return azidentity.NewDefaultAzureCredential(nil)
}
