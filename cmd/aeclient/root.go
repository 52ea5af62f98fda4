package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"go-aeclient/aeclient"
	"go-aeclient/aeclient/config"
	"go-aeclient/aeclient/logging"
)

// app holds the state shared by the commands
type app struct {
	v          *viper.Viper
	stdout     io.Writer
	stderr     io.Writer
	configFile string
	scenarios  []string
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: viper.New(), stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "aeclient [flags] [command]",
		Short: "SQL Server Always Encrypted client demo",
		Long: `Runs three scenarios against the encrypted Customer table: without the
column encryption setting, with it using ad-hoc statements, and with it using
stored procedures. Each step reports whether it succeeded and, when it failed,
the error the database returned.

Settings come from flags, AE_* environment variables and an optional config
file, in that order of precedence.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.v.BindPFlags(cmd.Flags())
		},
		RunE: a.runDemo,
	}

	root.SetOut(stdout)
	root.SetErr(stderr)

	addSettingsFlags(root.PersistentFlags())
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "Path to a YAML, JSON or TOML config file")
	root.Flags().StringSliceVar(&a.scenarios, "scenario", nil, "Run only the named scenarios (A, B, C)")

	root.AddCommand(
		a.newRunCommand(),
		a.newProvisionCommand(),
		a.newStatusCommand(),
		a.newHealthCommand(),
		newVersionCommand(stdout),
	)

	return root
}

// addSettingsFlags declares one flag per setting, named by its config key.
// Secrets are read from the environment only.
func addSettingsFlags(flags *pflag.FlagSet) {
	d := config.DefaultConfig()

	flags.StringP("backend", "b", string(d.Backend), "Backend to run against: sqlserver or emulator")
	flags.StringP("server", "S", d.Server, "SQL Server instance")
	flags.StringP("database", "d", d.Database, "Database holding the Customer table")
	flags.String("auth-mode", string(d.AuthMode), "Authentication: integrated or sql")
	flags.StringP("username", "U", d.Username, "Login for sql authentication (password from AE_PASSWORD)")
	flags.String("authenticator", d.Authenticator, "Integrated authentication provider, for example krb5")
	flags.Bool("trust-server-certificate", d.TrustServerCertificate, "Skip server certificate validation")
	flags.String("app-name", d.AppName, "Application name sent to the server")
	flags.Duration("connect-timeout", d.ConnectTimeout, "Connection timeout")
	flags.Duration("query-timeout", d.QueryTimeout, "Per-statement timeout")

	flags.String("key-store", string(d.KeyStore), "Column master key store: none, pfx or akv")
	flags.String("certificate-path", d.CertificatePath, "PFX certificate holding the column master key")
	flags.String("key-vault-endpoint", d.KeyVaultEndpoint, "Azure Key Vault endpoint holding the column master key")

	flags.String("emulator-dsn", d.EmulatorDSN, "sqlite data source of the emulator; empty keeps it in memory")
	flags.Bool("seed", d.Seed, "Load the sample rows into an empty Customer table")

	flags.String("log-level", d.LogLevel, "Log level: trace, debug, info, warn or error")
	flags.String("log-format", d.LogFormat, "Log format: text or json")
	flags.Bool("enable-metrics", d.EnableMetrics, "Collect step metrics")
	flags.String("metrics-namespace", d.MetricsNamespace, "Prometheus namespace of the step metrics")
	flags.Bool("strict", d.Strict, "Exit non-zero when a step does not behave as documented")
}

// settings merges flags, environment and the config file over the defaults
func (a *app) settings() (*config.Config, error) {
	v := a.v
	v.SetEnvPrefix("AE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, key := range []string{"password", "certificate-password", "emulator-master-key"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	// Azure credentials also answer to the azidentity variable names
	for key, env := range map[string]string{
		"azure-tenant-id":     "AZURE_TENANT_ID",
		"azure-client-id":     "AZURE_CLIENT_ID",
		"azure-client-secret": "AZURE_CLIENT_SECRET",
	} {
		if err := v.BindEnv(key, "AE_"+env, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if a.configFile != "" {
		v.SetConfigFile(a.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := config.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func (a *app) client(ctx context.Context, skipHealthCheck bool) (*aeclient.Client, error) {
	cfg, err := a.settings()
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger(a.stderr, logging.SinkConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	return aeclient.NewClient(ctx, aeclient.Config{
		Settings: cfg,
		Logger:   logger,
		Options: aeclient.ClientOptions{
			Scenarios:       a.scenarios,
			SkipHealthCheck: skipHealthCheck,
		},
	})
}

func (a *app) runDemo(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	client, err := a.client(ctx, false)
	if err != nil {
		return err
	}
	defer client.Close()

	_, err = client.Run(ctx, a.stdout)
	return err
}

func (a *app) newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the demo scenarios",
		Args:  cobra.NoArgs,
		RunE:  a.runDemo,
	}
	cmd.Flags().StringSliceVar(&a.scenarios, "scenario", nil, "Run only the named scenarios (A, B, C)")
	return cmd
}

func (a *app) newProvisionCommand() *cobra.Command {
	var force int

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the Customer table and stored procedures",
		Long: `Applies the schema migrations of the selected backend and, with --seed,
loads the sample rows into an empty Customer table. On SQL Server the column
master key and the column encryption key CEK_Auto1 must already exist.

--force records the given version as applied and clears the dirty flag left
by a failed migration, without running any migration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer client.Close()

			if cmd.Flags().Changed("force") {
				if err := client.ForceMigrationVersion(cmd.Context(), force); err != nil {
					return err
				}
				_, err := fmt.Fprintf(a.stdout, "forced version: %d\n", force)
				return err
			}

			return client.Provision(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&force, "force", 0, "Set the migration version without running migrations")
	return cmd
}

func (a *app) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the schema migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer client.Close()

			status, err := client.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(a.stdout, "version: %d\ndirty: %t\napplied: %d\npending: %d\n",
				status.Version, status.Dirty, status.AppliedCount, status.PendingCount)
			return err
		},
	}
}

func (a *app) newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that a session can be opened",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer client.Close()

			checkErr := client.Health(cmd.Context())
			status := client.HealthStatus()

			if _, err := fmt.Fprintf(a.stdout, "healthy: %t\nresponse_time: %s\n",
				status.Healthy, status.ResponseTime.Round(time.Millisecond)); err != nil {
				return err
			}
			return checkErr
		},
	}
}

func newVersionCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(stdout, "%s %s\n", aeclient.Name, aeclient.GetVersion())
			return err
		},
	}
}
