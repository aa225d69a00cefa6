package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vaultfetch/vaultfetch/internal/config"
	"github.com/vaultfetch/vaultfetch/internal/fetcher"
	vflog "github.com/vaultfetch/vaultfetch/internal/log"
	"github.com/vaultfetch/vaultfetch/internal/secrets"
	"github.com/vaultfetch/vaultfetch/internal/tracing"
)

type secretFetcher interface {
	Fetch(ctx context.Context) (string, error)
}

type fetcherFactory func(cfg *config.Config, logger zerolog.Logger) (secretFetcher, error)

func newFetcher(cfg *config.Config, logger zerolog.Logger) (secretFetcher, error) {
	return fetcher.FromConfig(cfg, nil, logger)
}

type options struct {
	configFile    string
	envFile       string
	vaultName     string
	secretName    string
	secretVersion string
	interactive   bool
}

func newRootCmd(stdout, stderr io.Writer, factory fetcherFactory) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "vaultfetch",
		Short: "Print one secret from Azure Key Vault",
		Long: `vaultfetch resolves an Azure credential from the first source that works
(environment, workload identity, managed identity, Azure CLI, Azure Developer
CLI), fetches the configured secret and prints its value to stdout.

Environment variables:
  VAULTFETCH_VAULT_NAME       Key Vault name
  VAULTFETCH_VAULT_URL        Key Vault URL, takes precedence over the name
  VAULTFETCH_SECRET_NAME      Secret name
  VAULTFETCH_SECRET_VERSION   Secret version (latest when empty)
  VAULTFETCH_LOG_LEVEL        debug, info, warn or error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd.Context(), opts, stdout, stderr, factory)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Path to config file")
	flags.StringVar(&opts.envFile, "env", ".env", "Path to .env file")
	flags.StringVar(&opts.vaultName, "vault", "", "Key Vault name")
	flags.StringVar(&opts.secretName, "secret", "", "Secret name")
	flags.StringVar(&opts.secretVersion, "version", "", "Secret version (latest when empty)")
	flags.BoolVar(&opts.interactive, "interactive", false, "Fall back to interactive browser sign-in")

	return cmd
}

func execute(ctx context.Context, opts options, stdout, stderr io.Writer, factory fetcherFactory) error {
	if err := loadEnvFile(opts.envFile); err != nil {
		fmt.Fprintf(stderr, "vaultfetch: %v\n", err)
		return err
	}

	cfg, err := config.Load(opts.configFile, flagOverrides(opts))
	if err != nil {
		fmt.Fprintf(stderr, "vaultfetch: load config: %v\n", err)
		return err
	}

	logger := vflog.New(cfg.Log.Level, cfg.Log.Format, stderr)

	tracer, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "vaultfetch",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
		Environment:    cfg.Tracing.Environment,
	})
	if err != nil {
		logger.Error().Err(err).Msg("init tracing")
		return err
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("shutdown tracing")
		}
	}()

	f, err := factory(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("create fetcher")
		return err
	}

	if err := run(ctx, stdout, f); err != nil {
		logger.Error().Err(err).
			Str("kind", secrets.KindOf(err).String()).
			Str("vault", cfg.VaultURL()).
			Str("secret", cfg.Vault.Secret).
			Msg("fetch secret failed")
		return err
	}
	return nil
}

// run writes the secret value and a newline to stdout. Nothing is written
// when the fetch fails.
func run(ctx context.Context, stdout io.Writer, f secretFetcher) error {
	value, err := f.Fetch(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, value)
	return err
}

func flagOverrides(opts options) config.Override {
	return func(c *config.Config) {
		if opts.vaultName != "" {
			c.Vault.Name = opts.vaultName
			c.Vault.URL = ""
		}
		if opts.secretName != "" {
			c.Vault.Secret = opts.secretName
		}
		if opts.secretVersion != "" {
			c.Vault.Version = opts.secretVersion
		}
		if opts.interactive {
			c.Credential.Interactive = true
		}
		// Human readable diagnostics unless configured otherwise.
		if c.Log.Format == "" {
			c.Log.Format = "console"
		}
	}
}

// loadEnvFile loads path into the environment. A missing file is fine.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
