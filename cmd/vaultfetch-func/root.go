package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vaultfetch/vaultfetch/internal/audit"
	"github.com/vaultfetch/vaultfetch/internal/config"
	"github.com/vaultfetch/vaultfetch/internal/fetcher"
	vflog "github.com/vaultfetch/vaultfetch/internal/log"
	"github.com/vaultfetch/vaultfetch/internal/metrics"
	"github.com/vaultfetch/vaultfetch/internal/server"
	"github.com/vaultfetch/vaultfetch/internal/tracing"
)

const defaultConfigFile = "config.yaml"

// configPath returns the config file to load. The default file may be
// absent when the host is configured through the environment; a file named
// on the command line must exist.
func configPath(path string, explicit bool) string {
	if explicit {
		return path
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return ""
	}
	return path
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var configFile, envFile string

	cmd := &cobra.Command{
		Use:   "vaultfetch-func",
		Short: "Serve one Azure Key Vault secret over HTTP",
		Long: `vaultfetch-func is a Functions custom handler. Each request to the function
route resolves a credential, fetches the configured secret and returns its
value as text/plain. The route requires a function key, presented as the
x-functions-key header or the code query parameter.

The listen port is taken from FUNCTIONS_CUSTOMHANDLER_PORT when set.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(envFile); err != nil {
				fmt.Fprintf(stderr, "vaultfetch-func: %v\n", err)
				return err
			}
			path := configPath(configFile, cmd.Flags().Changed("config"))
			cfg, err := config.Load(path)
			if err != nil {
				fmt.Fprintf(stderr, "vaultfetch-func: load config: %v\n", err)
				return err
			}

			logger := vflog.New(cfg.Log.Level, cfg.Log.Format, stderr)
			if err := serve(cmd.Context(), cfg, stdout, logger); err != nil {
				logger.Error().Err(err).Msg("function host stopped")
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", defaultConfigFile, "Path to config file")
	cmd.Flags().StringVar(&envFile, "env", ".env", "Path to .env file")
	return cmd
}

// newServer wires the function host for cfg. Audit entries go to auditOut.
func newServer(ctx context.Context, cfg *config.Config, auditOut io.Writer, logger zerolog.Logger) (_ *server.Server, _ *tracing.Tracer, err error) {
	tracer, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "vaultfetch-func",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
		Environment:    cfg.Tracing.Environment,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tracer.Shutdown(context.Background())
		}
	}()

	m := metrics.New()
	f, err := fetcher.FromConfig(cfg, m, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create fetcher: %w", err)
	}

	srv, err := server.New(server.Options{
		Config:  cfg,
		Fetcher: f,
		Metrics: m,
		Audit:   audit.New(auditOut),
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Info().
		Str("vault", cfg.VaultURL()).
		Str("secret", cfg.Vault.Secret).
		Str("route", cfg.Server.Route).
		Strs("sources", cfg.CredentialSources()).
		Bool("tracing", tracer.Enabled()).
		Msg("function host configured")

	return srv, tracer, nil
}

func serve(ctx context.Context, cfg *config.Config, auditOut io.Writer, logger zerolog.Logger) error {
	srv, tracer, err := newServer(ctx, cfg, auditOut, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("shutdown tracing")
		}
	}()

	return srv.ListenAndRun(ctx)
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
