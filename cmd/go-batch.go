package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adfharrison1/go-batch/pkg/config"
	"github.com/adfharrison1/go-batch/pkg/logging"
	"github.com/adfharrison1/go-batch/pkg/server"
)

const rootCmdExample = `  # Start with defaults (memory store, port 8080)
  go-batch

  # Custom port and a snapshot every 5 minutes
  go-batch --port 9090 --background-save 5m

  # Durable embedded store in a custom data directory
  go-batch --storage pebble --data-dir /var/lib/go-batch

  # Postgres, with the URL taken from the config file or GOBATCH_STORAGE_POSTGRES_URL
  go-batch --config go-batch.yaml --storage postgres`

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "go-batch",
		Short: "Asynchronous batch jobs over collection memberships",
		Long: `go-batch accepts batch add and delete jobs over company collections, runs them
in the background in small chunks and reports progress until they finish.

Safety Note:
  With the memory store and no --background-save, data is only saved on
  graceful shutdown. Use --background-save or --storage pebble for better
  data safety in production.`,
		Example:      rootCmdExample,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().Int("port", 0, "server port (overrides config and GOBATCH_SERVER_PORT)")
	cmd.Flags().String("storage", "", "storage backend: memory, pebble or postgres")
	cmd.Flags().String("data-dir", "", "data directory for snapshots and the pebble store")
	cmd.Flags().Duration("background-save", 0, "background snapshot interval for the memory store (e.g. 5m, 30s)")
	cmd.Flags().String("log-level", "", "log level: debug, info, warn or error")

	return cmd
}

// applyFlags overrides cfg with every flag set on the command line
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error

	if flags.Changed("port") {
		if cfg.Server.Port, err = flags.GetInt("port"); err != nil {
			return err
		}
	}
	if flags.Changed("storage") {
		if cfg.Storage.Backend, err = flags.GetString("storage"); err != nil {
			return err
		}
	}
	if flags.Changed("data-dir") {
		if cfg.Storage.DataDir, err = flags.GetString("data-dir"); err != nil {
			return err
		}
	}
	if flags.Changed("background-save") {
		if cfg.Storage.BackgroundSave, err = flags.GetDuration("background-save"); err != nil {
			return err
		}
	}
	if flags.Changed("log-level") {
		if cfg.Logging.Level, err = flags.GetString("log-level"); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(cfg.Logging, os.Stderr)

	srv, err := server.NewServer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	if _, err := srv.Resume(ctx); err != nil {
		logger.Error().Err(err).Msg("Could not resume unfinished jobs")
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Msgf("API endpoints available at http://localhost:%d", cfg.Server.Port)
		serveErr <- srv.ListenAndServe()
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server...")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed")
		}
	}

	// Give outstanding requests and executors a deadline for completion
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}

	logger.Info().Msg("Server exited")
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
