package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rickgao/agent-hub/internal/config"
	"github.com/rickgao/agent-hub/internal/database"
	"github.com/rickgao/agent-hub/internal/hub"
	"github.com/rickgao/agent-hub/internal/version"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub",
		Long: `Run the hub. Without --config the hub starts on defaults; AGENTHUB_* environment
variables (and a .env file in the working directory) override either.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	return cmd
}

func serve(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return err
	}

	// Set up structured logging
	logger := newLogger(cfg.Logging, out)
	slog.SetDefault(logger)

	logger.Info("starting agenthub",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	opts := []hub.Option{hub.WithLogger(logger)}
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		opts = append(opts, hub.WithDatabase(pool))
	}

	srv, err := hub.New(cfg, opts...)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func newLogger(cfg config.LoggingConfig, out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}
