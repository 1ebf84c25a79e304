package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/support-triage/internal/config"
	"github.com/jonathan/support-triage/internal/server"
)

var (
	serveConfigPath string
	serveAddr       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes REST endpoints for launching triage runs and inspecting their results.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to config.json file")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default :8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	var cfg config.Config
	if serveConfigPath != "" {
		loadedCfg, err := config.LoadConfig(serveConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := loadedCfg.Validate(); err != nil {
			return err
		}
		cfg = *loadedCfg
	}
	if cmd.Flags().Changed("addr") {
		cfg.ListenAddr = serveAddr
	}
	cfg = cfg.MergeWithDefaults(config.Config{
		ListenAddr:     ":8080",
		FetchLimit:     500,
		Concurrency:    4,
		EmbedBatchSize: 32,
	})

	if err := resolveSecrets(&cfg); err != nil {
		return err
	}

	// The auth layer reads JWT_SECRET from the environment; a config file
	// value is exported so both paths agree.
	if cfg.JWTSecret != "" {
		if err := os.Setenv("JWT_SECRET", cfg.JWTSecret); err != nil {
			return err
		}
	}

	stack, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Addr:       cfg.ListenAddr,
		FetchLimit: cfg.FetchLimit,
		Verbose:    cfg.Verbose,
	}, stack.DB, stack.Orch, stack.Registry)
	if err != nil {
		stack.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Server owns database shutdown; close only the LLM client here.
	defer func() { _ = stack.Client.Close() }()

	return srv.Start()
}
