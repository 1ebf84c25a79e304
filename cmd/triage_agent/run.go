package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/support-triage/internal/config"
	"github.com/jonathan/support-triage/internal/pipeline"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run the triage pipeline once over unprocessed conversations",
	Long: `Executes the full triage pipeline: fetch -> classify -> embed -> themes -> cluster -> work items.

Configuration can be loaded from a JSON file using --config. Command-line arguments override config file values.`,
	RunE: runPipelineCmd,
}

var (
	runConfigPath     string
	runFetchLimit     int
	runConcurrency    int
	runEmbedBatch     int
	runBucketWidth    float64
	runMinClusterSize int
	runDryRun         bool
	runVerbose        bool
	runAPIKey         string
	runDatabaseURL    string
)

func init() {
	// Config file flag (processed first)
	runCommand.Flags().StringVar(&runConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")

	runCommand.Flags().IntVarP(&runFetchLimit, "fetch-limit", "l", 0, "Maximum conversations to process in this run")
	runCommand.Flags().IntVar(&runConcurrency, "concurrency", 0, "Concurrent LLM calls per phase")
	runCommand.Flags().IntVar(&runEmbedBatch, "embed-batch-size", 0, "Texts per embedding request")
	runCommand.Flags().Float64Var(&runBucketWidth, "bucket-width", 0, "Similarity bucket width (0.0-1.0)")
	runCommand.Flags().IntVar(&runMinClusterSize, "min-cluster-size", 0, "Members needed before a cluster becomes a work item")
	runCommand.Flags().BoolVar(&runDryRun, "dry-run", false, "Compute clusters and titles without persisting anything")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print detailed debug information")

	// API key can be passed as a flag, or read from env var GEMINI_API_KEY
	runCommand.Flags().StringVar(&runAPIKey, "api-key", "", "Gemini API Key (optional, defaults to GEMINI_API_KEY env var)")

	// Database URL for conversation source and artifact persistence
	runCommand.Flags().StringVar(&runDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")

	rootCmd.AddCommand(runCommand)
}

func runPipelineCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	// Step 1: Load config file if provided
	var cfg config.Config
	if runConfigPath != "" {
		loadedCfg, err := config.LoadConfig(runConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := loadedCfg.Validate(); err != nil {
			return err
		}

		cfg = *loadedCfg
		if runVerbose {
			_, _ = fmt.Fprintf(os.Stdout, "Loaded config from: %s\n", runConfigPath)
		}
	}

	// Step 2: Apply CLI overrides (command-line args take priority)
	// Only override if the flag was explicitly set
	if cmd.Flags().Changed("fetch-limit") {
		cfg.FetchLimit = runFetchLimit
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency = runConcurrency
	}
	if cmd.Flags().Changed("embed-batch-size") {
		cfg.EmbedBatchSize = runEmbedBatch
	}
	if cmd.Flags().Changed("bucket-width") {
		cfg.BucketWidth = runBucketWidth
	}
	if cmd.Flags().Changed("min-cluster-size") {
		cfg.MinClusterSize = runMinClusterSize
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = runVerbose
	}
	if cmd.Flags().Changed("api-key") {
		cfg.APIKey = runAPIKey
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = runDatabaseURL
	}

	// Step 3: Apply defaults for unset values
	cfg = cfg.MergeWithDefaults(config.Config{
		FetchLimit:     500,
		Concurrency:    4,
		EmbedBatchSize: 32,
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Step 4: Secrets from flags, config, or environment
	if err := resolveSecrets(&cfg); err != nil {
		return err
	}

	stack, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	runID, err := stack.Registry.Register(runDryRun)
	if err != nil {
		return err
	}

	opts := pipeline.Options{
		FetchLimit: cfg.FetchLimit,
		DryRun:     runDryRun,
		Verbose:    cfg.Verbose,
	}
	if err := stack.Orch.Run(ctx, runID, opts); err != nil {
		return err
	}

	if runDryRun {
		if preview, ok := stack.Registry.GetPreview(runID); ok {
			fmt.Printf("Dry run: %d clusters, %d would-be work items\n",
				len(preview.Clusters), len(preview.Titles))
			for clusterID, title := range preview.Titles {
				fmt.Printf("  %s: %s\n", clusterID, title)
			}
		}
	}
	return nil
}
