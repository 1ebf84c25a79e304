// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the CLI configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or must be provided via CLI flags.
type Config struct {
	// Behavior
	APIKey      string `json:"api_key,omitempty"`      // Gemini API key
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL connection URL
	Verbose     bool   `json:"verbose,omitempty"`      // Print detailed debug information

	// Pipeline tuning
	FetchLimit     int     `json:"fetch_limit,omitempty"`      // Max conversations per run
	Concurrency    int     `json:"concurrency,omitempty"`      // Concurrent LLM calls per phase
	EmbedBatchSize int     `json:"embed_batch_size,omitempty"` // Texts per embedding request
	BucketWidth    float64 `json:"bucket_width,omitempty"`     // Similarity bucket width (0.0-1.0)
	MinClusterSize int     `json:"min_cluster_size,omitempty"` // Member count needed for a work item

	// Server
	ListenAddr string `json:"listen_addr,omitempty"` // HTTP listen address
	JWTSecret  string `json:"jwt_secret,omitempty"`  // Secret for dashboard auth tokens
	MaxRuns    int    `json:"max_runs,omitempty"`    // Runs held in the in-memory registry
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
// Note: This doesn't check for required fields since those are handled
// by CLI flag validation after merging.
func (c *Config) Validate() error {
	if c.FetchLimit < 0 {
		return fmt.Errorf("config error: 'fetch_limit' must be non-negative")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("config error: 'concurrency' must be non-negative")
	}
	if c.EmbedBatchSize < 0 {
		return fmt.Errorf("config error: 'embed_batch_size' must be non-negative")
	}
	if c.BucketWidth < 0 || c.BucketWidth >= 1 {
		return fmt.Errorf("config error: 'bucket_width' must be in [0, 1)")
	}
	if c.MinClusterSize < 0 {
		return fmt.Errorf("config error: 'min_cluster_size' must be non-negative")
	}
	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
// This is used to apply config file values as defaults for CLI flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.ListenAddr == "" {
		result.ListenAddr = defaults.ListenAddr
	}
	if result.JWTSecret == "" {
		result.JWTSecret = defaults.JWTSecret
	}

	// Int fields: use default if zero
	if result.FetchLimit == 0 {
		result.FetchLimit = defaults.FetchLimit
	}
	if result.Concurrency == 0 {
		result.Concurrency = defaults.Concurrency
	}
	if result.EmbedBatchSize == 0 {
		result.EmbedBatchSize = defaults.EmbedBatchSize
	}
	if result.MinClusterSize == 0 {
		result.MinClusterSize = defaults.MinClusterSize
	}
	if result.MaxRuns == 0 {
		result.MaxRuns = defaults.MaxRuns
	}

	// Float fields
	if result.BucketWidth == 0 {
		result.BucketWidth = defaults.BucketWidth
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}
