package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/support-triage/internal/db"
	"github.com/jonathan/support-triage/internal/types"
)

var (
	loadFile        string
	loadDatabaseURL string
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a conversation export into the database",
	Long:  `Reads a JSON array of conversations and upserts them into the conversations table. Already-processed conversations keep their enrichment; only content fields are refreshed.`,
	RunE:  runLoad,
}

func init() {
	loadCmd.Flags().StringVarP(&loadFile, "file", "f", "", "Path to conversations JSON file (required)")
	loadCmd.Flags().StringVar(&loadDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
	_ = loadCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(loadCmd)
}

func runLoad(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	databaseURL := loadDatabaseURL
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable or --db-url flag is required")
	}

	data, err := os.ReadFile(loadFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", loadFile, err)
	}

	var records []types.ConversationRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse conversations JSON: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No conversations in file, nothing to do.")
		return nil
	}
	for i := range records {
		if records[i].ID == "" {
			return fmt.Errorf("conversation at index %d has no id", i)
		}
	}

	database, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.UpsertConversations(ctx, records); err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}

	fmt.Printf("Loaded %d conversations from %s\n", len(records), loadFile)
	return nil
}
