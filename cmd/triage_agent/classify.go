package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/support-triage/internal/classify"
	"github.com/jonathan/support-triage/internal/llm"
	"github.com/jonathan/support-triage/internal/types"
)

var (
	classifyFile   string
	classifyAPIKey string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a single conversation and print the result",
	Long: `Runs the two-stage classifier against one conversation and prints the
classification JSON. The file may be plain text (treated as the raw conversation)
or a JSON conversation object with messages.`,
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringVarP(&classifyFile, "file", "f", "", "Path to conversation file (required)")
	classifyCmd.Flags().StringVar(&classifyAPIKey, "api-key", "", "Gemini API Key (optional, defaults to GEMINI_API_KEY env var)")
	_ = classifyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	apiKey := classifyAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable or --api-key flag is required")
	}

	data, err := os.ReadFile(classifyFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", classifyFile, err)
	}

	rec := parseConversationInput(data)
	if rec.RawText == "" && len(rec.Messages) == 0 {
		return fmt.Errorf("conversation file %s is empty", classifyFile)
	}

	client, err := llm.NewClient(ctx, nil, apiKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	defer func() { _ = client.Close() }()

	classifier := classify.New(client)
	result, err := classifier.Classify(ctx, &rec)
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// parseConversationInput accepts either a JSON conversation object or plain
// text treated as the raw conversation body.
func parseConversationInput(data []byte) types.ConversationRecord {
	var rec types.ConversationRecord
	if err := json.Unmarshal(data, &rec); err == nil && (rec.RawText != "" || len(rec.Messages) > 0) {
		if rec.ID == "" {
			rec.ID = "adhoc"
		}
		return rec
	}
	return types.ConversationRecord{ID: "adhoc", RawText: string(data)}
}
