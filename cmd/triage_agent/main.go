// Package main provides the entry point for the support triage agent.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "triage_agent",
	Short: "Support conversation triage pipeline",
	Long:  "Triage agent classifies support conversations, extracts recurring themes, clusters related issues, and turns clusters into actionable work items, via CLI or REST API.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
