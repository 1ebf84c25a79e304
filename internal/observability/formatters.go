// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/support-triage/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintRunSummary outputs a human-readable summary of a pipeline run.
func (p *Printer) PrintRunSummary(run *types.PipelineRun) {
	if run == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Status:   %s\n", run.Status))
	if run.DryRun {
		sb.WriteString("Mode:     dry run\n")
	}
	sb.WriteString("\n")

	c := run.Counters
	sb.WriteString(fmt.Sprintf("Fetched:     %d\n", c.Fetched))
	sb.WriteString(fmt.Sprintf("Classified:  %d", c.Classified))
	if c.ClassifyFailed > 0 {
		sb.WriteString(fmt.Sprintf("  (%d failed)", c.ClassifyFailed))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Embedded:    %d", c.Embedded))
	if c.EmbedFailed > 0 {
		sb.WriteString(fmt.Sprintf("  (%d failed)", c.EmbedFailed))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Themes:      %d extracted, %d new, %d filtered\n",
		c.ThemesExtracted, c.ThemesNew, c.ThemesFiltered))
	sb.WriteString(fmt.Sprintf("Clusters:    %d\n", c.ClustersFormed))
	sb.WriteString(fmt.Sprintf("Work items:  %d created, %d orphaned\n", c.ItemsCreated, c.OrphansCreated))

	if len(run.Errors) > 0 {
		sb.WriteString("\nErrors:\n")
		count := min(len(run.Errors), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  • %s\n", run.Errors[i]))
		}
		if len(run.Errors) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(run.Errors)-maxItemsToShow))
		}
	}

	p.printBox(fmt.Sprintf("Run %d", run.ID), strings.TrimRight(sb.String(), "\n"))
}

// PrintClusters outputs a human-readable summary of formed clusters.
func (p *Printer) PrintClusters(clusters []types.Cluster) {
	if len(clusters) == 0 {
		return
	}

	var sb strings.Builder
	count := min(len(clusters), maxItemsToShow)
	for i := 0; i < count; i++ {
		c := &clusters[i]
		sb.WriteString(fmt.Sprintf("%s (%d members)", c.ID, c.Size()))
		if c.Fallback {
			sb.WriteString("  [fallback]")
		}
		sb.WriteString("\n")
		if len(c.Intents) > 0 {
			sb.WriteString(fmt.Sprintf("  intents: %s\n", strings.Join(c.Intents, ", ")))
		}
	}
	if len(clusters) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("... and %d more\n", len(clusters)-maxItemsToShow))
	}

	p.printBox(fmt.Sprintf("Clusters (%d)", len(clusters)), strings.TrimRight(sb.String(), "\n"))
}

// PrintThemes outputs the accumulated theme table, largest first.
func (p *Printer) PrintThemes(themes []types.Theme) {
	if len(themes) == 0 {
		return
	}

	var sb strings.Builder
	count := min(len(themes), maxItemsToShow)
	for i := 0; i < count; i++ {
		t := themes[i]
		sb.WriteString(fmt.Sprintf("%-30s %4d  %s\n", t.Signature, t.Count, t.Label))
	}
	if len(themes) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("... and %d more\n", len(themes)-maxItemsToShow))
	}

	p.printBox(fmt.Sprintf("Themes (%d)", len(themes)), strings.TrimRight(sb.String(), "\n"))
}

// PrintWorkItems outputs created work items.
func (p *Printer) PrintWorkItems(items []types.WorkItem) {
	if len(items) == 0 {
		return
	}

	var sb strings.Builder
	count := min(len(items), maxItemsToShow)
	for i := 0; i < count; i++ {
		item := items[i]
		sb.WriteString(fmt.Sprintf("%s\n", item.Title))
		sb.WriteString(fmt.Sprintf("  cluster %s, %d conversations\n", item.ClusterID, len(item.MemberIDs)))
	}
	if len(items) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("... and %d more\n", len(items)-maxItemsToShow))
	}

	p.printBox(fmt.Sprintf("Work Items (%d)", len(items)), strings.TrimRight(sb.String(), "\n"))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
