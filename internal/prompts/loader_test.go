package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_ValidPrompt(t *testing.T) {
	ClearCache()

	prompt, err := Get("classification.json", "stage1-triage")
	require.NoError(t, err)
	assert.NotEmpty(t, prompt)
	assert.Contains(t, prompt, "Categories")
}

func TestGet_MissingKey(t *testing.T) {
	ClearCache()

	_, err := Get("classification.json", "nonexistent-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestGet_MissingFile(t *testing.T) {
	ClearCache()

	_, err := Get("nonexistent.json", "stage1-triage")
	require.Error(t, err)
}

func TestMustGet_Panics(t *testing.T) {
	ClearCache()

	assert.Panics(t, func() {
		MustGet("classification.json", "nonexistent-key")
	})
}

func TestFormat_ReplacesPlaceholders(t *testing.T) {
	result := Format("Classified as {{.Type}} with summary: {{.Summary}}", map[string]string{
		"Type":    "bug_report",
		"Summary": "export fails",
	})
	assert.Equal(t, "Classified as bug_report with summary: export fails", result)
}

func TestFormat_LeavesUnknownPlaceholders(t *testing.T) {
	result := Format("Hello {{.Name}}", map[string]string{"Other": "x"})
	assert.Equal(t, "Hello {{.Name}}", result)
}

func TestList_ReturnsAllKeys(t *testing.T) {
	ClearCache()

	keys, err := List("classification.json")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stage1-triage", "stage2-deep"}, keys)
}
